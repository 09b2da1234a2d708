package services

import (
	"bytes"
	"fmt"
	"time"

	"arcane-scribe/models"

	"github.com/xuri/excelize/v2"
)

const inventorySheet = "Documents"

var inventoryHeaders = []string{
	"Document ID", "Filename", "Content Type", "Size (bytes)", "Uploaded", "Status",
	"Chunks", "Index Location", "Processed", "Error",
}

// ExportCollection renders a collection's document inventory as an xlsx workbook.
func ExportCollection(ownerID, collectionID string, docs []models.Document) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", inventorySheet); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	for i, header := range inventoryHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(inventorySheet, cell, header)
	}

	counts := map[string]int{}
	for i, d := range docs {
		counts[d.ProcessingStatus]++
		processed := ""
		if d.ProcessedAt != nil {
			processed = d.ProcessedAt.UTC().Format("2006-01-02 15:04:05")
		}
		row := []any{
			d.DocumentID, d.OriginalFilename, d.ContentType, d.SizeBytes,
			d.UploadTimestamp.UTC().Format("2006-01-02 15:04:05"), d.ProcessingStatus,
			d.ChunkCount, d.VectorIndexLocation, processed, d.ErrorMessage,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(inventorySheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}
	f.SetColWidth(inventorySheet, "A", "J", 20)

	summary := "Summary"
	if _, err := f.NewSheet(summary); err != nil {
		return nil, fmt.Errorf("failed to create summary sheet: %w", err)
	}
	rows := [][]any{
		{"Owner", ownerID},
		{"Collection", collectionID},
		{"Exported", time.Now().UTC().Format(time.RFC3339)},
		{"Documents", len(docs)},
	}
	for _, status := range []string{models.StatusPending, models.StatusProcessing, models.StatusCompleted, models.StatusFailed} {
		rows = append(rows, []any{"Status " + status, counts[status]})
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summary, cell, &r); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

package database

import (
	"time"

	"arcane-scribe/models"
)

func applyFields(doc *models.Document, fields map[string]any) {
	for k, v := range fields {
		switch k {
		case "processing_status":
			doc.ProcessingStatus, _ = v.(string)
		case "error_message":
			doc.ErrorMessage, _ = v.(string)
		case "chunk_count":
			doc.ChunkCount, _ = v.(int)
		case "vector_index_location":
			doc.VectorIndexLocation, _ = v.(string)
		case "original_filename":
			doc.OriginalFilename, _ = v.(string)
		case "updated_at":
			doc.UpdatedAt, _ = v.(time.Time)
		case "processed_at":
			if t, ok := v.(time.Time); ok {
				doc.ProcessedAt = &t
			}
		}
	}
}

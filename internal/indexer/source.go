package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"arcane-scribe/internal/storage"
	"arcane-scribe/models"

	"github.com/ledongthuc/pdf"
)

// TextSource yields the pages of one document. scratch is a private
// directory the source may use for temporary files.
type TextSource interface {
	Name() string
	Pages(ctx context.Context, scratch string) ([]Page, error)
}

// NewObjectSource picks the source type for an uploaded document by content type.
func NewObjectSource(store storage.ObjectStore, doc *models.Document) (TextSource, error) {
	switch doc.ContentType {
	case models.ContentTypePDF:
		return &PDFSource{Store: store, Key: doc.StorageKey, Filename: doc.OriginalFilename}, nil
	case models.ContentTypeText, models.ContentTypeMarkdown:
		return &PlainTextSource{Store: store, Key: doc.StorageKey, Filename: doc.OriginalFilename}, nil
	default:
		return nil, fmt.Errorf("unsupported content type %q", doc.ContentType)
	}
}

// PDFSource extracts the text of a PDF held in the object store.
type PDFSource struct {
	Store    storage.ObjectStore
	Key      string
	Filename string
}

func (s *PDFSource) Name() string { return s.Filename }

func (s *PDFSource) Pages(ctx context.Context, scratch string) ([]Page, error) {
	local := filepath.Join(scratch, "source.pdf")
	if err := s.Store.Download(ctx, s.Key, local); err != nil {
		return nil, fmt.Errorf("download %s: %w", s.Key, err)
	}
	return ExtractPDF(local)
}

// PlainTextSource reads a text or markdown object.
type PlainTextSource struct {
	Store    storage.ObjectStore
	Key      string
	Filename string
}

func (s *PlainTextSource) Name() string { return s.Filename }

func (s *PlainTextSource) Pages(ctx context.Context, scratch string) ([]Page, error) {
	data, err := s.Store.Get(ctx, s.Key)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.Key, err)
	}
	return SplitPageMarkers(string(data)), nil
}

// StringSource is text that is already in memory.
type StringSource struct {
	Filename string
	Text     string
}

func (s StringSource) Name() string { return s.Filename }

func (s StringSource) Pages(ctx context.Context, scratch string) ([]Page, error) {
	return SplitPageMarkers(s.Text), nil
}

// ExtractPDF returns the plain text of every page that has any.
func ExtractPDF(path string) ([]Page, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	var pages []Page
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			slog.Warn("failed to extract text from page", "path", path, "page", i, "error", err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return pages, nil
}

package extract

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Extractor converts one artifact file into plain text.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// PDFExtractor reads the text layer of a PDF page by page.
type PDFExtractor struct{}

// Extract implements Extractor.
func (PDFExtractor) Extract(ctx context.Context, path string) (text string, err error) {
	// The reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		b.WriteString(content)
		if !strings.HasSuffix(content, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

// PlainExtractor returns the artifact unchanged, for sources that already
// serve text.
type PlainExtractor struct{}

// Extract implements Extractor.
func (PlainExtractor) Extract(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Registry maps lowercase artifact extensions to extractors.
type Registry map[string]Extractor

// DefaultRegistry handles ".pdf" and ".txt" artifacts.
func DefaultRegistry() Registry {
	return Registry{
		".pdf": PDFExtractor{},
		".txt": PlainExtractor{},
	}
}

// Lookup returns the extractor for ext.
func (r Registry) Lookup(ext string) (Extractor, bool) {
	e, ok := r[strings.ToLower(ext)]
	return e, ok
}

package extractor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFLayoutStage extracts text from PDFs preserving row order, which keeps
// tabular government reports readable.
type PDFLayoutStage struct{}

// NewPDFLayoutStage returns the row-aware PDF stage.
func NewPDFLayoutStage() *PDFLayoutStage { return &PDFLayoutStage{} }

// Name implements Stage.
func (s *PDFLayoutStage) Name() string { return "pdf-layout" }

// Matches implements Stage.
func (s *PDFLayoutStage) Matches(contentType string, body []byte) bool {
	return isPDF(contentType, body)
}

// Extract implements Stage.
func (s *PDFLayoutStage) Extract(_ context.Context, body []byte) (text string, err error) {
	// The pdf library panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf layout extraction panicked: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return "", fmt.Errorf("read page %d rows: %w", i, err)
		}
		for _, row := range rows {
			for _, word := range row.Content {
				sb.WriteString(word.S)
				sb.WriteByte(' ')
			}
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// PDFTextStage extracts plain text from PDFs without layout awareness. It
// runs after the layout stage as a cheaper, more forgiving fallback.
type PDFTextStage struct{}

// NewPDFTextStage returns the generic PDF text stage.
func NewPDFTextStage() *PDFTextStage { return &PDFTextStage{} }

// Name implements Stage.
func (s *PDFTextStage) Name() string { return "pdf-text" }

// Matches implements Stage.
func (s *PDFTextStage) Matches(contentType string, body []byte) bool {
	return isPDF(contentType, body)
}

// Extract implements Stage.
func (s *PDFTextStage) Extract(_ context.Context, body []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf text extraction panicked: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read plain text: %w", err)
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("drain plain text: %w", err)
	}
	return string(out), nil
}

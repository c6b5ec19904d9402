// Package extractor converts downloaded documents to plain text through an
// ordered chain of format-specific strategies.
package extractor

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/civicdocs/ingestor/internal/pipeline"
)

// Stage is one extraction strategy in the fallback chain.
type Stage interface {
	// Name identifies the strategy, recorded as the document's
	// extract_method on success.
	Name() string
	// Matches reports whether this stage should attempt the given content.
	Matches(contentType string, body []byte) bool
	// Extract converts the body to plain text.
	Extract(ctx context.Context, body []byte) (string, error)
}

// Config tunes the output validity gate.
type Config struct {
	// MinPrintableRatio is the minimum fraction of printable runes required
	// to accept a stage's output.
	MinPrintableRatio float64
}

// Chain tries each matching stage in order and returns the first output
// that passes the validity gate.
type Chain struct {
	stages   []Stage
	minRatio float64
	logger   *zap.Logger
}

// NewChain builds an extraction chain over the given stages, tried in order.
func NewChain(cfg Config, logger *zap.Logger, stages ...Stage) *Chain {
	ratio := cfg.MinPrintableRatio
	if ratio <= 0 {
		ratio = 0.85
	}
	return &Chain{stages: stages, minRatio: ratio, logger: logger}
}

// Extract runs the chain. It returns the extracted text and the name of the
// stage that produced it. Exhausting every stage is an extraction failure,
// which is terminal and never retried.
func (c *Chain) Extract(ctx context.Context, body []byte, contentType string) (string, string, error) {
	if len(body) == 0 {
		return "", "", pipeline.NewError(pipeline.FailureExtraction, "extract",
			fmt.Errorf("empty document body"))
	}

	var attempts []string
	for _, stage := range c.stages {
		if !stage.Matches(contentType, body) {
			continue
		}
		text, err := stage.Extract(ctx, body)
		if err != nil {
			attempts = append(attempts, fmt.Sprintf("%s: %v", stage.Name(), err))
			c.logger.Debug("extraction stage failed",
				zap.String("stage", stage.Name()),
				zap.Error(err))
			continue
		}
		if !c.valid(text) {
			attempts = append(attempts, fmt.Sprintf("%s: output failed validity gate", stage.Name()))
			continue
		}
		return text, stage.Name(), nil
	}

	return "", "", pipeline.NewError(pipeline.FailureExtraction, "extract",
		fmt.Errorf("all extraction strategies exhausted for %q: %s", contentType, strings.Join(attempts, "; ")))
}

// valid applies the output gate: non-empty after trimming and mostly
// printable text.
func (c *Chain) valid(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	return printableRatio(trimmed) >= c.minRatio
}

func printableRatio(s string) float64 {
	total, printable := 0, 0
	for _, r := range s {
		total++
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(printable) / float64(total)
}

// DefaultStages returns the production fallback order: layout-aware PDF,
// generic PDF text, remote OCR, markup stripping, then plain text.
func DefaultStages(ocr OCRConfig) []Stage {
	return []Stage{
		NewPDFLayoutStage(),
		NewPDFTextStage(),
		NewOCRStage(ocr),
		NewHTMLStage(),
		NewPlainTextStage(),
	}
}

// isPDF sniffs the PDF magic bytes.
func isPDF(contentType string, body []byte) bool {
	if strings.Contains(contentType, "application/pdf") {
		return true
	}
	return len(body) >= 5 && string(body[:5]) == "%PDF-"
}

package extractor

import (
	"context"
	"fmt"
	"strings"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

// PlainTextStage accepts any remaining content as text, detecting the
// character set and decoding to UTF-8. It sits last in the chain.
type PlainTextStage struct {
	detector *chardet.Detector
}

// NewPlainTextStage returns the catch-all text stage.
func NewPlainTextStage() *PlainTextStage {
	return &PlainTextStage{detector: chardet.NewTextDetector()}
}

// Name implements Stage.
func (s *PlainTextStage) Name() string { return "plaintext" }

// Matches implements Stage.
func (s *PlainTextStage) Matches(string, []byte) bool { return true }

// Extract implements Stage.
func (s *PlainTextStage) Extract(_ context.Context, body []byte) (string, error) {
	result, err := s.detector.DetectBest(body)
	if err != nil {
		// Undetectable bytes still get a chance at the validity gate.
		return string(body), nil
	}
	charset := strings.ToLower(result.Charset)
	if charset == "" || charset == "utf-8" {
		return string(body), nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil || enc == nil {
		return string(body), nil
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", charset, err)
	}
	return string(decoded), nil
}

package extractor

import (
	"context"
	"strings"

	"github.com/k3a/html2text"
)

// HTMLStage strips markup from HTML and XML documents.
type HTMLStage struct{}

// NewHTMLStage returns the markup-stripping stage.
func NewHTMLStage() *HTMLStage { return &HTMLStage{} }

// Name implements Stage.
func (s *HTMLStage) Name() string { return "html" }

// Matches implements Stage.
func (s *HTMLStage) Matches(contentType string, body []byte) bool {
	for _, t := range []string{"text/html", "application/xhtml", "text/xml", "application/xml"} {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	head := strings.ToLower(string(body[:min(len(body), 256)]))
	return strings.Contains(head, "<!doctype html") || strings.Contains(head, "<html")
}

// Extract implements Stage.
func (s *HTMLStage) Extract(_ context.Context, body []byte) (string, error) {
	return html2text.HTML2Text(string(body)), nil
}

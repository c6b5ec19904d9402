package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OCRStage sends image content (and image-only PDFs that defeated the text
// stages) to an external OCR model-serving endpoint.
type OCRStage struct {
	endpoint string
	client   *http.Client
}

// OCRConfig names the OCR serving endpoint.
type OCRConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// NewOCRStage builds the remote OCR stage. A stage with an empty endpoint
// never matches, so deployments without OCR simply skip it.
func NewOCRStage(cfg OCRConfig) *OCRStage {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OCRStage{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name implements Stage.
func (s *OCRStage) Name() string { return "ocr-remote" }

// Matches implements Stage.
func (s *OCRStage) Matches(contentType string, body []byte) bool {
	if s.endpoint == "" {
		return false
	}
	return strings.HasPrefix(contentType, "image/") || isPDF(contentType, body)
}

type ocrResponse struct {
	Text string `json:"text"`
}

// Extract implements Stage.
func (s *OCRStage) Extract(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build ocr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call ocr endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ocr endpoint returned %d: %s", resp.StatusCode, snippet)
	}

	var out ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode ocr response: %w", err)
	}
	return out.Text, nil
}

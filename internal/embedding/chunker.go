package embedding

import (
	"strings"
	"unicode"
)

// ChunkConfig defines chunking parameters.
type ChunkConfig struct {
	// MaxSize is the maximum chunk size in bytes.
	MaxSize int
	// Overlap is the character overlap carried from the previous chunk.
	Overlap int
}

// DefaultChunkConfig returns sensible defaults for report-length documents.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{MaxSize: 1600, Overlap: 200}
}

// ChunkText splits text into bounded chunks, preferring paragraph
// boundaries and falling back to sentences for oversized paragraphs.
// Chunking is deterministic: the same text always yields the same chunks,
// which keeps embedding record IDs stable across runs.
func ChunkText(text string, cfg ChunkConfig) []string {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1600
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= cfg.MaxSize {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if current.Len()+len(para) > cfg.MaxSize && current.Len() > 0 {
			flush()
		}

		if len(para) > cfg.MaxSize {
			flush()
			for _, sc := range chunkBySentences(para, cfg.MaxSize) {
				chunks = append(chunks, sc)
			}
			continue
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return applyOverlap(chunks, cfg.Overlap)
}

func chunkBySentences(text string, maxSize int) []string {
	var chunks []string
	var current strings.Builder

	for _, sentence := range splitSentences(text) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if current.Len()+len(sentence) > maxSize && current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}
	return chunks
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				// Trailing capital suggests an abbreviation like "U.S.".
				if i > 1 && unicode.IsUpper(runes[i-1]) {
					continue
				}
				sentences = append(sentences, current.String())
				current.Reset()
			}
		}
	}
	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}
	return sentences
}

// applyOverlap prepends the tail of each previous chunk, snapped to a word
// boundary, so context survives chunk splits.
func applyOverlap(chunks []string, overlap int) []string {
	if overlap <= 0 || len(chunks) <= 1 {
		return chunks
	}
	result := make([]string, len(chunks))
	copy(result, chunks)

	for i := 1; i < len(result); i++ {
		prev := result[i-1]
		if len(prev) <= overlap {
			continue
		}
		tail := prev[len(prev)-overlap:]
		if spaceIdx := strings.LastIndex(tail, " "); spaceIdx > 0 {
			tail = tail[spaceIdx+1:]
		}
		result[i] = tail + " " + result[i]
	}
	return result
}

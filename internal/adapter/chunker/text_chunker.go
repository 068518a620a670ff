package chunker

import (
	"fmt"
	"strings"

	"webrag/internal/domain"
	"webrag/internal/port"
)

var _ port.Chunker = (*TextChunker)(nil)

// boundaryFraction is the share of the window that must precede a sentence
// boundary before the chunker cuts there.
const boundaryFraction = 0.5

// TextChunker splits text into overlapping windows of at most maxSize runes,
// preferring to cut after a period or newline in the back half of a window.
type TextChunker struct {
	maxSize int
	overlap int
}

// NewTextChunker validates the window parameters. overlap >= maxSize would
// never advance and is rejected.
func NewTextChunker(maxSize, overlap int) (*TextChunker, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidChunkSize, maxSize)
	}
	if overlap < 0 || overlap >= maxSize {
		return nil, fmt.Errorf("%w: overlap %d with chunk size %d", domain.ErrInvalidChunkOverlap, overlap, maxSize)
	}
	return &TextChunker{maxSize: maxSize, overlap: overlap}, nil
}

func (c *TextChunker) MaxSize() int { return c.maxSize }
func (c *TextChunker) Overlap() int { return c.overlap }

// Split returns the trimmed chunks of text. Text no longer than the window is
// returned as a single chunk; blank text yields none.
func (c *TextChunker) Split(text string) ([]string, error) {
	runes := []rune(text)
	n := len(runes)

	if n <= c.maxSize {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil, nil
		}
		return []string{trimmed}, nil
	}

	var chunks []string
	start := 0
	for start < n {
		end := start + c.maxSize
		if end < n {
			if cut := lastBoundary(runes[start:end]); float64(cut) > float64(c.maxSize)*boundaryFraction {
				end = start + cut + 1
			}
		} else {
			end = n
		}

		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			chunks = append(chunks, piece)
		}
		if end >= n {
			break
		}

		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks, nil
}

// lastBoundary returns the index of the last '.' or '\n' in window, or -1.
func lastBoundary(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == '.' || window[i] == '\n' {
			return i
		}
	}
	return -1
}

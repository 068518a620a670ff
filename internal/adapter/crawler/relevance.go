package crawler

import (
	"webrag/internal/adapter/analyzer"
	"webrag/internal/port"
)

// FilterRelevant keeps the blocks whose BM25 score against query reaches
// threshold, preserving their order. If no block qualifies the input is
// returned unchanged so a page is never emptied by the filter.
func FilterRelevant(tok port.Tokenizer, blocks []string, query string, threshold float64) []string {
	terms := tok.Tokenize(query)
	if len(terms) == 0 || len(blocks) == 0 {
		return blocks
	}

	scores := analyzer.NewBM25(tok, blocks, analyzer.DefaultK1, analyzer.DefaultB).Scores(terms)
	kept := make([]string, 0, len(blocks))
	for i, b := range blocks {
		if scores[i] >= threshold {
			kept = append(kept, b)
		}
	}
	if len(kept) == 0 {
		return blocks
	}
	return kept
}

package retriever

import (
	"context"

	"webrag/internal/adapter/analyzer"
	"webrag/internal/port"
)

var _ port.CrossEncoder = (*LexicalCrossEncoder)(nil)

// LexicalCrossEncoder is an offline stand-in for a neural cross-encoder. It
// scores each document by BM25 against the candidate set plus the fraction
// of query terms the document covers.
type LexicalCrossEncoder struct {
	tokenizer *analyzer.Tokenizer
}

func NewLexicalCrossEncoder() *LexicalCrossEncoder {
	return &LexicalCrossEncoder{tokenizer: analyzer.NewTokenizer()}
}

func (r *LexicalCrossEncoder) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scores := make([]float64, len(documents))

	queryTerms := r.tokenizer.Tokenize(query)
	if len(queryTerms) == 0 || len(documents) == 0 {
		return scores, nil
	}

	bm25 := analyzer.NewBM25(r.tokenizer, documents, analyzer.DefaultK1, analyzer.DefaultB).Scores(queryTerms)
	for i, doc := range documents {
		scores[i] = bm25[i] + termCoverage(queryTerms, r.tokenizer.TermFrequencies(doc))
	}
	return scores, nil
}

// ModelName returns the model name.
func (r *LexicalCrossEncoder) ModelName() string {
	return "lexical-bm25"
}

// termCoverage is the share of distinct query terms present in the document.
func termCoverage(queryTerms []string, docTerms map[string]int) float64 {
	if len(docTerms) == 0 {
		return 0
	}

	distinct := make(map[string]struct{}, len(queryTerms))
	matches := 0
	for _, term := range queryTerms {
		if _, dup := distinct[term]; dup {
			continue
		}
		distinct[term] = struct{}{}
		if _, exists := docTerms[term]; exists {
			matches++
		}
	}

	return float64(matches) / float64(len(distinct))
}

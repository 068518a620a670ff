package analyzer

import (
	"math"

	"webrag/internal/port"
)

// Okapi BM25 defaults.
const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// BM25 scores a small in-memory corpus against a query. The corpus is fixed
// at construction; document frequencies come from it alone.
type BM25 struct {
	k1     float64
	b      float64
	docs   []map[string]int
	lens   []int
	avgLen float64
	df     map[string]int
}

func NewBM25(tok port.Tokenizer, docs []string, k1, b float64) *BM25 {
	if k1 <= 0 {
		k1 = DefaultK1
	}
	if b < 0 || b > 1 {
		b = DefaultB
	}
	s := &BM25{
		k1:   k1,
		b:    b,
		docs: make([]map[string]int, len(docs)),
		lens: make([]int, len(docs)),
		df:   make(map[string]int),
	}

	total := 0
	for i, d := range docs {
		tf := make(map[string]int)
		for _, t := range tok.Tokenize(d) {
			tf[t]++
			s.lens[i]++
		}
		s.docs[i] = tf
		total += s.lens[i]
		for t := range tf {
			s.df[t]++
		}
	}
	if len(docs) > 0 {
		s.avgLen = float64(total) / float64(len(docs))
	}
	return s
}

// Scores returns one BM25 score per corpus document, in corpus order.
func (s *BM25) Scores(queryTerms []string) []float64 {
	scores := make([]float64, len(s.docs))
	if len(s.docs) == 0 || s.avgLen == 0 {
		return scores
	}

	N := float64(len(s.docs))
	seen := make(map[string]struct{}, len(queryTerms))
	for _, term := range queryTerms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		n := float64(s.df[term])
		if n == 0 {
			continue
		}
		idf := math.Log((N-n+0.5)/(n+0.5) + 1)

		for i, tf := range s.docs {
			f, ok := tf[term]
			if !ok {
				continue
			}
			dl := float64(s.lens[i])
			tfFloat := float64(f)
			scores[i] += idf * (tfFloat * (s.k1 + 1)) / (tfFloat + s.k1*(1-s.b+s.b*dl/s.avgLen))
		}
	}
	return scores
}

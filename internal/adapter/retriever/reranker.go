package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"webrag/internal/domain"
	"webrag/internal/port"
)

// Reranker runs the stage-2 precision pass over stage-1 candidates.
type Reranker struct {
	scorer   port.CrossEncoder
	warnOnce sync.Once
}

func NewReranker(scorer port.CrossEncoder) *Reranker {
	return &Reranker{scorer: scorer}
}

func (r *Reranker) ModelName() string {
	if r.scorer == nil {
		return ""
	}
	return r.scorer.ModelName()
}

// Rerank scores every candidate against query and returns the topK best,
// ordered by descending score with ties kept in candidate order.
//
// When the scorer fails, Rerank returns the first topK candidates in their
// original order together with an error wrapping
// domain.ErrRerankerUnavailable. The results are usable either way.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []domain.SearchCandidate, topK int) ([]domain.RankedResult, error) {
	if len(candidates) == 0 || topK <= 0 {
		return nil, nil
	}
	if r.scorer == nil {
		return Fallback(candidates, topK), fmt.Errorf("%w: no model configured", domain.ErrRerankerUnavailable)
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Chunk.Text
	}

	scores, err := r.scorer.Score(ctx, query, texts)
	if err == nil && len(scores) != len(candidates) {
		err = fmt.Errorf("got %d scores for %d candidates", len(scores), len(candidates))
	}
	if err != nil {
		r.warnOnce.Do(func() {
			slog.Warn("reranking failed, using original order",
				slog.String("model", r.scorer.ModelName()),
				slog.String("error", err.Error()))
		})
		return Fallback(candidates, topK), fmt.Errorf("%w: %v", domain.ErrRerankerUnavailable, err)
	}

	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	n := min(topK, len(order))
	results := make([]domain.RankedResult, n)
	for pos := 0; pos < n; pos++ {
		c := candidates[order[pos]]
		results[pos] = domain.RankedResult{
			Chunk:          c.Chunk,
			RetrievalScore: c.RetrievalScore,
			RerankScore:    float32(scores[order[pos]]),
			RankPosition:   uint32(pos + 1),
			Reranked:       true,
		}
	}
	return results, nil
}

// Fallback converts the first topK stage-1 candidates into ranked results in
// their original order, using the retrieval score as the rank score.
func Fallback(candidates []domain.SearchCandidate, topK int) []domain.RankedResult {
	n := min(topK, len(candidates))
	if n <= 0 {
		return nil
	}
	results := make([]domain.RankedResult, n)
	for i := 0; i < n; i++ {
		results[i] = domain.RankedResult{
			Chunk:          candidates[i].Chunk,
			RetrievalScore: candidates[i].RetrievalScore,
			RerankScore:    candidates[i].RetrievalScore,
			RankPosition:   uint32(i + 1),
		}
	}
	return results
}

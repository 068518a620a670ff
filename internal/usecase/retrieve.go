package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"webrag/internal/adapter/cache"
	"webrag/internal/adapter/retriever"
	"webrag/internal/domain"
)

// Retrieval defaults.
const (
	DefaultInitialKMultiplier = 3
	DefaultScoreThreshold     = 0.3
)

// CandidateSearcher is the stage-1 index.
type CandidateSearcher interface {
	Search(ctx context.Context, query string, k, multiplier int, threshold float32) ([]domain.SearchCandidate, error)
	Generation() uint64
}

// ResultReranker is the stage-2 pass. On failure it must still return its
// fallback ordering alongside an error wrapping domain.ErrRerankerUnavailable.
type ResultReranker interface {
	Rerank(ctx context.Context, query string, candidates []domain.SearchCandidate, topK int) ([]domain.RankedResult, error)
}

// State is a retrieval pipeline state.
type State int

const (
	StateIdle State = iota
	StateRetrieving
	StateReranking
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRetrieving:
		return "retrieving"
	case StateReranking:
		return "reranking"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type RetrievalOptions struct {
	InitialKMultiplier int
	ScoreThreshold     float32
	RerankEnabled      bool
}

func DefaultRetrievalOptions() RetrievalOptions {
	return RetrievalOptions{
		InitialKMultiplier: DefaultInitialKMultiplier,
		ScoreThreshold:     DefaultScoreThreshold,
		RerankEnabled:      true,
	}
}

// RetrievalReport describes one run of the pipeline.
type RetrievalReport struct {
	Query       string
	K           int
	State       State
	Transitions []State
	Candidates  int
	Reranked    bool
	Degraded    bool
	CacheHit    bool
	Results     []domain.RankedResult
	Elapsed     time.Duration
}

func (r *RetrievalReport) to(s State) {
	r.State = s
	r.Transitions = append(r.Transitions, s)
}

// RetrievalPipeline is the two-stage search: broad vector recall, then an
// optional cross-encoder rerank. Score filtering happens before reranking.
type RetrievalPipeline struct {
	index    CandidateSearcher
	reranker ResultReranker
	opts     RetrievalOptions
	cache    *cache.ResultCache
}

func NewRetrievalPipeline(index CandidateSearcher, reranker ResultReranker, opts RetrievalOptions, results *cache.ResultCache) *RetrievalPipeline {
	if opts.InitialKMultiplier < 1 {
		opts.InitialKMultiplier = DefaultInitialKMultiplier
	}
	return &RetrievalPipeline{
		index:    index,
		reranker: reranker,
		opts:     opts,
		cache:    results,
	}
}

// Search runs the pipeline and returns only the ranked results.
func (p *RetrievalPipeline) Search(ctx context.Context, query string, k int) ([]domain.RankedResult, error) {
	report, err := p.Run(ctx, query, k)
	if err != nil {
		return nil, err
	}
	return report.Results, nil
}

// Run executes the state machine Idle -> Retrieving -> [Reranking] -> Done,
// or -> Failed with a *domain.RetrievalError.
func (p *RetrievalPipeline) Run(ctx context.Context, query string, k int) (*RetrievalReport, error) {
	start := time.Now()
	report := &RetrievalReport{Query: query, K: k, State: StateIdle, Transitions: []State{StateIdle}}
	defer func() { report.Elapsed = time.Since(start) }()

	query = strings.TrimSpace(query)
	if query == "" || k <= 0 {
		report.to(StateDone)
		return report, nil
	}

	gen := p.index.Generation()
	key := cache.Key(query, k)
	if p.cache != nil {
		if results, ok := p.cache.Get(key, gen); ok {
			report.CacheHit = true
			report.Results = results
			report.Reranked = len(results) > 0 && results[0].Reranked
			report.to(StateDone)
			return report, nil
		}
	}

	report.to(StateRetrieving)
	candidates, err := p.index.Search(ctx, query, k, p.opts.InitialKMultiplier, p.opts.ScoreThreshold)
	if err != nil {
		report.to(StateFailed)
		return report, &domain.RetrievalError{Stage: StateRetrieving.String(), Err: err}
	}
	report.Candidates = len(candidates)

	if p.opts.RerankEnabled && p.reranker != nil && len(candidates) > 0 {
		report.to(StateReranking)
		results, err := p.reranker.Rerank(ctx, query, candidates, k)
		switch {
		case err == nil:
			report.Reranked = true
			report.Results = results
		case errors.Is(err, domain.ErrRerankerUnavailable):
			report.Degraded = true
			report.Results = results
			if results == nil {
				report.Results = retriever.Fallback(candidates, k)
			}
		default:
			if ctx.Err() != nil {
				report.to(StateFailed)
				return report, &domain.RetrievalError{Stage: StateReranking.String(), Err: ctx.Err()}
			}
			report.Degraded = true
			report.Results = retriever.Fallback(candidates, k)
		}
	} else {
		report.Results = retriever.Fallback(candidates, k)
	}

	report.to(StateDone)
	if p.cache != nil && !report.Degraded {
		p.cache.Put(key, gen, report.Results)
	}

	slog.Debug("retrieval_complete",
		slog.String("query", query),
		slog.Int("candidates", report.Candidates),
		slog.Int("results", len(report.Results)),
		slog.Bool("reranked", report.Reranked),
		slog.Bool("degraded", report.Degraded))
	return report, nil
}

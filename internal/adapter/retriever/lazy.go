package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"webrag/internal/port"
)

var _ port.CrossEncoder = (*LazyCrossEncoder)(nil)

// CrossEncoderLoader constructs a cross-encoder on first use.
type CrossEncoderLoader func(ctx context.Context) (port.CrossEncoder, error)

// LazyCrossEncoder defers model construction until the first Score call and
// caches the handle. A failed load is retried on the next call.
type LazyCrossEncoder struct {
	name string
	load CrossEncoderLoader

	mu     sync.Mutex
	scorer port.CrossEncoder
}

func NewLazyCrossEncoder(name string, load CrossEncoderLoader) *LazyCrossEncoder {
	return &LazyCrossEncoder{name: name, load: load}
}

func (l *LazyCrossEncoder) handle(ctx context.Context) (port.CrossEncoder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.scorer != nil {
		return l.scorer, nil
	}

	s, err := l.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load reranker %s: %w", l.name, err)
	}
	if loader, ok := s.(port.Loader); ok {
		if err := loader.Load(ctx); err != nil {
			return nil, fmt.Errorf("load reranker %s: %w", l.name, err)
		}
	}
	slog.Debug("reranker_loaded", slog.String("model", s.ModelName()))
	l.scorer = s
	return s, nil
}

func (l *LazyCrossEncoder) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	s, err := l.handle(ctx)
	if err != nil {
		return nil, err
	}
	return s.Score(ctx, query, documents)
}

// Loaded reports whether the underlying model has been constructed.
func (l *LazyCrossEncoder) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scorer != nil
}

func (l *LazyCrossEncoder) ModelName() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.scorer != nil {
		return l.scorer.ModelName()
	}
	return l.name
}

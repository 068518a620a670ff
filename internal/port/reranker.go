package port

import "context"

// CrossEncoder scores (query, document) pairs jointly. Scores are returned in
// document order; higher is more relevant. It makes no ordering promise.
type CrossEncoder interface {
	Score(ctx context.Context, query string, documents []string) ([]float64, error)

	// ModelName returns the name of the reranking model.
	ModelName() string
}

// Loader is implemented by cross-encoders that need a load or reachability
// check before first use.
type Loader interface {
	Load(ctx context.Context) error
}

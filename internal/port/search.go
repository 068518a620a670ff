package port

import (
	"context"

	"webrag/internal/domain"
)

// SearchRequest is one page request against a web search backend. Before,
// After and Backend are passed through to the backend opaquely.
type SearchRequest struct {
	Query      string
	Page       int // 1-based
	MaxResults int
	Before     string // YYYY-MM-DD
	After      string // YYYY-MM-DD
	Backend    string
}

// SearchBackend returns one page of web results.
type SearchBackend interface {
	Search(ctx context.Context, req SearchRequest) ([]domain.WebResult, error)
	Name() string
}

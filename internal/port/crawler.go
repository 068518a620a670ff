package port

import (
	"context"

	"webrag/internal/domain"
)

// Crawler fetches pages and extracts their text. Results are returned in the
// order of urls; per-URL failures are reported in the result, not as an error.
type Crawler interface {
	Crawl(ctx context.Context, urls []string, query string) ([]domain.CrawlResult, error)
}

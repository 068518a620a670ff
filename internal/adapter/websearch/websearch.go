// Package websearch implements port.SearchBackend against public search
// frontends. Each backend paces its own requests.
package websearch

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"webrag/internal/domain"
)

const (
	DefaultTimeout           = 15 * time.Second
	DefaultRequestsPerSecond = 1.0
	DefaultUserAgent         = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	maxResponseBytes = 4 << 20
)

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// dateQuery appends the date-range operators understood by most engines.
func dateQuery(query, before, after string) string {
	q := strings.TrimSpace(query)
	if before != "" {
		q += " before:" + before
	}
	if after != "" {
		q += " after:" + after
	}
	return q
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%w: status %d: %s", domain.ErrSearchUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
}

func capResults(results []domain.WebResult, max int) []domain.WebResult {
	if max > 0 && len(results) > max {
		return results[:max]
	}
	return results
}

package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"webrag/internal/domain"
	"webrag/internal/port"
)

// Aggregation defaults.
const (
	DefaultResultsPerPage = 50
	DefaultMaxAttempts    = 6
)

type AggregateRequest struct {
	Query       string
	TargetCount int
	MaxAttempts int
	Before      string
	After       string
	Backend     string
}

// DedupStats extends the search counters with the dedup source breakdown.
// A URL is counted once, under the first source that matches it: known,
// then earlier on the same page, then earlier in the session.
type DedupStats struct {
	domain.SearchStats
	KnownDuplicates   int `json:"known_duplicates"`
	SessionDuplicates int `json:"session_duplicates"`
	BatchDuplicates   int `json:"batch_duplicates"`
}

// DedupSearchAggregator pages through a search backend until it has
// collected enough URLs that are new to both the durable store and the
// current session.
type DedupSearchAggregator struct {
	backend        port.SearchBackend
	known          port.KnownURLStore
	resultsPerPage int
	excluded       []string
}

type AggregatorOption func(*DedupSearchAggregator)

func WithResultsPerPage(n int) AggregatorOption {
	return func(a *DedupSearchAggregator) {
		if n > 0 {
			a.resultsPerPage = n
		}
	}
}

// WithExcludedSites sets the excluded host list, empty by default. Each
// entry matches the host itself and any subdomain; entries may also be
// doublestar patterns.
func WithExcludedSites(sites []string) AggregatorOption {
	return func(a *DedupSearchAggregator) {
		a.excluded = hostPatterns(sites)
	}
}

func NewDedupSearchAggregator(backend port.SearchBackend, known port.KnownURLStore, opts ...AggregatorOption) *DedupSearchAggregator {
	a := &DedupSearchAggregator{
		backend:        backend,
		known:          known,
		resultsPerPage: DefaultResultsPerPage,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func hostPatterns(sites []string) []string {
	var patterns []string
	for _, s := range sites {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		patterns = append(patterns, s)
		if !strings.ContainsAny(s, "*?[{") {
			patterns = append(patterns, "*."+s)
		}
	}
	return patterns
}

// FindUniqueURLs requests page 1, 2, ... strictly in order until
// req.TargetCount unique URLs are collected, a page comes back empty, or
// req.MaxAttempts pages have been requested. Accepted URLs are added to
// session as soon as they are accepted.
//
// A failed page is counted and skipped. The only error returned is the
// context's, alongside whatever was collected before cancellation.
func (a *DedupSearchAggregator) FindUniqueURLs(ctx context.Context, req AggregateRequest, session *domain.SessionURLSet) ([]string, DedupStats, error) {
	if req.MaxAttempts <= 0 {
		req.MaxAttempts = DefaultMaxAttempts
	}
	return a.collect(ctx, req, session)
}

// FindUniqueURLsQuick fetches exactly one page.
func (a *DedupSearchAggregator) FindUniqueURLsQuick(ctx context.Context, req AggregateRequest, session *domain.SessionURLSet) ([]string, DedupStats, error) {
	req.MaxAttempts = 1
	return a.collect(ctx, req, session)
}

func (a *DedupSearchAggregator) collect(ctx context.Context, req AggregateRequest, session *domain.SessionURLSet) ([]string, DedupStats, error) {
	var stats DedupStats
	if session == nil {
		session = domain.NewSessionURLSet()
	}
	if req.TargetCount <= 0 || strings.TrimSpace(req.Query) == "" {
		return nil, stats, nil
	}

	unique := make([]string, 0, req.TargetCount)

	for attempt := 1; attempt <= req.MaxAttempts && len(unique) < req.TargetCount; attempt++ {
		if err := ctx.Err(); err != nil {
			return unique, stats, err
		}
		stats.Attempts = attempt

		results, err := a.backend.Search(ctx, port.SearchRequest{
			Query:      req.Query,
			Page:       attempt,
			MaxResults: a.resultsPerPage,
			Before:     req.Before,
			After:      req.After,
			Backend:    req.Backend,
		})
		if err != nil {
			if ctx.Err() != nil {
				return unique, stats, ctx.Err()
			}
			stats.FailedPages++
			slog.Warn("search page failed",
				slog.Int("page", attempt),
				slog.String("backend", a.backend.Name()),
				slog.String("error", err.Error()))
			continue
		}
		stats.PagesSearched++

		if len(results) == 0 {
			slog.Debug("search exhausted", slog.Int("page", attempt))
			break
		}

		urls := make([]string, 0, len(results))
		for _, r := range results {
			if u, ok := NormalizeURL(r.URL); ok {
				urls = append(urls, u)
			}
		}
		stats.TotalFound += len(urls)

		known, err := a.checkKnown(ctx, urls)
		if err != nil {
			if ctx.Err() != nil {
				return unique, stats, ctx.Err()
			}
			stats.FailedPages++
			slog.Warn("known url lookup failed",
				slog.Int("page", attempt),
				slog.String("error", err.Error()))
			continue
		}

		accepted := 0
		seenInBatch := make(map[string]struct{}, len(urls))
	page:
		for _, u := range urls {
			if a.isExcluded(u) {
				stats.Excluded++
				continue
			}

			_, inBatch := seenInBatch[u]
			seenInBatch[u] = struct{}{}
			switch {
			case known[u]:
				stats.KnownDuplicates++
			case inBatch:
				stats.BatchDuplicates++
			case session.Contains(u):
				stats.SessionDuplicates++
			default:
				session.Add(u)
				unique = append(unique, u)
				accepted++
				if len(unique) >= req.TargetCount {
					break page
				}
				continue
			}
			stats.DuplicatesSkipped++
		}

		slog.Debug("search page processed",
			slog.Int("page", attempt),
			slog.Int("links", len(urls)),
			slog.Int("accepted", accepted),
			slog.Int("duplicates", stats.DuplicatesSkipped))
	}

	if len(unique) > req.TargetCount {
		unique = unique[:req.TargetCount]
	}
	stats.UniqueFound = len(unique)
	return unique, stats, nil
}

func (a *DedupSearchAggregator) checkKnown(ctx context.Context, urls []string) (map[string]bool, error) {
	if a.known == nil || len(urls) == 0 {
		return map[string]bool{}, nil
	}
	known, err := a.known.CheckExisting(ctx, urls)
	if err != nil {
		return nil, fmt.Errorf("check existing urls: %w", err)
	}
	return known, nil
}

func (a *DedupSearchAggregator) isExcluded(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := u.Hostname()
	for _, pattern := range a.excluded {
		if ok, err := doublestar.Match(pattern, host); err == nil && ok {
			return true
		}
	}
	return false
}

// NormalizeURL returns the canonical form used for dedup: trimmed, fragment
// removed, lowercase scheme and host. Only absolute http(s) URLs are valid.
func NormalizeURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return "", false
	}
	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), true
}

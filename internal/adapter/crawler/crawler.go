// Package crawler fetches web pages concurrently and reduces them to
// readable text.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"webrag/internal/adapter/analyzer"
	"webrag/internal/domain"
	"webrag/internal/port"
)

var _ port.Crawler = (*HTTPCrawler)(nil)

const (
	DefaultConcurrency        = 5
	DefaultPageTimeout        = 20 * time.Second
	DefaultMaxBodyBytes       = 5 << 20
	DefaultRelevanceThreshold = 1.0
	DefaultUserAgent          = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// browserHeaders make requests look like a regular navigation.
var browserHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.9",
	"DNT":                       "1",
	"Upgrade-Insecure-Requests": "1",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
	"Sec-Fetch-User":            "?1",
	"Cache-Control":             "max-age=0",
}

// ProgressFunc is called after each URL finishes, successfully or not.
type ProgressFunc func(done, total int, result domain.CrawlResult)

type Config struct {
	Concurrency       int
	PageTimeout       time.Duration
	MaxBodyBytes      int64
	RequestsPerSecond float64
	UserAgent         string
	// RelevanceFilter keeps only text blocks that score against the query.
	RelevanceFilter    bool
	RelevanceThreshold float64
	// Tokenizer feeds the relevance filter; nil means analyzer.NewTokenizer.
	Tokenizer port.Tokenizer
	Progress  ProgressFunc
}

type HTTPCrawler struct {
	client    *http.Client
	limiter   *rate.Limiter
	cfg       Config
	tokenizer port.Tokenizer
}

func New(cfg Config) *HTTPCrawler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = DefaultPageTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.RelevanceThreshold <= 0 {
		cfg.RelevanceThreshold = DefaultRelevanceThreshold
	}

	if cfg.Tokenizer == nil {
		cfg.Tokenizer = analyzer.NewTokenizer()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Concurrency)
	}
	return &HTTPCrawler{
		client:    &http.Client{},
		limiter:   limiter,
		cfg:       cfg,
		tokenizer: cfg.Tokenizer,
	}
}

// SetProgress replaces the progress callback.
func (c *HTTPCrawler) SetProgress(fn ProgressFunc) {
	c.cfg.Progress = fn
}

// Crawl fetches urls with bounded concurrency. Results are in input order.
// A URL that fails or times out yields an unsuccessful result without
// affecting the others; only cancellation of ctx is returned as an error.
func (c *HTTPCrawler) Crawl(ctx context.Context, urls []string, query string) ([]domain.CrawlResult, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	results := make([]domain.CrawlResult, len(urls))
	var done atomic.Int64
	var progressMu sync.Mutex

	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			results[i] = c.fetch(ctx, u, query)
			n := done.Add(1)
			if c.cfg.Progress != nil {
				progressMu.Lock()
				c.cfg.Progress(int(n), len(urls), results[i])
				progressMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}

	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	slog.Info("crawl finished", slog.Int("succeeded", ok), slog.Int("total", len(urls)))
	return results, nil
}

func (c *HTTPCrawler) fetch(ctx context.Context, url, query string) domain.CrawlResult {
	result := domain.CrawlResult{URL: url}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.PageTimeout)
	defer cancel()

	page, err := c.get(ctx, url, &result)
	result.FetchedAt = time.Now().UTC()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s", c.cfg.PageTimeout)
		}
		result.Err = err
		slog.Debug("crawl failed", slog.String("url", url), slog.String("error", err.Error()))
		return result
	}

	blocks := page.Blocks
	if c.cfg.RelevanceFilter && strings.TrimSpace(query) != "" {
		blocks = FilterRelevant(c.tokenizer, blocks, query, c.cfg.RelevanceThreshold)
	}
	result.Title = page.Title
	result.Content = strings.Join(blocks, "\n\n")
	result.Success = result.Content != ""
	if !result.Success {
		result.Err = errors.New("no extractable text")
	}
	return result
}

func (c *HTTPCrawler) get(ctx context.Context, url string, result *domain.CrawlResult) (*Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "" || mediaType == "text/html" || mediaType == "application/xhtml+xml":
		return ExtractHTML(strings.NewReader(string(body)))
	case strings.HasPrefix(mediaType, "text/"):
		return &Page{Blocks: PlainBlocks(string(body))}, nil
	default:
		return nil, fmt.Errorf("unsupported content type %q", mediaType)
	}
}

package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"webrag/internal/domain"
	"webrag/internal/port"
)

var _ port.SearchBackend = (*SearXNG)(nil)

const DefaultSearXNGURL = "http://localhost:8888"

type SearXNGConfig struct {
	BaseURL string
	// Engines is the default engine list; SearchRequest.Backend overrides it.
	Engines           string
	Language          string
	SafeSearch        int
	Timeout           time.Duration
	RequestsPerSecond float64
	UserAgent         string
}

// SearXNG queries a SearXNG instance through its JSON API.
type SearXNG struct {
	client  *http.Client
	limiter *rate.Limiter
	cfg     SearXNGConfig
}

type searxResponse struct {
	Results []searxResult `json:"results"`
}

type searxResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Engine  string `json:"engine"`
}

func NewSearXNG(cfg SearXNGConfig) *SearXNG {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultSearXNGURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	return &SearXNG{
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: newLimiter(cfg.RequestsPerSecond),
		cfg:     cfg,
	}
}

func (s *SearXNG) Name() string { return "searxng" }

func (s *SearXNG) Search(ctx context.Context, req port.SearchRequest) ([]domain.WebResult, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	page := max(req.Page, 1)
	params := url.Values{}
	params.Set("q", dateQuery(req.Query, req.Before, req.After))
	params.Set("format", "json")
	params.Set("pageno", strconv.Itoa(page))
	params.Set("safesearch", strconv.Itoa(s.cfg.SafeSearch))
	if engines := firstNonEmpty(req.Backend, s.cfg.Engines); engines != "" {
		params.Set("engines", engines)
	}
	if s.cfg.Language != "" {
		params.Set("language", s.cfg.Language)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSearchUnavailable, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var parsed searxResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	results := make([]domain.WebResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.URL == "" {
			continue
		}
		results = append(results, domain.WebResult{
			URL:     r.URL,
			Title:   strings.TrimSpace(r.Title),
			Snippet: strings.TrimSpace(r.Content),
			Engine:  r.Engine,
		})
	}
	return capResults(results, req.MaxResults), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

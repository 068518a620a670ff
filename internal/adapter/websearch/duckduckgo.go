package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"webrag/internal/domain"
	"webrag/internal/port"
)

var _ port.SearchBackend = (*DuckDuckGo)(nil)

const DefaultDuckDuckGoURL = "https://html.duckduckgo.com/html/"

type DuckDuckGoConfig struct {
	BaseURL           string
	Region            string
	Timeout           time.Duration
	RequestsPerSecond float64
	UserAgent         string
}

// DuckDuckGo scrapes the JavaScript-free HTML frontend.
type DuckDuckGo struct {
	client  *http.Client
	limiter *rate.Limiter
	cfg     DuckDuckGoConfig
}

func NewDuckDuckGo(cfg DuckDuckGoConfig) *DuckDuckGo {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultDuckDuckGoURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	return &DuckDuckGo{
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: newLimiter(cfg.RequestsPerSecond),
		cfg:     cfg,
	}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

// pageOffset mirrors the frontend's pagination: the first page holds ten
// results, later pages fifteen.
func pageOffset(page int) int {
	if page <= 1 {
		return 0
	}
	return 10 + (page-2)*15
}

func (d *DuckDuckGo) Search(ctx context.Context, req port.SearchRequest) ([]domain.WebResult, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("q", dateQuery(req.Query, req.Before, req.After))
	form.Set("b", "")
	if d.cfg.Region != "" {
		form.Set("kl", d.cfg.Region)
	}
	if req.After != "" && req.Before != "" {
		form.Set("df", req.After+".."+req.Before)
	}
	if off := pageOffset(req.Page); off > 0 {
		form.Set("s", strconv.Itoa(off))
		form.Set("dc", strconv.Itoa(off+1))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.BaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("User-Agent", d.cfg.UserAgent)
	httpReq.Header.Set("Accept", "text/html")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSearchUnavailable, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	results, err := parseDuckDuckGo(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	return capResults(results, req.MaxResults), nil
}

func parseDuckDuckGo(r io.Reader) ([]domain.WebResult, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}

	var results []domain.WebResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result") && !hasClass(n, "result--ad") {
			if r, ok := parseResult(n); ok {
				results = append(results, r)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results, nil
}

func parseResult(n *html.Node) (domain.WebResult, bool) {
	var res domain.WebResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result__a"):
				res.URL = decodeRedirect(attr(n, "href"))
				res.Title = nodeText(n)
			case hasClass(n, "result__snippet"):
				res.Snippet = nodeText(n)
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	res.Engine = "duckduckgo"
	return res, res.URL != ""
}

// decodeRedirect unwraps //duckduckgo.com/l/?uddg=<target> links.
func decodeRedirect(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if strings.HasSuffix(u.Host, "duckduckgo.com") && strings.HasPrefix(u.Path, "/l/") {
		return u.Query().Get("uddg")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, f := range strings.Fields(attr(n, "class")) {
		if f == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

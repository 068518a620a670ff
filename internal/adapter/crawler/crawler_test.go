package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webrag/internal/adapter/analyzer"
	"webrag/internal/domain"
)

const articleHTML = `<!doctype html>
<html><head><title> Goroutine scheduling </title><style>body{}</style></head>
<body>
<header><a href="/">Home</a> <a href="/about">About</a></header>
<nav><ul><li>Menu item</li></ul></nav>
<main>
  <h1>How the scheduler works</h1>
  <p>The Go scheduler multiplexes   goroutines onto OS threads.</p>
  <p>Work stealing keeps every processor busy.</p>
  <div style="display: none">hidden tracking text</div>
  <script>var x = 1;</script>
</main>
<form><input name="q"><button>Search</button></form>
<footer>Copyright 2026</footer>
</body></html>`

func TestExtractHTML(t *testing.T) {
	page, err := ExtractHTML(strings.NewReader(articleHTML))
	require.NoError(t, err)

	assert.Equal(t, "Goroutine scheduling", page.Title)
	assert.Equal(t, []string{
		"How the scheduler works",
		"The Go scheduler multiplexes goroutines onto OS threads.",
		"Work stealing keeps every processor busy.",
	}, page.Blocks)

	text := page.Text()
	for _, unwanted := range []string{"Home", "Menu item", "Copyright", "var x", "hidden tracking", "Search"} {
		assert.NotContains(t, text, unwanted)
	}
}

func TestExtractHTML_TitleFromHeading(t *testing.T) {
	page, err := ExtractHTML(strings.NewReader(`<html><body><h1>Fallback <em>title</em></h1><p>body</p></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "Fallback title", page.Title)
}

func TestPlainBlocks(t *testing.T) {
	assert.Equal(t, []string{"first para line two", "second"}, PlainBlocks("first para\nline two\r\n\r\nsecond\n\n\n"))
	assert.Empty(t, PlainBlocks("   "))
}

func TestFilterRelevant(t *testing.T) {
	tok := analyzer.NewTokenizer()
	blocks := []string{
		"Cookie settings and privacy policy.",
		"Goroutines are scheduled by the Go runtime onto threads.",
		"Subscribe to our newsletter.",
		"The runtime scheduler uses work stealing between goroutines.",
	}

	kept := FilterRelevant(tok, blocks, "goroutines scheduler runtime", 1.0)
	assert.Equal(t, []string{blocks[1], blocks[3]}, kept)

	assert.Equal(t, blocks, FilterRelevant(tok, blocks, "kubernetes ingress", 1.0), "no match keeps everything")
	assert.Equal(t, blocks, FilterRelevant(tok, blocks, "", 1.0))
}

func TestExtractURLs(t *testing.T) {
	in := "see https://a.example/x, www.b.example/path; (https://a.example/x)\nnot-a-url and c.example/docs"
	assert.Equal(t, []string{"https://a.example/x", "https://www.b.example/path"}, ExtractURLs(in))
	assert.Empty(t, ExtractURLs(""))
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/article", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "en-US,en;q=0.9", r.Header.Get("Accept-Language"))
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articleHTML))
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("plain paragraph one\n\nplain paragraph two"))
	})
	mux.HandleFunc("/binary", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7"))
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body><nav>only nav</nav></body></html>"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPCrawler_Crawl(t *testing.T) {
	srv := newSite(t)

	var mu sync.Mutex
	var progress []int
	c := New(Config{
		Concurrency: 3,
		PageTimeout: 200 * time.Millisecond,
		Progress: func(done, total int, _ domain.CrawlResult) {
			mu.Lock()
			defer mu.Unlock()
			progress = append(progress, done)
			assert.Equal(t, 6, total)
		},
	})

	urls := []string{
		srv.URL + "/article",
		srv.URL + "/plain",
		srv.URL + "/missing",
		srv.URL + "/binary",
		srv.URL + "/slow",
		srv.URL + "/empty",
	}
	results, err := c.Crawl(context.Background(), urls, "")
	require.NoError(t, err)
	require.Len(t, results, len(urls))

	for i, r := range results {
		assert.Equal(t, urls[i], r.URL, "results keep input order")
	}

	assert.True(t, results[0].Success)
	assert.Equal(t, "Goroutine scheduling", results[0].Title)
	assert.Contains(t, results[0].Content, "Work stealing")
	assert.Equal(t, http.StatusOK, results[0].StatusCode)
	assert.False(t, results[0].FetchedAt.IsZero())

	assert.True(t, results[1].Success)
	assert.Equal(t, "plain paragraph one\n\nplain paragraph two", results[1].Content)

	assert.False(t, results[2].Success)
	assert.Equal(t, http.StatusNotFound, results[2].StatusCode)
	assert.ErrorContains(t, results[2].Err, "404")

	assert.False(t, results[3].Success)
	assert.ErrorContains(t, results[3].Err, "unsupported content type")

	assert.False(t, results[4].Success)
	assert.ErrorContains(t, results[4].Err, "timed out")

	assert.False(t, results[5].Success)

	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5, 6}, progress)
}

func TestHTTPCrawler_RelevanceFilter(t *testing.T) {
	srv := newSite(t)
	c := New(Config{RelevanceFilter: true})

	results, err := c.Crawl(context.Background(), []string{srv.URL + "/article"}, "work stealing processor")
	require.NoError(t, err)
	require.True(t, results[0].Success)
	assert.Equal(t, "Work stealing keeps every processor busy.", results[0].Content)
}

// synonymTokenizer maps "cpu" to "processor" on top of the default terms.
type synonymTokenizer struct {
	base *analyzer.Tokenizer
}

func (s synonymTokenizer) Tokenize(text string) []string {
	terms := s.base.Tokenize(text)
	for i, t := range terms {
		if t == "cpu" {
			terms[i] = "processor"
		}
	}
	return terms
}

func TestHTTPCrawler_RelevanceFilterUsesConfiguredTokenizer(t *testing.T) {
	srv := newSite(t)
	url := srv.URL + "/article"

	plain := New(Config{RelevanceFilter: true})
	results, err := plain.Crawl(context.Background(), []string{url}, "cpu")
	require.NoError(t, err)
	require.True(t, results[0].Success)
	assert.Contains(t, results[0].Content, "multiplexes", "no block matches, page kept whole")

	c := New(Config{RelevanceFilter: true, Tokenizer: synonymTokenizer{base: analyzer.NewTokenizer()}})
	results, err = c.Crawl(context.Background(), []string{url}, "cpu")
	require.NoError(t, err)
	require.True(t, results[0].Success)
	assert.Equal(t, "Work stealing keeps every processor busy.", results[0].Content)
}

func TestHTTPCrawler_Cancelled(t *testing.T) {
	srv := newSite(t)
	c := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := c.Crawl(ctx, []string{srv.URL + "/article"}, "")
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
}

func TestHTTPCrawler_NoURLs(t *testing.T) {
	results, err := New(Config{}).Crawl(context.Background(), nil, "q")
	require.NoError(t, err)
	assert.Empty(t, results)
}

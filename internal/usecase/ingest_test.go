package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webrag/internal/adapter/embedding"
	"webrag/internal/adapter/vectorindex"
	"webrag/internal/domain"
)

type fakeCrawler struct {
	pages map[string]domain.CrawlResult
	seen  []string
}

func (c *fakeCrawler) Crawl(_ context.Context, urls []string, _ string) ([]domain.CrawlResult, error) {
	c.seen = append(c.seen, urls...)
	out := make([]domain.CrawlResult, len(urls))
	for i, u := range urls {
		r, ok := c.pages[u]
		if !ok {
			r = domain.CrawlResult{Err: errors.New("404 not found")}
		}
		r.URL = u
		out[i] = r
	}
	return out, nil
}

func article(topic string, sentences int) string {
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&b, "Sentence %d explains %s in some detail for readers. ", i, topic)
	}
	return b.String()
}

func newTestIndex(t *testing.T, profile domain.EmbeddingProfile) *vectorindex.Index {
	t.Helper()
	gw, err := embedding.NewGatewayWithEncoder(profile, embedding.NewHashEncoder(profile.Dimension()), embedding.GatewayOptions{})
	require.NoError(t, err)
	return vectorindex.New(gw, vectorindex.DefaultParams())
}

func TestCrawlIngestion_Run(t *testing.T) {
	backend := &pagedBackend{pages: map[int][]string{1: {
		"https://a.example/go",
		"https://b.example/short",
		"https://c.example/missing",
	}}}
	crawler := &fakeCrawler{pages: map[string]domain.CrawlResult{
		"https://a.example/go": {
			Title:     "Go concurrency",
			Content:   article("goroutines and channels", 60),
			Success:   true,
			FetchedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		"https://b.example/short": {Title: "stub", Content: "too short", Success: true},
	}}
	profile := domain.ProfileMiniLM
	idx := newTestIndex(t, profile)
	agg := NewDedupSearchAggregator(backend, nil)

	p, err := NewCrawlIngestionPipeline(agg, crawler, idx, profile, IngestOptions{ChunkOverlap: 50})
	require.NoError(t, err)
	p.newSessionID = func() string { return "session-1" }

	report, err := p.Run(context.Background(), IngestRequest{
		AggregateRequest: AggregateRequest{Query: "go concurrency", TargetCount: 5},
		Quick:            true,
	})
	require.NoError(t, err)

	assert.Equal(t, "session-1", report.SessionID)
	assert.Len(t, report.URLs, 3)
	assert.Equal(t, 2, report.Crawled)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Failures, "https://c.example/missing")
	assert.Equal(t, 1, report.Filtered)
	assert.Equal(t, 1, report.Documents)
	assert.Greater(t, report.Chunks, 1)
	assert.Equal(t, report.Chunks, idx.Len())

	chunks, vecs := idx.Entries()
	require.Len(t, vecs, len(chunks))
	for i, c := range chunks {
		assert.Equal(t, "https://a.example/go", c.SourceID)
		assert.Equal(t, uint32(i), c.ChunkIndex)
		assert.Equal(t, uint32(len(chunks)), c.TotalChunks)
		assert.LessOrEqual(t, len([]rune(c.Text)), profile.DefaultChunkSize())
		assert.Equal(t, "Go concurrency", c.Metadata[domain.MetaTitle])
		assert.Equal(t, "session-1", c.Metadata[domain.MetaSessionID])
		assert.Equal(t, "2026-01-02T03:04:05Z", c.Metadata[domain.MetaFetchedAt])
		assert.Equal(t, fmt.Sprint(i), c.Metadata[domain.MetaChunkID])
		assert.True(t, strings.HasSuffix(c.Metadata[domain.MetaOriginalDoc], "..."))
		assert.Len(t, []rune(c.Metadata[domain.MetaOriginalDoc]), 103)
	}
}

func TestCrawlIngestion_ClearsPreviousCorpus(t *testing.T) {
	profile := domain.ProfileMiniLM
	idx := newTestIndex(t, profile)
	crawler := &fakeCrawler{pages: map[string]domain.CrawlResult{
		"https://one.example/": {Content: article("first corpus", 5), Success: true},
		"https://two.example/": {Content: article("second corpus", 5), Success: true},
	}}
	p, err := NewCrawlIngestionPipeline(nil, crawler, idx, profile, IngestOptions{})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), IngestRequest{URLs: []string{"https://one.example/"}})
	require.NoError(t, err)
	first := idx.Len()
	require.Positive(t, first)

	_, err = p.Run(context.Background(), IngestRequest{URLs: []string{"https://two.example/"}})
	require.NoError(t, err)

	chunks, _ := idx.Entries()
	for _, c := range chunks {
		assert.Equal(t, "https://two.example/", c.SourceID)
	}
}

func TestCrawlIngestion_ExplicitURLsSkipSearch(t *testing.T) {
	backend := &pagedBackend{}
	crawler := &fakeCrawler{pages: map[string]domain.CrawlResult{}}
	profile := domain.ProfileMiniLM
	p, err := NewCrawlIngestionPipeline(NewDedupSearchAggregator(backend, nil), crawler, newTestIndex(t, profile), profile, IngestOptions{})
	require.NoError(t, err)

	session := domain.NewSessionURLSet("https://seen.example/")
	report, err := p.Run(context.Background(), IngestRequest{
		URLs:    []string{"https://seen.example/", "https://new.example/#top", "not a url"},
		Session: session,
	})
	require.NoError(t, err)

	assert.Empty(t, backend.requests)
	assert.Equal(t, []string{"https://new.example/"}, crawler.seen)
	assert.Equal(t, 1, report.Search.SessionDuplicates)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Chunks)
}

func TestCrawlIngestion_NoURLs(t *testing.T) {
	backend := &pagedBackend{pages: map[int][]string{}}
	crawler := &fakeCrawler{}
	profile := domain.ProfileMiniLM
	p, err := NewCrawlIngestionPipeline(NewDedupSearchAggregator(backend, nil), crawler, newTestIndex(t, profile), profile, IngestOptions{})
	require.NoError(t, err)

	report, err := p.Run(context.Background(), IngestRequest{
		AggregateRequest: AggregateRequest{Query: "nothing", TargetCount: 5},
	})
	require.NoError(t, err)
	assert.Empty(t, report.URLs)
	assert.Empty(t, crawler.seen)
}

func TestCrawlIngestion_InvalidOptions(t *testing.T) {
	profile := domain.ProfileMiniLM
	_, err := NewCrawlIngestionPipeline(nil, nil, newTestIndex(t, profile), profile, IngestOptions{ChunkSize: 100, ChunkOverlap: 100})
	assert.ErrorIs(t, err, domain.ErrInvalidChunkOverlap)

	_, err = NewCrawlIngestionPipeline(nil, nil, newTestIndex(t, profile), domain.EmbeddingProfile(9), IngestOptions{})
	assert.ErrorIs(t, err, domain.ErrUnknownProfile)
}

func TestIngestDocuments(t *testing.T) {
	profile := domain.ProfileMiniLM
	idx := newTestIndex(t, profile)
	p, err := NewCrawlIngestionPipeline(nil, nil, idx, profile, IngestOptions{})
	require.NoError(t, err)

	report, err := p.IngestDocuments(context.Background(), []domain.Document{
		{SourceID: "notes.md", Title: "notes", Content: "Vector indexes trade recall for speed."},
		{SourceID: "empty.md", Content: "   "},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Documents)
	assert.Equal(t, 1, report.Filtered)
	assert.Equal(t, 1, idx.Len())

	chunks, _ := idx.Entries()
	assert.Equal(t, "Vector indexes trade recall for speed.", chunks[0].Metadata[domain.MetaOriginalDoc])
}

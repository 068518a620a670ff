package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webrag/internal/domain"
	"webrag/internal/port"
)

type pagedBackend struct {
	mu       sync.Mutex
	pages    map[int][]string
	failing  map[int]bool
	requests []int
}

func (b *pagedBackend) Name() string { return "fake" }

func (b *pagedBackend) Search(_ context.Context, req port.SearchRequest) ([]domain.WebResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req.Page)
	if b.failing[req.Page] {
		return nil, errors.New("upstream 503")
	}
	var out []domain.WebResult
	for _, u := range b.pages[req.Page] {
		out = append(out, domain.WebResult{URL: u})
	}
	return out, nil
}

type knownSet map[string]bool

func (k knownSet) CheckExisting(_ context.Context, urls []string) (map[string]bool, error) {
	out := make(map[string]bool, len(urls))
	for _, u := range urls {
		out[u] = k[u]
	}
	return out, nil
}

func pageOf(page, n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://site%d.example/p%d", page, i)
	}
	return urls
}

func TestFindUniqueURLs_StopsOnEmptyPage(t *testing.T) {
	backend := &pagedBackend{pages: map[int][]string{
		1: pageOf(1, 5),
		2: pageOf(2, 5),
		3: pageOf(3, 5),
	}}
	agg := NewDedupSearchAggregator(backend, nil, WithResultsPerPage(5))

	urls, stats, err := agg.FindUniqueURLs(context.Background(), AggregateRequest{
		Query:       "go generics",
		TargetCount: 20,
		MaxAttempts: 10,
	}, nil)
	require.NoError(t, err)

	assert.Len(t, urls, 15)
	assert.Equal(t, 4, stats.Attempts)
	assert.Equal(t, 4, stats.PagesSearched)
	assert.Equal(t, 15, stats.UniqueFound)
	assert.Equal(t, []int{1, 2, 3, 4}, backend.requests)
}

func TestFindUniqueURLs_StopsAtTarget(t *testing.T) {
	backend := &pagedBackend{pages: map[int][]string{
		1: pageOf(1, 5),
		2: pageOf(2, 5),
		3: pageOf(3, 5),
	}}
	agg := NewDedupSearchAggregator(backend, nil, WithResultsPerPage(5))

	urls, stats, err := agg.FindUniqueURLs(context.Background(), AggregateRequest{
		Query:       "go generics",
		TargetCount: 10,
		MaxAttempts: 10,
	}, nil)
	require.NoError(t, err)

	assert.Len(t, urls, 10)
	assert.Equal(t, 2, stats.Attempts)
}

func TestFindUniqueURLs_CapsWithinPage(t *testing.T) {
	backend := &pagedBackend{pages: map[int][]string{1: pageOf(1, 8)}}
	agg := NewDedupSearchAggregator(backend, nil)
	session := domain.NewSessionURLSet()

	urls, stats, err := agg.FindUniqueURLs(context.Background(), AggregateRequest{
		Query:       "q",
		TargetCount: 3,
	}, session)
	require.NoError(t, err)

	assert.Equal(t, pageOf(1, 3), urls)
	assert.Equal(t, 3, stats.UniqueFound)
	assert.Equal(t, 3, session.Len(), "only accepted urls join the session")
}

func TestFindUniqueURLs_DedupPrecedence(t *testing.T) {
	backend := &pagedBackend{pages: map[int][]string{1: {
		"https://known.example/a",
		"https://session.example/a",
		"https://fresh.example/a",
		"https://fresh.example/a",
		"https://fresh.example/b#section",
		"https://known.example/a",
	}}}
	known := knownSet{"https://known.example/a": true}
	session := domain.NewSessionURLSet("https://session.example/a")
	agg := NewDedupSearchAggregator(backend, known)

	urls, stats, err := agg.FindUniqueURLsQuick(context.Background(), AggregateRequest{
		Query:       "q",
		TargetCount: 10,
	}, session)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://fresh.example/a", "https://fresh.example/b"}, urls)
	assert.Equal(t, 2, stats.KnownDuplicates, "known store wins over batch duplicate")
	assert.Equal(t, 1, stats.SessionDuplicates)
	assert.Equal(t, 1, stats.BatchDuplicates)
	assert.Equal(t, 4, stats.DuplicatesSkipped)
	assert.LessOrEqual(t, stats.UniqueFound+stats.DuplicatesSkipped, stats.TotalFound)
}

func TestFindUniqueURLs_SessionNeverReadmitted(t *testing.T) {
	backend := &pagedBackend{pages: map[int][]string{
		1: pageOf(1, 4),
		2: append(pageOf(1, 4), pageOf(2, 2)...),
	}}
	agg := NewDedupSearchAggregator(backend, nil)
	session := domain.NewSessionURLSet()

	first, _, err := agg.FindUniqueURLsQuick(context.Background(), AggregateRequest{Query: "q", TargetCount: 4}, session)
	require.NoError(t, err)
	require.Len(t, first, 4)

	second, stats, err := agg.FindUniqueURLs(context.Background(), AggregateRequest{Query: "q", TargetCount: 10, MaxAttempts: 2}, session)
	require.NoError(t, err)

	for _, u := range second {
		assert.NotContains(t, first, u)
	}
	assert.Equal(t, pageOf(2, 2), second)
	assert.Equal(t, 8, stats.SessionDuplicates)
	assert.Equal(t, 6, session.Len())
}

func TestFindUniqueURLsQuick_SinglePage(t *testing.T) {
	backend := &pagedBackend{pages: map[int][]string{
		1: pageOf(1, 2),
		2: pageOf(2, 2),
	}}
	agg := NewDedupSearchAggregator(backend, nil)

	urls, stats, err := agg.FindUniqueURLsQuick(context.Background(), AggregateRequest{Query: "q", TargetCount: 10, MaxAttempts: 5}, nil)
	require.NoError(t, err)

	assert.Len(t, urls, 2)
	assert.Equal(t, 1, stats.Attempts)
	assert.Equal(t, []int{1}, backend.requests)
}

func TestFindUniqueURLs_FailedPageContinues(t *testing.T) {
	backend := &pagedBackend{
		pages:   map[int][]string{1: pageOf(1, 2), 3: pageOf(3, 2)},
		failing: map[int]bool{2: true},
	}
	agg := NewDedupSearchAggregator(backend, nil)

	urls, stats, err := agg.FindUniqueURLs(context.Background(), AggregateRequest{Query: "q", TargetCount: 10, MaxAttempts: 3}, nil)
	require.NoError(t, err)

	assert.Len(t, urls, 4)
	assert.Equal(t, 1, stats.FailedPages)
	assert.Equal(t, 2, stats.PagesSearched)
	assert.Equal(t, 3, stats.Attempts)
}

func TestFindUniqueURLs_ExcludedHosts(t *testing.T) {
	backend := &pagedBackend{pages: map[int][]string{1: {
		"https://www.youtube.com/watch?v=1",
		"https://youtube.com/watch?v=2",
		"https://notyoutube.com/x",
		"https://blog.example/post",
	}}}
	agg := NewDedupSearchAggregator(backend, nil, WithExcludedSites([]string{"youtube.com"}))

	urls, stats, err := agg.FindUniqueURLsQuick(context.Background(), AggregateRequest{Query: "q", TargetCount: 10}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://notyoutube.com/x", "https://blog.example/post"}, urls)
	assert.Equal(t, 2, stats.Excluded)
}

func TestFindUniqueURLs_NoExclusionsByDefault(t *testing.T) {
	backend := &pagedBackend{pages: map[int][]string{1: {
		"https://github.com/golang/go",
		"https://www.youtube.com/watch?v=1",
	}}}
	agg := NewDedupSearchAggregator(backend, nil)

	urls, stats, err := agg.FindUniqueURLsQuick(context.Background(), AggregateRequest{Query: "q", TargetCount: 5}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://github.com/golang/go", "https://www.youtube.com/watch?v=1"}, urls)
	assert.Equal(t, 0, stats.Excluded)
}

func TestFindUniqueURLs_Degenerate(t *testing.T) {
	backend := &pagedBackend{pages: map[int][]string{1: pageOf(1, 2)}}
	agg := NewDedupSearchAggregator(backend, nil)

	urls, stats, err := agg.FindUniqueURLs(context.Background(), AggregateRequest{Query: "q", TargetCount: 0}, nil)
	require.NoError(t, err)
	assert.Empty(t, urls)
	assert.Equal(t, 0, stats.Attempts)

	urls, _, err = agg.FindUniqueURLs(context.Background(), AggregateRequest{Query: "  ", TargetCount: 5}, nil)
	require.NoError(t, err)
	assert.Empty(t, urls)
	assert.Empty(t, backend.requests)
}

func TestFindUniqueURLs_Cancelled(t *testing.T) {
	backend := &pagedBackend{pages: map[int][]string{1: pageOf(1, 2)}}
	agg := NewDedupSearchAggregator(backend, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := agg.FindUniqueURLs(ctx, AggregateRequest{Query: "q", TargetCount: 5}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{" https://Example.COM/Path#frag ", "https://example.com/Path", true},
		{"HTTP://a.example/x?q=1", "http://a.example/x?q=1", true},
		{"ftp://a.example/file", "", false},
		{"/relative/path", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeURL(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

package domain

import (
	"sort"
	"sync"
	"time"
)

// Metadata keys stamped onto chunks at ingestion time.
const (
	MetaSource        = "source"
	MetaTitle         = "title"
	MetaContentLength = "content_length"
	MetaFetchedAt     = "fetched_at"
	MetaSessionID     = "session_id"
	MetaChunkID       = "chunk_id"
	MetaTotalChunks   = "total_chunks"
	MetaOriginalDoc   = "original_doc"
)

// Chunk is one segment of a source document. Chunks are immutable once
// created; the vector index owns them.
type Chunk struct {
	Text        string            `json:"text"`
	SourceID    string            `json:"source_id"`
	ChunkIndex  uint32            `json:"chunk_index"`
	TotalChunks uint32            `json:"total_chunks"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Embedding is an L2-normalized vector produced by the embedding gateway.
type Embedding []float32

// SearchCandidate is a stage-1 nearest neighbour hit.
type SearchCandidate struct {
	Chunk          Chunk
	RetrievalScore float32
}

// RankedResult is a stage-2 result. Reranked is false when the result comes
// from the stage-1 fallback order.
type RankedResult struct {
	Chunk          Chunk   `json:"chunk"`
	RetrievalScore float32 `json:"retrieval_score"`
	RerankScore    float32 `json:"rerank_score"`
	RankPosition   uint32  `json:"rank_position"`
	Reranked       bool    `json:"reranked"`
}

// Document is a unit of text handed to ingestion, either crawled or local.
type Document struct {
	SourceID string
	Title    string
	Content  string
	Metadata map[string]string
}

// WebResult is a single hit from an external search backend.
type WebResult struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet,omitempty"`
	Engine  string `json:"engine,omitempty"`
}

// CrawlResult is the outcome of fetching one URL.
type CrawlResult struct {
	URL        string
	Title      string
	Content    string
	StatusCode int
	Success    bool
	Err        error
	FetchedAt  time.Time
}

// SearchStats are the diagnostic counters of one aggregation call.
type SearchStats struct {
	Attempts          int `json:"attempts"`
	PagesSearched     int `json:"pages_searched"`
	TotalFound        int `json:"total_found"`
	DuplicatesSkipped int `json:"duplicates_skipped"`
	Excluded          int `json:"excluded"`
	UniqueFound       int `json:"unique_found"`
	FailedPages       int `json:"failed_pages"`
}

// SessionURLSet holds the URLs discovered within one aggregation session.
// It is safe for concurrent use.
type SessionURLSet struct {
	mu   sync.RWMutex
	urls map[string]struct{}
}

// NewSessionURLSet creates a set seeded with the given URLs.
func NewSessionURLSet(urls ...string) *SessionURLSet {
	s := &SessionURLSet{urls: make(map[string]struct{}, len(urls))}
	for _, u := range urls {
		s.urls[u] = struct{}{}
	}
	return s
}

func (s *SessionURLSet) Contains(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.urls[url]
	return ok
}

// Add inserts url and reports whether it was new.
func (s *SessionURLSet) Add(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.urls[url]; ok {
		return false
	}
	s.urls[url] = struct{}{}
	return true
}

func (s *SessionURLSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.urls)
}

// URLs returns the members in sorted order.
func (s *SessionURLSet) URLs() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.urls))
	for u := range s.urls {
		out = append(out, u)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// CorpusSnapshot is a persisted corpus: the chunks and vectors of one
// ingestion session together with the profile that embedded them.
type CorpusSnapshot struct {
	Profile   string      `json:"profile"`
	Model     string      `json:"model"`
	SessionID string      `json:"session_id"`
	Query     string      `json:"query,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	Chunks    []Chunk     `json:"-"`
	Vectors   []Embedding `json:"-"`
}

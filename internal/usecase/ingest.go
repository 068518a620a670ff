package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"webrag/internal/adapter/chunker"
	"webrag/internal/domain"
	"webrag/internal/port"
)

const (
	DefaultMinContentLength = 100
	previewLength           = 100
)

// CorpusIndex is the part of the vector index ingestion writes to.
type CorpusIndex interface {
	Initialize(dim int) error
	Add(ctx context.Context, chunks []domain.Chunk) error
}

// URLAggregator finds URLs that are new to the durable store and session.
type URLAggregator interface {
	FindUniqueURLs(ctx context.Context, req AggregateRequest, session *domain.SessionURLSet) ([]string, DedupStats, error)
	FindUniqueURLsQuick(ctx context.Context, req AggregateRequest, session *domain.SessionURLSet) ([]string, DedupStats, error)
}

type IngestOptions struct {
	// ChunkSize of 0 selects the profile's default chunk size.
	ChunkSize        int
	ChunkOverlap     int
	MinContentLength int
}

type IngestRequest struct {
	AggregateRequest
	Quick bool
	// URLs, when set, are crawled directly and aggregation is skipped.
	URLs    []string
	Session *domain.SessionURLSet
}

type IngestReport struct {
	SessionID string            `json:"session_id"`
	Search    DedupStats        `json:"search"`
	URLs      []string          `json:"urls"`
	Crawled   int               `json:"crawled"`
	Failed    int               `json:"failed"`
	Filtered  int               `json:"filtered"`
	Documents int               `json:"documents"`
	Chunks    int               `json:"chunks"`
	Failures  map[string]string `json:"failures,omitempty"`
	Elapsed   time.Duration     `json:"elapsed"`
}

// CrawlIngestionPipeline builds a fresh corpus for one query session:
// aggregate URLs, crawl them, drop thin pages, chunk and index the rest.
type CrawlIngestionPipeline struct {
	aggregator URLAggregator
	crawler    port.Crawler
	index      CorpusIndex
	profile    domain.EmbeddingProfile
	chunker    port.Chunker
	minContent int

	newSessionID func() string
	now          func() time.Time
}

func NewCrawlIngestionPipeline(
	aggregator URLAggregator,
	crawler port.Crawler,
	index CorpusIndex,
	profile domain.EmbeddingProfile,
	opts IngestOptions,
) (*CrawlIngestionPipeline, error) {
	if !profile.Valid() {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnknownProfile, int(profile))
	}
	size := opts.ChunkSize
	if size == 0 {
		size = profile.DefaultChunkSize()
	}
	chk, err := chunker.NewTextChunker(size, opts.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if opts.MinContentLength <= 0 {
		opts.MinContentLength = DefaultMinContentLength
	}
	return &CrawlIngestionPipeline{
		aggregator:   aggregator,
		crawler:      crawler,
		index:        index,
		profile:      profile,
		chunker:      chk,
		minContent:   opts.MinContentLength,
		newSessionID: uuid.NewString,
		now:          time.Now,
	}, nil
}

func (p *CrawlIngestionPipeline) Profile() domain.EmbeddingProfile { return p.profile }

// Run clears the index and ingests the pages found for req. Per-URL crawl
// failures are counted in the report; only index errors abort the run.
func (p *CrawlIngestionPipeline) Run(ctx context.Context, req IngestRequest) (*IngestReport, error) {
	start := p.now()
	report := &IngestReport{SessionID: p.newSessionID(), Failures: map[string]string{}}

	if err := p.index.Initialize(p.profile.Dimension()); err != nil {
		return nil, fmt.Errorf("reset index: %w", err)
	}

	session := req.Session
	if session == nil {
		session = domain.NewSessionURLSet()
	}

	urls, stats, err := p.resolveURLs(ctx, req, session)
	report.Search = stats
	report.URLs = urls
	if err != nil {
		return report, err
	}
	if len(urls) == 0 {
		slog.Info("no new urls to crawl", slog.String("query", req.Query))
		report.Elapsed = p.now().Sub(start)
		return report, nil
	}

	if p.crawler == nil {
		return report, fmt.Errorf("%w: no crawler configured", domain.ErrInvalidConfig)
	}
	results, err := p.crawler.Crawl(ctx, urls, req.Query)
	if err != nil {
		return report, fmt.Errorf("crawl: %w", err)
	}

	docs := make([]domain.Document, 0, len(results))
	for _, r := range results {
		if !r.Success {
			report.Failed++
			msg := "unknown error"
			if r.Err != nil {
				msg = r.Err.Error()
			}
			report.Failures[r.URL] = msg
			slog.Warn("crawl failed", slog.String("url", r.URL), slog.String("error", msg))
			continue
		}
		report.Crawled++

		content := strings.TrimSpace(r.Content)
		if utf8.RuneCountInString(content) < p.minContent {
			report.Filtered++
			slog.Debug("content too short", slog.String("url", r.URL), slog.Int("length", len(content)))
			continue
		}

		fetched := r.FetchedAt
		if fetched.IsZero() {
			fetched = p.now()
		}
		docs = append(docs, domain.Document{
			SourceID: r.URL,
			Title:    r.Title,
			Content:  content,
			Metadata: map[string]string{
				domain.MetaFetchedAt: fetched.UTC().Format(time.RFC3339),
			},
		})
	}

	if err := p.ingest(ctx, docs, report); err != nil {
		return report, err
	}
	report.Elapsed = p.now().Sub(start)

	slog.Info("corpus built",
		slog.String("session_id", report.SessionID),
		slog.Int("urls", len(urls)),
		slog.Int("crawled", report.Crawled),
		slog.Int("failed", report.Failed),
		slog.Int("filtered", report.Filtered),
		slog.Int("chunks", report.Chunks))
	return report, nil
}

// IngestDocuments clears the index and builds a corpus from local documents.
func (p *CrawlIngestionPipeline) IngestDocuments(ctx context.Context, docs []domain.Document) (*IngestReport, error) {
	start := p.now()
	report := &IngestReport{SessionID: p.newSessionID(), Failures: map[string]string{}}

	if err := p.index.Initialize(p.profile.Dimension()); err != nil {
		return nil, fmt.Errorf("reset index: %w", err)
	}

	kept := make([]domain.Document, 0, len(docs))
	for _, d := range docs {
		d.Content = strings.TrimSpace(d.Content)
		if d.Content == "" {
			report.Filtered++
			continue
		}
		kept = append(kept, d)
	}
	if err := p.ingest(ctx, kept, report); err != nil {
		return report, err
	}
	report.Elapsed = p.now().Sub(start)
	return report, nil
}

func (p *CrawlIngestionPipeline) resolveURLs(ctx context.Context, req IngestRequest, session *domain.SessionURLSet) ([]string, DedupStats, error) {
	if len(req.URLs) > 0 {
		var stats DedupStats
		var urls []string
		for _, raw := range req.URLs {
			u, ok := NormalizeURL(raw)
			if !ok {
				continue
			}
			stats.TotalFound++
			if !session.Add(u) {
				stats.DuplicatesSkipped++
				stats.SessionDuplicates++
				continue
			}
			urls = append(urls, u)
		}
		stats.UniqueFound = len(urls)
		return urls, stats, nil
	}

	if p.aggregator == nil {
		return nil, DedupStats{}, fmt.Errorf("%w: no search backend configured", domain.ErrInvalidConfig)
	}
	if req.Quick {
		return p.aggregator.FindUniqueURLsQuick(ctx, req.AggregateRequest, session)
	}
	return p.aggregator.FindUniqueURLs(ctx, req.AggregateRequest, session)
}

// ingest chunks every document and commits all chunks as one index batch.
func (p *CrawlIngestionPipeline) ingest(ctx context.Context, docs []domain.Document, report *IngestReport) error {
	var all []domain.Chunk
	for _, d := range docs {
		pieces, err := p.chunker.Split(d.Content)
		if err != nil {
			return err
		}
		if len(pieces) == 0 {
			report.Filtered++
			continue
		}
		all = append(all, p.buildChunks(d, pieces, report.SessionID)...)
		report.Documents++
	}
	if len(all) == 0 {
		return nil
	}

	if err := p.index.Add(ctx, all); err != nil {
		return fmt.Errorf("index chunks: %w", err)
	}
	report.Chunks = len(all)
	return nil
}

func (p *CrawlIngestionPipeline) buildChunks(d domain.Document, pieces []string, sessionID string) []domain.Chunk {
	total := uint32(len(pieces))
	preview := d.Content
	if utf8.RuneCountInString(preview) > previewLength {
		preview = string([]rune(preview)[:previewLength]) + "..."
	}

	chunks := make([]domain.Chunk, len(pieces))
	for i, text := range pieces {
		meta := make(map[string]string, len(d.Metadata)+8)
		for k, v := range d.Metadata {
			meta[k] = v
		}
		meta[domain.MetaSource] = d.SourceID
		meta[domain.MetaTitle] = d.Title
		meta[domain.MetaContentLength] = strconv.Itoa(utf8.RuneCountInString(d.Content))
		meta[domain.MetaSessionID] = sessionID
		meta[domain.MetaChunkID] = strconv.Itoa(i)
		meta[domain.MetaTotalChunks] = strconv.Itoa(len(pieces))
		meta[domain.MetaOriginalDoc] = preview

		chunks[i] = domain.Chunk{
			Text:        text,
			SourceID:    d.SourceID,
			ChunkIndex:  uint32(i),
			TotalChunks: total,
			Metadata:    meta,
		}
	}
	return chunks
}

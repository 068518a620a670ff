package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"webrag/internal/adapter/cache"
	"webrag/internal/adapter/embedding"
	"webrag/internal/adapter/retriever"
	"webrag/internal/adapter/vectorindex"
	"webrag/internal/domain"
	"webrag/internal/port"
)

// EncoderFactory returns the loader for a profile's encoder. The loader is
// only invoked on first use.
type EncoderFactory func(profile domain.EmbeddingProfile) (embedding.EncoderLoader, error)

type EngineConfig struct {
	Profile        domain.EmbeddingProfile
	Encoders       EncoderFactory
	Gateway        embedding.GatewayOptions
	QueryCacheSize int
	QueryCacheTTL  time.Duration
	Index          vectorindex.Params
	Retrieval      RetrievalOptions
	ResultCache    *cache.ResultCache
	Ingest         IngestOptions
	Aggregator     []AggregatorOption
}

// EngineDeps are the external collaborators. Any of them may be nil when
// the command using the engine does not need it.
type EngineDeps struct {
	Backend      port.SearchBackend
	Known        port.KnownURLStore
	Crawler      port.Crawler
	CrossEncoder port.CrossEncoder
}

// Engine owns the model handles, the index and the pipelines built on them.
// It is constructed once per process.
type Engine struct {
	mu sync.RWMutex

	cfg  EngineConfig
	deps EngineDeps

	profile    domain.EmbeddingProfile
	gateway    *embedding.Gateway
	index      *vectorindex.Index
	reranker   *retriever.Reranker
	retrieval  *RetrievalPipeline
	aggregator *DedupSearchAggregator
	ingestion  *CrawlIngestionPipeline

	sessionID string
	query     string
}

func NewEngine(cfg EngineConfig, deps EngineDeps) (*Engine, error) {
	if cfg.Encoders == nil {
		return nil, fmt.Errorf("%w: no encoder factory", domain.ErrInvalidConfig)
	}
	e := &Engine{
		cfg:   cfg,
		deps:  deps,
		index: vectorindex.New(nil, cfg.Index),
	}
	if deps.CrossEncoder != nil {
		e.reranker = retriever.NewReranker(deps.CrossEncoder)
	}
	if deps.Backend != nil {
		e.aggregator = NewDedupSearchAggregator(deps.Backend, deps.Known, cfg.Aggregator...)
	}

	var reranker ResultReranker
	if e.reranker != nil {
		reranker = e.reranker
	}
	e.retrieval = NewRetrievalPipeline(e.index, reranker, cfg.Retrieval, cfg.ResultCache)

	if err := e.bind(cfg.Profile); err != nil {
		return nil, err
	}
	if err := e.index.Initialize(cfg.Profile.Dimension()); err != nil {
		return nil, err
	}
	return e, nil
}

// bind builds the gateway and ingestion pipeline for profile. Callers hold
// e.mu or are constructing e.
func (e *Engine) bind(profile domain.EmbeddingProfile) error {
	load, err := e.cfg.Encoders(profile)
	if err != nil {
		return err
	}

	opts := e.cfg.Gateway
	if e.cfg.QueryCacheSize > 0 {
		opts.QueryCache = cache.NewEmbeddingCache(e.cfg.QueryCacheSize, e.cfg.QueryCacheTTL)
	}
	gw, err := embedding.NewGateway(profile, load, opts)
	if err != nil {
		return err
	}

	var agg URLAggregator
	if e.aggregator != nil {
		agg = e.aggregator
	}
	ing, err := NewCrawlIngestionPipeline(agg, e.deps.Crawler, e.index, profile, e.cfg.Ingest)
	if err != nil {
		return err
	}

	e.profile = profile
	e.gateway = gw
	e.ingestion = ing
	e.index.SetEncoder(gw)
	return nil
}

func (e *Engine) Profile() domain.EmbeddingProfile {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.profile
}

// SwitchProfile changes the active embedding profile. Vectors are specific
// to the model that produced them, so the index is reset unless the profile
// resolves to the same model and dimension.
func (e *Engine) SwitchProfile(key string) error {
	next, err := domain.ParseEmbeddingProfile(key)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.profile
	if next == prev {
		return nil
	}
	if err := e.bind(next); err != nil {
		return err
	}

	if next.Dimension() != prev.Dimension() || next.ModelIdentifier() != prev.ModelIdentifier() {
		if err := e.index.Initialize(next.Dimension()); err != nil {
			return err
		}
		e.sessionID = ""
		e.query = ""
	}

	slog.Info("embedding profile switched",
		slog.String("from", prev.Key()),
		slog.String("to", next.Key()),
		slog.Int("dimension", next.Dimension()))
	return nil
}

// Search runs the retrieval pipeline over the current corpus.
func (e *Engine) Search(ctx context.Context, query string, k int) (*RetrievalReport, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.retrieval.Run(ctx, query, k)
}

// SetRerank toggles the stage-2 pass.
func (e *Engine) SetRerank(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	opts := e.retrieval.opts
	if opts.RerankEnabled == enabled {
		return
	}
	opts.RerankEnabled = enabled
	// Cached results were ordered under the previous setting.
	if e.retrieval.cache != nil {
		e.retrieval.cache.Invalidate()
	}
	e.retrieval = NewRetrievalPipeline(e.index, e.retrieval.reranker, opts, e.retrieval.cache)
}

// FindURLs runs URL aggregation without crawling.
func (e *Engine) FindURLs(ctx context.Context, req AggregateRequest, quick bool, session *domain.SessionURLSet) ([]string, DedupStats, error) {
	if e.aggregator == nil {
		return nil, DedupStats{}, fmt.Errorf("%w: no search backend configured", domain.ErrInvalidConfig)
	}
	if quick {
		return e.aggregator.FindUniqueURLsQuick(ctx, req, session)
	}
	return e.aggregator.FindUniqueURLs(ctx, req, session)
}

// Ingest builds a fresh web corpus for req.
func (e *Engine) Ingest(ctx context.Context, req IngestRequest) (*IngestReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	report, err := e.ingestion.Run(ctx, req)
	if report != nil {
		e.sessionID = report.SessionID
		e.query = req.Query
	}
	return report, err
}

// IngestDocuments builds a fresh corpus from local documents.
func (e *Engine) IngestDocuments(ctx context.Context, docs []domain.Document) (*IngestReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	report, err := e.ingestion.IngestDocuments(ctx, docs)
	if report != nil {
		e.sessionID = report.SessionID
		e.query = ""
	}
	return report, err
}

// Snapshot captures the current corpus for persistence.
func (e *Engine) Snapshot() domain.CorpusSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	chunks, vecs := e.index.Entries()
	return domain.CorpusSnapshot{
		Profile:   e.profile.Key(),
		Model:     e.profile.ModelIdentifier(),
		SessionID: e.sessionID,
		Query:     e.query,
		CreatedAt: time.Now().UTC(),
		Chunks:    chunks,
		Vectors:   vecs,
	}
}

// Restore replaces the corpus with a snapshot, switching to the snapshot's
// profile first. Vectors are validated exactly as on Add.
func (e *Engine) Restore(snap domain.CorpusSnapshot) error {
	profile, err := domain.ParseEmbeddingProfile(snap.Profile)
	if err != nil {
		return err
	}
	if snap.Model != "" && snap.Model != profile.ModelIdentifier() {
		return fmt.Errorf("%w: snapshot model %q does not match profile %s", domain.ErrInvalidConfig, snap.Model, profile.Key())
	}
	if err := e.SwitchProfile(profile.Key()); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.index.Initialize(profile.Dimension()); err != nil {
		return err
	}
	if err := e.index.AddEmbedded(snap.Chunks, snap.Vectors); err != nil {
		e.index.Clear()
		return fmt.Errorf("restore snapshot: %w", err)
	}
	e.sessionID = snap.SessionID
	e.query = snap.Query
	return nil
}

// EngineStats summarizes the engine for the CLI.
type EngineStats struct {
	Profile            string            `json:"profile"`
	Model              string            `json:"model"`
	Dimension          int               `json:"dimension"`
	RerankModel        string            `json:"rerank_model,omitempty"`
	AsymmetricFallback bool              `json:"asymmetric_fallback"`
	SessionID          string            `json:"session_id,omitempty"`
	Query              string            `json:"query,omitempty"`
	Index              vectorindex.Stats `json:"index"`
}

func (e *Engine) Stats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := EngineStats{
		Profile:            e.profile.Key(),
		Model:              e.gateway.ModelName(),
		Dimension:          e.profile.Dimension(),
		AsymmetricFallback: e.gateway.FellBack(),
		SessionID:          e.sessionID,
		Query:              e.query,
		Index:              e.index.Stats(),
	}
	if e.reranker != nil {
		st.RerankModel = e.reranker.ModelName()
	}
	return st
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"webrag/config"
	"webrag/internal/adapter/cache"
	"webrag/internal/adapter/crawler"
	"webrag/internal/adapter/embedding"
	"webrag/internal/adapter/memstore"
	"webrag/internal/adapter/retriever"
	"webrag/internal/adapter/store"
	"webrag/internal/adapter/vectorindex"
	"webrag/internal/adapter/websearch"
	"webrag/internal/domain"
	"webrag/internal/port"
	"webrag/internal/usecase"
)

// app holds the engine and the stores one command needs.
type app struct {
	cfg      *config.Config
	dir      string
	engine   *usecase.Engine
	crawler  *crawler.HTTPCrawler
	known    port.KnownURLStore
	recorder port.URLRecorder
	urls     *store.URLStore
	closers  []io.Closer
}

type appOptions struct {
	withSearch bool
	withCrawl  bool
}

func newApp(c *config.Config, dir string, opts appOptions) (*app, error) {
	profile, err := c.Profile()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: c, dir: dir}

	var deps usecase.EngineDeps
	deps.CrossEncoder = newCrossEncoder(c)

	if opts.withSearch {
		deps.Backend = newSearchBackend(c)
		if err := a.openKnownURLs(); err != nil {
			a.Close()
			return nil, err
		}
		deps.Known = a.known
	}
	if opts.withCrawl {
		a.crawler = crawler.New(crawler.Config{
			Concurrency:        c.Crawl.Concurrency,
			PageTimeout:        c.Crawl.PageTimeout,
			MaxBodyBytes:       c.Crawl.MaxBodyBytes,
			RequestsPerSecond:  c.Crawl.RequestsPerSecond,
			UserAgent:          c.Crawl.UserAgent,
			RelevanceFilter:    c.Crawl.RelevanceFilter,
			RelevanceThreshold: c.Crawl.RelevanceThreshold,
		})
		deps.Crawler = a.crawler
	}

	var results *cache.ResultCache
	if c.Retrieve.ResultCacheSize > 0 {
		results = cache.NewResultCache(c.Retrieve.ResultCacheSize, c.Retrieve.ResultCacheTTL)
	}

	engine, err := usecase.NewEngine(usecase.EngineConfig{
		Profile:  profile,
		Encoders: encoderFactory(c),
		Gateway: embedding.GatewayOptions{
			BatchSize: c.Embedding.BatchSize,
			Workers:   c.Embedding.Workers,
		},
		QueryCacheSize: c.Embedding.QueryCacheSize,
		QueryCacheTTL:  c.Embedding.QueryCacheTTL,
		Index: vectorindex.Params{
			M:              c.Retrieve.HNSWM,
			EfConstruction: c.Retrieve.EfConstruction,
			EfSearch:       c.Retrieve.EfSearch,
			Seed:           vectorindex.DefaultSeed,
		},
		Retrieval: usecase.RetrievalOptions{
			InitialKMultiplier: c.Retrieve.InitialKMultiplier,
			ScoreThreshold:     float32(c.Retrieve.ScoreThreshold),
			RerankEnabled:      c.Rerank.Enabled,
		},
		ResultCache: results,
		Ingest: usecase.IngestOptions{
			ChunkSize:        c.Chunking.ChunkSize,
			ChunkOverlap:     c.Chunking.Overlap,
			MinContentLength: c.Chunking.MinContentLength,
		},
		Aggregator: []usecase.AggregatorOption{
			usecase.WithResultsPerPage(c.Search.ResultsPerPage),
			usecase.WithExcludedSites(c.Search.ExcludedSites),
		},
	}, deps)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine = engine
	return a, nil
}

// openKnownURLs opens the durable URL store, or a process-local one when
// URLs are not remembered across sessions.
func (a *app) openKnownURLs() error {
	if !a.cfg.Storage.RememberURLs {
		mem := memstore.NewURLStore()
		a.known = mem
		a.recorder = mem
		return nil
	}
	if err := a.cfg.EnsureDataDir(a.dir); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	urls, err := store.NewURLStore(a.cfg.URLsPath(a.dir))
	if err != nil {
		return fmt.Errorf("failed to open URL store: %w", err)
	}
	a.urls = urls
	a.known = urls
	a.recorder = urls
	a.closers = append(a.closers, urls)
	return nil
}

// openSnapshots opens the corpus database and brings its schema up to date.
func (a *app) openSnapshots() (*store.BoltStore, error) {
	if err := a.cfg.EnsureDataDir(a.dir); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := store.NewBoltStore(a.cfg.SnapshotPath(a.dir))
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus store: %w", err)
	}
	if err := st.Migrate(); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to migrate corpus store: %w", err)
	}
	return st, nil
}

// saveSnapshot persists the current corpus.
func (a *app) saveSnapshot(ctx context.Context) error {
	st, err := a.openSnapshots()
	if err != nil {
		return err
	}
	defer st.Close()

	snap := a.engine.Snapshot()
	if err := st.SaveSnapshot(ctx, snap, store.ComputeConfigHash(a.cfg)); err != nil {
		return fmt.Errorf("failed to save corpus: %w", err)
	}
	slog.Debug("corpus saved",
		slog.String("path", a.cfg.SnapshotPath(a.dir)),
		slog.Int("chunks", len(snap.Chunks)))
	return nil
}

// restoreSnapshot loads the last saved corpus into the engine.
func (a *app) restoreSnapshot(ctx context.Context) (domain.CorpusSnapshot, error) {
	st, err := a.openSnapshots()
	if err != nil {
		return domain.CorpusSnapshot{}, err
	}
	defer st.Close()

	snap, hash, err := st.LoadSnapshot(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return snap, fmt.Errorf("no corpus found. Run 'webrag search' or 'webrag ingest' first")
	}
	if err != nil {
		return snap, fmt.Errorf("failed to load corpus: %w", err)
	}
	if want := store.ComputeConfigHash(a.cfg); hash != want {
		slog.Warn("corpus was built with a different configuration",
			slog.String("stored", hash),
			slog.String("current", want))
	}
	if err := a.engine.Restore(snap); err != nil {
		return snap, err
	}
	return snap, nil
}

// remember records URLs in the durable store once a session completes.
func (a *app) remember(ctx context.Context, urls []string) {
	if a.recorder == nil || len(urls) == 0 {
		return
	}
	if err := a.recorder.Remember(ctx, urls); err != nil {
		slog.Warn("failed to record urls", slog.Any("error", err))
	}
}

func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// encoderFactory builds encoder loaders for a profile from the embedding
// configuration. Only asymmetric profiles get role prompts.
func encoderFactory(c *config.Config) usecase.EncoderFactory {
	configured, _ := c.Profile()

	return func(profile domain.EmbeddingProfile) (embedding.EncoderLoader, error) {
		model := c.Embedding.Model
		if model == "" || profile != configured {
			model = profile.ModelIdentifier()
		}

		var prompts embedding.Prompts
		if profile.SupportsAsymmetricEncoding() {
			prompts = embedding.Prompts{
				Document: c.Embedding.DocumentPrompt,
				Query:    c.Embedding.QueryPrompt,
			}
		}

		switch c.Embedding.Provider {
		case "ollama":
			oc := embedding.OllamaConfig{
				BaseURL:   c.Embedding.BaseURL,
				Model:     model,
				Dimension: profile.Dimension(),
				Prompts:   prompts,
				Timeout:   c.Embedding.Timeout,
			}
			return func(ctx context.Context) (port.Encoder, error) {
				enc, err := embedding.NewOllamaEmbedder(oc)
				if err != nil {
					return nil, err
				}
				if err := enc.Ping(ctx); err != nil {
					return nil, err
				}
				return enc, nil
			}, nil
		case "openai":
			oc := embedding.OpenAIConfig{
				BaseURL:   c.Embedding.BaseURL,
				APIKeyEnv: c.Embedding.APIKeyEnv,
				Model:     model,
				Dimension: profile.Dimension(),
				Prompts:   prompts,
				Timeout:   c.Embedding.Timeout,
			}
			return func(ctx context.Context) (port.Encoder, error) {
				return embedding.NewOpenAIEmbedder(oc)
			}, nil
		case "hash":
			return func(ctx context.Context) (port.Encoder, error) {
				return embedding.NewHashEncoder(profile.Dimension()), nil
			}, nil
		default:
			return nil, fmt.Errorf("%w: unknown embedding provider %q", domain.ErrInvalidConfig, c.Embedding.Provider)
		}
	}
}

func newCrossEncoder(c *config.Config) port.CrossEncoder {
	switch c.Rerank.Provider {
	case retriever.APITEI, retriever.APICohere:
		rc := retriever.HTTPCrossEncoderConfig{
			API:       c.Rerank.Provider,
			BaseURL:   c.Rerank.BaseURL,
			APIKeyEnv: c.Rerank.APIKeyEnv,
			Model:     c.Rerank.Model,
			Timeout:   c.Rerank.Timeout,
		}
		return retriever.NewLazyCrossEncoder(c.Rerank.Model, func(ctx context.Context) (port.CrossEncoder, error) {
			return retriever.NewHTTPCrossEncoder(rc)
		})
	default:
		return retriever.NewLexicalCrossEncoder()
	}
}

func newSearchBackend(c *config.Config) port.SearchBackend {
	switch c.Search.Backend {
	case "searxng":
		return websearch.NewSearXNG(websearch.SearXNGConfig{
			BaseURL:           c.Search.BaseURL,
			Engines:           c.Search.Engines,
			Language:          c.Search.Region,
			Timeout:           c.Search.Timeout,
			RequestsPerSecond: c.Search.RequestsPerSecond,
		})
	default:
		return websearch.NewDuckDuckGo(websearch.DuckDuckGoConfig{
			BaseURL:           c.Search.BaseURL,
			Region:            c.Search.Region,
			Timeout:           c.Search.Timeout,
			RequestsPerSecond: c.Search.RequestsPerSecond,
		})
	}
}

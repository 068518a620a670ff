package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"webrag/internal/adapter/cache"
	"webrag/internal/domain"
	"webrag/internal/port"
)

const (
	DefaultBatchSize = 32
	DefaultWorkers   = 2
)

// EncoderLoader builds an encoder on first use.
type EncoderLoader func(ctx context.Context) (port.Encoder, error)

type GatewayOptions struct {
	BatchSize  int
	Workers    int
	QueryCache *cache.EmbeddingCache
}

// Gateway binds an encoder to an embedding profile. It loads the encoder
// lazily, prefers the asymmetric routines when the profile supports them,
// and returns only L2-normalized vectors of the profile dimension.
type Gateway struct {
	profile   domain.EmbeddingProfile
	load      EncoderLoader
	batchSize int
	workers   int
	queries   *cache.EmbeddingCache

	mu      sync.Mutex
	encoder port.Encoder

	symmetricOnly atomic.Bool
	fallbackOnce  sync.Once
}

func NewGateway(profile domain.EmbeddingProfile, load EncoderLoader, opts GatewayOptions) (*Gateway, error) {
	if !profile.Valid() {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnknownProfile, int(profile))
	}
	if load == nil {
		return nil, fmt.Errorf("%w: nil encoder loader", domain.ErrInvalidConfig)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Gateway{
		profile:   profile,
		load:      load,
		batchSize: opts.BatchSize,
		workers:   opts.Workers,
		queries:   opts.QueryCache,
	}, nil
}

// NewGatewayWithEncoder wraps an already constructed encoder.
func NewGatewayWithEncoder(profile domain.EmbeddingProfile, enc port.Encoder, opts GatewayOptions) (*Gateway, error) {
	g, err := NewGateway(profile, func(context.Context) (port.Encoder, error) { return enc, nil }, opts)
	if err != nil {
		return nil, err
	}
	if err := g.checkEncoder(enc); err != nil {
		return nil, err
	}
	g.encoder = enc
	return g, nil
}

func (g *Gateway) Profile() domain.EmbeddingProfile { return g.profile }
func (g *Gateway) Dimension() int                   { return g.profile.Dimension() }

// ModelName returns the loaded encoder's model, or the profile model before
// the encoder is loaded.
func (g *Gateway) ModelName() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.encoder != nil && g.encoder.ModelName() != "" {
		return g.encoder.ModelName()
	}
	return g.profile.ModelIdentifier()
}

func (g *Gateway) encoderHandle(ctx context.Context) (port.Encoder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.encoder != nil {
		return g.encoder, nil
	}

	enc, err := g.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", domain.ErrEmbeddingUnavailable, g.profile.ModelIdentifier(), err)
	}
	if err := g.checkEncoder(enc); err != nil {
		return nil, err
	}
	slog.Debug("embedding_model_loaded",
		slog.String("profile", g.profile.Key()),
		slog.String("model", enc.ModelName()),
		slog.Int("dimension", enc.Dimension()))
	g.encoder = enc
	return enc, nil
}

func (g *Gateway) checkEncoder(enc port.Encoder) error {
	if enc.Dimension() != g.profile.Dimension() {
		return fmt.Errorf("%w: encoder %s has dimension %d, profile %s expects %d",
			domain.ErrDimensionMismatch, enc.ModelName(), enc.Dimension(), g.profile.Key(), g.profile.Dimension())
	}
	return nil
}

// EncodeDocuments embeds texts for storage. Batches are encoded concurrently
// and results are returned in input order. Every vector of one call comes
// from the same routine: if the asymmetric routine fails for any batch, the
// whole call is encoded again symmetrically.
func (g *Gateway) EncodeDocuments(ctx context.Context, texts []string) ([]domain.Embedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	enc, err := g.encoderHandle(ctx)
	if err != nil {
		return nil, err
	}

	out, err := g.encodeBatches(ctx, enc, texts, g.useAsymmetric(enc))
	var asymErr *asymmetricError
	if errors.As(err, &asymErr) && ctx.Err() == nil {
		g.fallBack(roleDocument, asymErr.err)
		out, err = g.encodeBatches(ctx, enc, texts, false)
	}
	if err != nil {
		return nil, fmt.Errorf("encode documents: %w", err)
	}
	return out, nil
}

func (g *Gateway) encodeBatches(ctx context.Context, enc port.Encoder, texts []string, asymmetric bool) ([]domain.Embedding, error) {
	out := make([]domain.Embedding, len(texts))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)

	for start := 0; start < len(texts); start += g.batchSize {
		start := start
		end := min(start+g.batchSize, len(texts))
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			vecs, err := g.encode(egCtx, enc, texts[start:end], roleDocument, asymmetric)
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeQuery embeds a single search query.
func (g *Gateway) EncodeQuery(ctx context.Context, text string) (domain.Embedding, error) {
	enc, err := g.encoderHandle(ctx)
	if err != nil {
		return nil, err
	}

	if g.queries != nil {
		if v, ok := g.queries.Get(text, g.cacheGeneration()); ok {
			return v, nil
		}
	}

	vecs, err := g.encode(ctx, enc, []string{text}, roleQuery, g.useAsymmetric(enc))
	var asymErr *asymmetricError
	if errors.As(err, &asymErr) && ctx.Err() == nil {
		g.fallBack(roleQuery, asymErr.err)
		vecs, err = g.encode(ctx, enc, []string{text}, roleQuery, false)
	}
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	if g.queries != nil {
		g.queries.Put(text, g.cacheGeneration(), vecs[0])
	}
	return vecs[0], nil
}

// cacheGeneration separates query embeddings produced before and after an
// asymmetric fallback.
func (g *Gateway) cacheGeneration() uint64 {
	if g.symmetricOnly.Load() {
		return 1
	}
	return 0
}

type role int

const (
	roleDocument role = iota
	roleQuery
)

func (r role) String() string {
	if r == roleQuery {
		return "query"
	}
	return "document"
}

// asymmetricError is a failure of an asymmetric routine. The caller retries
// symmetrically.
type asymmetricError struct {
	err error
}

func (e *asymmetricError) Error() string { return "asymmetric encoding: " + e.err.Error() }
func (e *asymmetricError) Unwrap() error { return e.err }

// useAsymmetric decides the routine for one call.
func (g *Gateway) useAsymmetric(enc port.Encoder) bool {
	_, ok := enc.(port.AsymmetricEncoder)
	return ok && g.profile.SupportsAsymmetricEncoding() && !g.symmetricOnly.Load()
}

func (g *Gateway) encode(ctx context.Context, enc port.Encoder, texts []string, r role, asymmetric bool) ([]domain.Embedding, error) {
	raw, err := g.encodeRaw(ctx, enc, texts, r, asymmetric)
	if err != nil {
		return nil, err
	}
	if len(raw) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", domain.ErrEmbeddingUnavailable, len(raw), len(texts))
	}

	out := make([]domain.Embedding, len(raw))
	for i, v := range raw {
		if len(v) != g.profile.Dimension() {
			return nil, fmt.Errorf("%w: got %d, want %d", domain.ErrDimensionMismatch, len(v), g.profile.Dimension())
		}
		n, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = n
	}
	return out, nil
}

func (g *Gateway) encodeRaw(ctx context.Context, enc port.Encoder, texts []string, r role, asymmetric bool) ([][]float32, error) {
	if !asymmetric {
		return enc.Encode(ctx, texts)
	}

	asym := enc.(port.AsymmetricEncoder)
	var (
		vecs [][]float32
		err  error
	)
	if r == roleQuery {
		vecs, err = asym.EncodeQueries(ctx, texts)
	} else {
		vecs, err = asym.EncodeDocuments(ctx, texts)
	}
	if err == nil {
		return vecs, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, &asymmetricError{err: err}
}

// fallBack switches the gateway to symmetric encoding for good, so that
// documents and queries keep sharing one embedding space.
func (g *Gateway) fallBack(r role, err error) {
	g.symmetricOnly.Store(true)
	g.fallbackOnce.Do(func() {
		slog.Warn("asymmetric encoding failed, falling back to symmetric",
			slog.String("profile", g.profile.Key()),
			slog.String("role", r.String()),
			slog.Bool("unsupported", errors.Is(err, domain.ErrAsymmetricUnsupported)),
			slog.String("error", err.Error()))
	})
}

// FellBack reports whether asymmetric encoding has been abandoned.
func (g *Gateway) FellBack() bool {
	return g.symmetricOnly.Load()
}

// Normalize returns a unit-length copy of v. Zero or non-finite vectors are
// rejected because they have no direction.
func Normalize(v []float32) (domain.Embedding, error) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, fmt.Errorf("%w: vector has no usable norm", domain.ErrEmbeddingUnavailable)
	}
	out := make(domain.Embedding, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

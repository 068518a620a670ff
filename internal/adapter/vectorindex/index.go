// Package vectorindex stores chunks with their embeddings in a single arena
// and answers approximate nearest neighbour queries over an HNSW graph.
package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"webrag/internal/domain"
)

// unitTolerance bounds how far a stored vector's norm may drift from 1.
const unitTolerance = 1e-3

// Encoder is the slice of the embedding gateway the index needs.
type Encoder interface {
	EncodeDocuments(ctx context.Context, texts []string) ([]domain.Embedding, error)
	EncodeQuery(ctx context.Context, text string) (domain.Embedding, error)
}

type Params struct {
	M              int
	EfConstruction int
	EfSearch       int
	Seed           int64
}

func DefaultParams() Params {
	return Params{
		M:              DefaultM,
		EfConstruction: DefaultEfConstruction,
		EfSearch:       DefaultEfSearch,
		Seed:           DefaultSeed,
	}
}

// entry is one arena slot. Chunk and vector share a slot, so the
// vector/text/metadata counts can never diverge.
type entry struct {
	chunk domain.Chunk
	vec   domain.Embedding
}

// Index is safe for concurrent use. Add, AddEmbedded, Clear and Initialize
// hold the write lock; Search holds the read lock.
type Index struct {
	mu      sync.RWMutex
	encoder Encoder
	params  Params
	dim     int
	entries []entry
	graph   *graph
	gen     uint64
}

func New(encoder Encoder, params Params) *Index {
	d := DefaultParams()
	if params.M <= 0 {
		params.M = d.M
	}
	if params.EfConstruction <= 0 {
		params.EfConstruction = d.EfConstruction
	}
	if params.EfSearch <= 0 {
		params.EfSearch = d.EfSearch
	}
	if params.Seed == 0 {
		params.Seed = d.Seed
	}
	return &Index{encoder: encoder, params: params}
}

// SetEncoder swaps the encoder used by Add and Search. Callers switching to
// a model of another dimension must Initialize afterwards.
func (ix *Index) SetEncoder(enc Encoder) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.encoder = enc
}

// Initialize resets the index to an empty index of the given dimension.
func (ix *Index) Initialize(dim int) error {
	if dim <= 0 {
		return fmt.Errorf("%w: %d", domain.ErrInvalidDimension, dim)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.dim = dim
	ix.reset()
	return nil
}

// Clear drops every chunk and vector but keeps the dimension.
func (ix *Index) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.reset()
}

func (ix *Index) reset() {
	ix.entries = nil
	ix.graph = newGraph(ix.params)
	ix.gen++
}

// Add embeds the chunks in document mode and commits them as one batch.
// Encoding happens before the write lock is taken; if encoding or
// validation fails nothing is committed.
func (ix *Index) Add(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ix.mu.RLock()
	enc, dim := ix.encoder, ix.dim
	ix.mu.RUnlock()
	if dim == 0 {
		return domain.ErrIndexNotInitialized
	}
	if enc == nil {
		return fmt.Errorf("%w: index has no encoder", domain.ErrEmbeddingUnavailable)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := enc.EncodeDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed chunks: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ix.AddEmbedded(chunks, vecs)
}

// AddEmbedded commits pre-computed vectors, e.g. when restoring a snapshot.
func (ix *Index) AddEmbedded(chunks []domain.Chunk, vecs []domain.Embedding) error {
	if len(chunks) != len(vecs) {
		return fmt.Errorf("%d chunks but %d vectors", len(chunks), len(vecs))
	}
	if len(chunks) == 0 {
		return nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.dim == 0 {
		return domain.ErrIndexNotInitialized
	}

	batch := make([]entry, len(chunks))
	for i := range chunks {
		if err := validateVector(vecs[i], ix.dim); err != nil {
			return fmt.Errorf("chunk %d (%s#%d): %w", i, chunks[i].SourceID, chunks[i].ChunkIndex, err)
		}
		c := chunks[i]
		if c.TotalChunks > 0 && c.ChunkIndex >= c.TotalChunks {
			return fmt.Errorf("chunk %d (%s): index %d outside total %d", i, c.SourceID, c.ChunkIndex, c.TotalChunks)
		}
		c.Metadata = cloneMetadata(c.Metadata)
		batch[i] = entry{chunk: c, vec: append(domain.Embedding(nil), vecs[i]...)}
	}

	base := len(ix.entries)
	ix.entries = append(ix.entries, batch...)
	vecsToLink := make([][]float32, len(batch))
	for i, e := range batch {
		vecsToLink[i] = e.vec
	}
	ix.graph.insert(base, vecsToLink)
	ix.gen++

	slog.Debug("vector_index_add",
		slog.Int("added", len(batch)),
		slog.Int("total", len(ix.entries)))
	return nil
}

func validateVector(v domain.Embedding, dim int) error {
	if len(v) != dim {
		return fmt.Errorf("%w: got %d, want %d", domain.ErrDimensionMismatch, len(v), dim)
	}
	var sum float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("vector contains non-finite value")
		}
		sum += f * f
	}
	if math.Abs(math.Sqrt(sum)-1) > unitTolerance {
		return fmt.Errorf("vector is not unit length (norm %.4f)", math.Sqrt(sum))
	}
	return nil
}

// Search embeds query in query mode, fetches k*multiplier neighbours (capped
// at the corpus size) and drops any whose score is below threshold.
// An empty or uninitialized index yields no candidates and no error.
func (ix *Index) Search(ctx context.Context, query string, k, multiplier int, threshold float32) ([]domain.SearchCandidate, error) {
	if ix.Len() == 0 || k <= 0 {
		return nil, nil
	}

	ix.mu.RLock()
	enc := ix.encoder
	ix.mu.RUnlock()
	if enc == nil {
		return nil, fmt.Errorf("%w: index has no encoder", domain.ErrEmbeddingUnavailable)
	}

	q, err := enc.EncodeQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return ix.SearchVector(q, k, multiplier, threshold)
}

// SearchVector is Search for an already embedded query.
func (ix *Index) SearchVector(q domain.Embedding, k, multiplier int, threshold float32) ([]domain.SearchCandidate, error) {
	if multiplier < 1 {
		multiplier = 1
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := len(ix.entries)
	if n == 0 || k <= 0 {
		return nil, nil
	}
	if len(q) != ix.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", domain.ErrDimensionMismatch, len(q), ix.dim)
	}

	fetch := min(k*multiplier, n)
	ef := max(ix.params.EfSearch, fetch)

	var hits []scoredNode
	if ef >= n {
		hits = ix.scan(q, fetch)
	} else {
		hits = rank(q, ix.graph.search(q, fetch, ef), ix.vector)
	}

	out := make([]domain.SearchCandidate, 0, len(hits))
	for _, h := range hits {
		if h.sim < threshold {
			continue
		}
		c := ix.entries[h.id].chunk
		c.Metadata = cloneMetadata(c.Metadata)
		out = append(out, domain.SearchCandidate{
			Chunk:          c,
			RetrievalScore: h.sim,
		})
	}
	return out, nil
}

// scan scores every entry. Used when the beam would visit the whole corpus
// anyway.
func (ix *Index) scan(q domain.Embedding, k int) []scoredNode {
	ids := make([]int, len(ix.entries))
	for i := range ids {
		ids[i] = i
	}
	return rank(q, ids, ix.vector)[:k]
}

func (ix *Index) vector(id int) []float32 {
	return ix.entries[id].vec
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

func (ix *Index) Dimension() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dim
}

// Generation changes on every mutation. Result caches key on it.
func (ix *Index) Generation() uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.gen
}

// Entries returns copies of all chunks and vectors in arena order.
func (ix *Index) Entries() ([]domain.Chunk, []domain.Embedding) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	chunks := make([]domain.Chunk, len(ix.entries))
	vecs := make([]domain.Embedding, len(ix.entries))
	for i, e := range ix.entries {
		c := e.chunk
		c.Metadata = cloneMetadata(c.Metadata)
		chunks[i] = c
		vecs[i] = append(domain.Embedding(nil), e.vec...)
	}
	return chunks, vecs
}

type Stats struct {
	Chunks    int    `json:"chunks"`
	Sources   int    `json:"sources"`
	Dimension int    `json:"dimension"`
	IndexType string `json:"index_type"`
}

func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	sources := make(map[string]struct{})
	for _, e := range ix.entries {
		sources[e.chunk.SourceID] = struct{}{}
	}
	st := Stats{
		Chunks:    len(ix.entries),
		Sources:   len(sources),
		Dimension: ix.dim,
		IndexType: "hnsw-ip",
	}
	return st
}

func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

package embedding

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webrag/internal/adapter/cache"
	"webrag/internal/domain"
	"webrag/internal/port"
)

// scriptedEncoder encodes every text as a vector whose first component is
// the text length; asymmetric calls fail when asymErr is set.
type scriptedEncoder struct {
	dim       int
	asymErr   error
	symCalls  atomic.Int32
	asymCalls atomic.Int32
}

func (e *scriptedEncoder) Encode(_ context.Context, texts []string) ([][]float32, error) {
	e.symCalls.Add(1)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, e.dim)
		v[0] = float32(len(t) + 1)
		v[1] = 3
		out[i] = v
	}
	return out, nil
}

func (e *scriptedEncoder) EncodeDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.asymCalls.Add(1)
	if e.asymErr != nil {
		return nil, e.asymErr
	}
	return e.Encode(ctx, texts)
}

func (e *scriptedEncoder) EncodeQueries(ctx context.Context, texts []string) ([][]float32, error) {
	return e.EncodeDocuments(ctx, texts)
}

func (e *scriptedEncoder) Dimension() int    { return e.dim }
func (e *scriptedEncoder) ModelName() string { return "scripted" }

func l2(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestGateway_DocumentsAreNormalizedAndOrdered(t *testing.T) {
	enc := NewHashEncoder(domain.ProfileMiniLM.Dimension())
	g, err := NewGatewayWithEncoder(domain.ProfileMiniLM, enc, GatewayOptions{BatchSize: 2, Workers: 3})
	require.NoError(t, err)

	texts := []string{"alpha", "beta gamma", "delta", "epsilon zeta eta", "theta"}
	vecs, err := g.EncodeDocuments(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))

	for i, v := range vecs {
		assert.Len(t, v, 384)
		assert.InDelta(t, 1.0, l2(v), 1e-4, "vector %d not unit length", i)

		single, err := g.EncodeDocuments(context.Background(), texts[i:i+1])
		require.NoError(t, err)
		assert.Equal(t, single[0], v, "batching changed order for %d", i)
	}
}

func TestGateway_AsymmetricFallbackIsSticky(t *testing.T) {
	enc := &scriptedEncoder{dim: 768, asymErr: domain.ErrAsymmetricUnsupported}
	g, err := NewGatewayWithEncoder(domain.ProfileGemma, enc, GatewayOptions{})
	require.NoError(t, err)

	vecs, err := g.EncodeDocuments(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.True(t, g.FellBack())

	_, err = g.EncodeQuery(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, int32(1), enc.asymCalls.Load(), "asymmetric path should not be retried")
}

// failingAsymEncoder marks asymmetric vectors on their third component and
// fails the asymmetric document call numbered failOn.
type failingAsymEncoder struct {
	scriptedEncoder
	failOn int32
}

func (e *failingAsymEncoder) EncodeDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if e.asymCalls.Add(1) == e.failOn {
		return nil, errors.New("transient 503")
	}
	return e.asymmetric(ctx, texts)
}

func (e *failingAsymEncoder) EncodeQueries(ctx context.Context, texts []string) ([][]float32, error) {
	e.asymCalls.Add(1)
	return e.asymmetric(ctx, texts)
}

func (e *failingAsymEncoder) asymmetric(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.Encode(ctx, texts)
	for _, v := range vecs {
		v[2] = 5
	}
	return vecs, err
}

func isAsymmetric(v domain.Embedding) bool { return v[2] != 0 }

func TestGateway_PartialAsymmetricFailureKeepsOneSpace(t *testing.T) {
	enc := &failingAsymEncoder{scriptedEncoder: scriptedEncoder{dim: 768}, failOn: 2}
	g, err := NewGatewayWithEncoder(domain.ProfileGemma, enc, GatewayOptions{BatchSize: 1, Workers: 1})
	require.NoError(t, err)

	docs, err := g.EncodeDocuments(context.Background(), []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	for i, v := range docs {
		assert.False(t, isAsymmetric(v), "document %d kept its asymmetric vector", i)
	}
	assert.True(t, g.FellBack())

	q, err := g.EncodeQuery(context.Background(), "query")
	require.NoError(t, err)
	assert.False(t, isAsymmetric(q), "query must share the document space")
	assert.Equal(t, int32(2), enc.asymCalls.Load())
}

func TestGateway_AsymmetricSuccessKeepsDocumentRoutine(t *testing.T) {
	enc := &failingAsymEncoder{scriptedEncoder: scriptedEncoder{dim: 768}}
	g, err := NewGatewayWithEncoder(domain.ProfileGemma, enc, GatewayOptions{BatchSize: 1, Workers: 2})
	require.NoError(t, err)

	docs, err := g.EncodeDocuments(context.Background(), []string{"one", "two", "three"})
	require.NoError(t, err)
	for i, v := range docs {
		assert.True(t, isAsymmetric(v), "document %d", i)
	}
	q, err := g.EncodeQuery(context.Background(), "query")
	require.NoError(t, err)
	assert.True(t, isAsymmetric(q))
	assert.False(t, g.FellBack())
}

func TestGateway_SymmetricProfileSkipsAsymmetric(t *testing.T) {
	enc := &scriptedEncoder{dim: 768}
	g, err := NewGatewayWithEncoder(domain.ProfileBGE, enc, GatewayOptions{})
	require.NoError(t, err)

	_, err = g.EncodeQuery(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, int32(0), enc.asymCalls.Load())
	assert.False(t, g.FellBack())
}

func TestGateway_DimensionMismatchIsConfigurationError(t *testing.T) {
	_, err := NewGatewayWithEncoder(domain.ProfileMiniLM, NewHashEncoder(768), GatewayOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDimensionMismatch))
	assert.True(t, domain.IsConfigurationError(err))
}

func TestGateway_LazyLoadRetriesAfterFailure(t *testing.T) {
	var attempts int
	load := func(context.Context) (port.Encoder, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("model download failed")
		}
		return NewHashEncoder(384), nil
	}
	g, err := NewGateway(domain.ProfileMiniLM, load, GatewayOptions{})
	require.NoError(t, err)
	assert.Equal(t, "sentence-transformers/all-MiniLM-L6-v2", g.ModelName())

	_, err = g.EncodeQuery(context.Background(), "q")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEmbeddingUnavailable))

	_, err = g.EncodeQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, "hash", g.ModelName())
}

func TestGateway_QueryCache(t *testing.T) {
	enc := &scriptedEncoder{dim: 384}
	g, err := NewGatewayWithEncoder(domain.ProfileMiniLM, enc, GatewayOptions{
		QueryCache: cache.NewEmbeddingCache(10, time.Minute),
	})
	require.NoError(t, err)

	a, err := g.EncodeQuery(context.Background(), "same")
	require.NoError(t, err)
	b, err := g.EncodeQuery(context.Background(), "same")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, int32(1), enc.symCalls.Load())
}

func TestNormalize_RejectsZeroVector(t *testing.T) {
	_, err := Normalize(make([]float32, 4))
	assert.Error(t, err)

	v, err := Normalize([]float32{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
}

func TestHashEncoder_Deterministic(t *testing.T) {
	enc := NewHashEncoder(64)
	a, err := enc.Encode(context.Background(), []string{"The quick brown fox"})
	require.NoError(t, err)
	b, err := enc.Encode(context.Background(), []string{"the QUICK brown fox!"})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	blank, err := enc.Encode(context.Background(), []string{"   "})
	require.NoError(t, err)
	assert.Greater(t, l2(blank[0]), 0.0)
}

package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webrag/internal/domain"
)

func TestOpenAIEmbedder_EncodeAndPrompts(t *testing.T) {
	var gotInputs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req embeddingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotInputs = req.Input

		resp := embeddingResponse{}
		// Reverse order to check index-based placement.
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, embeddingData{Index: i, Embedding: []float32{float32(i + 1), 0, 0}})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	t.Setenv("TEST_EMBED_KEY", "secret")
	e, err := NewOpenAIEmbedder(OpenAIConfig{
		BaseURL:   srv.URL,
		APIKeyEnv: "TEST_EMBED_KEY",
		Model:     "test-model",
		Dimension: 3,
		Prompts:   Prompts{Document: "doc: ", Query: "query: "},
	})
	require.NoError(t, err)

	vecs, err := e.EncodeDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc: a", "doc: b"}, gotInputs)
	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(2), vecs[1][0])

	_, err = e.EncodeQueries(context.Background(), []string{"q"})
	require.NoError(t, err)
	assert.Equal(t, []string{"query: q"}, gotInputs)
}

func TestOpenAIEmbedder_SymmetricRejectsAsymmetricCalls(t *testing.T) {
	e, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: "http://unused", Model: "m", Dimension: 3})
	require.NoError(t, err)

	_, err = e.EncodeDocuments(context.Background(), []string{"a"})
	assert.True(t, errors.Is(err, domain.ErrAsymmetricUnsupported))
}

func TestOpenAIEmbedder_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL, Model: "m", Dimension: 3})
	require.NoError(t, err)

	_, err = e.Encode(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEmbeddingUnavailable))
}

func TestOpenAIEmbedder_MissingKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIConfig{APIKeyEnv: "WEBRAG_SURELY_UNSET_KEY", Model: "m", Dimension: 3})
	assert.Error(t, err)
}

func TestOllamaEmbedder_Encode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req embedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := embedResponse{}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float64{0.5, 0.25})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL, Model: "all-minilm", Dimension: 2})
	require.NoError(t, err)

	vecs, err := e.Encode(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, float32(0.5), vecs[1][0])
}

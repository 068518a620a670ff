package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"webrag/internal/domain"
	"webrag/internal/port"
)

var _ port.AsymmetricEncoder = (*OllamaEmbedder)(nil)

// Default configuration values.
const (
	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultOllamaTimeout = 120 * time.Second
)

// OllamaEmbedder generates embeddings with Ollama's batch /api/embed endpoint.
type OllamaEmbedder struct {
	client    *http.Client
	baseURL   string
	model     string
	dimension int
	prompts   Prompts
}

type OllamaConfig struct {
	BaseURL   string
	Model     string
	Dimension int
	Prompts   Prompts
	Timeout   time.Duration
}

// embedRequest is the Ollama API request format.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the Ollama API response format.
type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

func NewOllamaEmbedder(cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultOllamaTimeout
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidDimension, cfg.Dimension)
	}
	return &OllamaEmbedder{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   cfg.BaseURL,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		prompts:   cfg.Prompts,
	}, nil
}

func (s *OllamaEmbedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	jsonBody, err := json.Marshal(embedRequest{Model: s.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/embed", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: send request: %v", domain.ErrEmbeddingUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: ollama error (status %d): %s", domain.ErrEmbeddingUnavailable, resp.StatusCode, string(body))
	}

	var embedResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(embedResp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(embedResp.Embeddings), len(texts))
	}

	out := make([][]float32, len(embedResp.Embeddings))
	for i, e := range embedResp.Embeddings {
		v := make([]float32, len(e))
		for j, x := range e {
			v[j] = float32(x)
		}
		out[i] = v
	}
	return out, nil
}

func (s *OllamaEmbedder) EncodeDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if !s.prompts.asymmetric() {
		return nil, domain.ErrAsymmetricUnsupported
	}
	return s.Encode(ctx, withPrefix(s.prompts.Document, texts))
}

func (s *OllamaEmbedder) EncodeQueries(ctx context.Context, texts []string) ([][]float32, error) {
	if !s.prompts.asymmetric() {
		return nil, domain.ErrAsymmetricUnsupported
	}
	return s.Encode(ctx, withPrefix(s.prompts.Query, texts))
}

func (s *OllamaEmbedder) Dimension() int    { return s.dimension }
func (s *OllamaEmbedder) ModelName() string { return s.model }

// Ping validates the service is reachable by checking the /api/tags endpoint.
func (s *OllamaEmbedder) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return fmt.Errorf("ollama: failed to create ping request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: ping failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: API returned status %d", resp.StatusCode)
	}
	return nil
}

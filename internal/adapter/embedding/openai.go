package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"webrag/internal/domain"
	"webrag/internal/port"
)

var _ port.AsymmetricEncoder = (*OpenAIEmbedder)(nil)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	maxOpenAIBatch       = 100
)

// OpenAIEmbedder talks to any OpenAI-compatible /embeddings endpoint
// (OpenAI, text-embeddings-inference, vLLM, Ollama's /v1 shim).
type OpenAIEmbedder struct {
	apiKey    string
	model     string
	baseURL   string
	dimension int
	prompts   Prompts
	client    *http.Client
}

// Prompts are the role prefixes used for asymmetric encoding. An encoder
// with no prompts is symmetric.
type Prompts struct {
	Document string
	Query    string
}

func (p Prompts) asymmetric() bool {
	return p.Document != "" || p.Query != ""
}

type OpenAIConfig struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Dimension int
	Prompts   Prompts
	Timeout   time.Duration
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Usage embeddingUsage  `json:"usage"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewOpenAIEmbedder creates an embedder. The API key is optional for
// self-hosted endpoints; when APIKeyEnv is set the variable must be present.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidDimension, cfg.Dimension)
	}

	var apiKey string
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("API key not found in environment variable: %s", cfg.APIKeyEnv)
		}
	}

	return &OpenAIEmbedder{
		apiKey:    apiKey,
		model:     cfg.Model,
		baseURL:   cfg.BaseURL,
		dimension: cfg.Dimension,
		prompts:   cfg.Prompts,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

func (e *OpenAIEmbedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var all [][]float32
	for i := 0; i < len(texts); i += maxOpenAIBatch {
		end := i + maxOpenAIBatch
		if end > len(texts) {
			end = len(texts)
		}

		embeddings, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		all = append(all, embeddings...)
	}

	return all, nil
}

func (e *OpenAIEmbedder) EncodeDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if !e.prompts.asymmetric() {
		return nil, domain.ErrAsymmetricUnsupported
	}
	return e.Encode(ctx, withPrefix(e.prompts.Document, texts))
}

func (e *OpenAIEmbedder) EncodeQueries(ctx context.Context, texts []string) ([][]float32, error) {
	if !e.prompts.asymmetric() {
		return nil, domain.ErrAsymmetricUnsupported
	}
	return e.Encode(ctx, withPrefix(e.prompts.Query, texts))
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := embeddingRequest{
		Input: texts,
		Model: e.model,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", domain.ErrEmbeddingUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: API returned status %d: %s", domain.ErrEmbeddingUnavailable, resp.StatusCode, string(body))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		bodyPreview := string(body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200]
		}
		return nil, fmt.Errorf("failed to parse response (body: %s): %w", bodyPreview, err)
	}

	if embResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", embResp.Error.Message)
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range embResp.Data {
		if data.Index >= 0 && data.Index < len(embeddings) {
			embeddings[data.Index] = data.Embedding
		}
	}
	for i, emb := range embeddings {
		if emb == nil {
			return nil, fmt.Errorf("API response missing embedding for input %d", i)
		}
	}

	return embeddings, nil
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

func withPrefix(prefix string, texts []string) []string {
	if prefix == "" {
		return texts
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = prefix + t
	}
	return out
}

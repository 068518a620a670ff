package retriever

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"webrag/internal/port"
)

var (
	_ port.CrossEncoder = (*HTTPCrossEncoder)(nil)
	_ port.Loader       = (*HTTPCrossEncoder)(nil)
)

// Supported rerank wire formats.
const (
	APITEI    = "tei"    // text-embeddings-inference: POST /rerank
	APICohere = "cohere" // Cohere-compatible: POST /v1/rerank
)

const (
	DefaultRerankModel = "cross-encoder/ms-marco-MiniLM-L-6-v2"
	// maxRerankDocs mirrors the Cohere per-request document limit.
	maxRerankDocs = 1000
)

// HTTPCrossEncoder scores (query, document) pairs with a remote cross-encoder.
type HTTPCrossEncoder struct {
	api     string
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

type HTTPCrossEncoderConfig struct {
	API       string
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
}

type teiRerankRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
}

type teiRerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

type cohereRerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
	TopN      int      `json:"top_n,omitempty"`
}

type cohereRerankResponse struct {
	Results []cohereRerankResult `json:"results"`
}

type cohereRerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

func NewHTTPCrossEncoder(cfg HTTPCrossEncoderConfig) (*HTTPCrossEncoder, error) {
	api := strings.ToLower(cfg.API)
	if api == "" {
		api = APITEI
	}
	if api != APITEI && api != APICohere {
		return nil, fmt.Errorf("unsupported rerank api: %s", cfg.API)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("rerank base URL is required")
	}

	var apiKey string
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("API key not found in environment variable: %s", cfg.APIKeyEnv)
		}
	}

	if cfg.Model == "" {
		cfg.Model = DefaultRerankModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &HTTPCrossEncoder{
		api:     api,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  apiKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Score returns one relevance score per document, in document order.
func (r *HTTPCrossEncoder) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	if len(documents) > maxRerankDocs {
		return nil, fmt.Errorf("too many documents for one rerank request: %d", len(documents))
	}

	var (
		path string
		body any
	)
	switch r.api {
	case APICohere:
		path = "/v1/rerank"
		body = cohereRerankRequest{Query: query, Documents: documents, Model: r.model, TopN: len(documents)}
	default:
		path = "/rerank"
		body = teiRerankRequest{Query: query, Texts: documents, RawScores: false}
	}

	respBody, err := r.post(ctx, path, body)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(documents))
	seen := make([]bool, len(documents))
	assign := func(idx int, score float64) error {
		if idx < 0 || idx >= len(scores) {
			return fmt.Errorf("rerank response index %d out of range", idx)
		}
		scores[idx] = score
		seen[idx] = true
		return nil
	}

	switch r.api {
	case APICohere:
		var resp cohereRerankResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		for _, res := range resp.Results {
			if err := assign(res.Index, res.RelevanceScore); err != nil {
				return nil, err
			}
		}
	default:
		var resp []teiRerankResult
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		for _, res := range resp {
			if err := assign(res.Index, res.Score); err != nil {
				return nil, err
			}
		}
	}

	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("rerank response missing score for document %d", i)
		}
	}
	return scores, nil
}

// Load checks that the reranker answers a trivial request.
func (r *HTTPCrossEncoder) Load(ctx context.Context) error {
	_, err := r.Score(ctx, "ping", []string{"ping"})
	return err
}

func (r *HTTPCrossEncoder) post(ctx context.Context, path string, payload any) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// ModelName returns the model name.
func (r *HTTPCrossEncoder) ModelName() string {
	return r.model
}

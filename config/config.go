package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"webrag/internal/domain"
)

// Config holds all configuration for webrag.
type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieve  RetrieveConfig  `yaml:"retrieve"`
	Search    SearchConfig    `yaml:"search"`
	Crawl     CrawlConfig     `yaml:"crawl"`
	Documents DocumentsConfig `yaml:"documents"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// EmbeddingConfig selects the embedding profile and the service that runs it.
type EmbeddingConfig struct {
	Profile        string        `yaml:"profile"`  // "gemma", "minilm", "bge"
	Provider       string        `yaml:"provider"` // "ollama", "openai", "hash"
	BaseURL        string        `yaml:"base_url"`
	Model          string        `yaml:"model"` // provider model name; empty uses the profile model
	APIKeyEnv      string        `yaml:"api_key_env"`
	DocumentPrompt string        `yaml:"document_prompt"`
	QueryPrompt    string        `yaml:"query_prompt"`
	BatchSize      int           `yaml:"batch_size"`
	Workers        int           `yaml:"workers"`
	Timeout        time.Duration `yaml:"timeout"`
	QueryCacheSize int           `yaml:"query_cache_size"`
	QueryCacheTTL  time.Duration `yaml:"query_cache_ttl"`
}

// RerankConfig configures the stage-2 cross-encoder.
type RerankConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Provider  string        `yaml:"provider"` // "tei", "cohere", "lexical"
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ChunkingConfig controls document splitting. A chunk size of 0 uses the
// profile default.
type ChunkingConfig struct {
	ChunkSize        int `yaml:"chunk_size"`
	Overlap          int `yaml:"overlap"`
	MinContentLength int `yaml:"min_content_length"`
}

// RetrieveConfig holds retrieval and vector index configuration.
type RetrieveConfig struct {
	TopK               int           `yaml:"top_k"`
	InitialKMultiplier int           `yaml:"initial_k_multiplier"`
	ScoreThreshold     float64       `yaml:"score_threshold"`
	ResultCacheSize    int           `yaml:"result_cache_size"`
	ResultCacheTTL     time.Duration `yaml:"result_cache_ttl"`
	HNSWM              int           `yaml:"hnsw_m"`
	EfConstruction     int           `yaml:"ef_construction"`
	EfSearch           int           `yaml:"ef_search"`
}

// SearchConfig configures web search and URL aggregation.
type SearchConfig struct {
	Backend           string        `yaml:"backend"` // "duckduckgo", "searxng"
	BaseURL           string        `yaml:"base_url"`
	Engines           string        `yaml:"engines"`
	Region            string        `yaml:"region"`
	TargetCount       int           `yaml:"target_count"`
	MaxAttempts       int           `yaml:"max_attempts"`
	ResultsPerPage    int           `yaml:"results_per_page"`
	ExcludedSites     []string      `yaml:"excluded_sites"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
}

// CrawlConfig configures page fetching.
type CrawlConfig struct {
	Concurrency        int           `yaml:"concurrency"`
	PageTimeout        time.Duration `yaml:"page_timeout"`
	RequestsPerSecond  float64       `yaml:"requests_per_second"`
	MaxBodyBytes       int64         `yaml:"max_body_bytes"`
	RelevanceFilter    bool          `yaml:"relevance_filter"`
	RelevanceThreshold float64       `yaml:"relevance_threshold"`
	UserAgent          string        `yaml:"user_agent"`
}

// DocumentsConfig selects local files for `webrag ingest`.
type DocumentsConfig struct {
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

// StorageConfig holds on-disk locations, relative to the project directory.
type StorageConfig struct {
	DataDir      string `yaml:"data_dir"`
	SnapshotFile string `yaml:"snapshot_file"`
	URLsFile     string `yaml:"urls_file"`
	RememberURLs bool   `yaml:"remember_urls"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// EmbeddingGemma prompt prefixes.
const (
	GemmaDocumentPrompt = "title: none | text: "
	GemmaQueryPrompt    = "task: search result | query: "
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Profile:        domain.DefaultProfile.Key(),
			Provider:       "ollama",
			BaseURL:        "http://localhost:11434",
			Model:          "embeddinggemma",
			APIKeyEnv:      "",
			DocumentPrompt: GemmaDocumentPrompt,
			QueryPrompt:    GemmaQueryPrompt,
			BatchSize:      32,
			Workers:        2,
			Timeout:        2 * time.Minute,
			QueryCacheSize: 256,
			QueryCacheTTL:  30 * time.Minute,
		},
		Rerank: RerankConfig{
			Enabled:  true,
			Provider: "lexical",
			BaseURL:  "http://localhost:8081",
			Model:    "cross-encoder/ms-marco-MiniLM-L-6-v2",
			Timeout:  30 * time.Second,
		},
		Chunking: ChunkingConfig{
			ChunkSize:        0,
			Overlap:          50,
			MinContentLength: 100,
		},
		Retrieve: RetrieveConfig{
			TopK:               5,
			InitialKMultiplier: 3,
			ScoreThreshold:     0.3,
			ResultCacheSize:    100,
			ResultCacheTTL:     5 * time.Minute,
			HNSWM:              32,
			EfConstruction:     200,
			EfSearch:           64,
		},
		Search: SearchConfig{
			Backend:           "duckduckgo",
			TargetCount:       10,
			MaxAttempts:       6,
			ResultsPerPage:    50,
			RequestsPerSecond: 1,
			Timeout:           15 * time.Second,
		},
		Crawl: CrawlConfig{
			Concurrency:        5,
			PageTimeout:        20 * time.Second,
			MaxBodyBytes:       5 << 20,
			RelevanceFilter:    false,
			RelevanceThreshold: 1.0,
		},
		Documents: DocumentsConfig{
			Includes: []string{"**/*.md", "**/*.txt", "**/*.html", "**/*.htm", "**/*.rst"},
			Excludes: []string{"**/node_modules/**", "**/vendor/**", "**/.git/**", "**/.webrag/**"},
		},
		Storage: StorageConfig{
			DataDir:      ".webrag",
			SnapshotFile: "corpus.db",
			URLsFile:     "urls.db",
			RememberURLs: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for webrag.yaml,
// then .webrag/config.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "webrag.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".webrag", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Profile resolves the configured embedding profile.
func (c *Config) Profile() (domain.EmbeddingProfile, error) {
	return domain.ParseEmbeddingProfile(c.Embedding.Profile)
}

// ChunkSize returns the effective chunk size for profile.
func (c *Config) ChunkSize(profile domain.EmbeddingProfile) int {
	if c.Chunking.ChunkSize > 0 {
		return c.Chunking.ChunkSize
	}
	return profile.DefaultChunkSize()
}

// Validate rejects configuration errors before any component is built.
func (c *Config) Validate() error {
	profile, err := c.Profile()
	if err != nil {
		return err
	}

	switch c.Embedding.Provider {
	case "ollama", "openai", "hash":
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", domain.ErrInvalidConfig, c.Embedding.Provider)
	}
	switch c.Rerank.Provider {
	case "tei", "cohere", "lexical":
	default:
		return fmt.Errorf("%w: unknown rerank provider %q", domain.ErrInvalidConfig, c.Rerank.Provider)
	}
	switch c.Search.Backend {
	case "duckduckgo", "searxng":
	default:
		return fmt.Errorf("%w: unknown search backend %q", domain.ErrInvalidConfig, c.Search.Backend)
	}

	size := c.ChunkSize(profile)
	if c.Chunking.ChunkSize < 0 {
		return fmt.Errorf("%w: %d", domain.ErrInvalidChunkSize, c.Chunking.ChunkSize)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= size {
		return fmt.Errorf("%w: overlap %d with chunk size %d", domain.ErrInvalidChunkOverlap, c.Chunking.Overlap, size)
	}

	if c.Retrieve.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive", domain.ErrInvalidConfig)
	}
	if c.Retrieve.InitialKMultiplier < 1 {
		return fmt.Errorf("%w: initial_k_multiplier must be at least 1", domain.ErrInvalidConfig)
	}
	if c.Retrieve.ScoreThreshold < -1 || c.Retrieve.ScoreThreshold > 1 {
		return fmt.Errorf("%w: score_threshold %.2f outside [-1, 1]", domain.ErrInvalidConfig, c.Retrieve.ScoreThreshold)
	}
	if c.Search.TargetCount < 0 || c.Search.MaxAttempts < 0 {
		return fmt.Errorf("%w: search counts must not be negative", domain.ErrInvalidConfig)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", domain.ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}

// DataDir returns the data directory for a project directory.
func (c *Config) DataDir(dir string) string {
	if filepath.IsAbs(c.Storage.DataDir) {
		return c.Storage.DataDir
	}
	return filepath.Join(dir, c.Storage.DataDir)
}

// SnapshotPath returns the path to the corpus snapshot database.
func (c *Config) SnapshotPath(dir string) string {
	return filepath.Join(c.DataDir(dir), c.Storage.SnapshotFile)
}

// URLsPath returns the path to the known URL database.
func (c *Config) URLsPath(dir string) string {
	return filepath.Join(c.DataDir(dir), c.Storage.URLsFile)
}

// EnsureDataDir ensures the data directory exists.
func (c *Config) EnsureDataDir(dir string) error {
	return os.MkdirAll(c.DataDir(dir), 0755)
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"webrag/internal/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Embedding.Profile != "gemma" {
		t.Errorf("expected Profile=gemma, got %s", cfg.Embedding.Profile)
	}
	if cfg.Retrieve.InitialKMultiplier != 3 {
		t.Errorf("expected InitialKMultiplier=3, got %d", cfg.Retrieve.InitialKMultiplier)
	}
	if cfg.Retrieve.ScoreThreshold != 0.3 {
		t.Errorf("expected ScoreThreshold=0.3, got %f", cfg.Retrieve.ScoreThreshold)
	}
	if cfg.Search.ResultsPerPage != 50 {
		t.Errorf("expected ResultsPerPage=50, got %d", cfg.Search.ResultsPerPage)
	}
	if len(cfg.Search.ExcludedSites) != 0 {
		t.Errorf("expected no excluded sites by default, got %v", cfg.Search.ExcludedSites)
	}
	if cfg.Crawl.PageTimeout != 20*time.Second {
		t.Errorf("expected PageTimeout=20s, got %s", cfg.Crawl.PageTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Errorf("expected no error for non-existent file, got %v", err)
	}
	if cfg == nil {
		t.Error("expected default config, got nil")
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "webrag.yaml")

	content := `
embedding:
  profile: minilm
  provider: hash
chunking:
  overlap: 20
crawl:
  page_timeout: 5s
retrieve:
  top_k: 10
search:
  excluded_sites: [youtube.com]
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	profile, err := cfg.Profile()
	if err != nil || profile != domain.ProfileMiniLM {
		t.Errorf("expected minilm profile, got %v (%v)", profile, err)
	}
	if got := cfg.ChunkSize(profile); got != 512 {
		t.Errorf("expected profile chunk size 512, got %d", got)
	}
	if cfg.Chunking.Overlap != 20 {
		t.Errorf("expected Overlap=20, got %d", cfg.Chunking.Overlap)
	}
	if cfg.Crawl.PageTimeout != 5*time.Second {
		t.Errorf("expected PageTimeout=5s, got %s", cfg.Crawl.PageTimeout)
	}
	if cfg.Retrieve.TopK != 10 {
		t.Errorf("expected TopK=10, got %d", cfg.Retrieve.TopK)
	}
	if cfg.Search.MaxAttempts != 6 {
		t.Errorf("unset fields keep defaults, got MaxAttempts=%d", cfg.Search.MaxAttempts)
	}
	if len(cfg.Search.ExcludedSites) != 1 || cfg.Search.ExcludedSites[0] != "youtube.com" {
		t.Errorf("expected ExcludedSites=[youtube.com], got %v", cfg.Search.ExcludedSites)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webrag.yaml")
	if err := os.WriteFile(path, []byte("retrieve: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadFromDir(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, ".webrag"), 0755); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(tmpDir, ".webrag", "config.yaml")

	content := `
search:
  target_count: 25
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Search.TargetCount != 25 {
		t.Errorf("expected TargetCount=25, got %d", cfg.Search.TargetCount)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webrag.yaml")
	cfg := DefaultConfig()
	cfg.Embedding.Profile = "bge"
	cfg.Retrieve.ResultCacheTTL = 90 * time.Second

	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Embedding.Profile != "bge" {
		t.Errorf("expected Profile=bge, got %s", loaded.Embedding.Profile)
	}
	if loaded.Retrieve.ResultCacheTTL != 90*time.Second {
		t.Errorf("expected ResultCacheTTL=90s, got %s", loaded.Retrieve.ResultCacheTTL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"unknown profile", func(c *Config) { c.Embedding.Profile = "ada" }, domain.ErrUnknownProfile},
		{"overlap equals size", func(c *Config) { c.Chunking.ChunkSize = 100; c.Chunking.Overlap = 100 }, domain.ErrInvalidChunkOverlap},
		{"negative overlap", func(c *Config) { c.Chunking.Overlap = -1 }, domain.ErrInvalidChunkOverlap},
		{"negative chunk size", func(c *Config) { c.Chunking.ChunkSize = -5 }, domain.ErrInvalidChunkSize},
		{"multiplier", func(c *Config) { c.Retrieve.InitialKMultiplier = 0 }, domain.ErrInvalidConfig},
		{"threshold", func(c *Config) { c.Retrieve.ScoreThreshold = 1.5 }, domain.ErrInvalidConfig},
		{"provider", func(c *Config) { c.Embedding.Provider = "voyage" }, domain.ErrInvalidConfig},
		{"backend", func(c *Config) { c.Search.Backend = "bing" }, domain.ErrInvalidConfig},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, domain.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if !domain.IsConfigurationError(err) {
				t.Errorf("expected configuration error class, got %v", err)
			}
		})
	}
}

func TestPaths(t *testing.T) {
	cfg := DefaultConfig()
	if got, want := cfg.SnapshotPath("/home/user/project"), filepath.Join("/home/user/project", ".webrag", "corpus.db"); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
	cfg.Storage.DataDir = "/var/lib/webrag"
	if got, want := cfg.URLsPath("/ignored"), filepath.Join("/var/lib/webrag", "urls.db"); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

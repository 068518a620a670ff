package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"webrag/config"
)

// CurrentSchemaVersion is the current schema version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

var keySchemaVersion = []byte("schema_version")

// ComputeConfigHash hashes the configuration that shapes stored vectors.
// A snapshot saved under a different hash was chunked or embedded
// differently from what the current configuration would produce.
func ComputeConfigHash(cfg *config.Config) string {
	profile, _ := cfg.Profile()
	relevant := struct {
		Profile      string `json:"profile"`
		Provider     string `json:"provider"`
		Model        string `json:"model"`
		DocPrompt    string `json:"doc_prompt"`
		ChunkSize    int    `json:"chunk_size"`
		ChunkOverlap int    `json:"chunk_overlap"`
		MinContent   int    `json:"min_content"`
	}{
		Profile:      cfg.Embedding.Profile,
		Provider:     cfg.Embedding.Provider,
		Model:        cfg.Embedding.Model,
		DocPrompt:    cfg.Embedding.DocumentPrompt,
		ChunkSize:    cfg.ChunkSize(profile),
		ChunkOverlap: cfg.Chunking.Overlap,
		MinContent:   cfg.Chunking.MinContentLength,
	}

	data, _ := json.Marshal(relevant)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}

// SchemaVersion returns the stored schema version, 0 for a new database.
func (s *BoltStore) SchemaVersion() (int, error) {
	var version int
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keySchemaVersion)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &version)
	})
	return version, err
}

// Migrate brings the database to CurrentSchemaVersion. A database written by
// a newer version is rejected; older snapshots are dropped since they are
// cheap to rebuild from the web.
func (s *BoltStore) Migrate() error {
	version, err := s.SchemaVersion()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("database created by newer version (v%d > v%d)", version, CurrentSchemaVersion)
	}
	if version == CurrentSchemaVersion {
		return nil
	}
	if version > 0 {
		if err := s.Clear(); err != nil {
			return fmt.Errorf("migration from v%d failed: %w", version, err)
		}
	}

	data, err := json.Marshal(CurrentSchemaVersion)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keySchemaVersion, data)
	})
}

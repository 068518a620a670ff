package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"go.etcd.io/bbolt"

	"webrag/internal/domain"
)

var (
	bucketMeta    = []byte("meta")
	bucketChunks  = []byte("chunks")
	bucketVectors = []byte("vectors")
	keySnapshot   = []byte("snapshot")
)

// BoltStore persists one corpus snapshot: the chunks and vectors of the last
// ingestion session. The HNSW graph is not stored; it is rebuilt on load.
type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketMeta, bucketChunks, bucketVectors} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// snapshotHeader is the meta record. Chunks and vectors live in their own
// buckets keyed by arena position.
type snapshotHeader struct {
	Profile    string    `json:"profile"`
	Model      string    `json:"model"`
	SessionID  string    `json:"session_id"`
	Query      string    `json:"query,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Count      int       `json:"count"`
	Dimension  int       `json:"dimension"`
	ConfigHash string    `json:"config_hash,omitempty"`
}

// SaveSnapshot replaces the stored corpus in a single transaction.
func (s *BoltStore) SaveSnapshot(ctx context.Context, snap domain.CorpusSnapshot, configHash string) error {
	if len(snap.Chunks) != len(snap.Vectors) {
		return fmt.Errorf("snapshot has %d chunks but %d vectors", len(snap.Chunks), len(snap.Vectors))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dim := 0
	if len(snap.Vectors) > 0 {
		dim = len(snap.Vectors[0])
	}
	header := snapshotHeader{
		Profile:    snap.Profile,
		Model:      snap.Model,
		SessionID:  snap.SessionID,
		Query:      snap.Query,
		CreatedAt:  snap.CreatedAt,
		Count:      len(snap.Chunks),
		Dimension:  dim,
		ConfigHash: configHash,
	}
	headerData, err := json.Marshal(header)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketChunks, bucketVectors} {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
		}
		chunks, err := tx.CreateBucket(bucketChunks)
		if err != nil {
			return err
		}
		vectors, err := tx.CreateBucket(bucketVectors)
		if err != nil {
			return err
		}

		for i, c := range snap.Chunks {
			if len(snap.Vectors[i]) != dim {
				return fmt.Errorf("%w: vector %d has %d, want %d", domain.ErrDimensionMismatch, i, len(snap.Vectors[i]), dim)
			}
			data, err := json.Marshal(c)
			if err != nil {
				return err
			}
			key := itob(uint64(i))
			if err := chunks.Put(key, data); err != nil {
				return err
			}
			if err := vectors.Put(key, encodeVector(snap.Vectors[i])); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMeta).Put(keySnapshot, headerData)
	})
}

// LoadSnapshot returns the stored corpus, or domain.ErrNotFound when nothing
// has been saved yet. The second return value is the config hash recorded at
// save time.
func (s *BoltStore) LoadSnapshot(ctx context.Context) (domain.CorpusSnapshot, string, error) {
	var snap domain.CorpusSnapshot
	var header snapshotHeader

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keySnapshot)
		if data == nil {
			return domain.ErrNotFound
		}
		if err := json.Unmarshal(data, &header); err != nil {
			return fmt.Errorf("decode snapshot header: %w", err)
		}

		snap = domain.CorpusSnapshot{
			Profile:   header.Profile,
			Model:     header.Model,
			SessionID: header.SessionID,
			Query:     header.Query,
			CreatedAt: header.CreatedAt,
			Chunks:    make([]domain.Chunk, 0, header.Count),
			Vectors:   make([]domain.Embedding, 0, header.Count),
		}

		vectors := tx.Bucket(bucketVectors)
		return tx.Bucket(bucketChunks).ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var c domain.Chunk
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("decode chunk %d: %w", binary.BigEndian.Uint64(k), err)
			}
			raw := vectors.Get(k)
			if raw == nil {
				return fmt.Errorf("chunk %d has no vector", binary.BigEndian.Uint64(k))
			}
			vec, err := decodeVector(raw, header.Dimension)
			if err != nil {
				return err
			}
			snap.Chunks = append(snap.Chunks, c)
			snap.Vectors = append(snap.Vectors, vec)
			return nil
		})
	})
	if err != nil {
		return domain.CorpusSnapshot{}, "", err
	}
	if len(snap.Chunks) != header.Count {
		return domain.CorpusSnapshot{}, "", fmt.Errorf("snapshot is truncated: %d of %d chunks", len(snap.Chunks), header.Count)
	}
	return snap, header.ConfigHash, nil
}

// Clear removes the stored snapshot.
func (s *BoltStore) Clear() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketChunks, bucketVectors} {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMeta).Delete(keySnapshot)
	})
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func encodeVector(v domain.Embedding) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte, dim int) (domain.Embedding, error) {
	if len(b)%4 != 0 || (dim > 0 && len(b) != 4*dim) {
		return nil, fmt.Errorf("%w: stored vector has %d bytes, want %d", domain.ErrDimensionMismatch, len(b), 4*dim)
	}
	v := make(domain.Embedding, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

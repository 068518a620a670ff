package domain

import (
	"errors"
	"fmt"
)

// Configuration errors. These are fatal and are rejected at the call that
// introduced them.
var (
	// ErrInvalidDimension indicates a non-positive vector dimension.
	ErrInvalidDimension = errors.New("invalid dimension")

	// ErrDimensionMismatch indicates a vector whose length differs from the
	// index dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrUnknownProfile indicates an embedding profile key that is not registered.
	ErrUnknownProfile = errors.New("unknown embedding profile")

	// ErrInvalidChunkSize indicates a non-positive chunk size.
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrInvalidChunkOverlap indicates an overlap that is negative or not
	// smaller than the chunk size.
	ErrInvalidChunkOverlap = errors.New("invalid chunk overlap")

	// ErrInvalidConfig indicates any other rejected configuration value.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Degradable errors. Callers fall back to a simpler behaviour and log once.
var (
	// ErrRerankerUnavailable indicates the cross-encoder failed to load or score.
	ErrRerankerUnavailable = errors.New("reranker unavailable")

	// ErrAsymmetricUnsupported indicates the encoder has no distinct
	// document/query routines.
	ErrAsymmetricUnsupported = errors.New("asymmetric encoding unsupported")
)

var (
	// ErrEmbeddingUnavailable indicates the embedding model could not produce vectors.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrSearchUnavailable indicates the web search backend is not reachable.
	ErrSearchUnavailable = errors.New("search backend unavailable")

	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrIndexNotInitialized indicates an add or search before Initialize.
	ErrIndexNotInitialized = errors.New("vector index not initialized")
)

var configurationErrors = []error{
	ErrInvalidDimension,
	ErrDimensionMismatch,
	ErrUnknownProfile,
	ErrInvalidChunkSize,
	ErrInvalidChunkOverlap,
	ErrInvalidConfig,
}

// IsConfigurationError reports whether err belongs to the fatal
// configuration class.
func IsConfigurationError(err error) bool {
	for _, target := range configurationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsDegradable reports whether err can be absorbed by falling back.
func IsDegradable(err error) bool {
	return errors.Is(err, ErrRerankerUnavailable) || errors.Is(err, ErrAsymmetricUnsupported)
}

// RetrievalError is surfaced by the retrieval pipeline when it ends in the
// Failed state.
type RetrievalError struct {
	Stage string
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed during %s: %v", e.Stage, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

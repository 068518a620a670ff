package port

import "context"

// KnownURLStore is the durable cross-session record of ingested URLs.
type KnownURLStore interface {
	// CheckExisting returns a membership map covering every input URL.
	CheckExisting(ctx context.Context, urls []string) (map[string]bool, error)
}

// URLRecorder is the write side of the known-URL store. The retrieval core
// never calls it; the caller records URLs after a session completes.
type URLRecorder interface {
	Remember(ctx context.Context, urls []string) error
}

// Package memstore keeps the known URL set in memory, for runs without a
// data directory and for tests.
package memstore

import (
	"context"
	"sort"
	"sync"

	"webrag/internal/port"
)

var (
	_ port.KnownURLStore = (*URLStore)(nil)
	_ port.URLRecorder   = (*URLStore)(nil)
)

type URLStore struct {
	mu   sync.RWMutex
	urls map[string]struct{}
}

func NewURLStore(urls ...string) *URLStore {
	s := &URLStore{urls: make(map[string]struct{}, len(urls))}
	for _, u := range urls {
		s.urls[u] = struct{}{}
	}
	return s
}

func (s *URLStore) CheckExisting(ctx context.Context, urls []string) (map[string]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(urls))
	for _, u := range urls {
		_, ok := s.urls[u]
		out[u] = ok
	}
	return out, nil
}

func (s *URLStore) Remember(ctx context.Context, urls []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range urls {
		s.urls[u] = struct{}{}
	}
	return nil
}

func (s *URLStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.urls), nil
}

// URLs returns the known URLs in sorted order.
func (s *URLStore) URLs() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.urls))
	for u := range s.urls {
		out = append(out, u)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

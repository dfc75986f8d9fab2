package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	hits     []time.Time // ascending
	length   time.Duration
	lastSeen time.Time
}

// MemoryStore keeps windows in process memory. It is safe for concurrent use.
// Idle clients are dropped by Sweep so the map stays bounded by the number
// of clients active within one window.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window)}
}

// Hit implements Store.
func (s *MemoryStore) Hit(_ context.Context, key string, now time.Time, length time.Duration, max int) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		w = &window{}
		s.windows[key] = w
	}
	w.length = length
	w.lastSeen = now
	w.hits = prune(w.hits, now.Add(-length))

	res := Result{}
	if len(w.hits) < max {
		w.hits = append(w.hits, now)
		res.Allowed = true
	}
	res.Count = len(w.hits)
	if len(w.hits) > 0 {
		res.Oldest = w.hits[0]
	}
	return res, nil
}

// prune drops timestamps at or before cutoff.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}

// Sweep removes clients whose newest request is older than their window.
// It returns the number of removed clients.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, w := range s.windows {
		if now.Sub(w.lastSeen) >= w.length {
			delete(s.windows, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked clients.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Run sweeps every interval until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.Sweep(now)
		}
	}
}

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Hit(_ context.Context, key string, window time.Duration, now time.Time) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		rec = &Record{}
		s.records[key] = rec
	}
	if !now.Before(rec.WindowResetAt) {
		rec.Count = 0
		rec.WindowResetAt = now.Add(window)
	}
	rec.Count++
	rec.LastSeen = now
	return *rec, nil
}

// Sweep drops records whose window has elapsed and which have not been
// touched since. It returns the number of records removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, rec := range s.records {
		if !now.Before(rec.WindowResetAt) && rec.LastSeen.Before(rec.WindowResetAt) {
			delete(s.records, key)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration, now func() time.Time) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(now())
		}
	}
}

// Len returns the number of tracked keys
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

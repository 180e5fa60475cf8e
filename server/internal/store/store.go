package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/airscribe/airscribe/pkg/types"
)

// Entry is a prediction together with the time it was stored.
type Entry struct {
	Prediction types.Prediction
	UpdatedAt  time.Time
}

// Archive persists predictions beyond the lifetime of the process.
type Archive interface {
	Save(p types.Prediction) error
	Recent(limit int) ([]types.Prediction, error)
	Close() error
}

// Store is a thread-safe in-memory prediction store, keyed by prediction ID.
// A background goroutine (Run) periodically evicts entries older than the
// configured TTL. A TTL of zero keeps entries forever.
type Store struct {
	mu      sync.RWMutex
	data    map[string]*Entry
	ttl     time.Duration
	now     func() time.Time // injectable for deterministic tests
	archive Archive
}

// New creates a Store with the given TTL.
func New(ttl time.Duration) *Store {
	return &Store{
		data: make(map[string]*Entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// WithArchive attaches a write-through archive. Call before first use.
func (s *Store) WithArchive(a Archive) *Store {
	s.archive = a
	return s
}

// Put stores p, assigning an ID and CreatedAt when they are unset, and
// returns the stored value. Archive failures are logged, not returned: the
// in-memory history stays authoritative for the running process.
func (s *Store) Put(p types.Prediction) types.Prediction {
	now := s.now()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now.UTC()
	}

	s.mu.Lock()
	s.data[p.ID] = &Entry{Prediction: p, UpdatedAt: now}
	s.mu.Unlock()

	if s.archive != nil {
		if err := s.archive.Save(p); err != nil {
			slog.Warn("store: archive save failed", "id", p.ID, "err", err)
		}
	}
	return p
}

// Get returns the Entry for the given prediction ID and whether it was found.
// The entry may be stale if TTL has elapsed.
func (s *Store) Get(id string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[id]
	return e, ok
}

// List returns up to limit live predictions, newest first. A limit <= 0
// returns all of them.
func (s *Store) List(limit int) []types.Prediction {
	s.mu.RLock()
	cutoff := s.cutoff(s.now())
	out := make([]types.Prediction, 0, len(s.data))
	for _, e := range s.data {
		if s.ttl <= 0 || e.UpdatedAt.After(cutoff) {
			out = append(out, e.Prediction)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Count returns the total number of entries currently held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes entries whose UpdatedAt is older than now minus TTL.
// It returns the number of entries removed.
func (s *Store) Evict(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.cutoff(now)
	removed := 0
	for id, e := range s.data {
		if !e.UpdatedAt.After(cutoff) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}

// Restore loads up to limit predictions from the archive into memory,
// timestamped with their CreatedAt. It returns the number loaded.
func (s *Store) Restore(limit int) (int, error) {
	if s.archive == nil {
		return 0, nil
	}
	preds, err := s.archive.Recent(limit)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range preds {
		s.data[p.ID] = &Entry{Prediction: p, UpdatedAt: p.CreatedAt}
	}
	return len(preds), nil
}

// Close closes the archive, if any.
func (s *Store) Close() error {
	if s.archive == nil {
		return nil
	}
	return s.archive.Close()
}

func (s *Store) cutoff(now time.Time) time.Time { return now.Add(-s.ttl) }

// Run starts the background TTL eviction loop. It ticks at half the TTL
// interval (minimum 1 second). Run blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	if s.ttl <= 0 {
		<-ctx.Done()
		return
	}
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale predictions", "count", n)
			}
		}
	}
}

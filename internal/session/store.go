package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/liveness-check/internal/liveness"
)

// Store is the in-memory registry of liveness sessions. The map lock only
// guards membership; each entry carries its own lock so frames for different
// sessions never wait on each other.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	policy liveness.Policy
	ttl    time.Duration
	now    func() time.Time
	newID  func() string
}

type entry struct {
	mu      sync.Mutex
	record  *liveness.Record
	removed bool
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces time.Now as the source of creation and activity times.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store. Histories are sized and sessions expire
// according to policy.
func NewStore(policy liveness.Policy, opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		policy:  policy,
		ttl:     policy.SessionTTL,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create allocates a fresh record and returns its id.
func (s *Store) Create(subject string) string {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	for {
		if _, taken := s.entries[id]; !taken {
			break
		}
		id = s.newID()
	}

	rec := liveness.NewRecord(id, s.policy, now)
	rec.Subject = subject
	s.entries[id] = &entry{record: rec}
	return id
}

// Get returns a snapshot of the record.
func (s *Store) Get(id string) (liveness.Record, error) {
	var snapshot liveness.Record
	err := s.withEntry(id, func(rec *liveness.Record) error {
		snapshot = rec.Clone()
		return nil
	}, false)
	return snapshot, err
}

// Update runs fn with exclusive access to the record and refreshes its
// activity time. Changes fn makes are kept even when it returns an error.
func (s *Store) Update(id string, fn func(rec *liveness.Record) error) error {
	return s.withEntry(id, fn, true)
}

func (s *Store) withEntry(id string, fn func(rec *liveness.Record) error, touch bool) error {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return liveness.ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.now()
	if e.removed || s.expired(e.record, now) {
		return liveness.ErrSessionNotFound
	}
	if touch {
		e.record.LastActivity = now
	}
	return fn(e.record)
}

// Delete removes the session and reports whether it existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
	return true
}

// Sweep removes every session idle for longer than ttl and returns how many
// were removed. Each entry is judged under its own lock, so one mid-update is
// waited for and then removed or kept as a whole. The store-wide lock is only
// held to snapshot membership and to delete.
func (s *Store) Sweep(ttl time.Duration) int {
	s.mu.RLock()
	candidates := make(map[string]*entry, len(s.entries))
	for id, e := range s.entries {
		candidates[id] = e
	}
	s.mu.RUnlock()

	removed := 0
	for id, e := range candidates {
		e.mu.Lock()
		expired := !e.removed && s.now().Sub(e.record.LastActivity) > ttl
		if expired {
			e.removed = true
		}
		e.mu.Unlock()
		if !expired {
			continue
		}

		s.mu.Lock()
		if s.entries[id] == e {
			delete(s.entries, id)
		}
		s.mu.Unlock()
		removed++
	}
	return removed
}

// Len reports the number of entries, including expired ones not yet swept.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) expired(rec *liveness.Record, now time.Time) bool {
	return s.ttl > 0 && now.Sub(rec.LastActivity) > s.ttl
}

// Package session holds the canonical in-memory state of editing sessions.
package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/sync-editor/backend/internal/model"
)

// CommitFunc observes a mutation while the session is still locked, so
// successive calls for one session see commits in their serialization order.
// It must not block or call back into the Store.
type CommitFunc func(model.Session)

// entry is the mutable state behind one session ID.
type entry struct {
	mu           sync.Mutex
	id           string
	content      string
	language     string
	participants map[string]struct{}
	lastModified time.Time
	createdAt    time.Time
	evicted      bool
}

func newEntry(id string, now time.Time) *entry {
	return &entry{
		id:           id,
		language:     model.DefaultLanguage,
		participants: make(map[string]struct{}),
		lastModified: now,
		createdAt:    now,
	}
}

// snapshot copies the entry. Caller holds e.mu.
func (e *entry) snapshot() model.Session {
	users := lo.Keys(e.participants)
	slices.Sort(users)
	return model.Session{
		ID:           e.id,
		Content:      e.content,
		Language:     e.language,
		Participants: users,
		LastModified: e.lastModified,
		CreatedAt:    e.createdAt,
	}
}

// touch advances lastModified, never backwards.
func (e *entry) touch(now time.Time) {
	if now.After(e.lastModified) {
		e.lastModified = now
	}
}

// Store is the registry of live sessions. Sessions are independent: the map
// lock is only held to find, insert or delete an entry, and every mutation of
// a session happens under that session's own lock.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	now     func() time.Time
	onEvict func(model.Session)
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*entry),
		now:      time.Now,
	}
}

// SetOnEvict sets the callback invoked, outside any lock, with the final
// state of every evicted session.
func (s *Store) SetOnEvict(callback func(model.Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = callback
}

// Create creates a session. An empty id generates a fresh UUID; an id that is
// already present fails with model.ErrSessionExists.
func (s *Store) Create(id string) (model.Session, error) {
	if id == "" {
		id = uuid.New().String()
	} else if err := model.ValidateID(id); err != nil {
		return model.Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; exists {
		return model.Session{}, fmt.Errorf("%w: %s", model.ErrSessionExists, id)
	}

	e := newEntry(id, s.now())
	s.sessions[id] = e
	return e.snapshot(), nil
}

// Get returns a copy of the session.
func (s *Store) Get(id string) (model.Session, error) {
	var snap model.Session
	err := s.withEntry(id, func(e *entry) {
		snap = e.snapshot()
	})
	return snap, err
}

// SetContent replaces the document text of a session.
func (s *Store) SetContent(id, content string, hooks ...CommitFunc) (model.Session, error) {
	var snap model.Session
	err := s.withEntry(id, func(e *entry) {
		e.content = content
		e.touch(s.now())
		snap = e.snapshot()
		runHooks(snap, hooks)
	})
	return snap, err
}

// SetLanguage replaces the language tag of a session.
func (s *Store) SetLanguage(id, language string, hooks ...CommitFunc) (model.Session, error) {
	var snap model.Session
	err := s.withEntry(id, func(e *entry) {
		e.language = language
		snap = e.snapshot()
		runHooks(snap, hooks)
	})
	return snap, err
}

// AddParticipant adds userID to the session, creating the session first when
// it does not exist. Adding a present user changes nothing but still runs
// the hooks.
func (s *Store) AddParticipant(id, userID string, hooks ...CommitFunc) (model.Session, error) {
	if err := model.ValidateID(id); err != nil {
		return model.Session{}, err
	}
	if err := model.ValidateID(userID); err != nil {
		return model.Session{}, err
	}

	for {
		e := s.getOrCreate(id)

		e.mu.Lock()
		if e.evicted {
			// Lost a race with the eviction of the previous entry.
			e.mu.Unlock()
			continue
		}
		e.participants[userID] = struct{}{}
		snap := e.snapshot()
		runHooks(snap, hooks)
		e.mu.Unlock()

		return snap, nil
	}
}

// RemoveParticipant removes userID from the session. When the last participant
// leaves, the session is evicted before the session lock is released.
// Removing from an unknown session is a no-op.
func (s *Store) RemoveParticipant(id, userID string, hooks ...CommitFunc) (model.Session, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return model.Session{}, nil
	}

	e.mu.Lock()
	if e.evicted {
		e.mu.Unlock()
		return model.Session{}, nil
	}
	delete(e.participants, userID)
	snap := e.snapshot()
	evicted := len(e.participants) == 0
	if evicted {
		s.evictLocked(e)
	}
	runHooks(snap, hooks)
	e.mu.Unlock()

	if evicted {
		s.notifyEvicted(snap)
	}
	return snap, nil
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep evicts sessions that have no participants and were last modified
// before now-ttl. It returns the number of evicted sessions.
func (s *Store) Sweep(now time.Time, ttl time.Duration) int {
	s.mu.RLock()
	candidates := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		candidates = append(candidates, e)
	}
	s.mu.RUnlock()

	cutoff := now.Add(-ttl)
	swept := 0
	for _, e := range candidates {
		e.mu.Lock()
		if e.evicted || len(e.participants) > 0 || !e.lastModified.Before(cutoff) {
			e.mu.Unlock()
			continue
		}
		s.evictLocked(e)
		snap := e.snapshot()
		e.mu.Unlock()

		s.notifyEvicted(snap)
		swept++
	}
	return swept
}

// RunJanitor calls Sweep every interval until ctx is done.
func (s *Store) RunJanitor(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now, ttl)
		}
	}
}

// withEntry runs fn with the live entry for id locked.
func (s *Store) withEntry(id string, fn func(e *entry)) error {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrSessionNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return fmt.Errorf("%w: %s", model.ErrSessionNotFound, id)
	}
	fn(e)
	return nil
}

func (s *Store) getOrCreate(id string) *entry {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[id]; ok {
		return e
	}
	e = newEntry(id, s.now())
	s.sessions[id] = e
	return e
}

// evictLocked marks e evicted and drops it from the map. Caller holds e.mu;
// lock order is always entry before map.
func (s *Store) evictLocked(e *entry) {
	e.evicted = true
	s.mu.Lock()
	if s.sessions[e.id] == e {
		delete(s.sessions, e.id)
	}
	s.mu.Unlock()
}

func (s *Store) notifyEvicted(snap model.Session) {
	s.mu.RLock()
	callback := s.onEvict
	s.mu.RUnlock()

	if callback != nil {
		callback(snap)
	}
}

func runHooks(snap model.Session, hooks []CommitFunc) {
	for _, hook := range hooks {
		if hook != nil {
			hook(snap)
		}
	}
}

package ws

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// FanoutError collects the per-peer failures of one broadcast.
type FanoutError struct {
	SessionID string
	Failed    map[string]error
}

func (e *FanoutError) Error() string {
	users := make([]string, 0, len(e.Failed))
	for u := range e.Failed {
		users = append(users, u)
	}
	sort.Strings(users)
	return fmt.Sprintf("broadcast to session %s failed for %d peer(s): %s",
		e.SessionID, len(users), strings.Join(users, ", "))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *FanoutError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, err := range e.Failed {
		errs = append(errs, err)
	}
	return errs
}

// room holds the live connections of one session, keyed by user ID.
type room struct {
	mu      sync.RWMutex
	clients map[string]*Client
	dropped bool
}

// Registry maps session IDs to their live connections. It knows nothing about
// document content.
type Registry struct {
	rooms map[string]*room
	mu    sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*room),
	}
}

// Attach makes client the current connection for (sessionID, userID). A
// previous connection for the same pair is closed and returned.
func (r *Registry) Attach(sessionID, userID string, client *Client) *Client {
	for {
		rm := r.getOrCreate(sessionID)

		rm.mu.Lock()
		if rm.dropped {
			rm.mu.Unlock()
			continue
		}
		prev := rm.clients[userID]
		rm.clients[userID] = client
		if prev != nil && prev != client {
			prev.Close()
		}
		rm.mu.Unlock()

		if prev == client {
			return nil
		}
		return prev
	}
}

// Detach removes client if it is still the current connection for
// (sessionID, userID) and reports whether it was. The session entry is
// dropped with its last connection.
func (r *Registry) Detach(sessionID, userID string, client *Client) bool {
	rm := r.get(sessionID)
	if rm == nil {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.dropped || rm.clients[userID] != client {
		return false
	}
	delete(rm.clients, userID)

	if len(rm.clients) == 0 {
		rm.dropped = true
		r.mu.Lock()
		if r.rooms[sessionID] == rm {
			delete(r.rooms, sessionID)
		}
		r.mu.Unlock()
	}
	return true
}

// ForEachExcept applies fn to every open connection of the session except
// excludeUserID (empty excludes nobody). A failing peer never stops the
// iteration; failures are returned together as a *FanoutError.
func (r *Registry) ForEachExcept(sessionID, excludeUserID string, fn func(*Client) error) error {
	rm := r.get(sessionID)
	if rm == nil {
		return nil
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var failed map[string]error
	for userID, client := range rm.clients {
		if excludeUserID != "" && userID == excludeUserID {
			continue
		}
		if client.IsClosed() {
			continue
		}
		if err := fn(client); err != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[userID] = err
		}
	}

	if failed != nil {
		return &FanoutError{SessionID: sessionID, Failed: failed}
	}
	return nil
}

// Get returns the current connection for (sessionID, userID).
func (r *Registry) Get(sessionID, userID string) (*Client, bool) {
	rm := r.get(sessionID)
	if rm == nil {
		return nil, false
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()
	c, ok := rm.clients[userID]
	return c, ok
}

// Count returns the number of connections in a session.
func (r *Registry) Count(sessionID string) int {
	rm := r.get(sessionID)
	if rm == nil {
		return 0
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.clients)
}

// Total returns the number of connections across all sessions.
func (r *Registry) Total() int {
	r.mu.RLock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	total := 0
	for _, rm := range rooms {
		rm.mu.RLock()
		total += len(rm.clients)
		rm.mu.RUnlock()
	}
	return total
}

// CloseAll closes every connection. Entries are removed by the connections'
// own teardown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	for _, rm := range rooms {
		rm.mu.RLock()
		for _, client := range rm.clients {
			client.Close()
		}
		rm.mu.RUnlock()
	}
}

func (r *Registry) get(sessionID string) *room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[sessionID]
}

func (r *Registry) getOrCreate(sessionID string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rm, ok := r.rooms[sessionID]; ok {
		return rm
	}
	rm := &room{clients: make(map[string]*Client)}
	r.rooms[sessionID] = rm
	return rm
}

package relay

import (
	"sort"
	"sync"
)

// Registry tracks which connections watch which session. It is owned by a
// single Server and safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]map[*Conn]struct{}
	users    map[string]string // userID -> last joined sessionID, advisory only
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[*Conn]struct{}),
		users:    make(map[string]string),
	}
}

// Add puts c into the member set of sessionID.
func (r *Registry) Add(sessionID string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(sessionID, c)
}

// Remove takes c out of sessionID's member set. Empty sets are deleted.
func (r *Registry) Remove(sessionID string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(sessionID, c)
}

// Members returns a snapshot of the connections bound to sessionID.
func (r *Registry) Members(sessionID string) []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.sessions[sessionID]
	out := make([]*Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// Join binds c to sessionID, leaving its previous session first. It
// returns the previous session id, empty when there was none.
func (r *Registry) Join(c *Conn, sessionID string) (previous string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous = c.SessionID()
	if previous != "" && previous != sessionID {
		r.removeLocked(previous, c)
	}
	r.addLocked(sessionID, c)
	c.setSessionID(sessionID)
	r.users[c.UserID()] = sessionID
	return previous
}

// Leave unbinds c from its session and returns that session id. The
// user entry is dropped only while it still points at the left session.
func (r *Registry) Leave(c *Conn) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID := c.SessionID()
	if sessionID == "" {
		return ""
	}
	r.removeLocked(sessionID, c)
	c.setSessionID("")
	if r.users[c.UserID()] == sessionID {
		delete(r.users, c.UserID())
	}
	return sessionID
}

// SessionOf returns the session userID joined last.
func (r *Registry) SessionOf(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessionID, ok := r.users[userID]
	return sessionID, ok
}

// Sessions lists the ids of sessions with at least one member.
func (r *Registry) Sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of connections bound to sessionID.
func (r *Registry) Count(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[sessionID])
}

func (r *Registry) addLocked(sessionID string, c *Conn) {
	set, ok := r.sessions[sessionID]
	if !ok {
		set = make(map[*Conn]struct{})
		r.sessions[sessionID] = set
	}
	set[c] = struct{}{}
}

func (r *Registry) removeLocked(sessionID string, c *Conn) {
	set, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.sessions, sessionID)
	}
}

package chat

import (
	"sort"
	"sync"
	"time"
)

// Session is the presence of one user across all of their connections.
type Session struct {
	UserID      string
	DisplayName string
	LastSeen    time.Time
	conns       map[string]*Client
}

func (s *Session) presence() Presence {
	return Presence{
		UserID:      s.UserID,
		DisplayName: s.DisplayName,
		LastSeen:    s.LastSeen,
		Connections: len(s.conns),
	}
}

// Registry maps users to their live connections. A session exists exactly
// while its user has at least one connection.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session // userID -> session
	clients  map[string]*Client  // connID -> client
	now      func() time.Time
}

func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		sessions: map[string]*Session{},
		clients:  map[string]*Client{},
		now:      now,
	}
}

// Add registers the connection, creating the user's session when needed,
// and returns the presence snapshot after the change.
func (r *Registry) Add(c *Client) []Presence {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[c.UserID]
	if !ok {
		s = &Session{UserID: c.UserID, conns: map[string]*Client{}}
		r.sessions[c.UserID] = s
	}
	// 最近一次认证的名字为准
	s.DisplayName = c.Name
	s.LastSeen = r.now()
	s.conns[c.ID] = c
	r.clients[c.ID] = c
	return r.snapshotLocked()
}

// Remove drops the connection. When it was the user's last one the session
// is destroyed and its final presence returned with last=true. Unknown
// connections are ignored.
func (r *Registry) Remove(connID string) (p Presence, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[connID]
	if !ok {
		return Presence{}, false
	}
	delete(r.clients, connID)

	s, ok := r.sessions[c.UserID]
	if !ok {
		return Presence{}, false
	}
	delete(s.conns, connID)
	s.LastSeen = r.now()
	if len(s.conns) > 0 {
		return s.presence(), false
	}
	delete(r.sessions, c.UserID)
	return s.presence(), true
}

// Touch refreshes the user's last-seen time.
func (r *Registry) Touch(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok {
		s.LastSeen = r.now()
	}
}

// Snapshot lists online users ordered by display name.
func (r *Registry) Snapshot() []Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []Presence {
	out := make([]Presence, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.presence())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Clients returns every live connection.
func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Client looks up a connection.
func (r *Registry) Client(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

// DisplayName returns the name of an online user.
func (r *Registry) DisplayName(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	if !ok {
		return "", false
	}
	return s.DisplayName, true
}

// ConnectionCount returns how many connections the user holds.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.sessions[userID]; ok {
		return len(s.conns)
	}
	return 0
}

// Package presence tracks which users currently have live connections on
// this server. The registry exclusively owns the connection->user and
// user->connections indices; the transport layer feeds it lifecycle events
// and the router reads it to fan out deliveries.
package presence

import (
	"sync"
	"time"
)

// Entry records one live connection for a user. A user may hold any number
// of simultaneous entries (multi-device); removing one never touches the
// others.
type Entry struct {
	UserID      string
	ConnID      string
	ConnectedAt time.Time
}

// Registry is the in-memory presence index. All methods are safe for
// concurrent use; mutations are serialized under one mutex so a reader can
// never observe a half-updated entry.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]Entry
	byUser map[string]map[string]struct{} // userID -> set of connIDs
}

// NewRegistry creates an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]Entry),
		byUser: make(map[string]map[string]struct{}),
	}
}

// Register adds a presence entry for the connection. Registering a connID
// that is already present changes nothing and is not an error. The return
// value reports whether this was the user's first live connection on this
// server, which drives the per-user delivery subscription.
func (r *Registry) Register(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byConn[connID]; exists {
		return false
	}

	r.byConn[connID] = Entry{
		UserID:      userID,
		ConnID:      connID,
		ConnectedAt: time.Now(),
	}

	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]struct{})
		r.byUser[userID] = conns
	}
	conns[connID] = struct{}{}
	return len(conns) == 1
}

// Unregister removes the entry for connID if present. Unregistering an
// unknown connID is a no-op with ok=false. On removal it returns the user
// the connection belonged to and whether it was that user's last live
// connection on this server.
func (r *Registry) Unregister(connID string) (userID string, last bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.byConn[connID]
	if !exists {
		return "", false, false
	}
	delete(r.byConn, connID)

	conns := r.byUser[entry.UserID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, entry.UserID)
		return entry.UserID, true, true
	}
	return entry.UserID, false, true
}

// ActiveConnections returns a snapshot of the user's live connection ids.
// An empty slice means the user is offline on this server.
func (r *Registry) ActiveConnections(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]string, 0, len(r.byUser[userID]))
	for connID := range r.byUser[userID] {
		conns = append(conns, connID)
	}
	return conns
}

// UserOf returns the user a connection is registered to.
func (r *Registry) UserOf(connID string) (string, bool) {
	r.mu.RLock()
	entry, ok := r.byConn[connID]
	r.mu.RUnlock()
	return entry.UserID, ok
}

// Connections returns the total number of live connections.
func (r *Registry) Connections() int {
	r.mu.RLock()
	n := len(r.byConn)
	r.mu.RUnlock()
	return n
}

// Users returns the number of distinct users with at least one live
// connection.
func (r *Registry) Users() int {
	r.mu.RLock()
	n := len(r.byUser)
	r.mu.RUnlock()
	return n
}

// Entries returns a snapshot of every presence entry, for metrics and
// operational inspection.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.byConn))
	for _, e := range r.byConn {
		entries = append(entries, e)
	}
	return entries
}

package realtime

import (
	"sort"
	"sync"
)

// Registry maps each online user to the connection that backs it. A user
// has at most one entry; a later Connect overwrites the earlier one.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]string // userID -> connID
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]string)}
}

// Connect marks userID online behind connID. It returns the connection id
// that was replaced, if any.
func (r *Registry) Connect(userID, connID string) (previous string, replaced bool) {
	r.mu.Lock()
	previous, replaced = r.conns[userID]
	r.conns[userID] = connID
	n := len(r.conns)
	r.mu.Unlock()

	onlineUsers.Set(float64(n))
	return previous, replaced
}

// Disconnect removes userID unconditionally and reports whether it was online.
func (r *Registry) Disconnect(userID string) bool {
	r.mu.Lock()
	_, ok := r.conns[userID]
	delete(r.conns, userID)
	n := len(r.conns)
	r.mu.Unlock()

	onlineUsers.Set(float64(n))
	return ok
}

// DisconnectConn removes userID only while its entry is still connID. A
// stale socket closing after the user reconnected elsewhere leaves the newer
// entry in place and returns false.
func (r *Registry) DisconnectConn(userID, connID string) bool {
	r.mu.Lock()
	cur, ok := r.conns[userID]
	if ok && cur == connID {
		delete(r.conns, userID)
	} else {
		ok = false
	}
	n := len(r.conns)
	r.mu.Unlock()

	onlineUsers.Set(float64(n))
	return ok
}

// IsOnline reports whether userID holds a live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	_, ok := r.conns[userID]
	r.mu.RUnlock()
	return ok
}

// ConnID returns the connection backing userID.
func (r *Registry) ConnID(userID string) (string, bool) {
	r.mu.RLock()
	id, ok := r.conns[userID]
	r.mu.RUnlock()
	return id, ok
}

// Online returns the online user ids in sorted order.
func (r *Registry) Online() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of online users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

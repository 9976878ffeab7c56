// Package registry maps logical users to their single live connection.
package registry

import (
	"sort"
	"sync"
)

// Registry is the process-wide mapping of user id to live connection id.
// A user has at most one registered connection; the most recent Register wins.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]string // user -> conn
	byConn map[string]string // conn -> user
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byUser: make(map[string]string),
		byConn: make(map[string]string),
	}
}

// Register maps userID to connID, replacing any previous connection for the
// user. It returns the replaced connection id, if any.
func (r *Registry) Register(userID, connID string) (replaced string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byUser[userID]; ok && prev != connID {
		delete(r.byConn, prev)
		replaced = prev
	}
	// a connection id belongs to one user only
	if owner, ok := r.byConn[connID]; ok && owner != userID {
		delete(r.byUser, owner)
	}

	r.byUser[userID] = connID
	r.byConn[connID] = userID
	return replaced
}

// Unregister removes connID. The user entry is only dropped while connID is
// still the user's current connection, so a late disconnect of a superseded
// connection leaves the newer registration intact.
func (r *Registry) Unregister(connID string) (userID string, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connID)

	if r.byUser[userID] != connID {
		return userID, false
	}
	delete(r.byUser, userID)
	return userID, true
}

// Lookup returns the live connection of userID.
func (r *Registry) Lookup(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.byUser[userID]
	return connID, ok
}

// Users returns the current presence set, sorted.
func (r *Registry) Users() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.byUser))
	for u := range r.byUser {
		out = append(out, u)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

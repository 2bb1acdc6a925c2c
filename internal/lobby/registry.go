// internal/lobby/registry.go
package lobby

import "sync"

// Registry maps player identity to the current live connection. A reconnect
// overwrites the stale mapping; removal is compare-and-delete so a stale
// session cannot unbind a player who already reconnected elsewhere.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*Conn
}

// NewRegistry initializes an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Conn),
	}
}

// Bind records conn as the player's current connection, replacing any
// previous one.
func (r *Registry) Bind(playerID string, conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[playerID] = conn
}

// Get returns the player's current connection, if any.
func (r *Registry) Get(playerID string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[playerID]
	return c, ok
}

// Release deletes the mapping only if conn is still the player's current
// connection.
func (r *Registry) Release(playerID string, conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[playerID]; ok && cur == conn {
		delete(r.conns, playerID)
	}
}

// Count reports the number of registered player connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// internal/lobby/lobby_store.go
package lobby

import (
	"fmt"
	"sync"
)

// Store holds every active lobby in memory, keyed by code. It is the single
// source of truth for lobby membership and status. Nothing is persisted; a
// process restart starts empty.
type Store struct {
	mu      sync.Mutex
	lobbies map[string]*Lobby
}

// NewStore initializes an empty Store.
func NewStore() *Store {
	return &Store{
		lobbies: make(map[string]*Lobby),
	}
}

// Create inserts a new lobby. It fails if the code is already taken so the
// caller can retry with a fresh code.
func (s *Store) Create(l *Lobby) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.lobbies[l.ID]; exists {
		return fmt.Errorf("lobby code %s already in use", l.ID)
	}
	s.lobbies[l.ID] = l
	return nil
}

// Get retrieves a lobby by code.
func (s *Store) Get(id string) (*Lobby, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lobbies[id]
	return l, ok
}

// Delete removes a lobby. Called the moment a lobby's member list becomes
// empty; no empty lobby is ever left behind.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lobbies, id)
}

// Count reports the number of active lobbies.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lobbies)
}

// Lobbies returns a copy of the current lobby set so callers can iterate
// without holding the store lock.
func (s *Store) Lobbies() []*Lobby {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Lobby, 0, len(s.lobbies))
	for _, l := range s.lobbies {
		out = append(out, l)
	}
	return out
}

// internal/lobby/lobby.go
package lobby

import (
	"encoding/json"
	"sync"
)

// Lobby status values. A lobby only ever moves waiting -> in-game.
const (
	StatusWaiting = "waiting"
	StatusInGame  = "in-game"
)

// MaxMembers caps lobby membership; the game is strictly two-player.
const MaxMembers = 2

// Outbound event types sent to clients.
const (
	EventLobbyUpdate   = "lobby-update"
	EventGameStarted   = "game-started"
	EventGameStateSync = "game-state-sync"
)

// Player is one member slot in a lobby. The slot survives a transport
// disconnect for the duration of the grace window.
type Player struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Ready        bool   `json:"ready"`
	Disconnected bool   `json:"disconnected"`

	Conn *Conn `json:"-"`

	// disconnectEpoch increments on every disconnect so a grace timer from
	// an earlier disconnect can detect it is stale and must not evict.
	disconnectEpoch uint64
}

// Lobby pairs up to two players behind a short shareable code. All mutation
// happens under Mu, held for the duration of each logical operation.
type Lobby struct {
	ID      string    `json:"id"`
	HostID  string    `json:"hostId"`
	Members []*Player `json:"players"`
	Status  string    `json:"status"`

	// MatchState is the authoritative opaque match payload. Nil while
	// waiting; set at match start and overwritten by relayed updates. The
	// server never interprets it.
	MatchState json.RawMessage `json:"gameState"`

	// OnEmpty is called after the last member is removed, typically wired
	// to Store.Delete by the coordinator. Invoked with Mu released.
	OnEmpty func(lobbyID string) `json:"-"`

	Mu sync.Mutex `json:"-"`
}

// Snapshot is a deep copy of the lobby record as broadcast to clients. It
// mirrors the wire shape of the Lobby itself but carries no live connection
// references, so it can be serialized after the lock is released.
type Snapshot struct {
	ID         string           `json:"id"`
	HostID     string           `json:"hostId"`
	Players    []PlayerSnapshot `json:"players"`
	Status     string           `json:"status"`
	MatchState json.RawMessage  `json:"gameState"`
}

// PlayerSnapshot is the member view inside a Snapshot.
type PlayerSnapshot struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Ready        bool   `json:"ready"`
	Disconnected bool   `json:"disconnected"`
}

// Snapshot copies the current record under the lobby lock. Used for the
// debug listing endpoint; broadcast paths use snapshotLocked directly.
func (l *Lobby) Snapshot() Snapshot {
	l.Mu.Lock()
	defer l.Mu.Unlock()
	return l.snapshotLocked()
}

// snapshotLocked copies the current record. Assumes Mu is held, so the
// snapshot reflects the state exactly as of the mutation that triggered it.
func (l *Lobby) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:      l.ID,
		HostID:  l.HostID,
		Status:  l.Status,
		Players: make([]PlayerSnapshot, 0, len(l.Members)),
	}
	if l.MatchState != nil {
		snap.MatchState = append(json.RawMessage(nil), l.MatchState...)
	}
	for _, m := range l.Members {
		snap.Players = append(snap.Players, PlayerSnapshot{
			ID:           m.ID,
			Name:         m.Name,
			Ready:        m.Ready,
			Disconnected: m.Disconnected,
		})
	}
	return snap
}

// memberLocked returns the member with the given player id, or nil.
// Assumes Mu is held.
func (l *Lobby) memberLocked(playerID string) *Player {
	for _, m := range l.Members {
		if m.ID == playerID {
			return m
		}
	}
	return nil
}

// broadcastLocked sends msg to every member with a live connection.
// Assumes Mu is held; Conn.Write never blocks, so holding the lock is safe.
func (l *Lobby) broadcastLocked(msg map[string]interface{}) {
	for _, m := range l.Members {
		if m.Conn == nil || m.Disconnected {
			continue
		}
		m.Conn.Write(msg)
	}
}

// broadcastSnapshotLocked fans the full current record out to the group.
// Assumes Mu is held.
func (l *Lobby) broadcastSnapshotLocked() {
	l.broadcastLocked(map[string]interface{}{
		"type":  EventLobbyUpdate,
		"lobby": l.snapshotLocked(),
	})
}

// relayStateLocked sends a match-state delta to every member except the
// originating connection. Assumes Mu is held.
func (l *Lobby) relayStateLocked(delta json.RawMessage, sender *Conn) {
	msg := map[string]interface{}{
		"type":  EventGameStateSync,
		"state": delta,
	}
	for _, m := range l.Members {
		if m.Conn == nil || m.Conn == sender || m.Disconnected {
			continue
		}
		m.Conn.Write(msg)
	}
}

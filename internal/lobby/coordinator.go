// internal/lobby/coordinator.go
package lobby

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotfe/matchserver/internal/cache"
	"github.com/sirupsen/logrus"
)

// DefaultGraceWindow is how long a disconnected player's slot is preserved
// before the reconnection supervisor evicts them.
const DefaultGraceWindow = 30 * time.Second

// createRetries bounds the collision retry loop for code generation.
// At a 32^6 keyspace a single retry is already unlikely.
const createRetries = 5

// Coordinator owns the lobby store and connection registry and implements
// every session operation. Each operation validates, mutates the target
// lobby under its mutex, then broadcasts the resulting state, so clients
// observe events in store-mutation order.
type Coordinator struct {
	Store       *Store
	Registry    *Registry
	GraceWindow time.Duration

	logger *logrus.Logger
}

// NewCoordinator builds a Coordinator with empty state and the default
// grace window.
func NewCoordinator(logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		Store:       NewStore(),
		Registry:    NewRegistry(),
		GraceWindow: DefaultGraceWindow,
		logger:      logger,
	}
}

// CreateLobby builds a fresh lobby with the caller as sole member and host.
// It retries code generation on the (practically unreachable) collision.
func (co *Coordinator) CreateLobby(c *Conn, playerID, playerName string) (string, error) {
	p := &Player{ID: playerID, Name: playerName, Conn: c}
	l := &Lobby{
		HostID:  playerID,
		Members: []*Player{p},
		Status:  StatusWaiting,
	}
	l.OnEmpty = func(lobbyID string) {
		co.Store.Delete(lobbyID)
		co.logger.Infof("lobby %s deleted (empty)", lobbyID)
	}

	created := false
	for i := 0; i < createRetries; i++ {
		l.ID = NewCode()
		if err := co.Store.Create(l); err == nil {
			created = true
			break
		}
	}
	if !created {
		return "", fmt.Errorf("could not allocate a lobby code after %d attempts", createRetries)
	}

	co.Registry.Bind(playerID, c)
	c.LobbyID = l.ID
	c.Player = p

	l.Mu.Lock()
	l.broadcastSnapshotLocked()
	l.Mu.Unlock()

	co.logger.WithFields(logrus.Fields{
		"lobby":  l.ID,
		"player": playerID,
		"conn":   c.ID,
	}).Infof("player %s created lobby %s", playerName, l.ID)
	return l.ID, nil
}

// JoinLobby adds the caller to an existing lobby, or rebinds an existing
// member slot when the same player id reappears (reconnection). A
// reconnecting member is never rejected for capacity or status; they are
// already counted in the member list.
func (co *Coordinator) JoinLobby(c *Conn, lobbyID, playerID, playerName string) error {
	l, ok := co.Store.Get(lobbyID)
	if !ok {
		return ErrLobbyNotFound
	}

	l.Mu.Lock()

	if m := l.memberLocked(playerID); m != nil {
		old := m.Conn
		m.Conn = c
		m.Disconnected = false
		co.Registry.Bind(playerID, c)
		c.LobbyID = l.ID
		c.Player = m
		l.broadcastSnapshotLocked()
		l.Mu.Unlock()

		// The replaced connection's pumps stop via its context; its late
		// disconnect event is ignored because the slot no longer points
		// at it.
		if old != nil && old != c && old.Cancel != nil {
			old.Cancel()
		}
		co.logger.Infof("player %s reconnected to lobby %s", playerName, lobbyID)
		return nil
	}

	if len(l.Members) >= MaxMembers {
		l.Mu.Unlock()
		return ErrLobbyFull
	}
	if l.Status == StatusInGame {
		l.Mu.Unlock()
		return ErrAlreadyStarted
	}

	p := &Player{ID: playerID, Name: playerName, Conn: c}
	l.Members = append(l.Members, p)
	co.Registry.Bind(playerID, c)
	c.LobbyID = l.ID
	c.Player = p
	l.broadcastSnapshotLocked()
	l.Mu.Unlock()

	co.logger.Infof("player %s joined lobby %s", playerName, lobbyID)
	return nil
}

// LeaveLobby removes the caller from their current lobby. A connection with
// no lobby context no-ops; such calls legitimately arrive after an already
// processed leave.
func (co *Coordinator) LeaveLobby(c *Conn) {
	l, p := co.currentLobby(c)
	if l == nil {
		c.LobbyID = ""
		c.Player = nil
		return
	}

	l.Mu.Lock()
	empty := co.removeMemberLocked(l, p.ID)
	l.Mu.Unlock()

	co.Registry.Release(p.ID, c)
	if empty && l.OnEmpty != nil {
		l.OnEmpty(l.ID)
	}

	co.logger.Infof("player %s left lobby %s", p.Name, l.ID)
	c.LobbyID = ""
	c.Player = nil
}

// ToggleReady flips the caller's ready flag and broadcasts the new state.
// No-ops if the caller has no lobby context or was already evicted.
func (co *Coordinator) ToggleReady(c *Conn) {
	l, p := co.currentLobby(c)
	if l == nil {
		return
	}

	l.Mu.Lock()
	defer l.Mu.Unlock()
	m := l.memberLocked(p.ID)
	if m == nil {
		return
	}
	m.Ready = !m.Ready
	co.logger.Infof("lobby %s: player %s ready=%v", l.ID, m.Name, m.Ready)
	l.broadcastSnapshotLocked()
}

// StartGame transitions the lobby to in-game, records the initial match
// state and announces the start. Only the host may start, and only once
// every member is ready.
func (co *Coordinator) StartGame(c *Conn, initial json.RawMessage) error {
	l, p := co.currentLobby(c)
	if l == nil {
		return nil
	}

	l.Mu.Lock()
	if l.HostID != p.ID {
		l.Mu.Unlock()
		return ErrNotHost
	}
	if l.Status == StatusInGame {
		l.Mu.Unlock()
		return ErrAlreadyStarted
	}
	for _, m := range l.Members {
		if !m.Ready {
			l.Mu.Unlock()
			return ErrNotReady
		}
	}

	l.Status = StatusInGame
	l.MatchState = initial

	// Two distinct broadcasts: clients react to "lobby changed" and
	// "match begins" independently.
	l.broadcastSnapshotLocked()
	l.broadcastLocked(map[string]interface{}{
		"type":  EventGameStarted,
		"state": initial,
	})
	l.Mu.Unlock()

	co.logger.Infof("game started in lobby %s", l.ID)
	co.journal(l.ID, p.ID, EventGameStarted, initial)
	return nil
}

// StateUpdate overwrites the authoritative match state and relays the delta
// to every other member. No-ops unless the lobby is in-game.
func (co *Coordinator) StateUpdate(c *Conn, delta json.RawMessage) {
	l, p := co.currentLobby(c)
	if l == nil {
		return
	}

	l.Mu.Lock()
	if l.Status != StatusInGame {
		l.Mu.Unlock()
		return
	}
	l.MatchState = delta
	l.relayStateLocked(delta, c)
	l.Mu.Unlock()

	co.journal(l.ID, p.ID, EventGameStateSync, delta)
}

// Disconnect marks the caller's member slot as disconnected and schedules
// the reconnection supervisor. The member is not removed and the host is
// not transferred here; only a confirmed non-reconnection does that.
func (co *Coordinator) Disconnect(c *Conn) {
	l, p := co.currentLobby(c)
	if l == nil {
		if c.Player != nil {
			co.Registry.Release(c.Player.ID, c)
		}
		return
	}

	l.Mu.Lock()
	m := l.memberLocked(p.ID)
	if m == nil || m.Conn != c {
		// Stale connection: the player already reconnected elsewhere or
		// was evicted.
		l.Mu.Unlock()
		return
	}
	m.Disconnected = true
	m.disconnectEpoch++
	epoch := m.disconnectEpoch
	l.broadcastSnapshotLocked()
	l.Mu.Unlock()

	co.logger.Infof("lobby %s: player %s disconnected, grace window %s", l.ID, m.Name, co.GraceWindow)

	lobbyID, playerID := l.ID, p.ID
	time.AfterFunc(co.GraceWindow, func() {
		co.expireDisconnect(lobbyID, playerID, epoch)
	})
}

// expireDisconnect is the reconnection supervisor firing. The epoch check
// makes a timer from a superseded disconnect a no-op, closing the
// disconnect/reconnect/disconnect race.
func (co *Coordinator) expireDisconnect(lobbyID, playerID string, epoch uint64) {
	l, ok := co.Store.Get(lobbyID)
	if !ok {
		return
	}

	l.Mu.Lock()
	m := l.memberLocked(playerID)
	if m == nil || !m.Disconnected || m.disconnectEpoch != epoch {
		l.Mu.Unlock()
		return
	}
	conn := m.Conn
	empty := co.removeMemberLocked(l, playerID)
	l.Mu.Unlock()

	co.Registry.Release(playerID, conn)
	if empty && l.OnEmpty != nil {
		l.OnEmpty(l.ID)
	}
	co.logger.Infof("lobby %s: removed player %s after grace window expiry", lobbyID, playerID)
}

// removeMemberLocked takes the player out of the member list, transfers the
// host role to the next member in join order if needed, and broadcasts the
// updated snapshot to whoever remains. Assumes l.Mu is held. Returns true
// if the lobby is now empty.
func (co *Coordinator) removeMemberLocked(l *Lobby, playerID string) bool {
	kept := l.Members[:0]
	for _, m := range l.Members {
		if m.ID != playerID {
			kept = append(kept, m)
		}
	}
	l.Members = kept

	if l.HostID == playerID && len(l.Members) > 0 {
		l.HostID = l.Members[0].ID
		co.logger.Infof("lobby %s: host transferred to %s", l.ID, l.Members[0].Name)
	}

	l.broadcastSnapshotLocked()
	return len(l.Members) == 0
}

// currentLobby resolves the caller's session context, returning nil if the
// connection is unbound or its lobby is gone.
func (co *Coordinator) currentLobby(c *Conn) (*Lobby, *Player) {
	if c.LobbyID == "" || c.Player == nil {
		return nil, nil
	}
	l, ok := co.Store.Get(c.LobbyID)
	if !ok {
		return nil, nil
	}
	return l, c.Player
}

// journal pushes a match lifecycle record to the Redis event queue when one
// is configured. Best effort: never blocks or fails the lobby operation.
func (co *Coordinator) journal(lobbyID, playerID, eventType string, payload json.RawMessage) {
	if !cache.Enabled() {
		return
	}
	rec := cache.MatchEventRecord{
		LobbyID:   lobbyID,
		PlayerID:  playerID,
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := cache.PublishMatchEvent(ctx, rec); err != nil {
			co.logger.Warnf("match event journal publish failed: %v", err)
		}
	}()
}

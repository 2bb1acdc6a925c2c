// internal/lobby/coordinator_test.go
package lobby

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator() *Coordinator {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewCoordinator(logger)
}

func newTestConn() *Conn {
	return NewConn(func() {})
}

// drain empties a connection's outbound channel.
func drain(c *Conn) []map[string]interface{} {
	var msgs []map[string]interface{}
	for {
		select {
		case m := <-c.OutChan:
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
}

// lastOfType returns the most recent pending message of the given type,
// discarding everything else.
func lastOfType(c *Conn, typ string) map[string]interface{} {
	var last map[string]interface{}
	for _, m := range drain(c) {
		if m["type"] == typ {
			last = m
		}
	}
	return last
}

func lastSnapshot(t *testing.T, c *Conn) Snapshot {
	t.Helper()
	msg := lastOfType(c, EventLobbyUpdate)
	require.NotNil(t, msg, "expected a lobby-update message")
	snap, ok := msg["lobby"].(Snapshot)
	require.True(t, ok, "lobby-update should carry a Snapshot")
	return snap
}

// setupPair creates a lobby with host A and joins B, draining setup traffic.
func setupPair(t *testing.T, co *Coordinator) (connA, connB *Conn, lobbyID string) {
	t.Helper()
	connA = newTestConn()
	connB = newTestConn()

	lobbyID, err := co.CreateLobby(connA, "player-a", "Alice")
	require.NoError(t, err)

	require.NoError(t, co.JoinLobby(connB, lobbyID, "player-b", "Bob"))
	drain(connA)
	drain(connB)
	return connA, connB, lobbyID
}

func TestCreateLobby(t *testing.T) {
	co := newTestCoordinator()
	conn := newTestConn()

	lobbyID, err := co.CreateLobby(conn, "player-a", "Alice")
	require.NoError(t, err)
	assert.Len(t, lobbyID, 6)
	assert.Equal(t, 1, co.Store.Count())
	assert.Equal(t, 1, co.Registry.Count())

	snap := lastSnapshot(t, conn)
	assert.Equal(t, lobbyID, snap.ID)
	assert.Equal(t, "player-a", snap.HostID)
	assert.Equal(t, StatusWaiting, snap.Status)
	require.Len(t, snap.Players, 1)
	assert.Equal(t, "Alice", snap.Players[0].Name)
	assert.False(t, snap.Players[0].Ready)
	assert.Nil(t, snap.MatchState)
}

func TestJoinLobbyNotFound(t *testing.T) {
	co := newTestCoordinator()
	conn := newTestConn()

	err := co.JoinLobby(conn, "ZZZZZZ", "player-b", "Bob")
	assert.ErrorIs(t, err, ErrLobbyNotFound)
	assert.Empty(t, conn.LobbyID)
}

func TestJoinLobbyFull(t *testing.T) {
	co := newTestCoordinator()
	_, _, lobbyID := setupPair(t, co)

	connC := newTestConn()
	err := co.JoinLobby(connC, lobbyID, "player-c", "Carol")
	assert.ErrorIs(t, err, ErrLobbyFull)

	l, ok := co.Store.Get(lobbyID)
	require.True(t, ok)
	assert.Len(t, l.Snapshot().Players, 2)
}

func TestJoinLobbyAlreadyStarted(t *testing.T) {
	co := newTestCoordinator()
	connA := newTestConn()

	lobbyID, err := co.CreateLobby(connA, "player-a", "Alice")
	require.NoError(t, err)
	co.ToggleReady(connA)
	require.NoError(t, co.StartGame(connA, json.RawMessage(`{"turn":1}`)))

	connB := newTestConn()
	err = co.JoinLobby(connB, lobbyID, "player-b", "Bob")
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestJoinLobbyReconnection(t *testing.T) {
	co := newTestCoordinator()
	connA, connB, lobbyID := setupPair(t, co)

	// Start the match so capacity and status checks would both reject a
	// stranger; the reconnecting member must bypass them.
	co.ToggleReady(connA)
	co.ToggleReady(connB)
	require.NoError(t, co.StartGame(connA, json.RawMessage(`{"turn":1}`)))

	co.Disconnect(connB)
	drain(connA)

	connB2 := newTestConn()
	require.NoError(t, co.JoinLobby(connB2, lobbyID, "player-b", "Bob"))

	snap := lastSnapshot(t, connA)
	require.Len(t, snap.Players, 2)
	assert.False(t, snap.Players[1].Disconnected)

	cur, ok := co.Registry.Get("player-b")
	require.True(t, ok)
	assert.Same(t, connB2, cur)

	l, _ := co.Store.Get(lobbyID)
	l.Mu.Lock()
	assert.Same(t, connB2, l.memberLocked("player-b").Conn)
	assert.Len(t, l.Members, 2)
	l.Mu.Unlock()
}

func TestLeaveTransfersHost(t *testing.T) {
	co := newTestCoordinator()
	connA, connB, lobbyID := setupPair(t, co)

	co.LeaveLobby(connA)

	snap := lastSnapshot(t, connB)
	assert.Equal(t, "player-b", snap.HostID)
	require.Len(t, snap.Players, 1)
	assert.Equal(t, "player-b", snap.Players[0].ID)

	assert.Empty(t, connA.LobbyID)
	assert.Nil(t, connA.Player)
	assert.Equal(t, 1, co.Store.Count())

	_, bound := co.Registry.Get("player-a")
	assert.False(t, bound)
	_, ok := co.Store.Get(lobbyID)
	assert.True(t, ok)
}

func TestLeaveLastMemberDeletesLobby(t *testing.T) {
	co := newTestCoordinator()
	connA, connB, lobbyID := setupPair(t, co)

	co.LeaveLobby(connB)
	co.LeaveLobby(connA)

	assert.Equal(t, 0, co.Store.Count())
	assert.Equal(t, 0, co.Registry.Count())
	_, ok := co.Store.Get(lobbyID)
	assert.False(t, ok)
}

func TestLeaveWithoutLobbyNoops(t *testing.T) {
	co := newTestCoordinator()
	conn := newTestConn()

	co.LeaveLobby(conn)
	co.ToggleReady(conn)
	co.StateUpdate(conn, json.RawMessage(`{"turn":9}`))
	assert.NoError(t, co.StartGame(conn, nil))
	assert.Empty(t, drain(conn))
}

func TestToggleReady(t *testing.T) {
	co := newTestCoordinator()
	connA, _, _ := setupPair(t, co)

	co.ToggleReady(connA)
	snap := lastSnapshot(t, connA)
	assert.True(t, snap.Players[0].Ready)

	co.ToggleReady(connA)
	snap = lastSnapshot(t, connA)
	assert.False(t, snap.Players[0].Ready)
}

func TestStartGameGating(t *testing.T) {
	co := newTestCoordinator()
	connA, connB, lobbyID := setupPair(t, co)
	initial := json.RawMessage(`{"turn":1}`)

	assert.ErrorIs(t, co.StartGame(connB, initial), ErrNotHost)
	assert.ErrorIs(t, co.StartGame(connA, initial), ErrNotReady)

	co.ToggleReady(connA)
	assert.ErrorIs(t, co.StartGame(connA, initial), ErrNotReady)
	co.ToggleReady(connB)
	drain(connA)
	drain(connB)

	require.NoError(t, co.StartGame(connA, initial))

	for _, conn := range []*Conn{connA, connB} {
		started := lastOfType(conn, EventGameStarted)
		require.NotNil(t, started)
		assert.JSONEq(t, `{"turn":1}`, string(started["state"].(json.RawMessage)))
	}

	l, ok := co.Store.Get(lobbyID)
	require.True(t, ok)
	snap := l.Snapshot()
	assert.Equal(t, StatusInGame, snap.Status)
	assert.JSONEq(t, `{"turn":1}`, string(snap.MatchState))

	// The transition is one-way; a second start must not overwrite the
	// initial state through the start path.
	assert.ErrorIs(t, co.StartGame(connA, json.RawMessage(`{"turn":99}`)), ErrAlreadyStarted)
}

func TestStateUpdateRelayExcludesSender(t *testing.T) {
	co := newTestCoordinator()
	connA, connB, lobbyID := setupPair(t, co)

	// Ignored while waiting.
	co.StateUpdate(connB, json.RawMessage(`{"turn":0}`))
	assert.Nil(t, lastOfType(connA, EventGameStateSync))

	co.ToggleReady(connA)
	co.ToggleReady(connB)
	require.NoError(t, co.StartGame(connA, json.RawMessage(`{"turn":1}`)))
	drain(connA)
	drain(connB)

	co.StateUpdate(connB, json.RawMessage(`{"turn":2}`))

	sync := lastOfType(connA, EventGameStateSync)
	require.NotNil(t, sync)
	assert.JSONEq(t, `{"turn":2}`, string(sync["state"].(json.RawMessage)))
	assert.Nil(t, lastOfType(connB, EventGameStateSync), "sender must not receive its own delta")

	l, _ := co.Store.Get(lobbyID)
	assert.JSONEq(t, `{"turn":2}`, string(l.Snapshot().MatchState))
}

func TestDisconnectKeepsMemberDuringGrace(t *testing.T) {
	co := newTestCoordinator()
	co.GraceWindow = 80 * time.Millisecond
	connA, connB, lobbyID := setupPair(t, co)

	co.Disconnect(connA)

	snap := lastSnapshot(t, connB)
	require.Len(t, snap.Players, 2)
	assert.True(t, snap.Players[0].Disconnected)
	assert.Equal(t, "player-a", snap.HostID, "host must not transfer at disconnect time")

	time.Sleep(200 * time.Millisecond)

	snap = lastSnapshot(t, connB)
	require.Len(t, snap.Players, 1)
	assert.Equal(t, "player-b", snap.HostID)

	l, ok := co.Store.Get(lobbyID)
	require.True(t, ok)
	assert.Len(t, l.Snapshot().Players, 1)
	_, bound := co.Registry.Get("player-a")
	assert.False(t, bound)
}

func TestReconnectWithinGraceSurvivesTimer(t *testing.T) {
	co := newTestCoordinator()
	co.GraceWindow = 120 * time.Millisecond
	_, _, lobbyID := setupPair(t, co)

	connA, _ := co.Registry.Get("player-a")
	co.Disconnect(connA)

	time.Sleep(30 * time.Millisecond)
	connA2 := newTestConn()
	require.NoError(t, co.JoinLobby(connA2, lobbyID, "player-a", "Alice"))

	// Well past the original grace window.
	time.Sleep(250 * time.Millisecond)

	l, ok := co.Store.Get(lobbyID)
	require.True(t, ok)
	snap := l.Snapshot()
	require.Len(t, snap.Players, 2)
	assert.False(t, snap.Players[0].Disconnected)
	assert.Equal(t, "player-a", snap.HostID)
}

func TestStaleSupervisorDoesNotEvict(t *testing.T) {
	co := newTestCoordinator()
	co.GraceWindow = 200 * time.Millisecond
	_, _, lobbyID := setupPair(t, co)

	// Disconnect, reconnect, disconnect again in rapid succession. The
	// first timer fires while the player is once again disconnected, but
	// belongs to a superseded disconnect and must not evict.
	connA, _ := co.Registry.Get("player-a")
	co.Disconnect(connA)

	time.Sleep(50 * time.Millisecond)
	connA2 := newTestConn()
	require.NoError(t, co.JoinLobby(connA2, lobbyID, "player-a", "Alice"))

	time.Sleep(50 * time.Millisecond)
	co.Disconnect(connA2)

	// t ~= 250ms: the first timer (due at 200ms) has fired, the second
	// (due at 300ms) has not.
	time.Sleep(150 * time.Millisecond)
	l, ok := co.Store.Get(lobbyID)
	require.True(t, ok)
	snap := l.Snapshot()
	require.Len(t, snap.Players, 2, "stale supervisor must not evict")
	assert.True(t, snap.Players[0].Disconnected)

	// t ~= 450ms: the second timer has fired and evicts.
	time.Sleep(200 * time.Millisecond)
	snap = l.Snapshot()
	require.Len(t, snap.Players, 1)
	assert.Equal(t, "player-b", snap.Players[0].ID)
}

func TestStaleDisconnectIgnoredAfterReconnect(t *testing.T) {
	co := newTestCoordinator()
	_, connB, lobbyID := setupPair(t, co)

	connB2 := newTestConn()
	require.NoError(t, co.JoinLobby(connB2, lobbyID, "player-b", "Bob"))

	// The replaced connection's transport closes afterwards; its
	// disconnect must not mark the reconnected player.
	co.Disconnect(connB)

	l, _ := co.Store.Get(lobbyID)
	snap := l.Snapshot()
	require.Len(t, snap.Players, 2)
	assert.False(t, snap.Players[1].Disconnected)
}

func TestEvictionOfLastMemberDeletesLobby(t *testing.T) {
	co := newTestCoordinator()
	co.GraceWindow = 50 * time.Millisecond
	connA := newTestConn()

	lobbyID, err := co.CreateLobby(connA, "player-a", "Alice")
	require.NoError(t, err)

	co.Disconnect(connA)
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, 0, co.Store.Count())
	assert.Equal(t, 0, co.Registry.Count())
	_, ok := co.Store.Get(lobbyID)
	assert.False(t, ok)
}

// TestTwoPlayerMatchFlow walks the full happy path: create, join, ready up,
// start, then relay a delta to the other player only.
func TestTwoPlayerMatchFlow(t *testing.T) {
	co := newTestCoordinator()
	connA := newTestConn()
	connB := newTestConn()

	lobbyID, err := co.CreateLobby(connA, "player-a", "Alice")
	require.NoError(t, err)

	require.NoError(t, co.JoinLobby(connB, lobbyID, "player-b", "Bob"))
	for _, conn := range []*Conn{connA, connB} {
		snap := lastSnapshot(t, conn)
		assert.Len(t, snap.Players, 2)
		assert.Equal(t, StatusWaiting, snap.Status)
	}

	co.ToggleReady(connA)
	co.ToggleReady(connB)
	require.NoError(t, co.StartGame(connA, json.RawMessage(`{"turn":1}`)))

	for _, conn := range []*Conn{connA, connB} {
		started := lastOfType(conn, EventGameStarted)
		require.NotNil(t, started)
		assert.JSONEq(t, `{"turn":1}`, string(started["state"].(json.RawMessage)))
	}

	co.StateUpdate(connB, json.RawMessage(`{"turn":2}`))
	sync := lastOfType(connA, EventGameStateSync)
	require.NotNil(t, sync)
	assert.JSONEq(t, `{"turn":2}`, string(sync["state"].(json.RawMessage)))
	assert.Nil(t, lastOfType(connB, EventGameStateSync))
}

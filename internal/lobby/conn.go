// internal/lobby/conn.go
package lobby

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Conn is one live transport connection's presence in the coordinator. The
// transport layer drains OutChan; the coordinator never touches the socket.
//
// LobbyID and Player are the session-local state: which lobby and member
// this connection currently represents. They are only mutated by this
// connection's own event stream, so they need no lock of their own.
type Conn struct {
	ID      uuid.UUID
	Cancel  context.CancelFunc
	OutChan chan map[string]interface{}

	LobbyID string
	Player  *Player
}

// NewConn builds a connection handle with a buffered outbound channel.
func NewConn(cancel context.CancelFunc) *Conn {
	return &Conn{
		ID:      uuid.New(),
		Cancel:  cancel,
		OutChan: make(chan map[string]interface{}, 16),
	}
}

// Write pushes a message onto the connection's OutChan without blocking.
// If the channel is full the message is dropped; a stalled client must not
// stall lobby mutation.
func (c *Conn) Write(msg map[string]interface{}) {
	select {
	case c.OutChan <- msg:
	default:
		msgType, _ := msg["type"].(string)
		logrus.Warnf("conn %s: outbound channel full, dropped message type %q", c.ID, msgType)
	}
}

// WriteError sends a structured failure result to this connection only.
func (c *Conn) WriteError(msg string) {
	c.Write(map[string]interface{}{
		"type":    "error",
		"message": msg,
	})
}

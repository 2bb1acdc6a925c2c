// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/rotfe/matchserver/internal/lobby"
	"github.com/rotfe/matchserver/internal/middleware"
)

// wsMessage is the inbound client envelope. State is kept raw: match
// payloads are opaque to the server.
type wsMessage struct {
	Type       string          `json:"type"`
	LobbyID    string          `json:"lobbyId,omitempty"`
	PlayerID   string          `json:"playerId,omitempty"`
	PlayerName string          `json:"playerName,omitempty"`
	State      json.RawMessage `json:"state,omitempty"`
}

// SessionWSHandler upgrades the connection and runs the session loop: a
// write pump draining the connection's outbound channel and a read pump
// dispatching client envelopes to the coordinator. When the read pump exits
// for any reason the disconnect path runs, starting the grace window if the
// connection was in a lobby.
func SessionWSHandler(logger *logrus.Logger, co *lobby.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"lobby"},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "lobby" {
			c.Close(BadSubprotocolError, "client must speak the lobby subprotocol")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		conn := lobby.NewConn(cancel)

		middleware.LogWebSocketConnect(logger, r.RemoteAddr, r.URL.Path)

		go writePump(ctx, c, conn, logger)

		readErr := readPump(ctx, c, conn, co, logger)

		// The member slot survives this; the grace window decides whether
		// the player comes back or gets purged.
		co.Disconnect(conn)
		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, readErr)
	}
}

// readPump reads client envelopes until the connection dies, dispatching
// each to the coordinator. Returns the error that ended the session, or nil
// on a normal closure.
func readPump(ctx context.Context, c *websocket.Conn, conn *lobby.Conn, co *lobby.Coordinator, logger *logrus.Logger) error {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				return nil
			}
			if strings.Contains(err.Error(), "context canceled") {
				return nil
			}
			return err
		}

		if typ != websocket.MessageText {
			logger.Warnf("conn %s: ignoring non-text message type %d", conn.ID, typ)
			continue
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warnf("conn %s: invalid json: %v", conn.ID, err)
			conn.WriteError("Invalid JSON format")
			continue
		}

		dispatch(msg, conn, co, logger)
	}
}

// dispatch routes one envelope to the matching coordinator operation and
// writes the ack or failure result where the protocol defines one.
func dispatch(msg wsMessage, conn *lobby.Conn, co *lobby.Coordinator, logger *logrus.Logger) {
	switch msg.Type {
	case "create-lobby":
		if msg.PlayerID == "" {
			conn.Write(map[string]interface{}{
				"type": "create-lobby-result", "success": false, "error": "playerId is required",
			})
			return
		}
		lobbyID, err := co.CreateLobby(conn, msg.PlayerID, msg.PlayerName)
		if err != nil {
			logger.Errorf("conn %s: create-lobby failed: %v", conn.ID, err)
			conn.Write(map[string]interface{}{
				"type": "create-lobby-result", "success": false, "error": err.Error(),
			})
			return
		}
		conn.Write(map[string]interface{}{
			"type": "create-lobby-result", "success": true, "lobbyId": lobbyID,
		})

	case "join-lobby":
		if msg.PlayerID == "" {
			conn.Write(map[string]interface{}{
				"type": "join-lobby-result", "success": false, "error": "playerId is required",
			})
			return
		}
		if err := co.JoinLobby(conn, msg.LobbyID, msg.PlayerID, msg.PlayerName); err != nil {
			conn.Write(map[string]interface{}{
				"type": "join-lobby-result", "success": false, "error": err.Error(),
			})
			return
		}
		conn.Write(map[string]interface{}{
			"type": "join-lobby-result", "success": true,
		})

	case "leave-lobby":
		co.LeaveLobby(conn)

	case "toggle-ready":
		co.ToggleReady(conn)

	case "start-game":
		if err := co.StartGame(conn, msg.State); err != nil {
			logger.Warnf("conn %s: start-game rejected: %v", conn.ID, err)
			conn.WriteError(err.Error())
		}

	case "game-state-update":
		co.StateUpdate(conn, msg.State)

	default:
		logger.Warnf("conn %s: unknown message type %q", conn.ID, msg.Type)
		conn.WriteError(fmt.Sprintf("Unknown message type: %s", msg.Type))
	}
}

// writePump drains the connection's outbound channel onto the socket and
// keeps the connection alive with periodic pings.
func writePump(ctx context.Context, c *websocket.Conn, conn *lobby.Conn, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-conn.OutChan:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Warnf("conn %s: failed to marshal outgoing msg: %v", conn.ID, err)
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Warnf("conn %s: websocket write failed: %v", conn.ID, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Warnf("conn %s: ping failed, assuming disconnect: %v", conn.ID, err)
				return
			}
		}
	}
}

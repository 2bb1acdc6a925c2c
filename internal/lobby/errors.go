// internal/lobby/errors.go
package lobby

import "errors"

// Operation failures surfaced to the requesting connection. All are
// recovered locally; none corrupt shared state because validation happens
// before any store mutation.
var (
	ErrLobbyNotFound  = errors.New("lobby not found")
	ErrLobbyFull      = errors.New("lobby is full")
	ErrAlreadyStarted = errors.New("game already in progress")
	ErrNotHost        = errors.New("only the host can start the game")
	ErrNotReady       = errors.New("not all players are ready")
)

// internal/handlers/health.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rotfe/matchserver/internal/lobby"
)

// HealthHandler reports process liveness plus the current lobby and active
// connection counts.
func HealthHandler(co *lobby.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "ok",
			"lobbies": co.Store.Count(),
			"players": co.Registry.Count(),
		})
	}
}

// ListLobbiesHandler returns a snapshot of every active lobby. Debugging
// aid; not part of the client protocol.
func ListLobbiesHandler(co *lobby.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lobbies := co.Store.Lobbies()
		snaps := make([]lobby.Snapshot, 0, len(lobbies))
		for _, l := range lobbies {
			snaps = append(snaps, l.Snapshot())
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snaps)
	}
}

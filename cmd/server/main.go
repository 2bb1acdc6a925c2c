// cmd/server/main.go
package main

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/rotfe/matchserver/internal/cache"
	"github.com/rotfe/matchserver/internal/handlers"
	"github.com/rotfe/matchserver/internal/lobby"
	"github.com/rotfe/matchserver/internal/middleware"
)

func main() {
	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info")); err == nil {
		logger.SetLevel(lvl)
	}

	// Optional match-event journal; the server runs fine without it.
	if os.Getenv("REDIS_ADDR") != "" {
		if err := cache.ConnectRedis(); err != nil {
			logger.Warnf("match event journal disabled: %v", err)
		} else {
			logger.Info("match event journal enabled")
		}
	}

	co := lobby.NewCoordinator(logger)
	if secs := getEnvInt("GRACE_WINDOW_SEC", 30); secs > 0 {
		co.GraceWindow = time.Duration(secs) * time.Second
	}

	mux := http.NewServeMux()

	// health check
	mux.Handle("/", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.HealthHandler(co),
	)))

	// debug lobby listing
	mux.Handle("/lobbies", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.ListLobbiesHandler(co),
	)))

	// session websocket
	mux.Handle("/ws", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.SessionWSHandler(logger, co),
	)))

	addr := ":" + getEnv("PORT", "3001")
	logger.Infof("matchserver running on %s (grace window %s)", addr, co.GraceWindow)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// Package server exposes the game server over websockets. Each client
// connection speaks a JSON protocol: after a version handshake every
// client message is an API call with an action and a call id, and every
// server message is either a call reply or a state update batch.
package server

import (
	"net/http"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"

	"github.com/PurkkaKoodari/pyxyzzy/pkg/config"
	"github.com/PurkkaKoodari/pyxyzzy/pkg/game"
)

// Config holds the dependencies for a Server.
type Config struct {
	// Log is the logger for the connection layer. Defaults to a disabled
	// logger.
	Log slog.Logger
	// GameServer is the game server the connections act on.
	GameServer *game.GameServer
}

// Server accepts websocket connections and dispatches their API calls
// into the game server.
type Server struct {
	log   slog.Logger
	games *game.GameServer
	cfg   *config.Config

	upgrader websocket.Upgrader
}

// New creates a Server for the given game server.
func New(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	return &Server{
		log:   log,
		games: cfg.GameServer,
		cfg:   cfg.GameServer.Config(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The browser client may be served from anywhere.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// HandleWebSocket upgrades an HTTP request to a websocket and serves the
// connection until it closes. It is meant to be mounted on an http mux.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugf("Websocket upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}
	conn := newConn(s, ws)
	s.log.Infof("New connection from %s", conn.addr)
	go conn.writePump()
	conn.readPump()
}

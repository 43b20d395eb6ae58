// Package server is the connection gateway: it upgrades WebSocket requests,
// hands each connection to the relay, and exposes the read-only REST surface.
package server

import (
	"encoding/json"
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/peerline/chatrelay/internal/config"
	"github.com/peerline/chatrelay/internal/relay"
)

// HistorySource is the read side of the message store used by the REST
// history endpoint.
type HistorySource interface {
	QueryRecent(roomID string, limit int) ([]json.RawMessage, error)
}

// Server bundles the gateway's collaborators. It holds no connection state of
// its own; the relay registry is the single source of truth for that.
type Server struct {
	log      *slog.Logger
	cfg      config.Config
	registry *relay.Registry
	router   *relay.Router
	history  HistorySource
	origins  *originPolicy
	upgrader websocket.Upgrader
}

func New(log *slog.Logger, cfg config.Config, registry *relay.Registry, router *relay.Router, history HistorySource) *Server {
	origins := newOriginPolicy(cfg.AllowedOrigins, log)
	return &Server{
		log:      log,
		cfg:      cfg,
		registry: registry,
		router:   router,
		history:  history,
		origins:  origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
	}
}

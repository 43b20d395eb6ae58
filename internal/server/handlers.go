package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/peerline/chatrelay/internal/pseudonym"
	"github.com/peerline/chatrelay/internal/relay"
	"github.com/peerline/chatrelay/internal/store"
)

// handleWebSocket upgrades the request and runs the connection's relay loop on
// the handler goroutine. Room and participant identifiers come from the path
// and are taken as supplied; the relay enforces no uniqueness.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	participantID := r.PathValue("user")
	if roomID == "" || participantID == "" {
		http.Error(w, "room and user are required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	sess := relay.NewSession(conn, s.log, relay.SessionOptions{
		SendBuffer:      s.cfg.SendBuffer,
		MaxMessageSize:  s.cfg.MaxMessageSize,
		RateLimitBurst:  s.cfg.RateLimitBurst,
		RateLimitRefill: s.cfg.RateLimitRefill,
	})
	defer func() { _ = sess.Close() }()

	sess.Start()
	s.registry.Connect(sess, participantID, roomID)
	s.log.Info("participant connected", "participant", participantID, "room", roomID, "addr", r.RemoteAddr)

	s.router.Serve(sess, participantID, roomID)
	s.log.Info("participant disconnected", "participant", participantID, "room", roomID)
}

// handleHistory serves the same history payload shape used over the stream,
// for out-of-band retrieval.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	messages, err := s.history.QueryRecent(roomID, s.cfg.HistoryLimit)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			http.Error(w, "message store unavailable", http.StatusServiceUnavailable)
		} else {
			http.Error(w, "history query failed", http.StatusInternalServerError)
		}
		s.log.Warn("history endpoint failed", "room", roomID, "error", err)
		return
	}

	payload, err := relay.NewHistoryPayload(messages)
	if err != nil {
		http.Error(w, "history encoding failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func (s *Server) handlePseudonym(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"pseudonym": pseudonym.Generate()})
}

// handleHealth provides a simple health check endpoint that returns server status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chat relay is running!")
}

package server

import "net/http"

// Routes configures and returns an HTTP ServeMux with all application routes:
// health check, WebSocket endpoint, and the history and pseudonym APIs.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHealth)
	mux.HandleFunc("GET /ws/{room}/{user}", s.handleWebSocket)
	mux.HandleFunc("GET /api/history/{room}", s.handleHistory)
	mux.HandleFunc("GET /api/pseudonym", s.handlePseudonym)
	return mux
}

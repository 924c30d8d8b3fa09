package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/wricardo/mcp-training/wsbus/logging"
	"github.com/wricardo/mcp-training/wsbus/message"
	"github.com/wricardo/mcp-training/wsbus/transport/websocket"
)

// maxBroadcastBody caps POST /api/broadcast bodies.
const maxBroadcastBody = 1 << 20

// Server exposes the relay over HTTP.
type Server struct {
	relay  *websocket.Relay
	log    logrus.FieldLogger
	router *mux.Router
}

// NewServer creates the HTTP surface for relay. A nil logger discards output.
func NewServer(relay *websocket.Relay, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logging.Discard()
	}
	s := &Server{
		relay:  relay,
		log:    log.WithField("component", "api"),
		router: mux.NewRouter(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/broadcast", s.handleBroadcast).Methods("POST")

	// WebSocket
	s.router.Handle("/ws", s.relay)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.relay.Stats())
}

// handleBroadcast sends the request body, a message object, to every client.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var msg message.Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBroadcastBody)).Decode(&msg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid message: "+err.Error())
		return
	}

	if err := s.relay.Broadcast(r.Context(), msg); err != nil {
		s.log.WithError(err).WithField("type", msg.Type()).Warn("broadcast failed")
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	s.log.WithField("type", msg.Type()).Debug("broadcast queued")
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"type":    msg.Type(),
		"clients": s.relay.Count(),
	})
}

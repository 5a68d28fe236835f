// Package web serves the viewer UI: static assets plus the WebSocket
// endpoint that streams game frames.
package web

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kibitzerlive/kibitzer/internal/supervisor"
)

type Service struct {
	sup       *supervisor.Supervisor
	staticDir string
}

func NewService(sup *supervisor.Supervisor, staticDir string) *Service {
	return &Service{sup: sup, staticDir: staticDir}
}

// Routes builds the HTTP router.
func (s *Service) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/health", s.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/ws", s.WebSocketHandler)
	if s.staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.staticDir)))
	}
	return r
}

func (s *Service) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}

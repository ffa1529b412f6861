// Package web provides the HTTP server exposing the webhook callback
// contract and a read-only status dashboard for a running orchestrator.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/yuin/goldmark"

	"github.com/planbot-dev/planbot"
	"github.com/planbot-dev/planbot/provider"
)

// Server hosts the inbound webhook contract (POST /approve, POST
// /respond, GET /health) plus a read-only status/plan dashboard (GET
// /status, GET /events, GET /tickets/{id}/plan) for a single
// orchestrator.
type Server struct {
	orch      *planbot.Orchestrator
	webhook   *provider.Webhook
	logger    *slog.Logger
	server    *http.Server
	md        goldmark.Markdown
	startedAt time.Time

	sseMu      sync.RWMutex
	sseClients map[chan planbot.Event]bool
}

// NewServer builds a Server around orch. webhook may be nil, in which
// case /approve and /respond are not mounted.
func NewServer(orch *planbot.Orchestrator, webhook *provider.Webhook, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		orch:       orch,
		webhook:    webhook,
		logger:     logger,
		md:         goldmark.New(),
		startedAt:  time.Now(),
		sseClients: make(map[chan planbot.Event]bool),
	}
	orch.OnEvent(s.broadcast)
	return s
}

func (s *Server) broadcast(ev planbot.Event) {
	s.sseMu.RLock()
	defer s.sseMu.RUnlock()
	for ch := range s.sseClients {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("web: dropping event for slow SSE client")
		}
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "X-Planbot-Signature"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/events", s.handleSSE)
	r.Get("/tickets/{id}/plan", s.handlePlan)

	if s.webhook != nil {
		r.Post("/approve", s.webhook.ApproveHandler())
		r.Post("/respond", s.webhook.RespondHandler())
	}
	return r
}

// Start listens on addr until the process is stopped or Shutdown is
// called.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	resp := struct {
		Status string  `json:"status"`
		Uptime float64 `json:"uptime"`
	}{Status: "ok", Uptime: time.Since(s.startedAt).Seconds()}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("web: encode health failed", "error", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.orch.GetStatus()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := struct {
		Running bool        `json:"running"`
		State   interface{} `json:"state"`
		Tickets interface{} `json:"tickets"`
	}{
		Running: s.orch.IsRunning(),
		State:   state,
		Tickets: s.orch.Tickets(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("web: encode status failed", "error", err)
	}
}

// handlePlan renders a ticket's most recently generated plan as HTML,
// using the same markdown renderer the teacher dashboard uses for plan
// preview.
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	plan, ok, err := s.orch.GetPlan(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no plan saved for this ticket", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.md.Convert([]byte(plan), w); err != nil {
		http.Error(w, "failed to render plan", http.StatusInternalServerError)
	}
}

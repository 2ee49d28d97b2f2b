// Package api provides the HTTP API for observing and ordering the collective.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token and are rate limited.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talgya/collective/internal/engine"
	"github.com/talgya/collective/internal/persistence"
)

// Server serves the collective over HTTP.
type Server struct {
	Col       *engine.Collective
	Eng       *engine.Engine
	DB        *persistence.DB // nil disables /snapshot
	Port      int
	AdminKey  string // Bearer token for POST endpoints. Empty = POST disabled.
	RateLimit int    // Admin requests per minute per client

	hub     *Hub
	metrics *Metrics
	limiter *RateLimiter
	started time.Time
}

// NewServer creates a server and hooks its event stream and metrics into
// the collective. Existing OnEvent/OnDecision hooks keep running.
func NewServer(col *engine.Collective, eng *engine.Engine, db *persistence.DB) (*Server, error) {
	m, err := NewMetrics(col, eng)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	s := &Server{
		Col:       col,
		Eng:       eng,
		DB:        db,
		RateLimit: 30,
		hub:       NewHub(),
		metrics:   m,
		started:   time.Now(),
	}

	prevEvent, prevDecision := col.OnEvent, col.OnDecision
	col.OnEvent = func(e engine.Event) {
		if prevEvent != nil {
			prevEvent(e)
		}
		m.ObserveEvent(e)
		s.hub.Publish(e)
	}
	col.OnDecision = func(d engine.Decision) {
		if prevDecision != nil {
			prevDecision(d)
		}
		m.ObserveDecision(d)
	}
	return s, nil
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	s.limiter = NewRateLimiter(s.RateLimit, time.Minute)
	admin := func(h http.HandlerFunc) http.HandlerFunc {
		return s.adminOnly(RateLimitMiddleware(s.limiter, h))
	}

	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/tasks", s.handleTasks)
	mux.HandleFunc("/api/v1/ledger", s.handleLedger)
	mux.HandleFunc("/api/v1/warnings", s.handleWarnings)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/agent/", s.handleAgent)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/stream", s.handleStream)
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	// Admin endpoints.
	mux.HandleFunc("/api/v1/speed", admin(s.handleSpeed))
	mux.HandleFunc("/api/v1/snapshot", admin(s.handleSnapshot))
	mux.HandleFunc("/api/v1/orders", admin(s.handleOrders))

	return corsMiddleware(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "rate_limit", s.RateLimit)

	go s.limiter.SweepEvery(time.Hour, ctx.Done())

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	slog.Info("HTTP API stopping")
	return srv.Shutdown(shutdown)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS to a comma-separated list of extra origins.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkBearerToken(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && token == s.AdminKey
}

// adminOnly requires bearer token auth on POST requests. GET passes
// through for endpoints that support both.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no COLLECTIVE_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tick := s.Col.LastTick()
	resp := map[string]any{
		"tick":        tick,
		"sim_time":    engine.SimTime(tick),
		"stats":       s.Col.Stats(),
		"warnings":    s.Col.Warnings().Strings(),
		"started":     humanize.Time(s.started),
		"subscribers": s.hub.Subscribers(),
		"dropped":     s.hub.Dropped(),
	}
	if s.Eng != nil {
		resp["speed"] = s.Eng.Speed()
	}
	if loc, ok := s.Col.Alarm(); ok {
		resp["alarm"] = loc
	}
	writeJSON(w, resp)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	views := s.Col.Tasks()
	if kind := r.URL.Query().Get("kind"); kind != "" {
		filtered := views[:0]
		for _, v := range views {
			if v.Kind == kind {
				filtered = append(filtered, v)
			}
		}
		views = filtered
	}
	if views == nil {
		views = []engine.TaskView{}
	}
	writeJSON(w, views)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"resources":     s.Col.Ledger(),
		"recruit_cost":  s.Col.RecruitCost(),
		"research_cost": s.Col.ResearchCost(),
	})
}

func (s *Server) handleWarnings(w http.ResponseWriter, r *http.Request) {
	names := s.Col.Warnings().Strings()
	if names == nil {
		names = []string{}
	}
	writeJSON(w, names)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	st := s.Col.Snapshot()
	out := st.Agents[:0]
	cat := r.URL.Query().Get("category")
	for _, a := range st.Agents {
		if cat != "" && a.Category.String() != cat {
			continue
		}
		out = append(out, a)
	}
	if out == nil {
		out = []engine.AgentState{}
	}
	writeJSON(w, out)
}

// handleAgent serves GET /api/v1/agent/:id.
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(strings.TrimPrefix(r.URL.Path, "/api/v1/agent/"), 10, 64)
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return
	}
	for _, a := range s.Col.Snapshot().Agents {
		if uint64(a.ID) == id {
			writeJSON(w, a)
			return
		}
	}
	http.Error(w, "agent not found", http.StatusNotFound)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	events := s.Col.Events()
	if cat := r.URL.Query().Get("category"); cat != "" {
		var filtered []engine.Event
		for _, e := range events {
			if e.Category == cat {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	// Older history lives in the database.
	if len(events) == 0 && s.DB != nil && r.URL.Query().Get("category") == "" {
		if saved, err := s.DB.RecentEvents(limit); err == nil {
			events = saved
		}
	}

	start := 0
	if len(events) > limit {
		start = len(events) - limit
	}
	if events == nil {
		events = []engine.Event{}
	}
	writeJSON(w, events[start:])
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "engine not available", http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
	}
	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	if err := s.DB.Checkpoint(s.Col); err != nil {
		slog.Error("snapshot save failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"tick":    s.Col.LastTick(),
		"message": "snapshot saved",
	})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

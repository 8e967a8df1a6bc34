// Package server exposes the control surface and read APIs over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/quantleap/simtrader/internal/engine"
	"github.com/quantleap/simtrader/internal/observ"
	"github.com/quantleap/simtrader/internal/store"
)

type Server struct {
	engine *engine.Engine
	repo   store.Repository
	http   *http.Server
}

func New(addr string, eng *engine.Engine, repo store.Repository) *Server {
	s := &Server{engine: eng, repo: repo}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/bot/start", s.handleStart)
	mux.HandleFunc("POST /api/bot/stop", s.handleStop)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/positions", s.handlePositions)
	mux.HandleFunc("GET /api/trades", s.handleTrades)
	mux.HandleFunc("GET /api/equity", s.handleEquity)
	mux.HandleFunc("GET /api/decisions", s.handleDecisions)
	mux.HandleFunc("GET /api/performance", s.handlePerformance)
	mux.HandleFunc("GET /ws/equity", s.handleEquityStream)
	mux.Handle("GET /metrics", observ.Handler())
	mux.Handle("GET /healthz", observ.HealthHandler())

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe() error {
	observ.Log("http_listening", map[string]any{"addr": s.http.Addr})
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Start(r.Context()); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.engine.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"status": "stopped"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.repo.OpenPositions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.repo.Trades(r.Context(), r.URL.Query().Get("symbol"), queryLimit(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	history, err := s.repo.EquityHistory(r.Context(), queryLimit(r, 500))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"equity": history})
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	decisions, err := s.repo.Decisions(r.Context(), queryLimit(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": decisions})
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	stats, err := s.repo.PerformanceStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

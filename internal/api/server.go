// Package api serves the operational HTTP surface: status, alerts and their
// lifecycle, signal snapshots, behavioral insights, notification stats,
// synchronous scoring and fraud feedback.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"splitguard/internal/alerts"
	"splitguard/internal/config"
	"splitguard/internal/dispatch"
	"splitguard/internal/engine"
	"splitguard/internal/model"
)

type Server struct {
	cfg        *config.Manager
	engine     *engine.Engine
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	version    string
}

func Start(ctx context.Context, cfg *config.Manager, eng *engine.Engine, dispatcher *dispatch.Dispatcher, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:        cfg,
		engine:     eng,
		dispatcher: dispatcher,
		logger:     logger,
		version:    version,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", server.handleStatus)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /score", server.handleScore)
	mux.HandleFunc("POST /feedback", server.handleFeedback)
	mux.HandleFunc("GET /alerts", server.handleAlerts)
	mux.HandleFunc("GET /alerts/active", server.handleActiveAlerts)
	mux.HandleFunc("POST /alerts/{id}/ack", server.handleAcknowledge)
	mux.HandleFunc("POST /alerts/{id}/resolve", server.handleResolve)
	mux.HandleFunc("GET /signals", server.handleSignals)
	mux.HandleFunc("GET /signals/users/{id}", server.handleUserSignals)
	mux.HandleFunc("GET /signals/groups/{id}", server.handleGroupSignals)
	mux.HandleFunc("GET /insights/users/{id}", server.handleUserInsights)
	mux.HandleFunc("GET /insights/groups/{id}", server.handleGroupInsights)
	mux.HandleFunc("GET /notifications/stats", server.handleNotificationStats)
	mux.HandleFunc("GET /notifications/recent", server.handleRecentDeliveries)

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfg.Get()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339Nano),
		"version": s.version,
		"engine":  s.engine.Status(),
		"ingest": map[string]bool{
			"rest":  cfg.Ingest.REST.Enabled,
			"kafka": cfg.Ingest.Kafka.Enabled,
		},
	})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var ev model.ExpenseEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	verdict, err := s.engine.Score(r.Context(), ev)
	if err != nil {
		var verr *engine.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": verr.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req struct {
		UserID  string `json:"user_id"`
		GroupID string `json:"group_id"`
		IsFraud bool   `json:"is_fraud"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.UserID == "" || req.GroupID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id and group_id are required"})
		return
	}
	s.engine.Feedback(req.UserID, req.GroupID, req.IsFraud, time.Now().UTC())
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	list := s.dispatcher.Store().Recent(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleActiveAlerts(w http.ResponseWriter, _ *http.Request) {
	list := s.dispatcher.Store().Active()
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	s.mutateAlert(w, r, s.dispatcher.Store().Acknowledge)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	s.mutateAlert(w, r, s.dispatcher.Store().Resolve)
}

func (s *Server) mutateAlert(w http.ResponseWriter, r *http.Request, fn func(string) error) {
	id := r.PathValue("id")
	if err := fn(id); err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "alert not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSignals(w http.ResponseWriter, _ *http.Request) {
	all := s.engine.Realtime().Snapshots().All()
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshots": all,
		"count":     len(all),
	})
}

func (s *Server) handleUserSignals(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.engine.Realtime().Snapshots().User(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no signals for user"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGroupSignals(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.engine.Realtime().Snapshots().Group(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no signals for group"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleUserInsights(w http.ResponseWriter, r *http.Request) {
	insights, ok := s.engine.Profiles().UserInsightsFor(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no profile for user"})
		return
	}
	writeJSON(w, http.StatusOK, insights)
}

func (s *Server) handleGroupInsights(w http.ResponseWriter, r *http.Request) {
	insights, ok := s.engine.Profiles().GroupInsightsFor(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no profile for group"})
		return
	}
	writeJSON(w, http.StatusOK, insights)
}

func (s *Server) handleNotificationStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dispatcher.History().StatsAt(time.Now().UTC()))
}

func (s *Server) handleRecentDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	list := s.dispatcher.History().Recent(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"deliveries": list,
		"count":      len(list),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"splitguard/internal/config"
	"splitguard/internal/model"
)

type restServer struct {
	out    chan<- model.ExpenseEvent
	logger *slog.Logger
}

// StartREST serves POST /expenses, accepting a single event or a batch.
func StartREST(ctx context.Context, cfg *config.Manager, out chan<- model.ExpenseEvent, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	server := &restServer{out: out, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/expenses", server.handleExpenses)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *restServer) handleExpenses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil || len(body) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	events, err := DecodeExpenseBatch(body, time.Now().UTC())
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	accepted := 0
	dropped := 0
	for _, ev := range events {
		if SendNonBlocking(r.Context(), s.out, ev, s.logger) {
			accepted++
		} else {
			dropped++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{
		"accepted": accepted,
		"dropped":  dropped,
	})
}

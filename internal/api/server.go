// Package api exposes the hub's query surface: recent alerts, the latest
// alert, aggregate stats, a live SSE stream, and operational status.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"forestwatch/internal/broadcast"
	"forestwatch/internal/config"
	"forestwatch/internal/store"
	"forestwatch/internal/transport"
)

// LinkStatus lets the status endpoint report transport state without
// binding the server to the hub pipeline type.
type LinkStatus interface {
	State() transport.State
}

type Server struct {
	history *store.EventStore
	bcast   *broadcast.Broadcaster
	link    LinkStatus
	logger  *slog.Logger
	version string
}

type eventsResponse struct {
	Success bool  `json:"success"`
	Count   int   `json:"count"`
	Events  []any `json:"events"`
}

type statusResponse struct {
	Status      string          `json:"status"`
	Service     string          `json:"service"`
	Version     string          `json:"version"`
	Time        string          `json:"time"`
	LinkState   transport.State `json:"link_state"`
	Subscribers int             `json:"subscribers"`
}

// Start brings the HTTP server up when enabled and shuts it down with ctx.
func Start(ctx context.Context, cfg config.APIConfig, history *store.EventStore, bcast *broadcast.Broadcaster, link LinkStatus, logger *slog.Logger, version string) *http.Server {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", cfg.Addr)
	}
	server := &Server{history: history, bcast: bcast, link: link, logger: logger, version: version}
	httpServer := &http.Server{Addr: cfg.Addr, Handler: server.Handler()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

// Handler builds the route table; exported for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/events/latest", s.handleLatest)
	mux.HandleFunc("/events/stream", s.handleStream)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/serial/ports", s.handleSerialPorts)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "invalid limit"})
			return
		}
		limit = v
	}
	alerts := s.history.Recent(limit)
	events := make([]any, len(alerts))
	for i, a := range alerts {
		events[i] = a
	}
	writeJSON(w, http.StatusOK, eventsResponse{Success: true, Count: len(events), Events: events})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	alert, ok := s.history.Latest()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "no events available"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "event": alert})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	st := s.history.Stats()
	resp := map[string]any{
		"success":        true,
		"total_events":   st.TotalEvents,
		"event_types":    st.EventTypes,
		"ingested_total": st.IngestedTotal,
	}
	if !st.LatestReceivedAt.IsZero() {
		resp["latest_received_at"] = st.LatestReceivedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	state := transport.StateDisconnected
	if s.link != nil {
		state = s.link.State()
	}
	subs := 0
	if s.bcast != nil {
		subs = s.bcast.SubscriberCount()
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:      "running",
		Service:     "forestwatch-hub",
		Version:     s.version,
		Time:        time.Now().UTC().Format(time.RFC3339),
		LinkState:   state,
		Subscribers: subs,
	})
}

func (s *Server) handleSerialPorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ports, err := transport.ListPorts()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": err.Error()})
		return
	}
	if ports == nil {
		ports = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "ports": ports})
}

// handleStream serves alerts over SSE: the retained history first, then
// live events until the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.bcast == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := s.bcast.Subscribe()
	defer sub.Cancel()

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	for {
		select {
		case alert, ok := <-sub.C:
			if !ok {
				return
			}
			payload, err := json.Marshal(alert)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(payload); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

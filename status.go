package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	sloghttp "github.com/samber/slog-http"
)

// StatusServer exposes a small operational surface: health probe and a
// snapshot of the relay state.
type StatusServer struct {
	cfg     *Config
	store   RecordStore
	hub     *HubConnection
	logger  *slog.Logger
	started time.Time
}

func NewStatusServer(cfg *Config, store RecordStore, hub *HubConnection) *StatusServer {
	return &StatusServer{
		cfg:     cfg,
		store:   store,
		hub:     hub,
		logger:  slog.Default(),
		started: time.Now(),
	}
}

func (s *StatusServer) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

func (s *StatusServer) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	addr := fmt.Sprintf(":%s", s.cfg.HTTPPort)
	s.logger.Info("Status server starting", "addr", addr)

	handler := sloghttp.Recovery(mux)
	handler = sloghttp.New(s.logger)(handler)

	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	channels, err := s.store.FindChannels(r.Context())
	if err != nil {
		s.logger.Error("Error loading channels for status", "error", err)
		http.Error(w, "Failed to load status", http.StatusInternalServerError)
		return
	}

	counts := map[string]int{}
	for _, channel := range channels {
		counts[channel.Kind.String()]++
	}

	payload := map[string]any{
		"hub_connected": s.hub.IsConnected(),
		"channels":      counts,
		"servers":       s.cfg.Servers,
		"uptime":        time.Since(s.started).Round(time.Second).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(payload)
}

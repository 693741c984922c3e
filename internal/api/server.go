// Package api serves mysqlcheck's status and metrics over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/asyncmysql/asyncmysql/internal/config"
	"github.com/asyncmysql/asyncmysql/internal/health"
	"github.com/asyncmysql/asyncmysql/internal/metrics"
)

// Server is the status and metrics HTTP server.
type Server struct {
	healthCheck *health.Checker
	metrics     *metrics.Collector
	httpServer  *http.Server
	startTime   time.Time
	listenCfg   config.ListenConfig
}

// NewServer creates a new API server.
func NewServer(hc *health.Checker, m *metrics.Collector, lc config.ListenConfig) *Server {
	return &Server{
		healthCheck: hc,
		metrics:     m,
		startTime:   time.Now(),
		listenCfg:   lc,
	}
}

// Handler builds the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/targets", s.listTargets).Methods("GET")
	r.HandleFunc("/targets/{id}", s.getTarget).Methods("GET")
	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/health", s.healthHandler).Methods("GET")

	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.listenCfg.APIBind, s.listenCfg.APIPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("[api] status API listening on %s", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

type targetResponse struct {
	ID     string               `json:"id"`
	Config config.TargetConfig  `json:"config"`
	Health *health.TargetHealth `json:"health,omitempty"`
}

func (s *Server) listTargets(w http.ResponseWriter, r *http.Request) {
	targets := s.healthCheck.Targets()

	result := make([]targetResponse, 0, len(targets))
	for id, tc := range targets {
		h := s.healthCheck.GetStatus(id)
		result = append(result, targetResponse{ID: id, Config: tc, Health: &h})
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getTarget(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	targets := s.healthCheck.Targets()
	tc, ok := targets[id]
	if !ok {
		writeError(w, http.StatusNotFound, "target not found")
		return
	}
	h := s.healthCheck.GetStatus(id)
	writeJSON(w, http.StatusOK, targetResponse{ID: id, Config: tc, Health: &h})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	statuses := s.healthCheck.GetAllStatuses()
	allHealthy := s.healthCheck.OverallHealthy()

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]any{
		"status":  boolToStatus(allHealthy),
		"targets": statuses,
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"num_targets":    len(s.healthCheck.Targets()),
		"listen": map[string]any{
			"api_port": s.listenCfg.APIPort,
			"api_bind": s.listenCfg.APIBind,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func boolToStatus(b bool) string {
	if b {
		return "healthy"
	}
	return "unhealthy"
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"fleet-monitor/tracking/internal/domain"
	"fleet-monitor/tracking/internal/metrics"
	"fleet-monitor/tracking/internal/pipeline"
)

// SyncRunner runs one sync pass.
type SyncRunner interface {
	Run(ctx context.Context, params domain.SyncParams) (*domain.SyncResult, error)
}

// Pinger is a dependency checked by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	httpServer *http.Server
	runner     SyncRunner
	checks     map[string]Pinger
	logger     *logrus.Logger
}

func NewServer(addr string, runner SyncRunner, checks map[string]Pinger, logger *logrus.Logger) *Server {
	s := &Server{runner: runner, checks: checks, logger: logger}
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 5 * time.Second,
		// A manual sync can take as long as a scheduled one.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  15 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/metrics", metrics.HandleMetrics).Methods(http.MethodGet)
	router.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	return router
}

func (s *Server) Start() error {
	s.logger.Infof("Starting server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(s.checks))
	for name, c := range s.checks {
		if err := c.Ping(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	body := map[string]any{"status": "ok", "checks": results}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	params, err := parseSyncParams(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.logger.WithFields(logrus.Fields{
		"full":     params.FullResync,
		"lookback": params.LookbackHours,
		"devices":  len(params.DeviceIDs),
	}).Info("Manual sync requested")

	res, err := s.runner.Run(r.Context(), params)
	switch {
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case err != nil:
		s.logger.WithError(err).Error("Manual sync failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// parseSyncParams reads an optional JSON body, then lets query parameters
// override it.
func parseSyncParams(r *http.Request) (domain.SyncParams, error) {
	var p domain.SyncParams
	if r.Body != nil && r.ContentLength != 0 && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			return p, fmt.Errorf("invalid body: %w", err)
		}
	}

	q := r.URL.Query()
	if v := q.Get("full"); v != "" {
		full, err := strconv.ParseBool(v)
		if err != nil {
			return p, fmt.Errorf("invalid full: %q", v)
		}
		p.FullResync = full
	}
	if v := q.Get("lookback_hours"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil || h <= 0 {
			return p, fmt.Errorf("invalid lookback_hours: %q", v)
		}
		p.LookbackHours = h
	}
	if v := q.Get("devices"); v != "" {
		p.DeviceIDs = nil
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				p.DeviceIDs = append(p.DeviceIDs, id)
			}
		}
	}
	if p.LookbackHours > domain.MaxLookbackHours {
		p.LookbackHours = domain.MaxLookbackHours
	}
	return p, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

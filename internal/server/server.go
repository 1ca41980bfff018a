// Package server is the HTTP ingress: frontends register themselves and
// post inbound messages here; everything else flows through the queue.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"botflow/internal/domain"
	"botflow/internal/flow"
	"botflow/internal/queue"
	"botflow/internal/sender"
)

// Server exposes the ingress API.
type Server struct {
	http      *http.Server
	queue     *queue.Queue
	store     domain.Store
	directory *sender.SessionDirectory
	loader    *flow.Loader
	token     string
	debug     bool
	metrics   bool
	logger    *slog.Logger
}

func New(
	addr string,
	q *queue.Queue,
	store domain.Store,
	directory *sender.SessionDirectory,
	loader *flow.Loader,
	securityToken string,
	debug, metricsEnabled bool,
	logger *slog.Logger,
) *Server {
	s := &Server{
		queue:     q,
		store:     store,
		directory: directory,
		loader:    loader,
		token:     securityToken,
		debug:     debug,
		metrics:   metricsEnabled,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/process", s.handleProcess)
	mux.HandleFunc("POST /api/setup", s.handleSetup)
	mux.HandleFunc("POST /api/reload", s.handleReload)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if metricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

// Run serves until the context ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

// handleProcess accepts one inbound message from a registered frontend
// and enqueues it for dispatch. The reply only acknowledges receipt; the
// answer arrives asynchronously at the frontend's endpoint.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req domain.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": 400, "error": "invalid payload"})
		return
	}

	session, err := s.store.GetSession(r.Context(), req.ViaInstance)
	if err != nil {
		s.logger.Error("session lookup failed", "instance", req.ViaInstance, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": 500})
		return
	}
	if session == nil || session.Token != req.SecurityToken {
		s.logger.Warn("rejected inbound request", "instance", req.ViaInstance)
		writeJSON(w, http.StatusUnauthorized, map[string]any{"status": 401, "error": "unknown instance or bad token"})
		return
	}

	rc := domain.NewRequestContext(&req)
	if err := rc.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": 400, "error": err.Error()})
		return
	}

	// Outbound posts back to the frontend carry the engine's token.
	req.SecurityToken = s.token

	s.queue.Enqueue(rc)
	writeJSON(w, http.StatusOK, map[string]any{"status": 200})
}

type setupRequest struct {
	SecurityToken string `json:"security_token"`
	URL           string `json:"url"`
	Broadcast     string `json:"broadcast,omitempty"`
}

// handleSetup registers a frontend instance: it gets a generated name
// and token, and the engine remembers where to post replies. Calling it
// again with a known URL returns the existing registration.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": 400, "error": "invalid payload"})
		return
	}
	if req.SecurityToken != s.token {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"status": 401, "error": "bad token"})
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": 400, "error": "url is required"})
		return
	}
	if !s.debug && !strings.HasPrefix(req.URL, "https://") {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": 400, "error": "https endpoint required"})
		return
	}

	existing, err := s.sessionByURL(r.Context(), req.URL)
	if err != nil {
		s.logger.Error("session scan failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": 500})
		return
	}
	if existing != nil {
		s.directory.Put(existing.Name, existing.URL)
		writeJSON(w, http.StatusOK, map[string]any{
			"status": 200, "name": existing.Name, "token": existing.Token,
		})
		return
	}

	session := &domain.ChannelSession{
		Name:      newSessionName(),
		Token:     newSessionToken(),
		URL:       req.URL,
		Broadcast: req.Broadcast,
	}
	if err := s.store.CreateSession(r.Context(), session); err != nil {
		s.logger.Error("session create failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": 500})
		return
	}
	s.directory.Put(session.Name, session.URL)
	s.logger.Info("registered channel session", "name", session.Name, "url", session.URL)

	writeJSON(w, http.StatusOK, map[string]any{
		"status": 200, "name": session.Name, "token": session.Token,
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Security-Token") != s.token {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"status": 401})
		return
	}
	s.loader.Reload()
	writeJSON(w, http.StatusOK, map[string]any{"status": 200})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) sessionByURL(ctx context.Context, url string) (*domain.ChannelSession, error) {
	sessions, err := s.store.ChannelSessions(ctx)
	if err != nil {
		return nil, err
	}
	for _, session := range sessions {
		if session.URL == url {
			return session, nil
		}
	}
	return nil, nil
}

func newSessionName() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

func newSessionToken() string {
	raw := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	return raw[:40]
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Package server exposes the knowledge base over HTTP with a chi router.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/poiesic/kbase/agentmeta"
	"github.com/poiesic/kbase/audit"
	"github.com/poiesic/kbase/deletion"
	"github.com/poiesic/kbase/ingestion"
	"github.com/poiesic/kbase/metrics"
	"github.com/poiesic/kbase/search"
)

const (
	DefaultMaxUploadBytes = 50 << 20

	readTimeout     = 30 * time.Second
	writeTimeout    = 60 * time.Second
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 15 * time.Second
)

// ErrServiceRequired is returned when a required service is missing.
var ErrServiceRequired = errors.New("service required")

// Services are the components the API calls into.
type Services struct {
	Ingestion *ingestion.Manager
	Deletion  *deletion.Engine
	Metadata  *agentmeta.Index
	Search    *search.Searcher
	Audit     *audit.Log
}

// Server is the HTTP API.
type Server struct {
	svc       Services
	router    chi.Router
	limiter   *ClientLimiter
	maxUpload int64
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server) error

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithRateLimit limits each client to rps requests per second with the
// given burst. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) error {
		if rps <= 0 {
			s.limiter = nil
			return nil
		}
		s.limiter = NewClientLimiter(rps, max(burst, 1))
		return nil
	}
}

// WithMaxUploadBytes caps request bodies of uploads.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) error {
		if n <= 0 {
			return errors.New("max upload bytes must be positive")
		}
		s.maxUpload = n
		return nil
	}
}

// New creates the API server.
func New(svc Services, opts ...Option) (*Server, error) {
	if svc.Ingestion == nil || svc.Deletion == nil || svc.Metadata == nil || svc.Search == nil || svc.Audit == nil {
		return nil, ErrServiceRequired
	}
	s := &Server{
		svc:       svc,
		maxUpload: DefaultMaxUploadBytes,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "server")
	s.router = s.routes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.recoverer, s.instrument)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}

		r.Route("/agents/{agentID}", func(r chi.Router) {
			r.Post("/sessions", s.createSession)
			r.Get("/documents", s.listDocuments)
			r.Delete("/documents/{documentID}", s.deleteDocument)
			r.Delete("/", s.deleteAgent)
			r.Get("/deletion", s.deletionStatus)
			r.Get("/deletions", s.listDeletions)
			r.Get("/deleted-files", s.listDeletedFiles)
			r.Get("/stats", s.agentStats)
			r.Get("/search", s.search)
		})

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.sessionStatus)
			r.Get("/preview", s.sessionPreview)
			r.Post("/chunks", s.completeChunking)
			r.Post("/confirm", s.confirm)
			r.Post("/cancel", s.cancelSession)
		})

		r.Get("/deletions/{entryID}", s.getDeletion)
		r.Post("/deletions/{entryID}/cancel", s.cancelDeletion)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server is listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server is shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	srv.SetKeepAlivesEnabled(false)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("could not shut down gracefully", "err", err)
		return err
	}
	return nil
}

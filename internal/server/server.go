// Package server exposes the HTTP API: ingest, query, debug, model
// management, and service introspection.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ragkb/ragkb/internal/answer"
	"github.com/ragkb/ragkb/internal/config"
	"github.com/ragkb/ragkb/internal/ingest"
	"github.com/ragkb/ragkb/internal/model"
	"github.com/ragkb/ragkb/internal/search"
	"github.com/ragkb/ragkb/internal/store"
	"github.com/ragkb/ragkb/internal/telemetry"
	"github.com/ragkb/ragkb/internal/vector"
)

// Deps are the wired components the handlers serve. Metrics may be nil.
type Deps struct {
	Config    *config.Config
	Store     *store.Store
	Vectors   *vector.Manager
	Registry  *model.Registry
	Pipeline  *ingest.Pipeline
	Retriever *search.Retriever
	Assembler *answer.Assembler
	Metrics   *telemetry.QueryMetrics
}

// Server is the HTTP front end.
type Server struct {
	deps Deps
	http *http.Server
	log  *slog.Logger
}

// New builds the server and its routes.
func New(deps Deps) *Server {
	s := &Server{
		deps: deps,
		log:  slog.With("component", "server"),
	}

	writeTimeout := time.Duration(deps.Config.Server.WriteTimeoutSec) * time.Second
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Minute
	}

	s.http = &http.Server{
		Addr:    deps.Config.Server.Addr,
		Handler: s.routes(),
		// Write timeout covers LLM generation against a cold model.
		WriteTimeout:      writeTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Post("/ingest", s.handleIngest)
	r.Post("/query", s.handleQuery)
	r.Get("/chunks/{id}", s.handleGetChunk)
	r.Get("/models", s.handleListModels)
	r.Post("/models", s.handleSwapModels)

	r.Route("/debug", func(r chi.Router) {
		r.Post("/retrieval", s.handleDebugRetrieval)
		r.Post("/citations", s.handleDebugCitations)
	})

	return r
}

// requestLogger logs one structured line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)))
	})
}

// Handler exposes the route tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks serving HTTP until Shutdown or failure.
func (s *Server) ListenAndServe() error {
	s.log.Info("server_listening", slog.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

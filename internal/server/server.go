// Package server exposes the HTTP surface: ingest, crawl, progress, search,
// and catalog endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/claudecontext/claude-context/internal/config"
	"github.com/claudecontext/claude-context/internal/crawl"
	"github.com/claudecontext/claude-context/internal/defaults"
	"github.com/claudecontext/claude-context/internal/ingest"
	"github.com/claudecontext/claude-context/internal/llm"
	"github.com/claudecontext/claude-context/internal/pkg/logger"
	"github.com/claudecontext/claude-context/internal/progress"
	"github.com/claudecontext/claude-context/internal/registry"
	"github.com/claudecontext/claude-context/internal/retrieve"
	"github.com/claudecontext/claude-context/internal/vector"
)

// StatusDeadline bounds read paths that may touch a stalled external store.
const StatusDeadline = 10 * time.Second

// WaitForCompletionMax caps synchronous waits on long-running endpoints.
const WaitForCompletionMax = 120 * time.Second

// Deps are the wired collaborators. Every dependency is constructed by the
// caller so tests substitute fakes.
type Deps struct {
	Config    *config.Config
	Log       *logger.Logger
	Registry  *registry.Registry
	Store     vector.Store
	Coord     *ingest.Coordinator
	Retrieval *retrieve.Service
	Crawler   *crawl.Strategy
	Tracker   *progress.Tracker
	LLM       *llm.Client
	Defaults  *defaults.Store
}

// Server is the HTTP server.
type Server struct {
	Deps
	httpServer *http.Server
	mu         sync.Mutex
}

// New creates a server from its dependencies.
func New(deps Deps) *Server {
	return &Server{Deps: deps}
}

// Routes builds the request mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /projects/{project}/ingest/local", s.handleIngestLocal)
	mux.HandleFunc("POST /projects/{project}/ingest/github", s.handleIngestGitHub)
	mux.HandleFunc("POST /projects/{project}/crawl", s.handleCrawl)

	mux.HandleFunc("GET /projects/all/progress", s.handleAllProgress)
	mux.HandleFunc("GET /projects/{project}/progress", s.handleProgress)

	mux.HandleFunc("POST /projects/{project}/search", s.handleSearch)
	mux.HandleFunc("GET /projects/{project}/datasets", s.handleListDatasets)
	mux.HandleFunc("DELETE /projects/{project}/datasets/{dataset}", s.handleClearDataset)

	return mux
}

// Start runs the server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:         s.Config.Address(),
		Handler:      s.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 150 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.Log.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), StatusDeadline)
	defer cancel()

	status := map[string]any{
		"status": "ok",
	}
	if hc, ok := s.Store.(interface{ HealthCheck(context.Context) error }); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			status["vector_store"] = err.Error()
			status["status"] = "degraded"
		} else {
			status["vector_store"] = "ok"
		}
	}

	writeJSON(w, http.StatusOK, status)
}

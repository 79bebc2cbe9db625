// Package server assembles the HTTP job API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/signagekit/transferd/internal/config"
	"github.com/signagekit/transferd/internal/server/handlers"
	"github.com/signagekit/transferd/internal/server/middleware"
)

// Server wraps the configured http.Server and its router.
type Server struct {
	host       string
	port       int
	handler    http.Handler
	httpServer *http.Server
	log        *zap.Logger
	shutdown   time.Duration
}

// Deps are the collaborators the job API composes.
type Deps struct {
	Jobs    *handlers.JobsHandler
	Health  *handlers.HealthManager
	Version handlers.VersionInfo
}

// New builds the router and server from config.
func New(cfg *config.Config, deps Deps, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteError(w, req, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteError(w, req, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	r.Get("/health", deps.Health.HealthHandler)
	r.Get("/version", handlers.VersionHandler(deps.Version))

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", deps.Jobs.ListJobs)
		r.Post("/upload", deps.Jobs.SubmitChunk)
		r.Post("/download", deps.Jobs.SubmitDownload)
		r.Get("/{jobID}", deps.Jobs.GetJob)
		r.Delete("/{jobID}", deps.Jobs.DeleteJob)
	})

	srv := &Server{
		host:     cfg.Server.Host,
		port:     cfg.Server.Port,
		handler:  r,
		log:      log,
		shutdown: cfg.Server.ShutdownTimeout,
	}
	srv.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return srv
}

// NewHealthManager wires the daemon's standard health checkers.
func NewHealthManager(version, storeRoot, downloaderBinary string) *handlers.HealthManager {
	hm := handlers.NewHealthManager(version)
	hm.RegisterChecker("store", storeRootChecker{root: storeRoot})
	hm.RegisterChecker("downloader", binaryChecker{binary: downloaderBinary})
	return hm
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Port() int {
	return s.port
}

// Start serves until ctx is cancelled, then drains within the shutdown
// timeout.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-errCh
}

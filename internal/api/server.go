package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/calder/mirage/internal/engine"
	"github.com/calder/mirage/internal/registry"
	"github.com/calder/mirage/internal/store"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// identityHeader carries the authenticated caller id, supplied by the
// auth layer in front of this service.
const identityHeader = "X-User-ID"

// Server wraps the chi router and application dependencies.
type Server struct {
	router   *chi.Mux
	registry *registry.Registry
	engine   *engine.Engine
	history  store.Store
	logger   *slog.Logger
	addr     string

	// streamInterval is the progress stream heartbeat period.
	streamInterval time.Duration

	// outputDir is where generated artifacts are served from.
	outputDir string
}

// NewServer creates and configures a new HTTP server.
func NewServer(addr string, reg *registry.Registry, eng *engine.Engine, history store.Store, outputDir string, streamInterval time.Duration, logger *slog.Logger) *Server {
	if streamInterval <= 0 {
		streamInterval = time.Second
	}

	srv := &Server{
		router:         chi.NewRouter(),
		registry:       reg,
		engine:         eng,
		history:        history,
		logger:         logger,
		addr:           addr,
		streamInterval: streamInterval,
		outputDir:      outputDir,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id", identityHeader},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Get("/v1/models", s.handleListModels)
	s.router.Get("/v1/styles", s.handleListStyles)

	s.router.Route("/v1/generations", func(r chi.Router) {
		r.Post("/", s.handleCreateGeneration)
		r.Get("/{id}/status", s.handleGetStatus)
		r.Get("/{id}/stream", s.handleStreamProgress)
		r.Delete("/{id}", s.handleCancelGeneration)
	})

	s.router.Route("/v1/history", func(r chi.Router) {
		r.Get("/", s.handleListHistory)
		r.Get("/stats", s.handleHistoryStats)
		r.Post("/{id}/favorite", s.handleToggleFavorite)
		r.Delete("/{id}", s.handleDeleteHistory)
	})

	if s.outputDir != "" {
		fileServer := http.FileServer(http.Dir(s.outputDir))
		s.router.Handle("/generated-images/*", http.StripPrefix("/generated-images/", fileServer))
	}
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run starts the HTTP server and blocks until a shutdown signal is received.
func (s *Server) Run() error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	// Let in-flight generations finish committing their results.
	s.engine.Wait()

	s.logger.Info("server stopped")
	return nil
}

// userID extracts the caller identity supplied by the auth collaborator.
func userID(r *http.Request) string {
	if id := r.Header.Get(identityHeader); id != "" {
		return id
	}
	return "anonymous"
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

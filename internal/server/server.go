// Package server exposes the command surface over HTTP on a loopback
// address, plus the websocket event stream.
package server

import (
	"context"
	"net/http"
	"time"

	"codeberg.org/mutker/pulsecore/internal/errors"
	"codeberg.org/mutker/pulsecore/internal/hardware"
	"codeberg.org/mutker/pulsecore/internal/logger"
	"github.com/gin-gonic/gin"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

type Deps struct {
	Settings  SettingsService
	History   HistoryStore
	Pinger    Pinger
	Recent    RecentSource
	Hardware  hardware.Info
	Events    http.HandlerFunc // serves GET /ws; nil disables the route
	ExportDir string
	Log       logger.Logger
}

type Server struct {
	deps   Deps
	engine *gin.Engine
	log    logger.Logger
	now    func() time.Time
}

func New(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		deps:   deps,
		engine: gin.New(),
		log:    deps.Log.With("server"),
		now:    time.Now,
	}

	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.registerRoutes()

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errFactory := errors.New()

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("HTTP server listening")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return errFactory.Wrap(errors.ErrServeHTTP, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errFactory.Wrap(ErrShutdown, err)
	}

	s.log.Info().Msg("HTTP server stopped")

	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	}
}

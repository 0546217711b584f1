// Package api exposes the daemon's lifecycle controls over local HTTP.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_freeze/internal/domain"
)

// Controller is the subset of the daemon controller the API drives.
type Controller interface {
	Status() domain.Status
	Rules() []domain.Rule
	Toggle() bool
	SetEnabled(enabled bool)
	Reload() error
	ResumeAll() []int
}

// Config defines the HTTP server settings.
type Config struct {
	Addr    string
	Version string
}

// Server hosts the Gin engine.
type Server struct {
	engine     *gin.Engine
	config     Config
	controller Controller
	metrics    http.Handler
	logger     *zap.Logger
}

// NewServer constructs the control API. metricsHandler may be nil.
func NewServer(cfg Config, controller Controller, metricsHandler http.Handler, logger *zap.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:7780"
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))

	s := &Server{
		engine:     engine,
		config:     cfg,
		controller: controller,
		metrics:    metricsHandler,
		logger:     logger,
	}
	s.setupRoutes()
	return s
}

// Engine returns the underlying Gin engine (for tests and http.Server).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Addr returns the configured address.
func (s *Server) Addr() string {
	return s.config.Addr
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("control api listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		logger.Debug("request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// Package server exposes worker diagnostics over HTTP.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/punctuator/internal/version"
	"github.com/hrygo/punctuator/metrics"
)

// Health states.
const (
	StatusStarting = "starting"
	StatusOK       = "ok"
)

// Health is the /healthz document.
type Health struct {
	Status  string `json:"status"`
	Labeler string `json:"labeler,omitempty"`
	Version string `json:"version"`
}

// Server serves /metrics and /healthz beside the request loop.
type Server struct {
	echo     *echo.Echo
	exporter *metrics.Exporter
	logger   *slog.Logger

	mu      sync.RWMutex
	labeler string
	ready   bool
}

// New creates a server. It reports StatusStarting until MarkReady is called.
func New(exporter *metrics.Exporter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, exporter: exporter, logger: logger}
	e.GET("/healthz", s.handleHealth)
	if exporter != nil {
		e.GET("/metrics", echo.WrapHandler(exporter.Handler()))
	}
	return s
}

// MarkReady records that the labeler is loaded.
func (s *Server) MarkReady(labeler string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labeler = labeler
	s.ready = true
}

func (s *Server) health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := Health{Status: StatusStarting, Labeler: s.labeler, Version: version.String()}
	if s.ready {
		h.Status = StatusOK
	}
	return h
}

func (s *Server) handleHealth(c echo.Context) error {
	h := s.health()
	code := http.StatusOK
	if h.Status != StatusOK {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, h)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr and serves in the background. It returns the bound
// address, which differs from addr when addr uses port 0.
func (s *Server) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	s.echo.Listener = ln

	go func() {
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("diagnostics server stopped", "error", err)
		}
	}()
	s.logger.Info("diagnostics server listening", "addr", ln.Addr().String())
	return ln.Addr(), nil
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

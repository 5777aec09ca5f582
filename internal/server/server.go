package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"captcha-relay/internal/common/config"
	"captcha-relay/internal/common/logger"
)

// Server owns the http.Server around the gin engine.
type Server struct {
	httpServer      *http.Server
	logger          logger.Logger
	shutdownTimeout time.Duration
}

func New(cfg *config.Config, handler http.Handler, log logger.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           handler,
			ReadTimeout:       config.GetDuration(cfg.Server.ReadTimeout),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      config.GetDuration(cfg.Server.WriteTimeout),
			IdleTimeout:       60 * time.Second,
		},
		logger:          log,
		shutdownTimeout: config.GetDuration(cfg.Server.ShutdownTimeout),
	}
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("HTTP server listening", map[string]interface{}{
		"address": l.Addr().String(),
	})
	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// ListenAndServe binds the configured port and serves.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(l)
}

// Shutdown stops accepting requests and waits for in-flight ones, bounded by
// the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.shutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server", map[string]interface{}{
		"timeout": timeout.String(),
	})
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

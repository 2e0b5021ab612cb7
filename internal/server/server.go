// Package server wraps net/http with the access logging, base path and
// lifecycle handling used by the signaling server.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"pkt.systems/pslog"
)

// DefaultShutdownTimeout bounds graceful shutdown in Run.
const DefaultShutdownTimeout = 10 * time.Second

// Config configures the HTTP server.
type Config struct {
	ListenAddr string
	BasePath   string
	TLSConfig  *tls.Config
	Logger     pslog.Logger

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration
}

// Server is an HTTP server bound to a listener.
type Server struct {
	srv             *http.Server
	logger          pslog.Logger
	shutdownTimeout time.Duration
}

// NewServer constructs a Server for handler, mounted under cfg.BasePath and
// wrapped with AccessLog. Read and write timeouts stay unset because
// websocket connections are long lived.
func NewServer(cfg Config, handler http.Handler) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.LoggerFromEnv()
	}
	base, err := NormalizeBasePath(cfg.BasePath)
	if err != nil {
		return nil, err
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Server{
		srv: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           AccessLog(logger, WrapBasePath(base, handler)),
			TLSConfig:         cfg.TLSConfig,
			ErrorLog:          pslog.LogLogger(logger),
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
		},
		logger:          logger,
		shutdownTimeout: cfg.ShutdownTimeout,
	}, nil
}

// Listen opens the configured TCP listener.
func (s *Server) Listen() (net.Listener, error) {
	return net.Listen("tcp", s.srv.Addr)
}

// Serve accepts connections on ln, using TLS when configured. It returns nil
// after a graceful Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	var err error
	if s.srv.TLSConfig != nil {
		err = s.srv.ServeTLS(ln, "", "")
	} else {
		err = s.srv.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Run serves on ln until ctx is cancelled, then shuts down within the
// configured timeout.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ln) }()

	scheme := "http"
	if s.srv.TLSConfig != nil {
		scheme = "https"
	}
	s.logger.Info("server listening", "addr", ln.Addr().String(), "scheme", scheme)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("server shutdown incomplete", "err", err)
		_ = s.srv.Close()
	}
	return <-errCh
}

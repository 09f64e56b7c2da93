package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/illarion/ctsecretsd/internal/metrics"
	"github.com/illarion/ctsecretsd/internal/providers"
	"github.com/illarion/ctsecretsd/internal/proxy"
	"github.com/illarion/ctsecretsd/internal/state"
	"github.com/illarion/ctsecretsd/internal/storage"
)

// Version is reported by /health.
const Version = "0.1.0"

const (
	defaultProxyPort         = 3000
	defaultShutdownTimeout   = 10 * time.Second
	defaultValidationTimeout = providers.DefaultTimeout
)

// ProxyController is the subset of *proxy.Controller the server drives.
type ProxyController interface {
	Start(ctx context.Context, env map[string]string, port int) (proxy.Info, error)
	Stop() bool
	Info() (proxy.Info, bool)
	Output() (stdout, stderr string)
}

// Options wires the server's collaborators.
type Options struct {
	// Addr is host:port; port 0 picks a free port.
	Addr      string
	AuthToken string

	Store    storage.Backend
	Registry *providers.Registry
	Proxy    ProxyController

	// State and Metrics are optional.
	State   *state.DB
	Metrics *metrics.Collector

	DefaultProxyPort  int
	ValidationTimeout time.Duration
	ShutdownTimeout   time.Duration

	Logger *slog.Logger
}

// Server is the daemon's HTTP API.
type Server struct {
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Collector
	handler http.Handler

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener

	shutdownOnce sync.Once
	shutdownErr  error
}

// New validates opts and builds the handler chain.
func New(opts Options) (*Server, error) {
	if opts.AuthToken == "" {
		return nil, errors.New("auth token is required")
	}
	if opts.Store == nil || opts.Registry == nil || opts.Proxy == nil {
		return nil, errors.New("store, registry and proxy are required")
	}
	if opts.DefaultProxyPort == 0 {
		opts.DefaultProxyPort = defaultProxyPort
	}
	if opts.ValidationTimeout <= 0 {
		opts.ValidationTimeout = defaultValidationTimeout
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{opts: opts, logger: logger, metrics: opts.Metrics}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	s.handle(mux, "GET /health", s.handleHealth)
	s.handle(mux, "GET /secrets/providers", s.handleListProviders)
	s.handle(mux, "PUT /secrets/provider/{id}", s.handleStoreKey)
	s.handle(mux, "DELETE /secrets/provider/{id}", s.handleDeleteKey)
	s.handle(mux, "POST /test/provider/{id}", s.handleTestProvider)
	s.handle(mux, "GET /proxy/status", s.handleProxyStatus)
	s.handle(mux, "POST /proxy/start", s.handleProxyStart)
	s.handle(mux, "POST /proxy/stop", s.handleProxyStop)
	if s.metrics != nil {
		metricsHandler := s.metrics.Handler()
		s.handle(mux, "GET /metrics", metricsHandler.ServeHTTP)
	}

	// Outermost last
	var h http.Handler = mux
	h = s.authMiddleware(h)
	h = s.corsMiddleware(h)
	h = s.loggingMiddleware(h)
	h = s.requestIDMiddleware(h)
	h = s.recoveryMiddleware(h)
	return h
}

func (s *Server) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		setRoute(r)
		fn(w, r)
	})
}

// Listen binds the listener and returns the bound address.
func (s *Server) Listen() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil, errors.New("server is already listening")
	}
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Proxy start can legitimately take the full start timeout
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return ln.Addr(), nil
}

// Serve serves until ctx is done, then shuts down. Listen must be called first.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln, srv := s.listener, s.httpServer
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server is not listening")
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("secrets daemon listening", "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err, ok := <-errCh:
		if ok {
			s.Shutdown(context.Background())
			return err
		}
		return s.Shutdown(context.Background())
	}
}

// Shutdown stops accepting requests, drains in-flight ones and stops the
// supervised proxy. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Info("initiating graceful shutdown", "timeout", s.opts.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.opts.ShutdownTimeout)
		defer cancel()

		s.mu.Lock()
		srv := s.httpServer
		s.mu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("error during server shutdown", "error", err)
				s.shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		if _, running := s.opts.Proxy.Info(); running {
			s.logger.Info("stopping proxy before exit")
		}
		s.opts.Proxy.Stop()

		s.logger.Info("secrets daemon stopped")
	})
	return s.shutdownErr
}

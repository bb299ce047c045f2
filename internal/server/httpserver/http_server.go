// Package httpserver serves fleet status, health and metrics over HTTP.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"git.home.luguber.info/inful/holocommander/internal/logfields"
	"git.home.luguber.info/inful/holocommander/internal/metrics"
	handlers "git.home.luguber.info/inful/holocommander/internal/server/handlers"
	smw "git.home.luguber.info/inful/holocommander/internal/server/middleware"
)

const readHeaderTimeout = 10 * time.Second

// Options carries the optional server dependencies.
type Options struct {
	// Registry backs /metrics. The endpoint is omitted when nil.
	Registry *prom.Registry
	History  handlers.HistoryView
	Status   handlers.StatusView
	Logger   *slog.Logger
}

// Server manages the status endpoint.
type Server struct {
	addr         string
	opts         Options
	logger       *slog.Logger
	errorAdapter *ferrors.HTTPErrorAdapter

	monitoringHandlers *handlers.MonitoringHandlers
	deviceHandlers     *handlers.DeviceHandlers

	mchain func(http.Handler) http.Handler

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// New constructs a server for addr. Nothing is bound until Start.
func New(addr string, fleet handlers.FleetView, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:         addr,
		opts:         opts,
		logger:       logger,
		errorAdapter: ferrors.NewHTTPErrorAdapter(logger),
	}

	s.monitoringHandlers = handlers.NewMonitoringHandlers(fleet, s.errorAdapter)
	s.deviceHandlers = handlers.NewDeviceHandlers(fleet, opts.History, opts.Status, s.errorAdapter)
	s.mchain = smw.Chain(logger, s.errorAdapter)
	return s
}

// Handler returns the routed and wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.monitoringHandlers.HandleHealthCheck)
	mux.HandleFunc("GET /health", s.monitoringHandlers.HandleHealthCheck)
	if s.opts.Registry != nil {
		mux.Handle("GET /metrics", metrics.HTTPHandler(s.opts.Registry))
	}

	mux.HandleFunc("GET /api/devices", s.deviceHandlers.HandleDevices)
	mux.HandleFunc("GET /api/devices/{name}", s.deviceHandlers.HandleDevice)
	mux.HandleFunc("GET /api/devices/{name}/history", s.deviceHandlers.HandleHistory)
	mux.HandleFunc("GET /api/status", s.deviceHandlers.HandleLastStatus)

	return s.mchain(mux)
}

// Start binds the listener and serves in the background. Bind errors are
// returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return ferrors.ValidationError("server already started").Build()
	}

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "http startup failed").
			WithContext("address", s.addr).
			Build()
	}

	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.startServerWithListener(s.srv, ln)
	s.logger.Info("HTTP server started", logfields.Address(ln.Addr().String()))
	return nil
}

// Addr is the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv, s.ln = nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) startServerWithListener(srv *http.Server, ln net.Listener) {
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", logfields.Error(err))
		}
	}()
}

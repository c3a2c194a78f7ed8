package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/actionkit/actionkit/internal/config"
)

// Server binds the REST transport adapter's http.Handler (which wraps the
// Dispatcher over the Engine's Registry) to a listener address and owns its
// start/stop lifecycle, including exactly-once graceful shutdown.
type Server struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	once       sync.Once
}

// New binds handler — expected to be the router built by
// internal/transport/rest.NewRouter — to the address configured under
// rest.host/rest.port, with the same read-header and idle timeouts the
// teacher applies to its own listener.
func New(cfg config.Config, logger *slog.Logger, handler http.Handler) (*Server, error) {
	if handler == nil {
		return nil, errors.New("server: handler required")
	}

	addr := net.JoinHostPort(cfg.REST.Host, strconv.Itoa(cfg.REST.Port))
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "transport")),
		httpServer: httpSrv,
	}, nil
}

// Run starts the listener on its own goroutine and blocks until either it
// fails or ctx is canceled, in which case it drives one graceful shutdown
// before returning ctx.Err() so the caller can distinguish a deliberate stop
// from a listener failure.
func (s *Server) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)

	go func() {
		s.logger.Info("services endpoint listening", slog.String("address", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("server: listen: %w", err)
			return
		}
		serveErr <- nil
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		return s.stopOnCancel(ctx)
	}
}

// stopOnCancel runs the graceful shutdown with its own bounded timeout,
// independent of ctx (which is already canceled), and surfaces ctx.Err()
// once the listener has drained in-flight requests.
func (s *Server) stopOnCancel(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}

// shutdown is guarded by sync.Once: Run only ever drives it from the
// ctx.Done() branch, but it stays idempotent in case a future caller also
// wires it to an OS signal handler directly.
func (s *Server) shutdown(ctx context.Context) error {
	var shutdownErr error
	s.once.Do(func() {
		s.logger.Info("services endpoint shutting down")
		shutdownErr = s.httpServer.Shutdown(ctx)
	})
	return shutdownErr
}

// Package api serves the supply HTTP endpoints.
package api

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"forge-supply/internal/observability"
	"forge-supply/internal/storage"
	"forge-supply/internal/supply"
)

// Computer produces supply reports. *supply.Reporter satisfies it.
type Computer interface {
	Compute(ctx context.Context) (*supply.Report, error)
}

// Options configures a Server.
type Options struct {
	Reporter       Computer
	Mint           string
	Snapshots      storage.SnapshotStore         // optional; enables history and latest
	Timeseries     storage.SupplyTimeseriesStore // optional; enables timeseries
	RequestTimeout time.Duration
	RateLimiter    *RateLimiter // nil disables rate limiting
	Logger         *log.Logger
	Now            func() time.Time
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	reporter       Computer
	mint           string
	snapshots      storage.SnapshotStore
	timeseries     storage.SupplyTimeseriesStore
	requestTimeout time.Duration
	limiter        *RateLimiter
	logger         *log.Logger
	now            func() time.Time
	mux            *http.ServeMux
}

// New creates a Server and registers its routes.
func New(opts Options) *Server {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Server{
		reporter:       opts.Reporter,
		mint:           opts.Mint,
		snapshots:      opts.Snapshots,
		timeseries:     opts.Timeseries,
		requestTimeout: timeout,
		limiter:        opts.RateLimiter,
		logger:         logger,
		now:            now,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /forge/supply", s.withRateLimit(s.withTimeout(s.handleSupply)))
	s.mux.HandleFunc("GET /forge/supply/locked", s.withRateLimit(s.withTimeout(s.handleLocked)))
	s.mux.HandleFunc("GET /forge/supply/history", s.withRateLimit(s.withTimeout(s.handleHistory)))
	s.mux.HandleFunc("GET /forge/supply/latest", s.withRateLimit(s.withTimeout(s.handleLatest)))
	s.mux.HandleFunc("GET /forge/supply/timeseries", s.withRateLimit(s.withTimeout(s.handleTimeseries)))

	// The root and health routes always answer.
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", observability.Handler())
}

// Handler returns the root handler with request metrics applied.
func (s *Server) Handler() http.Handler {
	return s.withMetrics(s.mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Leave headroom over the request timeout for writing the response.
		WriteTimeout: s.requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

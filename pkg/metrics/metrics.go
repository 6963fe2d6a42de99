// Package metrics provides the Prometheus registry and the HTTP surface for locmap metrics.
// All metrics are defined in their respective packages (driver, transport, cache)
// to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Sternrassler/locmap/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by locmap.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// ReadyFunc reports whether a dependency is usable. A nil error means ready.
type ReadyFunc func(ctx context.Context) error

// Handler returns the metrics mux: /metrics, /health and /ready.
// ready may be nil when nothing needs checking.
func Handler(ready ReadyFunc) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				http.Error(w, fmt.Sprintf("not ready: %v", err), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	return mux
}

// Server exposes Handler on a listener until its context ends.
type Server struct {
	srv      *http.Server
	listener net.Listener
}

// Listen binds addr. Use ":0" for a random port.
func Listen(addr string, ready ReadyFunc) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Server{
		srv: &http.Server{
			Handler:           Handler(ready),
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks until ctx is cancelled, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	logger := logging.NewLogger("metrics")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(s.listener)
	}()
	logger.Info().Str("addr", s.Addr()).Msg("Metrics server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	logger.Debug().Msg("Metrics server stopped")
	return nil
}

// Metrics Documentation
//
// Run Metrics (pkg/driver):
//   - locmap_runs_total{result} (Counter): Extraction runs by result (completed, failed, rejected)
//   - locmap_run_duration_seconds (Histogram): Extraction run duration
//   - locmap_pages_total{kind} (Counter): Pages received (empty, non_empty)
//   - locmap_pins_total (Counter): Pins placed on the map
//
// Transport Metrics (pkg/transport):
//   - locmap_transport_requests_total{transport, status} (Counter): Requests by transport and outcome
//   - locmap_transport_request_duration_seconds{transport} (Histogram): Time per page
//   - locmap_transport_errors_total{class} (Counter): Errors by class (network, client, server, decode, remote)
//
// Cache Metrics (pkg/cache):
//   - locmap_page_cache_hits_total (Counter): Page cache hits
//   - locmap_page_cache_misses_total (Counter): Page cache misses
//   - locmap_page_cache_stored_bytes_total (Counter): Bytes written to the page cache
//   - locmap_page_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(locmap_page_cache_hits_total[5m])) /
//   (sum(rate(locmap_page_cache_hits_total[5m])) + sum(rate(locmap_page_cache_misses_total[5m])))
//
//   # Failed Run Ratio
//   rate(locmap_runs_total{result="failed"}[5m]) / rate(locmap_runs_total[5m])
//
//   # P95 Page Latency
//   histogram_quantile(0.95, rate(locmap_transport_request_duration_seconds_bucket[5m]))

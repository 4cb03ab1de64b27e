package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/orbitalfiles/orbital/internal/metrics"
)

const (
	metricsPath            = "/metrics"
	metricsShutdownTimeout = 2 * time.Second
	metricsReadTimeout     = 5 * time.Second
)

// serveMetrics exposes the Prometheus registry on addr until the returned
// stop func is called. It returns the bound address, which differs from
// addr when addr asks for port 0.
func serveMetrics(addr string, logger *slog.Logger) (net.Addr, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics listener on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(metricsPath, metrics.Handler())

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: metricsReadTimeout}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", slog.String("error", err.Error()))
		}
	}()

	logger.Debug("serving metrics", slog.String("addr", ln.Addr().String()))

	return ln.Addr(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown", slog.String("error", err.Error()))
		}
	}, nil
}

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/junghoonshin3/bemypet/config"
	"github.com/junghoonshin3/bemypet/internal/observability/metrics"
	"github.com/junghoonshin3/bemypet/internal/observability/prom"
	"github.com/junghoonshin3/bemypet/internal/observability/statsd"
)

// Metrics holds the sinks the agent emits to.
type Metrics struct {
	// Sink fans out to every enabled backend; nil when none is.
	Sink       statsd.Sink
	Statsd     *statsd.Client
	Prometheus *prom.Sink
}

// Close releases the StatsD connection.
func (m *Metrics) Close() error {
	if m == nil {
		return nil
	}
	return m.Statsd.Close()
}

// MetricsConfig contains configuration for metric sinks.
type MetricsConfig struct {
	Observability config.ObservabilityMetricsConfig
	// Prometheus enables the Prometheus sink even when no address is configured.
	Prometheus bool
	Logger     *slog.Logger
}

// BuildMetrics creates the StatsD client and, when requested, the Prometheus sink.
func BuildMetrics(cfg MetricsConfig) (*Metrics, error) {
	out := &Metrics{}
	if cfg.Observability.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Observability.StatsdAddress,
			Prefix:  cfg.Observability.Prefix,
			Logger:  cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create statsd client: %w", err)
		}
		out.Statsd = client
	}
	if cfg.Prometheus || cfg.Observability.PrometheusAddr != "" {
		out.Prometheus = prom.NewSink(prom.Options{
			Namespace: cfg.Observability.Prefix,
			Labels:    metrics.LabelSets(),
		})
	}

	var sinks []statsd.Sink
	if out.Statsd != nil {
		sinks = append(sinks, out.Statsd)
	}
	if out.Prometheus != nil {
		sinks = append(sinks, out.Prometheus)
	}
	out.Sink = prom.NewFanout(sinks...)
	return out, nil
}

// StartMetricsServer serves handler at /metrics on addr until ctx ends.
// It returns once the listener is bound so callers can report the address.
func StartMetricsServer(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) (*http.Server, net.Addr, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		return nil, nil, errors.New("metrics address is required")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	go func() {
		logger.Info("starting metrics server", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return server, ln.Addr(), nil
}

// ShutdownMetricsServer gracefully shuts down a server from StartMetricsServer.
func ShutdownMetricsServer(ctx context.Context, server *http.Server, logger *slog.Logger) error {
	if server == nil {
		return nil
	}

	// Shutdown with timeout; ctx may already be done when the caller is exiting.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if logger != nil {
		logger.Info("metrics server stopped")
	}

	return nil
}

package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"procstream/internal/logging"
)

const meterName = "procstream"

// Exporter ties an OTel MeterProvider to a private Prometheus registry.
type Exporter struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler
}

// NewExporter creates a Prometheus-backed MeterProvider. Each call uses an
// independent registry so repeated construction does not collide.
func NewExporter() (*Exporter, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(
		promexporter.WithRegisterer(registry),
	)
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	return &Exporter{
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)),
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, nil
}

// Meter returns the procstream meter.
func (e *Exporter) Meter() metric.Meter { return e.provider.Meter(meterName) }

// Handler serves the scrape endpoint.
func (e *Exporter) Handler() http.Handler { return e.handler }

// PipelineMetrics creates pipeline instruments on this exporter's meter.
func (e *Exporter) PipelineMetrics() (*PipelineMetrics, error) {
	return NewPipelineMetrics(e.Meter())
}

// Shutdown flushes and stops the provider.
func (e *Exporter) Shutdown(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}

// Serve exposes the scrape endpoint on addr until ctx is done.
func (e *Exporter) Serve(ctx context.Context, addr, path string) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, e.handler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logging.Metrics("serving metrics on %s%s", addr, path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.MetricsWarn("metrics server shutdown: %v", err)
		}
		<-errCh
		return nil
	}
}

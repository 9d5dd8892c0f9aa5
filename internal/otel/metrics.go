// Package otel provides lightweight wrapper functions
// to initialize and record OpenTelemetry metrics.
package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"github.com/tzrikka/revowners/internal/logger"
)

const name = "github.com/tzrikka/revowners/internal/otel"

// Options configure the OTLP HTTP metrics exporter.
type Options struct {
	Endpoint    string
	Timeout     time.Duration
	Compression string
}

// InitMetrics registers a global meter provider which exports metrics
// periodically to an OTLP HTTP endpoint. Callers must shut it down.
func InitMetrics(ctx context.Context, opts Options) (*metric.MeterProvider, error) {
	httpOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpointURL(opts.Endpoint)}
	if opts.Timeout > 0 {
		httpOpts = append(httpOpts, otlpmetrichttp.WithTimeout(opts.Timeout))
	}
	if opts.Compression == "gzip" {
		httpOpts = append(httpOpts, otlpmetrichttp.WithCompression(otlpmetrichttp.GzipCompression))
	}

	exporter, err := otlpmetrichttp.New(ctx, httpOpts...)
	if err != nil {
		return nil, err
	}

	reader := metric.NewPeriodicReader(exporter)
	res := resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName("revowners"))
	provider := metric.NewMeterProvider(metric.WithReader(reader), metric.WithResource(res))

	otel.SetMeterProvider(provider)
	return provider, nil
}

// IncrementCounter increments a metric counter. Attributes are optional,
// and attributes with empty values are omitted.
func IncrementCounter(ctx context.Context, counterName string, incr int64, attrs map[string]string) {
	meter := otel.GetMeterProvider().Meter(name)
	counter, err := meter.Int64Counter(counterName)
	if err != nil {
		logger.FromContext(ctx).Error("failed to create metric counter", "error", err, "name", counterName)
		return
	}

	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		if v == "" {
			continue
		}
		kvs = append(kvs, attribute.String(k, v))
	}

	counter.Add(ctx, incr, otelmetric.WithAttributes(kvs...))
}

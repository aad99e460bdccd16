// Package otel builds the relay's OpenTelemetry providers (traces, metrics, logs) exported over OTLP,
// and adapts telemetry events into OTel log records.
package otel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"

	"account-relay/internal/config"
)

// DefaultServiceName is reported when OTEL_SERVICE_NAME is empty.
const DefaultServiceName = "account-relay"

const defaultMetricInterval = 10 * time.Second

// Config selects where the relay exports telemetry and how it identifies itself.
type Config struct {
	// Endpoint is the OTLP gRPC collector, as host:port or a URL. Empty keeps telemetry in process.
	Endpoint string
	// Insecure forces plaintext even for https endpoints (OTEL_EXPORTER_OTLP_INSECURE).
	Insecure       bool
	ServiceName    string
	Environment    string
	MetricInterval time.Duration
}

// ConfigFrom reads the telemetry settings out of the relay configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
	}
}

// Providers holds the OpenTelemetry providers and a shutdown function.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *metric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider
	Resource       *resource.Resource
	// Exporting is false when no collector endpoint was configured.
	Exporting bool
	Shutdown  func(context.Context) error
}

// NewProviders creates the tracer, meter and logger providers for the relay. Without an endpoint the
// providers still carry the relay resource but export nothing.
func NewProviders(ctx context.Context, c Config) (*Providers, error) {
	res, err := newResource(c)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(c.Endpoint) == "" {
		tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
		mp := metric.NewMeterProvider(metric.WithResource(res))
		lp := sdklog.NewLoggerProvider(sdklog.WithResource(res))
		return &Providers{
			TracerProvider: tp,
			MeterProvider:  mp,
			LoggerProvider: lp,
			Resource:       res,
			Shutdown:       shutdownAll(lp.Shutdown, mp.Shutdown, tp.Shutdown),
		}, nil
	}

	target, insecure, err := parseEndpoint(c.Endpoint, c.Insecure)
	if err != nil {
		return nil, err
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(target)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(target)}
	logOpts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(target)}
	if insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		logOpts = append(logOpts, otlploggrpc.WithInsecure())
	}

	traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)

	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("metric exporter: %w", err)
	}
	interval := c.MetricInterval
	if interval <= 0 {
		interval = defaultMetricInterval
	}
	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(metricExp, metric.WithInterval(interval))),
	)

	logExp, err := otlploggrpc.New(ctx, logOpts...)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, fmt.Errorf("log exporter: %w", err)
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)

	return &Providers{
		TracerProvider: tp,
		MeterProvider:  mp,
		LoggerProvider: lp,
		Resource:       res,
		Exporting:      true,
		Shutdown:       shutdownAll(lp.Shutdown, mp.Shutdown, tp.Shutdown),
	}, nil
}

// SetGlobal installs the tracer and meter providers used by otel.Tracer and otel.Meter in the
// lifecycle service, dispatcher and HTTP middleware, and the W3C trace context propagator the HTTP
// middleware uses to continue a caller's trace. The LoggerProvider is passed explicitly instead.
func (p *Providers) SetGlobal() {
	if p.TracerProvider != nil {
		otel.SetTracerProvider(p.TracerProvider)
	}
	if p.MeterProvider != nil {
		otel.SetMeterProvider(p.MeterProvider)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

func newResource(c Config) (*resource.Resource, error) {
	name := strings.TrimSpace(c.ServiceName)
	if name == "" {
		name = DefaultServiceName
	}
	attrs := []attribute.KeyValue{semconv.ServiceName(name)}
	if env := strings.TrimSpace(c.Environment); env != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentName(env))
	}
	// Schemaless so the merge keeps the SDK default schema URL.
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}

// parseEndpoint reduces endpoint to the host:port the gRPC exporters dial. Paths are dropped.
// Only https endpoints use TLS, and force turns it off for them too.
func parseEndpoint(endpoint string, force bool) (target string, insecure bool, err error) {
	endpoint = strings.TrimSpace(endpoint)
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid OTLP endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid OTLP endpoint %q: missing host", endpoint)
	}
	return u.Host, force || u.Scheme != "https", nil
}

// shutdownAll runs fns in order, logging and joining their errors.
func shutdownAll(fns ...func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		var errs []error
		for _, fn := range fns {
			if err := fn(ctx); err != nil {
				slog.Warn("telemetry: shutdown", "error", err)
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

package otel

import (
	"context"
	"net/http"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"

	"account-relay/internal/config"
)

func resourceValue(t *testing.T, p *Providers, key attribute.Key) string {
	t.Helper()
	v, ok := p.Resource.Set().Value(key)
	if !ok {
		t.Fatalf("resource has no %s", key)
	}
	return v.AsString()
}

func TestParseEndpoint(t *testing.T) {
	testCases := []struct {
		name         string
		endpoint     string
		force        bool
		wantTarget   string
		wantInsecure bool
		wantErr      bool
	}{
		{"host and port", "localhost:4317", false, "localhost:4317", true, false},
		{"http url", "http://collector:4317", false, "collector:4317", true, false},
		{"https url", "https://collector:4317", false, "collector:4317", false, false},
		{"https forced insecure", "https://collector:4317", true, "collector:4317", true, false},
		{"path dropped", "https://collector:4317/v1/traces", false, "collector:4317", false, false},
		{"surrounding space", "  collector:4317 ", false, "collector:4317", true, false},
		{"missing host", "http://", false, "", false, true},
		{"malformed", "http://[invalid", false, "", false, true},
		{"no scheme", "://invalid", false, "", false, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			target, insecure, err := parseEndpoint(tc.endpoint, tc.force)
			if (err != nil) != tc.wantErr {
				t.Fatalf("parseEndpoint(%q) err = %v, wantErr %v", tc.endpoint, err, tc.wantErr)
			}
			if tc.wantErr {
				return
			}
			if target != tc.wantTarget || insecure != tc.wantInsecure {
				t.Errorf("parseEndpoint(%q) = %q, %v; want %q, %v", tc.endpoint, target, insecure, tc.wantTarget, tc.wantInsecure)
			}
		})
	}
}

func TestNewProviders_InProcess(t *testing.T) {
	p, err := NewProviders(context.Background(), Config{ServiceName: "relay-eu", Environment: "staging"})
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	if p.Exporting {
		t.Error("no endpoint should not export")
	}
	if p.TracerProvider == nil || p.MeterProvider == nil || p.LoggerProvider == nil {
		t.Fatal("providers must be built even without a collector")
	}
	if got := resourceValue(t, p, semconv.ServiceNameKey); got != "relay-eu" {
		t.Errorf("service.name = %q", got)
	}
	if got := resourceValue(t, p, semconv.DeploymentEnvironmentNameKey); got != "staging" {
		t.Errorf("deployment.environment.name = %q", got)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestNewProviders_DefaultServiceName(t *testing.T) {
	p, err := NewProviders(context.Background(), Config{ServiceName: "  "})
	if err != nil {
		t.Fatal(err)
	}
	if got := resourceValue(t, p, semconv.ServiceNameKey); got != DefaultServiceName {
		t.Errorf("service.name = %q, want %q", got, DefaultServiceName)
	}
	if _, ok := p.Resource.Set().Value(semconv.DeploymentEnvironmentNameKey); ok {
		t.Error("empty environment should not be reported")
	}
}

func TestNewProviders_InvalidEndpoint(t *testing.T) {
	if _, err := NewProviders(context.Background(), Config{Endpoint: "http://"}); err == nil {
		t.Error("endpoint without host should fail")
	}
}

func TestNewProviders_Exporting(t *testing.T) {
	// gRPC exporters connect lazily, so no collector is needed to build them.
	p, err := NewProviders(context.Background(), Config{Endpoint: "localhost:4317", MetricInterval: time.Hour})
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	if !p.Exporting {
		t.Error("endpoint set should export")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Shutdown(ctx)
}

func TestConfigFrom(t *testing.T) {
	cfg := &config.Config{
		OTLPEndpoint: "https://otel:4317",
		OTLPInsecure: true,
		ServiceName:  "account-relay",
		Env:          "production",
	}
	got := ConfigFrom(cfg)
	want := Config{Endpoint: "https://otel:4317", Insecure: true, ServiceName: "account-relay", Environment: "production"}
	if got != want {
		t.Errorf("ConfigFrom = %+v, want %+v", got, want)
	}
}

func TestSetGlobal_InstallsProvidersAndPropagator(t *testing.T) {
	prevTP, prevMP, prevProp := otel.GetTracerProvider(), otel.GetMeterProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
		otel.SetTextMapPropagator(prevProp)
	})

	p, err := NewProviders(context.Background(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	p.SetGlobal()
	if otel.GetTracerProvider() != p.TracerProvider {
		t.Error("global tracer provider not set")
	}
	if otel.GetMeterProvider() != p.MeterProvider {
		t.Error("global meter provider not set")
	}

	// A caller's traceparent survives a round trip through the global propagator.
	in := propagation.HeaderCarrier(http.Header{})
	in.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), in)
	out := propagation.HeaderCarrier(http.Header{})
	otel.GetTextMapPropagator().Inject(ctx, out)
	if got := out.Get("traceparent"); got != "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01" {
		t.Errorf("traceparent = %q", got)
	}
}

package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"account-relay/internal/telemetry"
)

// recordCapture stores the last Record passed to Emit.
type recordCapture struct {
	rec otellog.Record
}

func (r *recordCapture) Emit(ctx context.Context, rec otellog.Record) {
	r.rec = rec
}

func attrsOf(rec otellog.Record) map[string]string {
	attrs := make(map[string]string)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	return attrs
}

func TestNewEventEmitter_NilProvider_ReturnsNoop(t *testing.T) {
	em := NewEventEmitter(nil)
	if err := em.Emit(context.Background(), &telemetry.Event{AccountID: "a"}); err != nil {
		t.Errorf("noop Emit: %v", err)
	}
}

func TestNewEventEmitter_RealProvider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	em := NewEventEmitter(provider)
	if err := em.Emit(context.Background(), nil); err != nil {
		t.Errorf("Emit(nil): %v", err)
	}
	if err := em.Emit(context.Background(), telemetry.NewEvent("x", "a", "ok", nil)); err != nil {
		t.Errorf("Emit: %v", err)
	}
}

func TestEmit_AttributeAndBodyMapping(t *testing.T) {
	cap := &recordCapture{}
	em := &otelEmitter{logger: cap}
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	event := &telemetry.Event{
		AccountID: "acct1",
		RequestID: "req-1",
		EventType: telemetry.EventCodeSubmitted,
		Source:    "relay",
		Phase:     "authorized",
		Outcome:   "ok",
		Metadata:  []byte(`{"key":"value"}`),
		CreatedAt: created,
	}
	if err := em.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if got := string(cap.rec.Body().AsBytes()); got != `{"key":"value"}` {
		t.Errorf("body = %q", got)
	}
	if !cap.rec.Timestamp().Equal(created) {
		t.Errorf("timestamp = %v, want %v", cap.rec.Timestamp(), created)
	}
	want := map[string]string{
		"account_id": "acct1", "request_id": "req-1", "event_type": telemetry.EventCodeSubmitted,
		"source": "relay", "phase": "authorized", "outcome": "ok",
	}
	attrs := attrsOf(cap.rec)
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attr %q = %q, want %q", k, attrs[k], v)
		}
	}
}

func TestEmit_PartialFieldsAndZeroTime(t *testing.T) {
	cap := &recordCapture{}
	em := &otelEmitter{logger: cap}
	before := time.Now().UTC()
	if err := em.Emit(context.Background(), &telemetry.Event{EventType: "ping"}); err != nil {
		t.Fatal(err)
	}
	if !cap.rec.Body().Empty() {
		t.Error("body should be empty without metadata")
	}
	if cap.rec.Timestamp().Before(before) {
		t.Error("zero CreatedAt should be replaced by now")
	}
	attrs := attrsOf(cap.rec)
	if _, ok := attrs["account_id"]; ok {
		t.Error("empty fields must not become attributes")
	}
	if attrs["event_type"] != "ping" {
		t.Errorf("event_type = %q", attrs["event_type"])
	}
}

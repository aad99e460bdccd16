package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*Event
	ctxs    []context.Context
	emitErr error
	done    chan struct{}
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *Event) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.ctxs = append(m.ctxs, ctx)
	m.mu.Unlock()
	if m.done != nil {
		m.done <- struct{}{}
	}
	return m.emitErr
}

func (m *mockEventEmitter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestEmitAsync_NilEmitterOrEvent(t *testing.T) {
	EmitAsync(nil, context.Background(), &Event{EventType: "x"})
	em := &mockEventEmitter{}
	EmitAsync(em, context.Background(), nil)
	time.Sleep(10 * time.Millisecond)
	if em.count() != 0 {
		t.Errorf("expected 0 events, got %d", em.count())
	}
}

func TestEmitAsync_SurvivesCanceledRequestContext(t *testing.T) {
	em := &mockEventEmitter{done: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	EmitAsync(em, ctx, NewEvent(EventCodeRequested, "acct1", "ok", nil))
	select {
	case <-em.done:
	case <-time.After(time.Second):
		t.Fatal("event was not emitted")
	}
}

func TestEmitAsync_KeepsRequestValues(t *testing.T) {
	em := &mockEventEmitter{done: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancel(WithRequestID(context.Background(), "req-42"))
	EmitAsync(em, ctx, NewEvent(EventCodeRequested, "acct1", "ok", nil))
	cancel()
	select {
	case <-em.done:
	case <-time.After(time.Second):
		t.Fatal("event was not emitted")
	}
	em.mu.Lock()
	emitCtx := em.ctxs[0]
	em.mu.Unlock()
	if got := RequestIDFrom(emitCtx); got != "req-42" {
		t.Errorf("request id = %q, want req-42", got)
	}
	if _, ok := emitCtx.Deadline(); !ok {
		t.Error("emit should run under a deadline")
	}
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	a := &mockEventEmitter{}
	b := &mockEventEmitter{emitErr: errors.New("kafka down")}
	m := Multi{a, nil, b}
	err := m.Emit(context.Background(), &Event{EventType: "x"})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if a.count() != 1 || b.count() != 1 {
		t.Errorf("counts = %d, %d, want 1, 1", a.count(), b.count())
	}
}

func TestNewEvent(t *testing.T) {
	e := NewEvent(EventCommandExecuted, "acct1", "ok", map[string]any{"kind": "get_me"})
	if e.Source != "relay" || e.AccountID != "acct1" || e.CreatedAt.IsZero() {
		t.Errorf("event = %+v", e)
	}
	var meta map[string]string
	if err := json.Unmarshal(e.Metadata, &meta); err != nil || meta["kind"] != "get_me" {
		t.Errorf("metadata = %s (%v)", e.Metadata, err)
	}
	if NewEvent("x", "", "", nil).Metadata != nil {
		t.Error("nil meta should leave Metadata empty")
	}
}

func TestRequestIDContext(t *testing.T) {
	if RequestIDFrom(context.Background()) != "" {
		t.Error("empty context should have no request id")
	}
	ctx := WithRequestID(context.Background(), "req-1")
	if got := RequestIDFrom(ctx); got != "req-1" {
		t.Errorf("RequestIDFrom = %q", got)
	}
}

package producer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"

	"account-relay/internal/telemetry"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewKafkaProducer_Unconfigured(t *testing.T) {
	for _, tc := range []struct {
		brokers []string
		topic   string
	}{
		{nil, "t"},
		{[]string{"localhost:9092"}, ""},
	} {
		p, err := NewKafkaProducer(tc.brokers, tc.topic)
		if err != nil || p != nil {
			t.Errorf("NewKafkaProducer(%v, %q) = %v, %v; want nil, nil", tc.brokers, tc.topic, p, err)
		}
	}
	var p *KafkaProducer
	if err := p.Emit(context.Background(), &telemetry.Event{}); err != nil {
		t.Errorf("nil Emit: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("nil Close: %v", err)
	}
}

func TestNewKafkaProducer_Configured(t *testing.T) {
	p, err := NewKafkaProducer([]string{"localhost:9092"}, "relay-telemetry")
	if err != nil || p == nil {
		t.Fatalf("NewKafkaProducer: %v, %v", p, err)
	}
	if p.Topic() != "relay-telemetry" {
		t.Errorf("topic = %q", p.Topic())
	}
	_ = p.Close()
}

func TestKafkaProducer_EmitKeysByAccount(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaProducer{writer: w, topic: "t"}
	ev := telemetry.NewEvent(telemetry.EventCodeRequested, "acct1", "ok", nil)
	if err := p.Emit(context.Background(), ev); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "acct1" {
		t.Errorf("key = %q, want acct1", w.msgs[0].Key)
	}
	var got telemetry.Event
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatal(err)
	}
	if got.EventType != telemetry.EventCodeRequested || got.AccountID != "acct1" {
		t.Errorf("payload = %+v", got)
	}
	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("Close: %v closed=%v", err, w.closed)
	}
}

func TestKafkaProducer_EmitError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := &KafkaProducer{writer: w, topic: "t"}
	if err := p.Emit(context.Background(), &telemetry.Event{EventType: "x"}); err == nil {
		t.Error("expected write error")
	}
}

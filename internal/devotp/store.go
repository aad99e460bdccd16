// Package devotp holds login codes issued by the simulated protocol so operators can read them back
// (GET /dev/code). It is only wired when the simulated protocol is selected outside production.
package devotp

import (
	"context"
	"sync"
	"time"
)

// Message is one login code delivered to a phone.
type Message struct {
	Phone     string    `json:"phone"`
	Code      string    `json:"code"`
	SentAt    time.Time `json:"sent_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Inbox receives login codes keyed by phone. Only the latest code per phone is kept.
type Inbox interface {
	Deliver(ctx context.Context, msg Message)
	// Latest returns the newest unexpired code for phone. ok is false if missing or expired.
	Latest(ctx context.Context, phone string) (msg Message, ok bool)
}

// MemoryInbox is an in-memory Inbox.
type MemoryInbox struct {
	mu   sync.RWMutex
	m    map[string]Message
	nowF func() time.Time
}

// NewMemoryInbox returns an empty in-memory inbox on the wall clock.
func NewMemoryInbox() *MemoryInbox {
	return NewMemoryInboxWithClock(nil)
}

// NewMemoryInboxWithClock returns an empty inbox that judges expiry by now. A nil now uses the wall clock.
func NewMemoryInboxWithClock(now func() time.Time) *MemoryInbox {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryInbox{
		m:    make(map[string]Message),
		nowF: now,
	}
}

// Deliver records msg as the latest code for its phone.
func (s *MemoryInbox) Deliver(ctx context.Context, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[msg.Phone] = msg
}

// Latest returns the newest unexpired code for phone, dropping it if it has expired.
func (s *MemoryInbox) Latest(ctx context.Context, phone string) (Message, bool) {
	s.mu.RLock()
	msg, ok := s.m[phone]
	s.mu.RUnlock()
	if !ok {
		return Message{}, false
	}
	if !msg.ExpiresAt.IsZero() && !msg.ExpiresAt.After(s.nowF()) {
		s.mu.Lock()
		if cur, still := s.m[phone]; still && cur.SentAt.Equal(msg.SentAt) {
			delete(s.m, phone)
		}
		s.mu.Unlock()
		return Message{}, false
	}
	return msg, true
}

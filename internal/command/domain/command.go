// Package domain defines the bounded set of account commands the relay will dispatch.
package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind names a command variant.
type Kind string

const (
	KindNoop       Kind = "noop"
	KindGetMe      Kind = "get_me"
	KindGetBalance Kind = "get_balance"
	KindSendGift   Kind = "send_gift"
)

// Kinds lists every supported command kind.
var Kinds = []Kind{KindNoop, KindGetMe, KindGetBalance, KindSendGift}

var (
	// ErrUnsupported is returned for a command kind outside Kinds.
	ErrUnsupported = errors.New("unsupported command")
	// ErrInvalidPayload is returned when a known command fails its schema.
	ErrInvalidPayload = errors.New("invalid command payload")
)

// SendGift buys a catalogue gift for a user on behalf of the authorized account.
type SendGift struct {
	UserID int64 `json:"user_id"`
	GiftID int64 `json:"gift_id"`
}

// Command is a tagged union: Kind selects which payload field is set.
type Command struct {
	Kind     Kind
	SendGift *SendGift
}

// Noop returns a command that only checks the session is usable.
func Noop() Command { return Command{Kind: KindNoop} }

// GetMe returns a command fetching the authorized account's profile.
func GetMe() Command { return Command{Kind: KindGetMe} }

// GetBalance returns a command fetching the account's star balance.
func GetBalance() Command { return Command{Kind: KindGetBalance} }

// NewSendGift returns a send_gift command.
func NewSendGift(userID, giftID int64) Command {
	return Command{Kind: KindSendGift, SendGift: &SendGift{UserID: userID, GiftID: giftID}}
}

// Validate checks the payload of c against its kind's schema.
func (c Command) Validate() error {
	switch c.Kind {
	case KindNoop, KindGetMe, KindGetBalance:
		if c.SendGift != nil {
			return fmt.Errorf("%w: %s takes no payload", ErrInvalidPayload, c.Kind)
		}
		return nil
	case KindSendGift:
		if c.SendGift == nil {
			return fmt.Errorf("%w: send_gift requires user_id and gift_id", ErrInvalidPayload)
		}
		if c.SendGift.UserID <= 0 || c.SendGift.GiftID <= 0 {
			return fmt.Errorf("%w: user_id and gift_id must be positive", ErrInvalidPayload)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupported, c.Kind)
	}
}

// Payload returns the command's arguments as a generic map, used as policy input.
func (c Command) Payload() map[string]any {
	if c.SendGift == nil {
		return map[string]any{}
	}
	return map[string]any{"user_id": c.SendGift.UserID, "gift_id": c.SendGift.GiftID}
}

type wire struct {
	Kind Kind `json:"kind"`
	// Op is the older name for Kind.
	Op     Kind   `json:"op,omitempty"`
	UserID *int64 `json:"user_id,omitempty"`
	GiftID *int64 `json:"gift_id,omitempty"`
}

// MarshalJSON encodes c as a flat object: {"kind": ..., <payload fields>}.
func (c Command) MarshalJSON() ([]byte, error) {
	w := wire{Kind: c.Kind}
	if c.SendGift != nil {
		w.UserID = &c.SendGift.UserID
		w.GiftID = &c.SendGift.GiftID
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the flat wire form. Unknown fields are rejected.
func (c *Command) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w wire
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if w.Kind == "" {
		w.Kind = w.Op
	}
	*c = Command{Kind: w.Kind}
	if w.Kind == KindSendGift || w.UserID != nil || w.GiftID != nil {
		g := &SendGift{}
		if w.UserID != nil {
			g.UserID = *w.UserID
		}
		if w.GiftID != nil {
			g.GiftID = *w.GiftID
		}
		c.SendGift = g
	}
	return nil
}

// Decode parses and validates a command from its JSON wire form.
func Decode(raw json.RawMessage) (Command, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return Command{}, fmt.Errorf("%w: command is required", ErrInvalidPayload)
	}
	var c Command
	if err := json.Unmarshal(raw, &c); err != nil {
		return Command{}, err
	}
	if c.Kind == "" {
		return Command{}, fmt.Errorf("%w: command kind is required", ErrInvalidPayload)
	}
	if err := c.Validate(); err != nil {
		return Command{}, err
	}
	return c, nil
}

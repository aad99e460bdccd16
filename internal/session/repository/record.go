package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"account-relay/internal/session/domain"
)

// record is the JSON form of a session used by key-value backends.
type record struct {
	AccountID           string      `json:"account_id"`
	Phase               string      `json:"phase"`
	Phone               string      `json:"phone,omitempty"`
	APIID               int64       `json:"api_id,omitempty"`
	APIHash             string      `json:"api_hash,omitempty"`
	PendingLoginToken   string      `json:"pending_login_token,omitempty"`
	PendingExpiresAt    *time.Time  `json:"pending_expires_at,omitempty"`
	ProtocolSessionBlob string      `json:"protocol_session_blob,omitempty"`
	PasswordAttempts    int         `json:"password_attempts,omitempty"`
	RateLimitStrikes    int         `json:"rate_limit_strikes,omitempty"`
	RetryAfter          *time.Time  `json:"retry_after,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
	LastActivityAt      time.Time   `json:"last_activity_at"`
	LastError           *errorEntry `json:"last_error,omitempty"`
}

type errorEntry struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func marshalRecord(s *domain.Session) ([]byte, error) {
	rec := record{
		AccountID:           s.AccountID,
		Phase:               string(s.Phase),
		Phone:               s.Phone,
		APIID:               s.Credentials.APIID,
		APIHash:             s.Credentials.APIHash,
		PendingLoginToken:   s.PendingLoginToken,
		PendingExpiresAt:    s.PendingExpiresAt,
		ProtocolSessionBlob: s.ProtocolSessionBlob,
		PasswordAttempts:    s.PasswordAttempts,
		RateLimitStrikes:    s.RateLimitStrikes,
		RetryAfter:          s.RetryAfter,
		CreatedAt:           s.CreatedAt,
		LastActivityAt:      s.LastActivityAt,
	}
	if s.LastError != nil {
		rec.LastError = &errorEntry{Kind: s.LastError.Kind, Message: s.LastError.Message, At: s.LastError.At}
	}
	return json.Marshal(rec)
}

func unmarshalRecord(data []byte) (*domain.Session, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}
	s := &domain.Session{
		AccountID:           rec.AccountID,
		Phase:               domain.Phase(rec.Phase),
		Phone:               rec.Phone,
		Credentials:         domain.Credentials{APIID: rec.APIID, APIHash: rec.APIHash},
		PendingLoginToken:   rec.PendingLoginToken,
		PendingExpiresAt:    rec.PendingExpiresAt,
		ProtocolSessionBlob: rec.ProtocolSessionBlob,
		PasswordAttempts:    rec.PasswordAttempts,
		RateLimitStrikes:    rec.RateLimitStrikes,
		RetryAfter:          rec.RetryAfter,
		CreatedAt:           rec.CreatedAt,
		LastActivityAt:      rec.LastActivityAt,
	}
	if rec.LastError != nil {
		s.LastError = &domain.ErrorInfo{Kind: rec.LastError.Kind, Message: rec.LastError.Message, At: rec.LastError.At}
	}
	return s, nil
}

// Package protocol is the adapter boundary to the third-party messaging protocol. The relay opens one
// Conn per request from the stored session material and closes it before responding.
package protocol

import (
	"context"
	"encoding/json"
	"time"

	commanddomain "account-relay/internal/command/domain"
)

// Credentials are what a connection is opened with: application credentials plus, once authorized,
// the opaque session blob.
type Credentials struct {
	APIID   int64
	APIHash string
	Blob    string
}

// CodeRequest is the result of a successful RequestCode.
type CodeRequest struct {
	// Token is the pending login token that must accompany SubmitCode.
	Token string
	// ExpiresAt is when the protocol stops accepting the code; zero if the protocol did not say.
	ExpiresAt time.Time
}

// SignIn is the result of a successful SubmitCode or SubmitPassword. Exactly one of Blob or
// PasswordRequired is set.
type SignIn struct {
	Blob             string
	PasswordRequired bool
	// Token replaces the pending login token when PasswordRequired is set; empty means keep the old one.
	Token string
}

// Conn is one open protocol connection.
type Conn interface {
	RequestCode(ctx context.Context, phone string) (*CodeRequest, error)
	SubmitCode(ctx context.Context, token, code string) (*SignIn, error)
	SubmitPassword(ctx context.Context, token, password string) (*SignIn, error)
	ExecuteCommand(ctx context.Context, cmd commanddomain.Command) (json.RawMessage, error)
	IsAuthorized(ctx context.Context) (bool, error)
	Close() error
}

// Dialer opens protocol connections.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (Conn, error)
}

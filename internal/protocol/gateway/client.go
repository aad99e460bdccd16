// Package gateway implements protocol.Dialer against an upstream protocol daemon that speaks JSON over HTTP.
// The daemon owns the wire encoding; the relay only forwards credentials, codes and commands.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	commanddomain "account-relay/internal/command/domain"
	"account-relay/internal/protocol"
)

const defaultTimeout = 30 * time.Second

// maxErrorBody bounds how much of an upstream error body is read.
const maxErrorBody = 4 << 10

// Client dials the upstream daemon. It is safe for concurrent use.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient returns a client for baseURL authenticating with the bearer token (may be empty).
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Dial returns a connection bound to creds. No network traffic happens until the first call.
func (c *Client) Dial(ctx context.Context, creds protocol.Credentials) (protocol.Conn, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("gateway: base URL not configured")
	}
	return &conn{client: c, creds: creds}, nil
}

type conn struct {
	client *Client
	creds  protocol.Credentials
}

type envelope struct {
	APIID    int64  `json:"api_id,omitempty"`
	APIHash  string `json:"api_hash,omitempty"`
	Session  string `json:"session,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Token    string `json:"token,omitempty"`
	Code     string `json:"code,omitempty"`
	Password string `json:"password,omitempty"`

	Command *commanddomain.Command `json:"command,omitempty"`
}

type codeResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type signInResponse struct {
	Session          string `json:"session"`
	PasswordRequired bool   `json:"password_required"`
	Token            string `json:"token"`
}

type commandResponse struct {
	Result json.RawMessage `json:"result"`
}

type authorizedResponse struct {
	Authorized bool `json:"authorized"`
}

type errorResponse struct {
	Error struct {
		Kind              string `json:"kind"`
		Message           string `json:"message"`
		RetryAfterSeconds int    `json:"retry_after_seconds"`
	} `json:"error"`
}

func (c *conn) base() envelope {
	return envelope{APIID: c.creds.APIID, APIHash: c.creds.APIHash, Session: c.creds.Blob}
}

func (c *conn) RequestCode(ctx context.Context, phone string) (*protocol.CodeRequest, error) {
	body := c.base()
	body.Phone = phone
	var out codeResponse
	if err := c.client.post(ctx, "/v1/auth/send-code", body, &out); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, protocol.NewError(protocol.ErrNetworkFailure, "upstream returned no login token")
	}
	return &protocol.CodeRequest{Token: out.Token, ExpiresAt: out.ExpiresAt}, nil
}

func (c *conn) SubmitCode(ctx context.Context, token, code string) (*protocol.SignIn, error) {
	body := c.base()
	body.Token = token
	body.Code = code
	return c.signIn(ctx, "/v1/auth/sign-in", body)
}

func (c *conn) SubmitPassword(ctx context.Context, token, password string) (*protocol.SignIn, error) {
	body := c.base()
	body.Token = token
	body.Password = password
	return c.signIn(ctx, "/v1/auth/check-password", body)
}

func (c *conn) signIn(ctx context.Context, path string, body envelope) (*protocol.SignIn, error) {
	var out signInResponse
	if err := c.client.post(ctx, path, body, &out); err != nil {
		return nil, err
	}
	if !out.PasswordRequired && out.Session == "" {
		return nil, protocol.NewError(protocol.ErrNetworkFailure, "upstream returned neither session nor password challenge")
	}
	return &protocol.SignIn{Blob: out.Session, PasswordRequired: out.PasswordRequired, Token: out.Token}, nil
}

func (c *conn) ExecuteCommand(ctx context.Context, cmd commanddomain.Command) (json.RawMessage, error) {
	body := c.base()
	body.Command = &cmd
	var out commandResponse
	if err := c.client.post(ctx, "/v1/commands", body, &out); err != nil {
		return nil, err
	}
	if len(out.Result) == 0 {
		return json.RawMessage("null"), nil
	}
	return out.Result, nil
}

func (c *conn) IsAuthorized(ctx context.Context) (bool, error) {
	var out authorizedResponse
	if err := c.client.post(ctx, "/v1/auth/status", c.base(), &out); err != nil {
		return false, err
	}
	return out.Authorized, nil
}

func (c *conn) Close() error { return nil }

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("gateway %s: %w", path, ctxErr)
		}
		var timeout interface{ Timeout() bool }
		if errors.As(err, &timeout) && timeout.Timeout() {
			return fmt.Errorf("gateway %s: %w", path, context.DeadlineExceeded)
		}
		return protocol.NewError(protocol.ErrNetworkFailure, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return protocol.NewError(protocol.ErrNetworkFailure, fmt.Sprintf("decode %s response: %v", path, err))
	}
	return nil
}

// knownKinds are the upstream error kinds passed through unchanged.
var knownKinds = map[protocol.ErrorKind]bool{
	protocol.ErrInvalidPhone:       true,
	protocol.ErrInvalidCode:        true,
	protocol.ErrCodeExpired:        true,
	protocol.ErrInvalidPassword:    true,
	protocol.ErrRateLimited:        true,
	protocol.ErrNetworkFailure:     true,
	protocol.ErrSessionRevoked:     true,
	protocol.ErrInvalidCredentials: true,
	protocol.ErrCommandFailed:      true,
}

func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var er errorResponse
	_ = json.Unmarshal(b, &er)
	kind := protocol.ErrorKind(er.Error.Kind)
	msg := er.Error.Message
	if msg == "" {
		msg = fmt.Sprintf("upstream status %d", resp.StatusCode)
	}
	retryAfter := time.Duration(er.Error.RetryAfterSeconds) * time.Second
	if resp.StatusCode == http.StatusTooManyRequests {
		kind = protocol.ErrRateLimited
		if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && time.Duration(s)*time.Second > retryAfter {
			retryAfter = time.Duration(s) * time.Second
		}
	}
	if !knownKinds[kind] {
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			kind = protocol.ErrSessionRevoked
		case resp.StatusCode >= 500:
			kind = protocol.ErrNetworkFailure
		default:
			kind = protocol.ErrCommandFailed
		}
	}
	pe := protocol.NewError(kind, msg)
	if kind == protocol.ErrRateLimited {
		pe.RetryAfter = retryAfter
	}
	return pe
}

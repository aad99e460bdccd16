// Package handler exposes the session lifecycle over JSON/HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	commanddomain "account-relay/internal/command/domain"
	"account-relay/internal/relayerr"
	"account-relay/internal/session/domain"
)

// Lifecycle is the session service surface the handler needs.
type Lifecycle interface {
	RequestCode(ctx context.Context, accountID, phone string, creds *domain.Credentials) (*domain.Session, error)
	SubmitCode(ctx context.Context, accountID, code string) (*domain.Session, error)
	SubmitPassword(ctx context.Context, accountID, password string) (*domain.Session, error)
	Invalidate(ctx context.Context, accountID string) (*domain.Session, error)
	Logout(ctx context.Context, accountID string) error
	Status(ctx context.Context, accountID string) (*domain.Session, error)
}

// CommandExecutor runs a command for an authorized account; used by /status to fetch account info.
type CommandExecutor interface {
	Execute(ctx context.Context, accountID string, cmd commanddomain.Command) (json.RawMessage, error)
}

// Handler serves the login and session management routes.
type Handler struct {
	sessions Lifecycle
	commands CommandExecutor
	logger   *slog.Logger
}

// NewHandler returns a session handler. commands may be nil; /status then never includes account info.
func NewHandler(sessions Lifecycle, commands CommandExecutor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sessions: sessions, commands: commands, logger: logger}
}

// RegisterRoutes mounts the session routes on r. r is expected to sit behind the auth gateway.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/request_code", h.RequestCode)
	r.POST("/submit_code", h.SubmitCode)
	r.POST("/submit_password", h.SubmitPassword)
	r.POST("/status", h.Status)
	r.POST("/invalidate", h.Invalidate)
	r.POST("/logout", h.Logout)
}

// apiID accepts either a JSON number or a numeric string.
type apiID int64

func (a *apiID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*a = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return errors.New("apiId must be an integer")
	}
	*a = apiID(n)
	return nil
}

type accountRequest struct {
	AccountID string `json:"accountId"`
}

type requestCodeRequest struct {
	AccountID string `json:"accountId"`
	Phone     string `json:"phone"`
	APIID     apiID  `json:"apiId"`
	APIHash   string `json:"apiHash"`
}

type submitCodeRequest struct {
	AccountID string `json:"accountId"`
	Code      string `json:"code"`
}

type submitPasswordRequest struct {
	AccountID string `json:"accountId"`
	Password  string `json:"password"`
}

type statusRequest struct {
	AccountID      string `json:"accountId"`
	IncludeAccount bool   `json:"includeAccount"`
}

// RequestCode handles POST /request_code.
func (h *Handler) RequestCode(c *gin.Context) {
	var req requestCodeRequest
	if !bind(c, &req) {
		return
	}
	var creds *domain.Credentials
	if req.APIID != 0 || req.APIHash != "" {
		creds = &domain.Credentials{APIID: int64(req.APIID), APIHash: strings.TrimSpace(req.APIHash)}
	}
	if _, err := h.sessions.RequestCode(c.Request.Context(), req.AccountID, req.Phone, creds); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "code_sent"})
}

// SubmitCode handles POST /submit_code. A two-step account answers 200 with status password_required.
func (h *Handler) SubmitCode(c *gin.Context) {
	var req submitCodeRequest
	if !bind(c, &req) {
		return
	}
	s, err := h.sessions.SubmitCode(c.Request.Context(), req.AccountID, req.Code)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(s.Phase)})
}

// SubmitPassword handles POST /submit_password.
func (h *Handler) SubmitPassword(c *gin.Context) {
	var req submitPasswordRequest
	if !bind(c, &req) {
		return
	}
	s, err := h.sessions.SubmitPassword(c.Request.Context(), req.AccountID, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(s.Phase)})
}

// Status handles POST /status. With includeAccount on an authorized session it also runs get_me.
func (h *Handler) Status(c *gin.Context) {
	var req statusRequest
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	s, err := h.sessions.Status(ctx, req.AccountID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	resp := gin.H{"status": "ok", "session": newSessionView(s)}
	if req.IncludeAccount && h.commands != nil && s.Phase == domain.PhaseAuthorized {
		account, err := h.commands.Execute(ctx, req.AccountID, commanddomain.GetMe())
		if err != nil {
			h.writeError(c, err)
			return
		}
		resp["account"] = account
	}
	c.JSON(http.StatusOK, resp)
}

// Invalidate handles POST /invalidate.
func (h *Handler) Invalidate(c *gin.Context) {
	var req accountRequest
	if !bind(c, &req) {
		return
	}
	s, err := h.sessions.Invalidate(c.Request.Context(), req.AccountID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(s.Phase)})
}

// Logout handles POST /logout.
func (h *Handler) Logout(c *gin.Context) {
	var req accountRequest
	if !bind(c, &req) {
		return
	}
	if err := h.sessions.Logout(c.Request.Context(), req.AccountID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, relayerr.ToEnvelope(
			relayerr.Wrap(relayerr.KindBadRequest, "invalid request body", err)))
		return false
	}
	return true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := relayerr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("session: request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, relayerr.ToEnvelope(err))
}

type errorView struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// sessionView is what /status reveals. Tokens and blobs are never included.
type sessionView struct {
	AccountID        string     `json:"accountId"`
	Phase            string     `json:"phase"`
	Phone            string     `json:"phone,omitempty"`
	PendingExpiresAt *time.Time `json:"pendingExpiresAt,omitempty"`
	RetryAfter       *time.Time `json:"retryAfter,omitempty"`
	PasswordAttempts int        `json:"passwordAttempts"`
	CreatedAt        time.Time  `json:"createdAt"`
	LastActivityAt   time.Time  `json:"lastActivityAt"`
	LastError        *errorView `json:"lastError,omitempty"`
}

func newSessionView(s *domain.Session) sessionView {
	v := sessionView{
		AccountID:        s.AccountID,
		Phase:            string(s.Phase),
		Phone:            s.Phone,
		PendingExpiresAt: s.PendingExpiresAt,
		RetryAfter:       s.RetryAfter,
		PasswordAttempts: s.PasswordAttempts,
		CreatedAt:        s.CreatedAt,
		LastActivityAt:   s.LastActivityAt,
	}
	if s.LastError != nil {
		v.LastError = &errorView{Kind: s.LastError.Kind, Message: s.LastError.Message, At: s.LastError.At}
	}
	return v
}

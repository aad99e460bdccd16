// Package handler exposes command execution over JSON/HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	commanddomain "account-relay/internal/command/domain"
	"account-relay/internal/relayerr"
)

// Executor runs one command for an account.
type Executor interface {
	Execute(ctx context.Context, accountID string, cmd commanddomain.Command) (json.RawMessage, error)
}

// Handler serves POST /execute.
type Handler struct {
	exec   Executor
	logger *slog.Logger
}

// NewHandler returns a command handler backed by exec.
func NewHandler(exec Executor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{exec: exec, logger: logger}
}

// RegisterRoutes mounts /execute on r. r is expected to sit behind the auth gateway.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/execute", h.Execute)
}

type executeRequest struct {
	AccountID string          `json:"accountId"`
	Command   json.RawMessage `json:"command"`
}

// Execute decodes the command, relays it and returns {status:"ok", result}.
func (h *Handler) Execute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, relayerr.ToEnvelope(
			relayerr.Wrap(relayerr.KindBadRequest, "invalid request body", err)))
		return
	}
	cmd, err := commanddomain.Decode(req.Command)
	if err != nil {
		h.writeError(c, decodeError(err))
		return
	}
	result, err := h.exec.Execute(c.Request.Context(), req.AccountID, cmd)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "result": result})
}

func decodeError(err error) error {
	if errors.Is(err, commanddomain.ErrUnsupported) {
		return relayerr.Wrap(relayerr.KindUnsupportedCommand, err.Error(), err)
	}
	return relayerr.Wrap(relayerr.KindBadRequest, err.Error(), err)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := relayerr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("command: request failed", "error", err)
	}
	c.JSON(status, relayerr.ToEnvelope(err))
}

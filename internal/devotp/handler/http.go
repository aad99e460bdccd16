// Package handler serves simulated login codes back to operators in development.
package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"account-relay/internal/devotp"
	"account-relay/internal/relayerr"
)

// Handler serves GET /dev/code.
type Handler struct {
	inbox devotp.Inbox
}

// NewHandler returns a handler reading from inbox.
func NewHandler(inbox devotp.Inbox) *Handler {
	return &Handler{inbox: inbox}
}

// RegisterRoutes mounts /dev/code on r. r must require the relay secret.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/dev/code", h.LatestCode)
}

// LatestCode returns the newest unexpired code delivered to ?phone=.
func (h *Handler) LatestCode(c *gin.Context) {
	phone := strings.TrimSpace(c.Query("phone"))
	if phone == "" {
		c.JSON(http.StatusBadRequest, relayerr.ToEnvelope(relayerr.New(relayerr.KindBadRequest, "phone is required")))
		return
	}
	msg, ok := h.inbox.Latest(c.Request.Context(), phone)
	if !ok {
		c.JSON(http.StatusNotFound, relayerr.ToEnvelope(relayerr.New(relayerr.KindNotFound, "no pending code for phone")))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"code":       msg.Code,
		"sent_at":    msg.SentAt,
		"expires_at": msg.ExpiresAt,
	})
}

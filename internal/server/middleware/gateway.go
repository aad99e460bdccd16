package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"account-relay/internal/relayerr"
	"account-relay/internal/telemetry"
)

// SecretHeader may carry the shared secret instead of the JSON body.
const SecretHeader = "X-Relay-Secret"

// MaxBodyBytes bounds request bodies read by the gateway.
const MaxBodyBytes = 1 << 20

// Verifier checks a presented shared secret.
type Verifier interface {
	Verify(candidate string) bool
}

type gatewayFields struct {
	Secret      string `json:"secret"`
	RelaySecret string `json:"relay_secret"`
	AccountID   string `json:"accountId"`
}

// RequireSecret rejects requests that do not present the shared secret with 401 and aborts the chain,
// so no handler, store or protocol access happens. The body is re-buffered for downstream binding.
func RequireSecret(v Verifier, emitter telemetry.EventEmitter, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		var fields gatewayFields
		if c.Request.Body != nil {
			body, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxBodyBytes+1))
			if err != nil || len(body) > MaxBodyBytes {
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge,
					relayerr.ToEnvelope(relayerr.New(relayerr.KindBadRequest, "request body too large or unreadable")))
				return
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
			// Non-JSON bodies simply carry no secret; handlers report the binding error.
			_ = json.Unmarshal(body, &fields)
		}
		if fields.AccountID != "" {
			c.Set(AccountIDKey, fields.AccountID)
		}

		secret := fields.Secret
		if secret == "" {
			secret = fields.RelaySecret
		}
		if secret == "" {
			secret = c.GetHeader(SecretHeader)
		}
		if !v.Verify(secret) {
			ctx := c.Request.Context()
			logger.Warn("gateway: rejected request",
				"path", c.Request.URL.Path,
				"request_id", telemetry.RequestIDFrom(ctx),
				"secret_present", secret != "",
			)
			event := telemetry.NewEvent(telemetry.EventAuthRejected, fields.AccountID, "rejected", map[string]any{
				"path": c.Request.URL.Path,
			})
			event.RequestID = telemetry.RequestIDFrom(ctx)
			telemetry.EmitAsync(emitter, ctx, event)
			c.AbortWithStatusJSON(http.StatusUnauthorized, relayerr.ToEnvelope(relayerr.Unauthorized()))
			return
		}
		c.Next()
	}
}

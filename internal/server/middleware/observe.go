package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"account-relay/internal/audit"
	"account-relay/internal/telemetry"
)

const instrumentationName = "account-relay/http"

// Telemetry wraps each request in a server span, continuing the caller's trace when it sends one,
// counts it, and emits an http_request event after the handler returns. Paths in skip are passed
// through untouched.
func Telemetry(emitter telemetry.EventEmitter, skip map[string]bool, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	tracer := otel.Tracer(instrumentationName)
	requests, err := otel.Meter(instrumentationName).Int64Counter("relay.http.requests",
		metric.WithDescription("Relay HTTP requests by route and status."))
	if err != nil {
		logger.Warn("http: request counter unavailable", "error", err)
	}
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if skip[path] {
			c.Next()
			return
		}
		start := time.Now()
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+path,
			trace.WithSpanKind(trace.SpanKindServer))
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", path),
			attribute.Int("http.status_code", status),
		)
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		span.End()
		if requests != nil {
			requests.Add(ctx, 1, metric.WithAttributes(
				attribute.String("route", path),
				attribute.Int("status", status),
			))
		}

		event := telemetry.NewEvent(telemetry.EventHTTPRequest, c.GetString(AccountIDKey), audit.OutcomeForStatus(status), map[string]any{
			"method":      c.Request.Method,
			"path":        path,
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   ClientIP(ctx),
		})
		event.RequestID = telemetry.RequestIDFrom(ctx)
		telemetry.EmitAsync(emitter, ctx, event)
	}
}

// Audit records one audit entry per request after the handler chain finishes. Mounted behind
// RequireSecret, so only authenticated calls reach the audit store; rejections are logged and
// emitted by the gateway instead. Paths in skip are not audited. A nil logger disables auditing.
func Audit(logger audit.AuditLogger, skip map[string]bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if logger == nil || skip[c.Request.URL.Path] {
			return
		}
		ar := audit.ParseRoute(c.Request.URL.Path)
		status := c.Writer.Status()
		meta := `{"status":` + strconv.Itoa(status) + `}`
		logger.LogEvent(c.Request.Context(), c.GetString(AccountIDKey), ar.Action, ar.Resource, audit.OutcomeForStatus(status), meta)
	}
}

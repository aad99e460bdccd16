package middleware

import "context"

type contextKey struct{ name string }

var clientIPKey = contextKey{"client_ip"}

// AccountIDKey is the gin context key holding the accountId named in the request body.
const AccountIDKey = "accountID"

// WithClientIP returns a context carrying the caller's IP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the caller's IP from ctx, or "" if unset.
func ClientIP(ctx context.Context) string {
	v, _ := ctx.Value(clientIPKey).(string)
	return v
}

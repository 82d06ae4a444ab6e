package middleware

import "context"

type ctxKey int

const apiKeyAuthKey ctxKey = iota

// WithAPIKeyAuthenticated marks ctx as having passed bearer API key
// verification, exempting the request from CSRF's double-submit check.
func WithAPIKeyAuthenticated(ctx context.Context) context.Context {
	return context.WithValue(ctx, apiKeyAuthKey, true)
}

// IsAPIKeyAuthenticated reports whether ctx was marked by
// WithAPIKeyAuthenticated.
func IsAPIKeyAuthenticated(ctx context.Context) bool {
	v, _ := ctx.Value(apiKeyAuthKey).(bool)
	return v
}

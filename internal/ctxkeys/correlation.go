// Package ctxkeys carries the request-scoped correlation id through a
// request's lifetime: set once by the front door, read by the dispatcher,
// the pool, and every log line in between.
package ctxkeys

import (
	"context"

	"github.com/google/uuid"
)

// key is a private type so values stored under it can't collide with keys
// from other packages using context.WithValue.
type key int

// CorrelationID is the context key the correlation id is stored under.
const CorrelationID key = iota

// GetCorrelationID returns the correlation id string from context if
// present, else "".
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(CorrelationID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithCorrelationID returns a child context with the given correlation id
// stored.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, CorrelationID, id)
}

// EnsureCorrelationID returns a context guaranteed to carry a correlation
// id, generating a new one if the input context had none, along with the
// id itself.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := GetCorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return WithCorrelationID(ctx, id), id
}

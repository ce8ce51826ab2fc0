package scope

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	stackKey     contextKey = "scope_stack"
	requestIDKey contextKey = "request_id"

	// HeaderXRequestID is the header carrying an inbound request ID.
	HeaderXRequestID = "X-Request-ID"
)

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s *Stack) context.Context {
	return context.WithValue(ctx, stackKey, s)
}

// FromContext returns the stack of the unit of work ctx belongs to.
func FromContext(ctx context.Context) (*Stack, bool) {
	s, ok := ctx.Value(stackKey).(*Stack)
	return s, ok && s != nil
}

// WithRequestID adds an inbound request ID to the context. Begin uses it as
// the unit of work's GUID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request ID from context if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		return id, true
	}
	return "", false
}

// ensureGUID returns the request ID from ctx or generates a new one.
func ensureGUID(ctx context.Context) string {
	if id, ok := RequestIDFromContext(ctx); ok {
		return id
	}
	return uuid.New().String()
}

// Package reqid carries request correlation ids through contexts.
package reqid

import (
	"context"

	"github.com/google/uuid"
)

type key struct{}

// New returns a fresh request id.
func New() string { return uuid.NewString() }

// With returns a new context with the provided request ID attached.
func With(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key{}, id)
}

// From extracts the request ID from the context, if present.
func From(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if s, ok := ctx.Value(key{}).(string); ok && s != "" {
		return s, true
	}
	return "", false
}

// Package core carries request-scoped values shared by the interpreter, the
// runtime and the CLI.
package core

import (
	"context"

	"github.com/google/uuid"
)

type runIDKey struct{}
type principalKey struct{}

// WithRunID attaches a run id to the context.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the run id if present.
func RunID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok && id != ""
}

// EnsureRunID ensures a run id exists in the context.
func EnsureRunID(ctx context.Context) (context.Context, string) {
	if id, ok := RunID(ctx); ok {
		return ctx, id
	}
	id := NewRunID()
	return WithRunID(ctx, id), id
}

// NewRunID returns a fresh run id.
func NewRunID() string {
	return "run-" + uuid.NewString()
}

// WithPrincipal records who the current request is answered for. Final
// replies withhold values that principal may not read.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// Principal returns the requesting principal if present.
func Principal(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(principalKey{}).(string)
	return p, ok && p != ""
}

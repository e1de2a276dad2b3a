// Package scope propagates the correlation id and initiator of a logical
// operation through context so that every log, sync record, and delivery
// produced along the way can be tied back to it.
package scope

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const (
	correlationKey ctxKey = iota
	initiatorKey
)

// NewCorrelationID returns a fresh opaque correlation id.
func NewCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID returns a context carrying the given correlation id.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationKey, correlationID)
}

// CorrelationID extracts the correlation id from the context, generating a
// fresh one when the context carries none.
func CorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationKey).(string); ok && v != "" {
		return v
	}
	return NewCorrelationID()
}

// WithInitiator returns a context carrying the identity that initiated the
// current operation (a user id, service account, or scheduler name).
func WithInitiator(ctx context.Context, initiator string) context.Context {
	return context.WithValue(ctx, initiatorKey, initiator)
}

// Initiator extracts the initiating identity from the context.
// Returns "system" when the context carries none.
func Initiator(ctx context.Context) string {
	if v, ok := ctx.Value(initiatorKey).(string); ok && v != "" {
		return v
	}
	return "system"
}

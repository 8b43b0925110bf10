// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Middleware sets the values; services and stores read them without pulling in
// net/http. Tests inject values directly:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithSigners(ctx, beneficiary)
package requestcontext

import (
	"context"
	"slices"
	"time"

	id "safe/pkg/domain"
)

type (
	requestIDKey   struct{}
	requestTimeKey struct{}
	signersKey     struct{}
)

var (
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
	ContextKeySigners     = signersKey{}
)

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}

// Signers returns the accounts whose signatures were verified upstream for
// this request. Nil means no attestation was made.
func Signers(ctx context.Context) []id.AccountID {
	if signers, ok := ctx.Value(ContextKeySigners).([]id.AccountID); ok {
		return signers
	}
	return nil
}

// WithSigners records verified signer accounts.
func WithSigners(ctx context.Context, signers ...id.AccountID) context.Context {
	return context.WithValue(ctx, ContextKeySigners, slices.Clone(signers))
}

// HasSigner reports whether account is among the attested signers.
func HasSigner(ctx context.Context, account id.AccountID) bool {
	return slices.Contains(Signers(ctx), account)
}

// Package idempotency remembers instruction responses by client-supplied key
// so a retried submission returns the first outcome instead of running twice.
package idempotency

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"golang.org/x/crypto/blake2b"
)

// DefaultTTL is how long a completed response is replayable.
const DefaultTTL = 24 * time.Hour

var (
	// ErrInFlight means another request holds the key and has not completed.
	ErrInFlight = errors.New("idempotency key in flight")
	// ErrMismatch means the key was first used with a different request body.
	ErrMismatch = errors.New("idempotency key reused with a different request")
)

// Response is a completed outcome, replayed verbatim.
type Response struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
}

// Store reserves keys and records their outcomes.
//
// Reserve returns (nil, nil) when the caller now owns the key, the stored
// Response when the key already completed with the same fingerprint,
// ErrMismatch when it completed with another, and ErrInFlight while another
// caller owns it. An owner must either Complete or Release the key.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string) (*Response, error)
	Complete(ctx context.Context, key string, resp Response) error
	Release(ctx context.Context, key string) error
}

// Fingerprint identifies a request body.
func Fingerprint(body []byte) string {
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func check(resp *Response, fingerprint string) (*Response, error) {
	if resp.Fingerprint != fingerprint {
		return nil, ErrMismatch
	}
	return resp, nil
}

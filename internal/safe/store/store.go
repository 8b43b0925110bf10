// Package store persists safe records. Every access happens inside RunInTx,
// which grants exclusive access to the named keys until fn returns and
// publishes writes only if fn succeeds.
package store

import (
	"context"
	"fmt"
	"slices"
	"time"

	"safe/internal/safe/models"
	"safe/pkg/domain"
	dErrors "safe/pkg/domain-errors"
	"safe/pkg/platform/sentinel"
)

// Kind tags the record stored under a key.
type Kind string

const (
	KindRegistry Kind = "registry"
	KindLedger   Kind = "ledger"
	KindReceipt  Kind = "receipt"
)

// Store reads and writes whole records. Getters return copies.
//
// Getters return sentinel.ErrNotFound for a missing key and
// sentinel.ErrWrongKind when the key holds another record kind. Create*
// returns sentinel.ErrConflict when the key is taken; Put* returns
// sentinel.ErrNotFound when it is not. Any key outside the transaction's
// lock set fails with sentinel.ErrInvalidState.
type Store interface {
	Registry(ctx context.Context, id domain.AccountID) (*models.SafeRegistry, error)
	Ledger(ctx context.Context, id domain.AccountID) (*models.VestingLedger, error)
	Receipt(ctx context.Context, id domain.AccountID) (*models.Receipt, error)

	CreateRegistry(ctx context.Context, r *models.SafeRegistry) error
	PutRegistry(ctx context.Context, r *models.SafeRegistry) error
	CreateLedger(ctx context.Context, l *models.VestingLedger) error
	PutLedger(ctx context.Context, l *models.VestingLedger) error
	CreateReceipt(ctx context.Context, r *models.Receipt) error
	PutReceipt(ctx context.Context, r *models.Receipt) error
}

// Tx is the transactional boundary for one transition.
type Tx interface {
	// RunInTx locks keys, runs fn and commits when fn returns nil. The context
	// passed to fn carries the transaction for stores that join it.
	RunInTx(ctx context.Context, keys []domain.AccountID, fn func(ctx context.Context, s Store) error) error
}

// defaultTxTimeout bounds a transaction when the caller set no deadline.
const defaultTxTimeout = 5 * time.Second

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultTxTimeout
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return nil
}

// sortedKeys returns keys deduplicated in a canonical order so concurrent
// transactions acquire locks without deadlocking.
func sortedKeys(keys []domain.AccountID) []domain.AccountID {
	out := slices.Clone(keys)
	slices.SortFunc(out, func(a, b domain.AccountID) int {
		return slices.Compare(a[:], b[:])
	})
	return slices.Compact(out)
}

type lockSet map[domain.AccountID]struct{}

func newLockSet(keys []domain.AccountID) lockSet {
	s := make(lockSet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func (s lockSet) check(id domain.AccountID) error {
	if _, ok := s[id]; !ok {
		return fmt.Errorf("record %s not locked by this transaction: %w", id, sentinel.ErrInvalidState)
	}
	return nil
}

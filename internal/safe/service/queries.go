package service

import (
	"context"
	"errors"

	"safe/internal/safe/models"
	"safe/internal/safe/store"
	"safe/pkg/domain"
	dErrors "safe/pkg/domain-errors"
	"safe/pkg/platform/sentinel"
)

// Availability is a point-in-time view of a ledger's balances.
type Availability struct {
	Slot         models.Slot `json:"slot"`
	Unlocked     uint64      `json:"unlocked"`
	Withdrawable uint64      `json:"withdrawable"`
	Mintable     uint64      `json:"mintable"`
	Closed       bool        `json:"closed"`
}

func (s *Service) Registry(ctx context.Context, id domain.AccountID) (*models.SafeRegistry, error) {
	var out *models.SafeRegistry
	err := s.tx.RunInTx(ctx, []domain.AccountID{id}, func(ctx context.Context, st store.Store) error {
		r, err := s.loadRegistry(ctx, st, id)
		out = r
		return err
	})
	return out, err
}

func (s *Service) Ledger(ctx context.Context, id domain.AccountID) (*models.VestingLedger, error) {
	var out *models.VestingLedger
	err := s.tx.RunInTx(ctx, []domain.AccountID{id}, func(ctx context.Context, st store.Store) error {
		l, err := s.loadLedger(ctx, st, id, nil)
		out = l
		return err
	})
	return out, err
}

func (s *Service) Receipt(ctx context.Context, id domain.AccountID) (*models.Receipt, error) {
	var out *models.Receipt
	err := s.tx.RunInTx(ctx, []domain.AccountID{id}, func(ctx context.Context, st store.Store) error {
		r, err := st.Receipt(ctx, id)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return dErrors.New(dErrors.CodeNotFound, "receipt not found")
		case errors.Is(err, sentinel.ErrWrongKind):
			return dErrors.New(dErrors.CodeInvalidReceipt, "account is not a receipt")
		case err != nil:
			return dErrors.Wrap(err, dErrors.CodeInternal, "load receipt")
		}
		if r.Owner != s.program {
			return dErrors.New(dErrors.CodeInvalidReceipt, "receipt is not owned by this program")
		}
		out = r
		return nil
	})
	return out, err
}

// Available reports what the ledger's beneficiary could withdraw or mint
// against at the current slot.
func (s *Service) Available(ctx context.Context, id domain.AccountID) (*Availability, error) {
	l, err := s.Ledger(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now(ctx)
	return &Availability{
		Slot:         now,
		Unlocked:     l.Unlocked(now),
		Withdrawable: l.Withdrawable(now),
		Mintable:     l.Claimable() / models.ReceiptUnitValue,
		Closed:       l.Closed(),
	}, nil
}

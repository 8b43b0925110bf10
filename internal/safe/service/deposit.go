package service

import (
	"context"
	"errors"

	"safe/internal/safe/instruction"
	"safe/internal/safe/models"
	"safe/internal/safe/ports"
	"safe/internal/safe/store"
	dErrors "safe/pkg/domain-errors"
	"safe/pkg/platform/audit"
	"safe/pkg/platform/sentinel"
)

// deposit opens a vesting ledger funded from a source balance.
//
// Accounts: [0] ledger, [1] source, [2] source controller (signer), [3] vault, [4] registry.
func (s *Service) deposit(ctx context.Context, st store.Store, env instruction.Envelope, p instruction.Deposit, now models.Slot) (*plan, error) {
	ledgerID := env.Account(0).ID
	source := env.Account(1).ID
	authority := env.Account(2)

	registry, err := s.loadRegistry(ctx, st, env.Account(4).ID)
	if err != nil {
		return nil, err
	}
	if err := requireVault(registry, env.Account(3).ID); err != nil {
		return nil, err
	}
	if !authority.Signer {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "source authority must sign")
	}
	controller, err := s.assets.Controller(ctx, source)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "source balance does not exist")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "resolve source controller")
	}
	if controller != authority.ID {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "signer does not control the source balance")
	}

	ledger, err := models.NewVestingLedger(ledgerID, s.program, registry.ID, p.Beneficiary, p.Schedule, now)
	if err != nil {
		return nil, err
	}
	switch _, err := st.Ledger(ctx, ledgerID); {
	case err == nil:
		return nil, dErrors.New(dErrors.CodeAlreadyInitialized, "vesting ledger already exists")
	case errors.Is(err, sentinel.ErrWrongKind):
		return nil, dErrors.New(dErrors.CodeInvalidOwner, "account already holds another record")
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load vesting ledger")
	}
	if err := registry.Credit(ledger.TotalDeposited); err != nil {
		return nil, err
	}

	return &plan{
		newLedger: ledger,
		registry:  registry,
		effects: []ports.Effect{
			ports.Transfer(registry.CustodiedAsset, source, registry.Vault, authority.ID, ledger.TotalDeposited),
		},
		event:  audit.EventDeposited,
		amount: ledger.TotalDeposited,
		actor:  authority.ID,
		peer:   source,
	}, nil
}

package service

import (
	"context"
	"fmt"

	"safe/internal/safe/instruction"
	"safe/internal/safe/models"
	"safe/internal/safe/ports"
	"safe/internal/safe/store"
	dErrors "safe/pkg/domain-errors"
	"safe/pkg/platform/audit"
)

// withdraw pays unlocked, unclaimed value to the beneficiary's destination.
//
// Accounts: [0] beneficiary (signer), [1] ledger, [2] destination, [3] vault, [4] registry.
func (s *Service) withdraw(ctx context.Context, st store.Store, env instruction.Envelope, p instruction.Withdraw, now models.Slot) (*plan, error) {
	beneficiary := env.Account(0)
	destination := env.Account(2).ID

	registry, err := s.loadRegistry(ctx, st, env.Account(4).ID)
	if err != nil {
		return nil, err
	}
	if err := requireVault(registry, env.Account(3).ID); err != nil {
		return nil, err
	}
	ledger, err := s.loadLedger(ctx, st, env.Account(1).ID, registry)
	if err != nil {
		return nil, err
	}
	if err := requireSigner(beneficiary, ledger.Beneficiary); err != nil {
		return nil, err
	}
	if available := ledger.Withdrawable(now); p.Amount > available {
		return nil, dErrors.New(dErrors.CodeInsufficientUnlockedBalance,
			fmt.Sprintf("requested %d, %d withdrawable at slot %d", p.Amount, available, now))
	}

	ledger.RecordWithdrawal(p.Amount, now)
	registry.Debit(p.Amount)
	return &plan{
		ledger:   ledger,
		registry: registry,
		effects: []ports.Effect{
			ports.Transfer(registry.CustodiedAsset, registry.Vault, destination, registry.VaultAuthority, p.Amount),
		},
		event:  audit.EventWithdrawn,
		amount: p.Amount,
		actor:  beneficiary.ID,
		peer:   destination,
	}, nil
}

package service

import (
	"context"
	"fmt"

	"safe/internal/safe/instruction"
	"safe/internal/safe/ports"
	"safe/internal/safe/store"
	"safe/pkg/domain"
	dErrors "safe/pkg/domain-errors"
	"safe/pkg/platform/audit"
)

// slash forfeits part of a ledger's unclaimed value. Under SlashRetain the
// value stays in the vault; under SlashReclaim it moves to account [4].
//
// Accounts: [0] authority (signer), [1] ledger, [2] registry, [3] vault, [4] reclaim destination.
func (s *Service) slash(ctx context.Context, st store.Store, env instruction.Envelope, p instruction.Slash) (*plan, error) {
	authority := env.Account(0)

	var reclaim domain.AccountID
	switch {
	case s.slashPolicy == SlashReclaim && len(env.Accounts) != 5:
		return nil, dErrors.New(dErrors.CodeDecode, "reclaim policy requires a destination account")
	case s.slashPolicy == SlashRetain && len(env.Accounts) != 4:
		return nil, dErrors.New(dErrors.CodeDecode, "retain policy takes no destination account")
	case s.slashPolicy == SlashReclaim:
		reclaim = env.Account(4).ID
	}

	registry, err := s.loadRegistry(ctx, st, env.Account(2).ID)
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
	if err := requireSigner(authority, registry.Authority); err != nil {
		return nil, err
	}
	if claimable := ledger.Claimable(); p.Amount > claimable {
		return nil, dErrors.New(dErrors.CodeInsufficientBalance,
			fmt.Sprintf("requested %d, %d unclaimed", p.Amount, claimable))
	}

	ledger.Forfeit(p.Amount)
	registry.RecordForfeit(p.Amount)
	pl := &plan{
		ledger:   ledger,
		registry: registry,
		event:    audit.EventSlashed,
		amount:   p.Amount,
		actor:    authority.ID,
		peer:     ledger.Beneficiary,
	}
	if !reclaim.IsNil() {
		pl.effects = []ports.Effect{
			ports.Transfer(registry.CustodiedAsset, registry.Vault, reclaim, registry.VaultAuthority, p.Amount),
		}
		pl.peer = reclaim
	}
	return pl, nil
}

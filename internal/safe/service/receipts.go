package service

import (
	"context"
	"fmt"

	"safe/internal/safe/instruction"
	"safe/internal/safe/models"
	"safe/internal/safe/ports"
	"safe/internal/safe/store"
	"safe/pkg/domain"
	dErrors "safe/pkg/domain-errors"
	"safe/pkg/platform/audit"
)

// mintReceipt locks claimable value behind newly minted receipt units.
//
// Accounts: [0] beneficiary (signer), [1] ledger, [2] receipt holder, [3] registry.
func (s *Service) mintReceipt(ctx context.Context, st store.Store, env instruction.Envelope, p instruction.MintReceipt, receiptIDs []domain.AccountID) (*plan, error) {
	beneficiary := env.Account(0)
	holder := env.Account(2).ID

	registry, err := s.loadRegistry(ctx, st, env.Account(3).ID)
	if err != nil {
		return nil, err
	}
	ledger, err := s.loadLedger(ctx, st, env.Account(1).ID, registry)
	if err != nil {
		return nil, err
	}
	if err := requireSigner(beneficiary, ledger.Beneficiary); err != nil {
		return nil, err
	}
	if ledger.Claimable() < p.Units*models.ReceiptUnitValue {
		return nil, dErrors.New(dErrors.CodeInsufficientUnvestedBalance,
			fmt.Sprintf("requested %d units, %d claimable", p.Units, ledger.Claimable()))
	}

	ledger.LockClaims(p.Units)
	pl := &plan{
		ledger: ledger,
		event:  audit.EventReceiptsMinted,
		units:  p.Units,
		amount: p.Units * models.ReceiptUnitValue,
		actor:  beneficiary.ID,
		peer:   holder,
	}
	for _, id := range receiptIDs {
		pl.newReceipts = append(pl.newReceipts, models.NewReceipt(id, s.program, ledger.ID, registry.ReceiptAsset, holder))
		pl.effects = append(pl.effects, ports.MintUnit(registry.ReceiptAsset, holder, registry.VaultAuthority))
	}
	return pl, nil
}

// burnReceipt releases the claims of the listed receipts. Only the ledger's
// beneficiary may burn, whoever holds the receipts.
//
// Accounts: [0] signer, [1] holder, [2] ledger, [3] registry, [4..] receipts.
func (s *Service) burnReceipt(ctx context.Context, st store.Store, env instruction.Envelope) (*plan, error) {
	signer := env.Account(0)
	holder := env.Account(1).ID

	registry, err := s.loadRegistry(ctx, st, env.Account(3).ID)
	if err != nil {
		return nil, err
	}
	ledger, err := s.loadLedger(ctx, st, env.Account(2).ID, registry)
	if err != nil {
		return nil, err
	}
	if err := requireSigner(signer, ledger.Beneficiary); err != nil {
		return nil, err
	}

	listed := env.Accounts[instruction.BurnReceiptsOffset:]
	seen := make(map[domain.AccountID]bool, len(listed))
	receipts := make([]*models.Receipt, 0, len(listed))
	for _, meta := range listed {
		r, err := s.loadReceipt(ctx, st, meta.ID)
		if err != nil {
			return nil, err
		}
		if r.Ledger != ledger.ID {
			return nil, dErrors.New(dErrors.CodeInvalidReceipt, "receipt was minted against another ledger")
		}
		if r.Burned || seen[r.ID] {
			return nil, dErrors.New(dErrors.CodeAlreadyBurned, fmt.Sprintf("receipt %s already burned", r.ID))
		}
		if r.Holder != holder {
			return nil, dErrors.New(dErrors.CodeUnauthorizedReceipt, "receipt is held by another account")
		}
		if r.Asset != registry.ReceiptAsset {
			return nil, dErrors.New(dErrors.CodeWrongAssetMint, "receipt asset does not match the registry")
		}
		seen[r.ID] = true
		receipts = append(receipts, r)
	}

	pl := &plan{
		ledger:   ledger,
		receipts: receipts,
		event:    audit.EventReceiptsBurned,
		units:    uint64(len(receipts)),
		amount:   uint64(len(receipts)) * models.ReceiptUnitValue,
		actor:    signer.ID,
		peer:     holder,
	}
	for _, r := range receipts {
		r.Burn()
		pl.effects = append(pl.effects, ports.BurnUnit(r.Asset, holder, signer.ID))
	}
	ledger.ReleaseClaims(uint64(len(receipts)))
	return pl, nil
}

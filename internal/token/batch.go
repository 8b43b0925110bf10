package token

import (
	"fmt"
	"math/bits"

	"safe/internal/safe/ports"
	"safe/pkg/domain"
	"safe/pkg/platform/sentinel"
)

// batch applies effects against a snapshot of accounts and mint authorities,
// recording resulting balances in staged. The snapshot itself is not written.
type batch struct {
	accounts map[domain.AccountID]*Account
	mints    map[domain.AssetID]domain.AccountID
	staged   map[domain.AccountID]uint64
}

func newBatch(accounts map[domain.AccountID]*Account, mints map[domain.AssetID]domain.AccountID) *batch {
	return &batch{accounts: accounts, mints: mints, staged: make(map[domain.AccountID]uint64)}
}

// stageAll applies every effect or reports the first that cannot apply.
func (bt *batch) stageAll(effects []ports.Effect) error {
	for i, e := range effects {
		if err := bt.stage(e); err != nil {
			return fmt.Errorf("effect %d (%s): %w", i, e.Kind, err)
		}
	}
	return nil
}

func (bt *batch) stage(e ports.Effect) error {
	switch e.Kind {
	case ports.EffectTransfer:
		if err := bt.debit(e.From, e.Asset, e.Authorizer, e.Amount); err != nil {
			return err
		}
		return bt.credit(e.To, e.Asset, e.Amount)
	case ports.EffectMintUnit:
		if authority, ok := bt.mints[e.Asset]; !ok || authority != e.Authorizer {
			return ErrBadAuthorizer
		}
		return bt.credit(e.To, e.Asset, 1)
	case ports.EffectBurnUnit:
		return bt.debit(e.From, e.Asset, e.Authorizer, 1)
	default:
		return fmt.Errorf("unknown effect kind %q", e.Kind)
	}
}

func (bt *batch) lookup(id domain.AccountID, asset domain.AssetID) (*Account, uint64, error) {
	acct, ok := bt.accounts[id]
	if !ok {
		return nil, 0, fmt.Errorf("account %s: %w", id, sentinel.ErrNotFound)
	}
	if acct.Asset != asset {
		return nil, 0, ErrAssetMismatch
	}
	bal, ok := bt.staged[id]
	if !ok {
		bal = acct.Balance
	}
	return acct, bal, nil
}

func (bt *batch) debit(id domain.AccountID, asset domain.AssetID, authorizer domain.AccountID, amount uint64) error {
	acct, bal, err := bt.lookup(id, asset)
	if err != nil {
		return err
	}
	if acct.Controller != authorizer {
		return ErrBadAuthorizer
	}
	if bal < amount {
		return ErrInsufficientFunds
	}
	bt.staged[id] = bal - amount
	return nil
}

func (bt *batch) credit(id domain.AccountID, asset domain.AssetID, amount uint64) error {
	_, bal, err := bt.lookup(id, asset)
	if err != nil {
		return err
	}
	sum, carry := bits.Add64(bal, amount, 0)
	if carry != 0 {
		return ErrOverflow
	}
	bt.staged[id] = sum
	return nil
}

// touched lists the accounts and mint assets a batch of effects reads.
func touched(effects []ports.Effect) ([]domain.AccountID, []domain.AssetID) {
	seenAcct := make(map[domain.AccountID]struct{})
	seenMint := make(map[domain.AssetID]struct{})
	var (
		accounts []domain.AccountID
		mints    []domain.AssetID
	)
	add := func(id domain.AccountID) {
		if id.IsNil() {
			return
		}
		if _, ok := seenAcct[id]; !ok {
			seenAcct[id] = struct{}{}
			accounts = append(accounts, id)
		}
	}
	for _, e := range effects {
		add(e.From)
		add(e.To)
		if e.Kind == ports.EffectMintUnit {
			if _, ok := seenMint[e.Asset]; !ok {
				seenMint[e.Asset] = struct{}{}
				mints = append(mints, e.Asset)
			}
		}
	}
	return accounts, mints
}

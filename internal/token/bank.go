// Package token is the asset transfer primitive: fungible balances plus
// receipt-unit holdings, each account bound to one asset and one controller.
// Bank keeps them in memory for local runs and tests; PostgresBank keeps them
// next to the ledger records.
package token

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"safe/internal/safe/ports"
	"safe/pkg/domain"
	"safe/pkg/platform/sentinel"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAssetMismatch     = errors.New("account holds a different asset")
	ErrBadAuthorizer     = errors.New("authorizer does not control the account")
	ErrOverflow          = errors.New("balance overflow")
)

// Account is one balance.
type Account struct {
	ID         domain.AccountID
	Asset      domain.AssetID
	Controller domain.AccountID
	Balance    uint64
}

// Bank holds every account. Prepare holds the bank lock until the returned
// batch is committed or aborted, so prepared batches apply in order.
type Bank struct {
	mu       sync.Mutex
	accounts map[domain.AccountID]*Account
	mints    map[domain.AssetID]domain.AccountID
}

func NewBank() *Bank {
	return &Bank{
		accounts: make(map[domain.AccountID]*Account),
		mints:    make(map[domain.AssetID]domain.AccountID),
	}
}

// OpenAccount creates an empty balance of asset controlled by controller.
func (b *Bank) OpenAccount(id domain.AccountID, asset domain.AssetID, controller domain.AccountID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.accounts[id]; ok {
		return fmt.Errorf("account %s: %w", id, sentinel.ErrConflict)
	}
	b.accounts[id] = &Account{ID: id, Asset: asset, Controller: controller}
	return nil
}

// Seed opens acct with its balance unless the account already exists, so
// reseeding from config never credits twice. An existing account must match
// acct's asset and controller.
func (b *Bank) Seed(_ context.Context, acct Account) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.accounts[acct.ID]; ok {
		if existing.Asset != acct.Asset || existing.Controller != acct.Controller {
			return fmt.Errorf("account %s: %w", acct.ID, sentinel.ErrConflict)
		}
		return nil
	}
	b.accounts[acct.ID] = &Account{ID: acct.ID, Asset: acct.Asset, Controller: acct.Controller, Balance: acct.Balance}
	return nil
}

// SeedMint implements the seeding counterpart of RegisterMint.
func (b *Bank) SeedMint(_ context.Context, asset domain.AssetID, authority domain.AccountID) error {
	b.RegisterMint(asset, authority)
	return nil
}

// RegisterMint sets the authority allowed to mint units of asset.
func (b *Bank) RegisterMint(asset domain.AssetID, authority domain.AccountID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mints[asset] = authority
}

// Credit adds amount to an account outside any batch. Used to fund depositors.
func (b *Bank) Credit(id domain.AccountID, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	acct, ok := b.accounts[id]
	if !ok {
		return fmt.Errorf("account %s: %w", id, sentinel.ErrNotFound)
	}
	sum, carry := bits.Add64(acct.Balance, amount, 0)
	if carry != 0 {
		return ErrOverflow
	}
	acct.Balance = sum
	return nil
}

// Balance returns the balance of an account.
func (b *Bank) Balance(id domain.AccountID) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acct, ok := b.accounts[id]
	if !ok {
		return 0, fmt.Errorf("account %s: %w", id, sentinel.ErrNotFound)
	}
	return acct.Balance, nil
}

// Controller implements ports.AssetLedger.
func (b *Bank) Controller(_ context.Context, id domain.AccountID) (domain.AccountID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acct, ok := b.accounts[id]
	if !ok {
		return domain.AccountID{}, fmt.Errorf("account %s: %w", id, sentinel.ErrNotFound)
	}
	return acct.Controller, nil
}

// Prepare implements ports.AssetLedger. The batch is applied to a staged copy
// of the touched balances; nothing is visible until Commit.
func (b *Bank) Prepare(ctx context.Context, effects []ports.Effect) (ports.Pending, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	bt := newBatch(b.accounts, b.mints)
	if err := bt.stageAll(effects); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	return &pending{bank: b, staged: bt.staged}, nil
}

type pending struct {
	bank   *Bank
	staged map[domain.AccountID]uint64
	once   sync.Once
}

func (p *pending) Commit() {
	p.once.Do(func() {
		for id, bal := range p.staged {
			p.bank.accounts[id].Balance = bal
		}
		p.bank.mu.Unlock()
	})
}

func (p *pending) Abort() {
	p.once.Do(p.bank.mu.Unlock)
}

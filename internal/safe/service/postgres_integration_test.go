//go:build integration

package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safe/internal/safe/clock"
	"safe/internal/safe/instruction"
	"safe/internal/safe/models"
	"safe/internal/safe/store"
	"safe/internal/token"
	"safe/pkg/domain"
	"safe/pkg/testutil/containers"
)

// Balances and ledger records share one Postgres transaction, so a process
// restart that reseeds the asset ledger from config leaves the vault solvent.
func TestPostgres_RestartKeepsVaultSolvent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pg := containers.NewPostgresContainer(t, store.Schema, token.PostgresSchema)
	ctx := context.Background()

	program := domain.NewProgramID()
	registry, vault := domain.NewAccountID(), domain.NewAccountID()
	authority, depositor, beneficiary := domain.NewAccountID(), domain.NewAccountID(), domain.NewAccountID()
	source, wallet := domain.NewAccountID(), domain.NewAccountID()
	custodied, receiptAsset := domain.NewAssetID(), domain.NewAssetID()
	vaultAuthority := models.DeriveVaultAuthority(program, registry, 1)

	seeded := []token.Account{
		{ID: vault, Asset: custodied, Controller: vaultAuthority},
		{ID: source, Asset: custodied, Controller: depositor, Balance: 5000},
		{ID: wallet, Asset: custodied, Controller: beneficiary},
	}
	boot := func() (*Service, *token.PostgresBank) {
		t.Helper()
		bank := token.NewPostgresBank(pg.Pool)
		for _, a := range seeded {
			require.NoError(t, bank.Seed(ctx, a))
		}
		require.NoError(t, bank.SeedMint(ctx, receiptAsset, vaultAuthority))
		svc, err := New(program, store.NewPostgresStore(pg.Pool, 0), bank, clock.NewFixed(100))
		require.NoError(t, err)
		return svc, bank
	}

	svc, _ := boot()
	_, err := svc.Process(ctx, instruction.NewInitialize(registry, vault, instruction.Initialize{
		CustodiedAsset: custodied,
		ReceiptAsset:   receiptAsset,
		Authority:      authority,
		SignerNonce:    1,
	}))
	require.NoError(t, err)

	ledger := domain.NewAccountID()
	schedule := models.Schedule{{UnlockAt: 10, Amount: 1000}}
	_, err = svc.Process(ctx, instruction.NewDeposit(ledger, source, depositor, vault, registry, beneficiary, schedule))
	require.NoError(t, err)

	restarted, bank := boot()
	vaultBalance, err := bank.Balance(ctx, vault)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), vaultBalance, "vault keeps deposited value")
	sourceBalance, err := bank.Balance(ctx, source)
	require.NoError(t, err)
	assert.Equal(t, uint64(4000), sourceBalance, "depositor is not credited again")

	_, err = restarted.Process(ctx, instruction.NewWithdraw(beneficiary, ledger, wallet, vault, registry, 400))
	require.NoError(t, err)

	reg, err := restarted.Registry(ctx, registry)
	require.NoError(t, err)
	vaultBalance, err = bank.Balance(ctx, vault)
	require.NoError(t, err)
	assert.Equal(t, uint64(600), vaultBalance)
	assert.GreaterOrEqual(t, vaultBalance, reg.TotalOutstandingValue)
}

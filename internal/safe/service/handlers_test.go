package service

import (
	"context"

	"safe/internal/safe/instruction"
	"safe/internal/safe/models"
	"safe/internal/safe/store"
	"safe/pkg/domain"
	dErrors "safe/pkg/domain-errors"
	"safe/pkg/platform/audit"
)

// =============================================================================
// Initialize
// =============================================================================

func (s *ServiceSuite) TestInitialize() {
	s.Run("registry is created latched with a derived vault authority", func() {
		reg := s.registryRecord()
		s.True(reg.Initialized)
		s.Equal(s.authority, reg.Authority)
		s.Equal(s.vault, reg.Vault)
		s.Equal(s.vaultAuthority, reg.VaultAuthority)
		s.Equal(uint64(signerNonce), reg.SignerNonce)
		s.Zero(reg.TotalOutstandingValue)
	})

	s.Run("registry key must sign", func() {
		registry := domain.NewAccountID()
		vault := domain.NewAccountID()
		s.Require().NoError(s.bank.OpenAccount(vault, s.custodied, models.DeriveVaultAuthority(s.program, registry, signerNonce)))
		attacker := domain.NewAccountID()

		env := s.initializeEnvelope(registry, vault)
		env.Payload = instruction.Initialize{
			CustodiedAsset: s.custodied,
			ReceiptAsset:   s.receiptAsset,
			Authority:      attacker,
			SignerNonce:    signerNonce,
		}
		env.Accounts[0].Signer = false
		_, err := s.service.Process(s.ctx, env)
		s.requireCode(err, dErrors.CodeUnauthorized)

		_, err = s.service.Registry(s.ctx, registry)
		s.requireCode(err, dErrors.CodeNotFound)

		_, err = s.service.Process(s.ctx, s.initializeEnvelope(registry, vault))
		s.Require().NoError(err)
		reg, err := s.service.Registry(s.ctx, registry)
		s.Require().NoError(err)
		s.Equal(s.authority, reg.Authority)
	})

	s.Run("vault controlled by someone else is rejected", func() {
		vault := domain.NewAccountID()
		s.Require().NoError(s.bank.OpenAccount(vault, s.custodied, s.authority))
		_, err := s.service.Process(s.ctx, s.initializeEnvelope(domain.NewAccountID(), vault))
		s.requireCode(err, dErrors.CodeInvalidOwner)
	})

	s.Run("missing vault is rejected", func() {
		_, err := s.service.Process(s.ctx, s.initializeEnvelope(domain.NewAccountID(), domain.NewAccountID()))
		s.requireCode(err, dErrors.CodeInvalidOwner)
	})

	s.Run("account holding another record is rejected", func() {
		ledger := s.deposit()
		_, err := s.service.Process(s.ctx, s.initializeEnvelope(ledger, s.vault))
		s.requireCode(err, dErrors.CodeInvalidOwner)
	})

	s.Run("registry owned by another program is rejected", func() {
		other, err := New(domain.NewProgramID(), s.store, s.bank, s.clock)
		s.Require().NoError(err)
		_, err = other.Process(s.ctx, s.initializeEnvelope(s.registry, s.vault))
		s.requireCode(err, dErrors.CodeInvalidOwner)
	})
}

// =============================================================================
// Deposit
// =============================================================================

func (s *ServiceSuite) TestDeposit() {
	s.Run("creates the ledger and moves funds into the vault", func() {
		ledger := s.deposit()
		l := s.ledger(ledger)
		s.Equal(uint64(1000), l.TotalDeposited)
		s.Equal(s.beneficiary, l.Beneficiary)
		s.Equal(s.registry, l.Safe)
		s.Zero(l.Withdrawn)
		s.Zero(l.LockedClaimAmount)
		s.Equal(uint64(9_000), s.balance(s.source))
		s.Equal(uint64(1000), s.balance(s.vault))
		s.Equal(uint64(1000), s.registryRecord().TotalOutstandingValue)
	})

	s.Run("unsigned source authority is rejected", func() {
		env := s.depositEnvelope(domain.NewAccountID(), scheduleA)
		env.Accounts[2].Signer = false
		_, err := s.service.Process(s.ctx, env)
		s.requireCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("signer that does not control the source is rejected", func() {
		env := instruction.NewDeposit(domain.NewAccountID(), s.source, s.beneficiary, s.vault, s.registry, s.beneficiary, scheduleA)
		_, err := s.service.Process(s.ctx, env)
		s.requireCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("invalid schedules are rejected", func() {
		for name, schedule := range map[string]models.Schedule{
			"empty":          nil,
			"not increasing": {{UnlockAt: 20, Amount: 1}, {UnlockAt: 20, Amount: 1}},
			"decreasing":     {{UnlockAt: 20, Amount: 1}, {UnlockAt: 10, Amount: 1}},
			"zero total":     {{UnlockAt: 10, Amount: 0}},
			"overflowing":    {{UnlockAt: 10, Amount: ^uint64(0)}, {UnlockAt: 11, Amount: 1}},
		} {
			_, err := s.service.Process(s.ctx, s.depositEnvelope(domain.NewAccountID(), schedule))
			s.requireCode(err, dErrors.CodeInvalidSchedule)
			s.T().Log(name)
		}
	})

	s.Run("foreign vault is rejected", func() {
		env := instruction.NewDeposit(domain.NewAccountID(), s.source, s.depositor, s.wallet, s.registry, s.beneficiary, scheduleA)
		_, err := s.service.Process(s.ctx, env)
		s.requireCode(err, dErrors.CodeInvalidOwner)
	})

	s.Run("existing ledger id is rejected", func() {
		ledger := s.deposit()
		_, err := s.service.Process(s.ctx, s.depositEnvelope(ledger, scheduleA))
		s.requireCode(err, dErrors.CodeAlreadyInitialized)
	})

	s.Run("failed transfer creates nothing", func() {
		sourceBefore := s.balance(s.source)
		outstandingBefore := s.registryRecord().TotalOutstandingValue
		ledger := domain.NewAccountID()

		_, err := s.service.Process(s.ctx, s.depositEnvelope(ledger, models.Schedule{{UnlockAt: 5, Amount: 1_000_000}}))
		s.requireCode(err, dErrors.CodeTransferFailed)

		_, err = s.service.Ledger(s.ctx, ledger)
		s.requireCode(err, dErrors.CodeNotFound)
		s.Equal(sourceBefore, s.balance(s.source))
		s.Equal(outstandingBefore, s.registryRecord().TotalOutstandingValue)
	})
}

// =============================================================================
// Mint
// =============================================================================

func (s *ServiceSuite) TestMintReceipt() {
	ledger := s.deposit()

	s.Run("non-beneficiary signer is rejected", func() {
		_, err := s.service.Process(s.ctx, instruction.NewMintReceipt(s.depositor, ledger, s.holder, s.registry, 1))
		s.requireCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("unsigned beneficiary is rejected", func() {
		env := instruction.NewMintReceipt(s.beneficiary, ledger, s.holder, s.registry, 1)
		env.Accounts[0].Signer = false
		_, err := s.service.Process(s.ctx, env)
		s.requireCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("mints one record and unit per receipt", func() {
		receipts := s.mint(ledger, 3)
		s.Len(receipts, 3)
		for _, id := range receipts {
			r, err := s.service.Receipt(s.ctx, id)
			s.Require().NoError(err)
			s.True(r.Live())
			s.Equal(ledger, r.Ledger)
			s.Equal(s.holder, r.Holder)
			s.Equal(s.receiptAsset, r.Asset)
		}
		l := s.ledger(ledger)
		s.Equal(uint64(3), l.LockedClaimAmount)
		s.Equal(uint64(3), l.OutstandingReceipts)
		s.Equal(uint64(3), s.balance(s.holder))
	})

	s.Run("cannot claim more than the unclaimed balance", func() {
		s.clock.Set(20)
		s.Require().NoError(s.withdraw(ledger, 990))
		_, err := s.service.Process(s.ctx, instruction.NewMintReceipt(s.beneficiary, ledger, s.holder, s.registry, 8))
		s.requireCode(err, dErrors.CodeInsufficientUnvestedBalance)
		s.mint(ledger, 7)
		s.Zero(s.ledger(ledger).Claimable())
	})

	s.Run("ledger from another registry is rejected", func() {
		otherRegistry := domain.NewAccountID()
		otherVault := domain.NewAccountID()
		s.Require().NoError(s.bank.OpenAccount(otherVault, s.custodied, models.DeriveVaultAuthority(s.program, otherRegistry, signerNonce)))
		_, err := s.service.Process(s.ctx, s.initializeEnvelope(otherRegistry, otherVault))
		s.Require().NoError(err)

		_, err = s.service.Process(s.ctx, instruction.NewMintReceipt(s.beneficiary, ledger, s.holder, otherRegistry, 1))
		s.requireCode(err, dErrors.CodeInvalidOwner)
	})
}

// =============================================================================
// Burn
// =============================================================================

func (s *ServiceSuite) TestBurnReceipt() {
	ledger := s.deposit()
	receipts := s.mint(ledger, 2)
	burn := func(holder domain.AccountID, ids ...domain.AccountID) error {
		_, err := s.service.Process(s.ctx, instruction.NewBurnReceipt(s.beneficiary, holder, ledger, s.registry, ids...))
		return err
	}

	s.Run("same receipt listed twice is rejected", func() {
		s.requireCode(burn(s.holder, receipts[0], receipts[0]), dErrors.CodeAlreadyBurned)
		s.Equal(uint64(2), s.ledger(ledger).OutstandingReceipts)
	})

	s.Run("holder mismatch is rejected", func() {
		otherHolder := domain.NewAccountID()
		s.Require().NoError(s.bank.OpenAccount(otherHolder, s.receiptAsset, s.beneficiary))
		s.requireCode(burn(otherHolder, receipts[0]), dErrors.CodeUnauthorizedReceipt)
	})

	s.Run("receipt of a foreign asset is rejected", func() {
		forged := models.NewReceipt(domain.NewAccountID(), s.program, ledger, domain.NewAssetID(), s.holder)
		s.Require().NoError(s.store.RunInTx(s.ctx, []domain.AccountID{forged.ID}, func(ctx context.Context, st store.Store) error {
			return st.CreateReceipt(ctx, forged)
		}))
		s.requireCode(burn(s.holder, forged.ID), dErrors.CodeWrongAssetMint)
	})

	s.Run("account that is not a receipt is rejected", func() {
		s.requireCode(burn(s.holder, ledger), dErrors.CodeInvalidReceipt)
		s.requireCode(burn(s.holder, domain.NewAccountID()), dErrors.CodeInvalidReceipt)
	})

	s.Run("receipt minted against another ledger is rejected", func() {
		other := s.deposit()
		foreign := s.mint(other, 1)
		s.requireCode(burn(s.holder, foreign...), dErrors.CodeInvalidReceipt)
	})

	s.Run("burns every listed receipt at once", func() {
		s.Require().NoError(burn(s.holder, receipts...))
		l := s.ledger(ledger)
		s.Zero(l.LockedClaimAmount)
		s.Zero(l.OutstandingReceipts)
		for _, id := range receipts {
			r, err := s.service.Receipt(s.ctx, id)
			s.Require().NoError(err)
			s.True(r.Burned)
		}
	})

	s.Run("burned receipts stay burned", func() {
		s.requireCode(burn(s.holder, receipts[1]), dErrors.CodeAlreadyBurned)
	})
}

// =============================================================================
// Withdraw
// =============================================================================

func (s *ServiceSuite) TestWithdraw() {
	ledger := s.deposit()

	s.Run("nothing is withdrawable before the first unlock", func() {
		s.clock.Set(9)
		s.requireCode(s.withdraw(ledger, 1), dErrors.CodeInsufficientUnlockedBalance)
	})

	s.Run("non-beneficiary signer is rejected", func() {
		s.clock.Set(10)
		_, err := s.service.Process(s.ctx, instruction.NewWithdraw(s.depositor, ledger, s.wallet, s.vault, s.registry, 1))
		s.requireCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("foreign vault is rejected", func() {
		_, err := s.service.Process(s.ctx, instruction.NewWithdraw(s.beneficiary, ledger, s.wallet, s.source, s.registry, 1))
		s.requireCode(err, dErrors.CodeInvalidOwner)
	})

	s.Run("unknown ledger is not found", func() {
		s.requireCode(s.withdraw(domain.NewAccountID(), 1), dErrors.CodeNotFound)
	})

	s.Run("exactly the unlocked amount can be withdrawn in parts", func() {
		s.Require().NoError(s.withdraw(ledger, 150))
		s.Require().NoError(s.withdraw(ledger, 250))
		s.requireCode(s.withdraw(ledger, 1), dErrors.CodeInsufficientUnlockedBalance)
	})
}

// =============================================================================
// Slash
// =============================================================================

func (s *ServiceSuite) TestSlash() {
	ledger := s.deposit()
	s.mint(ledger, 50)
	s.mint(ledger, 50)
	slashEnv := func(reclaim domain.AccountID, amount uint64) instruction.Envelope {
		return instruction.NewSlash(s.authority, ledger, s.registry, s.vault, reclaim, amount)
	}

	s.Run("claimed value cannot be slashed", func() {
		_, err := s.service.Process(s.ctx, slashEnv(domain.AccountID{}, 901))
		s.requireCode(err, dErrors.CodeInsufficientBalance)
	})

	s.Run("retain policy refuses a destination account", func() {
		_, err := s.service.Process(s.ctx, slashEnv(s.wallet, 10))
		s.requireCode(err, dErrors.CodeDecode)
	})

	s.Run("reclaim policy moves value to the destination", func() {
		reclaim := domain.NewAccountID()
		s.Require().NoError(s.bank.OpenAccount(reclaim, s.custodied, s.authority))
		svc := s.newService(WithSlashPolicy(SlashReclaim))

		_, err := svc.Process(s.ctx, slashEnv(domain.AccountID{}, 10))
		s.requireCode(err, dErrors.CodeDecode)

		_, err = svc.Process(s.ctx, slashEnv(reclaim, 900))
		s.Require().NoError(err)
		s.Equal(uint64(900), s.balance(reclaim))
		s.Equal(uint64(100), s.balance(s.vault))

		l := s.ledger(ledger)
		s.Equal(uint64(900), l.Slashed)
		s.Zero(l.Claimable())
		s.Equal(uint64(100), s.registryRecord().TotalOutstandingValue)
	})
}

// =============================================================================
// SetAuthority
// =============================================================================

func (s *ServiceSuite) TestSetAuthority() {
	next := domain.NewAccountID()
	ledger := s.deposit()
	slash := func(signer domain.AccountID) error {
		_, err := s.service.Process(s.ctx, instruction.NewSlash(signer, ledger, s.registry, s.vault, domain.AccountID{}, 1))
		return err
	}

	s.Run("non-authority signer is rejected", func() {
		_, err := s.service.Process(s.ctx, instruction.NewSetAuthority(next, s.registry, next))
		s.requireCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("authority hands over control", func() {
		_, err := s.service.Process(s.ctx, instruction.NewSetAuthority(s.authority, s.registry, next))
		s.Require().NoError(err)
		s.Equal(next, s.registryRecord().Authority)

		s.requireCode(slash(s.authority), dErrors.CodeUnauthorized)
		s.Require().NoError(slash(next))
	})

	s.Run("previous authority cannot take it back", func() {
		_, err := s.service.Process(s.ctx, instruction.NewSetAuthority(s.authority, s.registry, s.authority))
		s.requireCode(err, dErrors.CodeUnauthorized)
	})
}

// =============================================================================
// Audit Trail
// =============================================================================

func (s *ServiceSuite) TestAuditTrail() {
	ledger := s.deposit()
	s.clock.Set(10)
	s.Require().NoError(s.withdraw(ledger, 100))
	s.requireCode(s.withdraw(ledger, 1000), dErrors.CodeInsufficientUnlockedBalance)

	events, err := s.audit.ListByLedger(s.ctx, ledger)
	s.Require().NoError(err)
	s.Require().Len(events, 2, "rejected instructions leave no audit record")
	s.Equal(string(audit.EventDeposited), events[0].Action)
	s.Equal(uint64(1000), events[0].Amount)
	s.Equal(s.depositor, events[0].Actor)
	s.Equal(string(audit.EventWithdrawn), events[1].Action)
	s.Equal(audit.CategoryCompliance, events[1].Category)
	s.Equal(s.registry, events[1].Registry)
	s.Equal(uint64(10), events[1].Slot)
}

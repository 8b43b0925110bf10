package service

import (
	"safe/internal/safe/instruction"
	"safe/pkg/domain"
	dErrors "safe/pkg/domain-errors"
)

// =============================================================================
// Ledger lifecycle
// =============================================================================
// A deposit of 1000 with tranches (10, 400) and (20, 600), followed through
// withdrawals, a receipt mint and burn, a slash and a double initialize.

func (s *ServiceSuite) TestWithdrawAfterFirstTrancheUnlocks() {
	ledger := s.deposit()
	s.clock.Set(10)

	s.Require().NoError(s.withdraw(ledger, 400))
	s.requireCode(s.withdraw(ledger, 1), dErrors.CodeInsufficientUnlockedBalance)

	l := s.ledger(ledger)
	s.Equal(uint64(400), l.Withdrawn)
	s.Equal(uint64(400), s.balance(s.wallet))
	s.Equal(uint64(600), s.balance(s.vault))
	s.Equal(uint64(600), s.registryRecord().TotalOutstandingValue)
}

func (s *ServiceSuite) TestOutstandingReceiptsBlockWithdrawal() {
	ledger := s.deposit()
	s.clock.Set(10)
	s.Require().NoError(s.withdraw(ledger, 400))

	receipts := s.mint(ledger, 1)
	s.Len(receipts, 1)
	s.Equal(uint64(1), s.balance(s.holder))

	s.clock.Set(20)
	s.requireCode(s.withdraw(ledger, 600), dErrors.CodeInsufficientUnlockedBalance)
	s.Require().NoError(s.withdraw(ledger, 599))

	l := s.ledger(ledger)
	s.Equal(uint64(999), l.Withdrawn)
	s.Equal(uint64(1), l.LockedClaimAmount)
	s.Equal(uint64(1), l.OutstandingReceipts)
	s.Equal(uint64(1), s.balance(s.vault))
}

func (s *ServiceSuite) TestBurnRestoresWithdrawable() {
	ledger := s.deposit()
	s.clock.Set(10)
	s.Require().NoError(s.withdraw(ledger, 400))
	receipts := s.mint(ledger, 1)
	s.clock.Set(20)
	s.Require().NoError(s.withdraw(ledger, 599))

	s.Run("non-beneficiary signer is rejected", func() {
		_, err := s.service.Process(s.ctx, instruction.NewBurnReceipt(s.depositor, s.holder, ledger, s.registry, receipts...))
		s.requireCode(err, dErrors.CodeUnauthorized)
		s.Equal(uint64(1), s.ledger(ledger).LockedClaimAmount)
	})

	s.Run("beneficiary burns and the unit becomes withdrawable", func() {
		_, err := s.service.Process(s.ctx, instruction.NewBurnReceipt(s.beneficiary, s.holder, ledger, s.registry, receipts...))
		s.Require().NoError(err)

		l := s.ledger(ledger)
		s.Zero(l.LockedClaimAmount)
		s.Zero(l.OutstandingReceipts)
		s.Zero(s.balance(s.holder))

		avail, err := s.service.Available(s.ctx, ledger)
		s.Require().NoError(err)
		s.Equal(uint64(1), avail.Withdrawable)

		s.Require().NoError(s.withdraw(ledger, 1))
		s.True(s.ledger(ledger).Closed())
		s.Zero(s.registryRecord().TotalOutstandingValue)
	})

	s.Run("burning the same receipt again fails", func() {
		_, err := s.service.Process(s.ctx, instruction.NewBurnReceipt(s.beneficiary, s.holder, ledger, s.registry, receipts...))
		s.requireCode(err, dErrors.CodeAlreadyBurned)
	})
}

func (s *ServiceSuite) TestSlashForfeitsUnclaimedValue() {
	ledger := s.deposit()
	slash := func(signer domain.AccountID) error {
		_, err := s.service.Process(s.ctx, instruction.NewSlash(signer, ledger, s.registry, s.vault, domain.AccountID{}, 200))
		return err
	}

	s.Run("non-authority signer is rejected", func() {
		s.requireCode(slash(s.beneficiary), dErrors.CodeUnauthorized)
		s.Zero(s.ledger(ledger).Slashed)
	})

	s.Run("authority slashes and withdrawable drops by the amount", func() {
		s.Require().NoError(slash(s.authority))

		s.clock.Set(20)
		avail, err := s.service.Available(s.ctx, ledger)
		s.Require().NoError(err)
		s.Equal(uint64(800), avail.Withdrawable)

		l := s.ledger(ledger)
		s.Equal(uint64(200), l.Withdrawn)
		s.Equal(uint64(200), l.Slashed)

		reg := s.registryRecord()
		s.Equal(uint64(800), reg.TotalOutstandingValue)
		s.Equal(uint64(200), reg.ForfeitedValue)
		s.Equal(uint64(1000), s.balance(s.vault), "retain policy leaves forfeited value in the vault")

		s.requireCode(s.withdraw(ledger, 801), dErrors.CodeInsufficientUnlockedBalance)
		s.Require().NoError(s.withdraw(ledger, 800))
	})
}

func (s *ServiceSuite) TestSecondInitializeLeavesRegistryUnchanged() {
	before := s.registryRecord()

	env := s.initializeEnvelope(s.registry, s.vault)
	env.Payload = instruction.Initialize{
		CustodiedAsset: s.custodied,
		ReceiptAsset:   s.receiptAsset,
		Authority:      s.beneficiary,
		SignerNonce:    signerNonce,
	}
	_, err := s.service.Process(s.ctx, env)
	s.requireCode(err, dErrors.CodeAlreadyInitialized)
	s.Equal(before, s.registryRecord())
}

package service

import (
	"sync"

	"safe/internal/safe/instruction"
	dErrors "safe/pkg/domain-errors"
)

// =============================================================================
// Concurrency
// =============================================================================

// Mints and withdrawals racing on one ledger ask for more than it holds. The
// ledger lock serializes them, so the value handed out never exceeds the deposit.
func (s *ServiceSuite) TestConcurrentMintAndWithdrawCannotDoubleSpend() {
	const (
		workers        = 50
		withdrawAmount = 15
		mintUnits      = 10
	)
	ledger := s.deposit()
	s.clock.Set(20)

	withdrawErrs := make([]error, workers)
	mintErrs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(2)
		go func() {
			defer wg.Done()
			withdrawErrs[i] = s.withdraw(ledger, withdrawAmount)
		}()
		go func() {
			defer wg.Done()
			_, mintErrs[i] = s.service.Process(s.ctx, instruction.NewMintReceipt(s.beneficiary, ledger, s.holder, s.registry, mintUnits))
		}()
	}
	wg.Wait()

	var withdrawn, minted uint64
	for i := range workers {
		if withdrawErrs[i] == nil {
			withdrawn += withdrawAmount
		} else {
			s.Equal(dErrors.CodeInsufficientUnlockedBalance, dErrors.CodeOf(withdrawErrs[i]), "withdraw: %v", withdrawErrs[i])
		}
		if mintErrs[i] == nil {
			minted += mintUnits
		} else {
			s.Equal(dErrors.CodeInsufficientUnvestedBalance, dErrors.CodeOf(mintErrs[i]), "mint: %v", mintErrs[i])
		}
	}

	l := s.ledger(ledger)
	s.Equal(withdrawn, l.Withdrawn)
	s.Equal(minted, l.LockedClaimAmount)
	s.Equal(minted, l.OutstandingReceipts)
	s.LessOrEqual(l.Withdrawn+l.LockedClaimAmount, l.TotalDeposited)
	s.Less(l.TotalDeposited-l.Withdrawn-l.LockedClaimAmount, uint64(mintUnits), "leftover is smaller than any request")

	s.Equal(l.TotalDeposited-withdrawn, s.balance(s.vault))
	s.Equal(withdrawn, s.balance(s.wallet))
	s.Equal(minted, s.balance(s.holder))
	s.Equal(l.TotalDeposited-withdrawn, s.registryRecord().TotalOutstandingValue)
}

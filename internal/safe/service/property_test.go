package service

import (
	"math/rand/v2"
	"slices"

	"safe/internal/safe/instruction"
	"safe/internal/safe/models"
	"safe/pkg/domain"
	dErrors "safe/pkg/domain-errors"
)

// =============================================================================
// Randomized Sequence Tests
// =============================================================================
// Replays seeded random instruction sequences, including ones that must be
// rejected, and checks the ledger accounting identities after every step.

var expectedRejections = []dErrors.Code{
	dErrors.CodeUnauthorized,
	dErrors.CodeTransferFailed,
	dErrors.CodeInsufficientUnvestedBalance,
	dErrors.CodeInsufficientUnlockedBalance,
	dErrors.CodeInsufficientBalance,
	dErrors.CodeAlreadyBurned,
}

type sequence struct {
	s        *ServiceSuite
	rng      *rand.Rand
	ledgers  []domain.AccountID
	live     map[domain.AccountID][]domain.AccountID
	burned   []burnedReceipt
	stranger domain.AccountID
}

type burnedReceipt struct {
	ledger  domain.AccountID
	receipt domain.AccountID
}

func (s *ServiceSuite) TestRandomSequencesPreserveAccounting() {
	for _, seed := range []uint64{1, 7, 42, 1337, 90210} {
		s.Run("seed", func() {
			s.SetupTest()
			seq := &sequence{
				s:        s,
				rng:      rand.New(rand.NewPCG(seed, seed^0x5afe)),
				live:     make(map[domain.AccountID][]domain.AccountID),
				stranger: domain.NewAccountID(),
			}
			for step := 0; step < 200; step++ {
				err := seq.step()
				if err != nil {
					s.Contains(expectedRejections, dErrors.CodeOf(err), "seed %d step %d: %v", seed, step, err)
				}
				seq.checkAccounting(seed, step)
			}
		})
	}
}

func (q *sequence) signer(owner domain.AccountID) domain.AccountID {
	if q.rng.IntN(8) == 0 {
		return q.stranger
	}
	return owner
}

func (q *sequence) pickLedger() (domain.AccountID, bool) {
	if len(q.ledgers) == 0 {
		return domain.AccountID{}, false
	}
	return q.ledgers[q.rng.IntN(len(q.ledgers))], true
}

func (q *sequence) step() error {
	s := q.s
	switch q.rng.IntN(7) {
	case 0:
		q.s.clock.Set(q.s.clock.Now(s.ctx) + models.Slot(q.rng.IntN(6)))
		return nil
	case 1:
		return q.deposit()
	case 2:
		ledger, ok := q.pickLedger()
		if !ok {
			return q.deposit()
		}
		units := uint64(1 + q.rng.IntN(20))
		res, err := s.service.Process(s.ctx, instruction.NewMintReceipt(q.signer(s.beneficiary), ledger, s.holder, s.registry, units))
		if err == nil {
			q.live[ledger] = append(q.live[ledger], res.Receipts...)
		}
		return err
	case 3:
		return q.burn()
	case 4:
		ledger, ok := q.pickLedger()
		if !ok {
			return nil
		}
		amount := uint64(1 + q.rng.IntN(200))
		_, err := s.service.Process(s.ctx, instruction.NewWithdraw(q.signer(s.beneficiary), ledger, s.wallet, s.vault, s.registry, amount))
		return err
	case 5:
		ledger, ok := q.pickLedger()
		if !ok {
			return nil
		}
		amount := uint64(1 + q.rng.IntN(200))
		_, err := s.service.Process(s.ctx, instruction.NewSlash(q.signer(s.authority), ledger, s.registry, s.vault, domain.AccountID{}, amount))
		return err
	default:
		return q.burn()
	}
}

func (q *sequence) deposit() error {
	s := q.s
	now := s.clock.Now(s.ctx)
	schedule := make(models.Schedule, 1+q.rng.IntN(3))
	at := now
	for i := range schedule {
		at += models.Slot(1 + q.rng.IntN(15))
		schedule[i] = models.Tranche{UnlockAt: at, Amount: uint64(1 + q.rng.IntN(300))}
	}
	ledger := domain.NewAccountID()
	env := instruction.NewDeposit(ledger, s.source, q.signer(s.depositor), s.vault, s.registry, s.beneficiary, schedule)
	if _, err := s.service.Process(s.ctx, env); err != nil {
		return err
	}
	q.ledgers = append(q.ledgers, ledger)
	return nil
}

func (q *sequence) burn() error {
	s := q.s
	ledger, ok := q.pickLedger()
	if !ok {
		return nil
	}
	live := q.live[ledger]
	var receipts []domain.AccountID
	n := min(len(live), 1+q.rng.IntN(3))
	receipts = append(receipts, live[:n]...)
	replay := len(q.burned) > 0 && q.rng.IntN(4) == 0
	if replay {
		b := q.burned[q.rng.IntN(len(q.burned))]
		ledger = b.ledger
		receipts = []domain.AccountID{b.receipt}
	}
	if len(receipts) == 0 {
		return nil
	}

	_, err := s.service.Process(s.ctx, instruction.NewBurnReceipt(q.signer(s.beneficiary), s.holder, ledger, s.registry, receipts...))
	if err == nil {
		q.live[ledger] = slices.Delete(live, 0, n)
		for _, r := range receipts {
			q.burned = append(q.burned, burnedReceipt{ledger: ledger, receipt: r})
		}
	}
	return err
}

func (q *sequence) checkAccounting(seed uint64, step int) {
	s := q.s
	var deposited, outstanding uint64
	for _, id := range q.ledgers {
		l := s.ledger(id)
		s.LessOrEqual(l.Withdrawn+l.LockedClaimAmount, l.TotalDeposited, "seed %d step %d", seed, step)
		s.Equal(l.LockedClaimAmount, l.OutstandingReceipts*models.ReceiptUnitValue, "seed %d step %d", seed, step)
		s.Equal(uint64(len(q.live[id])), l.OutstandingReceipts, "seed %d step %d", seed, step)
		deposited += l.TotalDeposited
		outstanding += l.TotalDeposited - l.Withdrawn
	}
	reg := s.registryRecord()
	s.Equal(outstanding, reg.TotalOutstandingValue, "seed %d step %d", seed, step)
	s.LessOrEqual(reg.TotalOutstandingValue, deposited, "seed %d step %d", seed, step)
	s.GreaterOrEqual(s.balance(s.vault), reg.TotalOutstandingValue, "seed %d step %d", seed, step)
}

package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safe/pkg/domain"
	dErrors "safe/pkg/domain-errors"
)

func twoTrancheSchedule() Schedule {
	return Schedule{{UnlockAt: 10, Amount: 400}, {UnlockAt: 20, Amount: 600}}
}

func newLedger(t *testing.T, schedule Schedule) *VestingLedger {
	t.Helper()
	l, err := NewVestingLedger(domain.NewAccountID(), domain.NewProgramID(), domain.NewAccountID(), domain.NewAccountID(), schedule, 0)
	require.NoError(t, err)
	return l
}

func TestScheduleValidate(t *testing.T) {
	cases := []struct {
		name     string
		schedule Schedule
		wantErr  bool
	}{
		{"empty schedule", Schedule{}, true},
		{"equal unlock slots", Schedule{{UnlockAt: 5, Amount: 1}, {UnlockAt: 5, Amount: 1}}, true},
		{"decreasing unlock slots", Schedule{{UnlockAt: 9, Amount: 1}, {UnlockAt: 3, Amount: 1}}, true},
		{"overflowing total", Schedule{{UnlockAt: 1, Amount: math.MaxUint64}, {UnlockAt: 2, Amount: 1}}, true},
		{"zero total", Schedule{{UnlockAt: 1, Amount: 0}}, true},
		{"zero tranche inside positive total", Schedule{{UnlockAt: 1, Amount: 0}, {UnlockAt: 2, Amount: 7}}, false},
		{"two tranches", twoTrancheSchedule(), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.schedule.Validate()
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidSchedule))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestScheduleUnlockedAt(t *testing.T) {
	s := twoTrancheSchedule()
	assert.Equal(t, uint64(0), s.UnlockedAt(9))
	assert.Equal(t, uint64(400), s.UnlockedAt(10))
	assert.Equal(t, uint64(400), s.UnlockedAt(19))
	assert.Equal(t, uint64(1000), s.UnlockedAt(20))
	assert.Equal(t, uint64(1000), s.Total())
}

func TestVestingLedgerAccounting(t *testing.T) {
	t.Run("new ledger holds schedule total", func(t *testing.T) {
		l := newLedger(t, twoTrancheSchedule())
		assert.Equal(t, uint64(1000), l.TotalDeposited)
		assert.Equal(t, uint64(1000), l.Claimable())
		assert.NoError(t, l.CheckInvariants())
	})

	t.Run("schedule is copied", func(t *testing.T) {
		s := twoTrancheSchedule()
		l := newLedger(t, s)
		s[0].Amount = 1
		assert.Equal(t, uint64(400), l.Schedule[0].Amount)
	})

	t.Run("claims reduce withdrawable after unlock", func(t *testing.T) {
		l := newLedger(t, twoTrancheSchedule())
		l.RecordWithdrawal(400, 10)
		l.LockClaims(1)
		assert.Equal(t, uint64(0), l.Withdrawable(10))
		assert.Equal(t, uint64(599), l.Withdrawable(20))
		assert.NoError(t, l.CheckInvariants())

		l.ReleaseClaims(1)
		assert.Equal(t, uint64(600), l.Withdrawable(20))
	})

	t.Run("withdrawable saturates after forfeiture", func(t *testing.T) {
		l := newLedger(t, twoTrancheSchedule())
		l.Forfeit(900)
		assert.Equal(t, uint64(0), l.Withdrawable(10))
		assert.Equal(t, uint64(100), l.Withdrawable(20))
		assert.Equal(t, uint64(900), l.Slashed)
		assert.NoError(t, l.CheckInvariants())
	})

	t.Run("closed once drained without claims", func(t *testing.T) {
		l := newLedger(t, twoTrancheSchedule())
		l.RecordWithdrawal(1000, 20)
		assert.True(t, l.Closed())
	})
}

func TestVestingLedgerInvariantViolations(t *testing.T) {
	t.Run("releasing more claims than outstanding panics", func(t *testing.T) {
		l := newLedger(t, twoTrancheSchedule())
		assert.PanicsWithError(t, InvariantViolation{Record: l.ID, Detail: "releasing 1 receipts underflows outstanding 0"}.Error(), func() {
			l.ReleaseClaims(1)
		})
	})

	t.Run("locking beyond claimable panics", func(t *testing.T) {
		l := newLedger(t, twoTrancheSchedule())
		assert.Panics(t, func() { l.LockClaims(1001) })
	})

	t.Run("withdrawing beyond unlocked value panics", func(t *testing.T) {
		l := newLedger(t, twoTrancheSchedule())
		assert.Panics(t, func() { l.RecordWithdrawal(401, 10) })
	})

	t.Run("check invariants reports broken counters", func(t *testing.T) {
		l := newLedger(t, twoTrancheSchedule())
		l.LockedClaimAmount = 3
		assert.Error(t, l.CheckInvariants())
	})
}

func TestSafeRegistry(t *testing.T) {
	t.Run("vault authority derivation is deterministic", func(t *testing.T) {
		program := domain.NewProgramID()
		registry := domain.NewAccountID()
		a := DeriveVaultAuthority(program, registry, 7)
		b := DeriveVaultAuthority(program, registry, 7)
		c := DeriveVaultAuthority(program, registry, 8)
		assert.Equal(t, a, b)
		assert.NotEqual(t, a, c)
		assert.False(t, a.IsNil())
	})

	t.Run("credit rejects overflow", func(t *testing.T) {
		r := &SafeRegistry{TotalOutstandingValue: math.MaxUint64}
		err := r.Credit(1)
		require.Error(t, err)
		assert.Equal(t, uint64(math.MaxUint64), r.TotalOutstandingValue)
	})

	t.Run("forfeit moves value out of outstanding", func(t *testing.T) {
		r := &SafeRegistry{TotalOutstandingValue: 1000}
		r.RecordForfeit(200)
		assert.Equal(t, uint64(800), r.TotalOutstandingValue)
		assert.Equal(t, uint64(200), r.ForfeitedValue)
	})

	t.Run("debit underflow panics", func(t *testing.T) {
		r := &SafeRegistry{TotalOutstandingValue: 1}
		assert.Panics(t, func() { r.Debit(2) })
	})
}

func TestReceiptLatch(t *testing.T) {
	r := NewReceipt(domain.NewAccountID(), domain.NewProgramID(), domain.NewAccountID(), domain.NewAssetID(), domain.NewAccountID())
	assert.True(t, r.Live())
	r.Burn()
	assert.False(t, r.Live())
	assert.True(t, r.Burned)
	assert.Panics(t, func() { r.Burn() })
	assert.True(t, r.Burned)
}

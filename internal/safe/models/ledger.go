package models

import (
	"fmt"

	"safe/pkg/domain"
)

// ReceiptUnitValue is the custodied amount a single receipt claims.
const ReceiptUnitValue uint64 = 1

// VestingLedger is one depositor position.
//
// Invariants:
//   - Withdrawn + LockedClaimAmount <= TotalDeposited
//   - LockedClaimAmount == OutstandingReceipts * ReceiptUnitValue
//   - Slashed <= Withdrawn (forfeited value counts as released from the position)
type VestingLedger struct {
	ID                  domain.AccountID `json:"id"`
	Owner               domain.ProgramID `json:"owner"`
	Safe                domain.AccountID `json:"safe"`
	Beneficiary         domain.AccountID `json:"beneficiary"`
	Schedule            Schedule         `json:"schedule"`
	TotalDeposited      uint64           `json:"total_deposited"`
	Withdrawn           uint64           `json:"withdrawn"`
	LockedClaimAmount   uint64           `json:"locked_claim_amount"`
	OutstandingReceipts uint64           `json:"outstanding_receipts"`
	Slashed             uint64           `json:"slashed"`
	CreatedAt           Slot             `json:"created_at"`
}

// NewVestingLedger validates the schedule and opens a position holding its total.
func NewVestingLedger(id domain.AccountID, owner domain.ProgramID, safe, beneficiary domain.AccountID, schedule Schedule, now Slot) (*VestingLedger, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	return &VestingLedger{
		ID:             id,
		Owner:          owner,
		Safe:           safe,
		Beneficiary:    beneficiary,
		Schedule:       schedule.Clone(),
		TotalDeposited: schedule.Total(),
		CreatedAt:      now,
	}, nil
}

// Unlocked is the schedule total released by now, before withdrawals and claims.
func (l *VestingLedger) Unlocked(now Slot) uint64 {
	return l.Schedule.UnlockedAt(now)
}

// Claimable is the value still in the position and not backing a receipt.
// It bounds minting and slashing regardless of the unlock schedule.
func (l *VestingLedger) Claimable() uint64 {
	return l.TotalDeposited - l.Withdrawn - l.LockedClaimAmount
}

// Withdrawable is the unlocked value the beneficiary may take out at now.
func (l *VestingLedger) Withdrawable(now Slot) uint64 {
	spent := l.Withdrawn + l.LockedClaimAmount
	unlocked := l.Unlocked(now)
	if unlocked <= spent {
		return 0
	}
	return unlocked - spent
}

// Closed reports a fully drained position with no outstanding claims.
func (l *VestingLedger) Closed() bool {
	return l.Withdrawn == l.TotalDeposited && l.LockedClaimAmount == 0
}

// LockClaims backs units newly minted receipts with position value.
func (l *VestingLedger) LockClaims(units uint64) {
	value := units * ReceiptUnitValue
	if units != 0 && value/units != ReceiptUnitValue {
		violate(l.ID, "receipt value overflows")
	}
	if value > l.Claimable() {
		violate(l.ID, "locking %d exceeds claimable %d", value, l.Claimable())
	}
	l.LockedClaimAmount += value
	l.OutstandingReceipts += units
}

// ReleaseClaims returns the value behind units burned receipts to the position.
func (l *VestingLedger) ReleaseClaims(units uint64) {
	value := units * ReceiptUnitValue
	if units > l.OutstandingReceipts || value > l.LockedClaimAmount {
		violate(l.ID, "releasing %d receipts underflows outstanding %d", units, l.OutstandingReceipts)
	}
	l.LockedClaimAmount -= value
	l.OutstandingReceipts -= units
}

// RecordWithdrawal releases amount to the beneficiary.
func (l *VestingLedger) RecordWithdrawal(amount uint64, now Slot) {
	if amount > l.Withdrawable(now) {
		violate(l.ID, "withdrawing %d exceeds withdrawable %d", amount, l.Withdrawable(now))
	}
	l.Withdrawn += amount
}

// Forfeit removes amount from the beneficiary's future claim without paying it out.
func (l *VestingLedger) Forfeit(amount uint64) {
	if amount > l.Claimable() {
		violate(l.ID, "forfeiting %d exceeds claimable %d", amount, l.Claimable())
	}
	l.Withdrawn += amount
	l.Slashed += amount
}

// CheckInvariants verifies the record's accounting identities.
func (l *VestingLedger) CheckInvariants() error {
	if l.Withdrawn > l.TotalDeposited || l.LockedClaimAmount > l.TotalDeposited-l.Withdrawn {
		return fmt.Errorf("withdrawn %d + locked %d exceeds deposited %d", l.Withdrawn, l.LockedClaimAmount, l.TotalDeposited)
	}
	if l.LockedClaimAmount != l.OutstandingReceipts*ReceiptUnitValue {
		return fmt.Errorf("locked %d does not match %d outstanding receipts", l.LockedClaimAmount, l.OutstandingReceipts)
	}
	if l.Slashed > l.Withdrawn {
		return fmt.Errorf("slashed %d exceeds withdrawn %d", l.Slashed, l.Withdrawn)
	}
	if l.Schedule.Total() != l.TotalDeposited {
		return fmt.Errorf("schedule total %d does not match deposited %d", l.Schedule.Total(), l.TotalDeposited)
	}
	return nil
}

// Clone returns a deep copy.
func (l *VestingLedger) Clone() *VestingLedger {
	c := *l
	c.Schedule = l.Schedule.Clone()
	return &c
}

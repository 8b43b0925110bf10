package models

import (
	"math/bits"

	dErrors "safe/pkg/domain-errors"
)

// Slot is the clock oracle's monotonic counter.
type Slot uint64

// Tranche releases Amount once the clock reaches UnlockAt.
type Tranche struct {
	UnlockAt Slot   `json:"unlock_at"`
	Amount   uint64 `json:"amount"`
}

// Schedule is an ordered list of tranches with strictly increasing unlock slots.
type Schedule []Tranche

// Validate enforces a non-empty schedule with strictly increasing unlock
// slots whose total is positive and fits in a uint64.
func (s Schedule) Validate() error {
	if len(s) == 0 {
		return dErrors.New(dErrors.CodeInvalidSchedule, "schedule must have at least one tranche")
	}
	var total uint64
	for i, t := range s {
		if i > 0 && t.UnlockAt <= s[i-1].UnlockAt {
			return dErrors.New(dErrors.CodeInvalidSchedule, "unlock slots must be strictly increasing")
		}
		var carry uint64
		total, carry = bits.Add64(total, t.Amount, 0)
		if carry != 0 {
			return dErrors.New(dErrors.CodeInvalidSchedule, "schedule total overflows")
		}
	}
	if total == 0 {
		return dErrors.New(dErrors.CodeInvalidSchedule, "schedule deposits nothing")
	}
	return nil
}

// Total sums every tranche. Call only on a validated schedule.
func (s Schedule) Total() uint64 {
	var total uint64
	for _, t := range s {
		total += t.Amount
	}
	return total
}

// UnlockedAt sums the tranches whose unlock slot is at or before now.
func (s Schedule) UnlockedAt(now Slot) uint64 {
	var unlocked uint64
	for _, t := range s {
		if t.UnlockAt > now {
			break
		}
		unlocked += t.Amount
	}
	return unlocked
}

// Clone returns a copy that shares no backing array.
func (s Schedule) Clone() Schedule {
	if s == nil {
		return nil
	}
	return append(Schedule(nil), s...)
}

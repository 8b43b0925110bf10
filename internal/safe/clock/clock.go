// Package clock provides slot clocks for the safe core.
package clock

import (
	"context"
	"sync/atomic"
	"time"

	"safe/internal/safe/models"
	"safe/pkg/requestcontext"
)

// Wall derives slots from wall-clock time: slot n starts at Genesis + n*SlotDuration.
// It reads the request-scoped time so a request observes one consistent slot.
// Requests stamped earlier than one already served see the highest slot
// reported so far, so Now never goes backwards.
type Wall struct {
	Genesis      time.Time
	SlotDuration time.Duration

	high atomic.Uint64
}

// NewWall returns a wall clock. A non-positive duration defaults to one second.
func NewWall(genesis time.Time, slotDuration time.Duration) *Wall {
	if slotDuration <= 0 {
		slotDuration = time.Second
	}
	return &Wall{Genesis: genesis, SlotDuration: slotDuration}
}

// Now returns the current slot. Times before genesis report slot 0.
func (w *Wall) Now(ctx context.Context) models.Slot {
	var slot uint64
	if elapsed := requestcontext.Now(ctx).Sub(w.Genesis); elapsed > 0 {
		slot = uint64(elapsed / w.SlotDuration)
	}
	for {
		cur := w.high.Load()
		if slot <= cur {
			return models.Slot(cur)
		}
		if w.high.CompareAndSwap(cur, slot) {
			return models.Slot(slot)
		}
	}
}

// Fixed is a manually advanced clock for tests and simulations.
type Fixed struct {
	slot atomic.Uint64
}

// NewFixed returns a clock stopped at slot.
func NewFixed(slot models.Slot) *Fixed {
	f := &Fixed{}
	f.slot.Store(uint64(slot))
	return f
}

func (f *Fixed) Now(context.Context) models.Slot {
	return models.Slot(f.slot.Load())
}

// Set moves the clock to slot. Moving backwards is ignored.
func (f *Fixed) Set(slot models.Slot) {
	for {
		cur := f.slot.Load()
		if uint64(slot) <= cur || f.slot.CompareAndSwap(cur, uint64(slot)) {
			return
		}
	}
}

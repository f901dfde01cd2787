package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrSlotFull     = errors.New("no beds available in slot")
	ErrSlotInactive = errors.New("slot is not active")

	// ErrInvariantViolation flags capacity bookkeeping that would leave a
	// slot in an impossible state, e.g. releasing more beds than exist.
	// It is never corrected silently.
	ErrInvariantViolation = errors.New("capacity invariant violation")
)

// Ledger owns bed bookkeeping for time slots. It is the only component
// that writes availableBeds; everything else reads.
type Ledger struct {
	repo Repository
}

// NewLedger binds a ledger to a repository, typically the transaction
// scoped one inside an atomic unit.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo}
}

// TryReserve consumes one bed of the slot and returns its index, failing
// fast with ErrSlotFull when capacity is exhausted. The
// read-check-decrement is atomic with respect to concurrent callers on
// the same slot; unrelated slots never contend.
func (l *Ledger) TryReserve(ctx context.Context, slotID uuid.UUID) (int, error) {
	if err := l.repo.ReserveBed(ctx, slotID); err != nil {
		return 0, err
	}

	// Re-read inside the unit to see the decrement we just made.
	slot, err := l.repo.GetTimeSlot(ctx, slotID)
	if err != nil {
		return 0, err
	}
	return slot.BedCount - slot.AvailableBeds - 1, nil
}

// Release returns one bed to the slot. Going above bedCount means a
// caller released a bed it never held.
func (l *Ledger) Release(ctx context.Context, slotID uuid.UUID) error {
	if err := l.repo.ReleaseBed(ctx, slotID); err != nil {
		if errors.Is(err, ErrInvariantViolation) {
			return fmt.Errorf("release bed of slot %s: %w", slotID, err)
		}
		return err
	}
	return nil
}

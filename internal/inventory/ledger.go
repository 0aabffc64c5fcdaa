// Package inventory is the sole authority on whether N more units of a
// ticket category can be reserved, and the sole mutator of the sold count.
// Every operation runs against a transaction the caller already holds; the
// availability check is only meaningful when the category rows were locked
// in that same transaction.
package inventory

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/eventhub/booking/internal/domain"
)

// Tx is the slice of a storage transaction the ledger needs. The pgx
// repository and the in-memory test store both implement it.
type Tx interface {
	// LockCategories reads the given category rows for update, so the
	// availability computed from them cannot be invalidated by a
	// concurrent booking before this transaction commits.
	LockCategories(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.TicketCategory, error)
	// LiveUnpaidCount counts reservations for the category that exist but
	// have not been paid. They hold capacity without touching sold.
	LiveUnpaidCount(ctx context.Context, categoryID uuid.UUID) (int, error)
	// IncrementSold adds qty to the category's sold count, failing if the
	// result would exceed total capacity.
	IncrementSold(ctx context.Context, categoryID uuid.UUID, qty int) error
}

type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// CheckAvailability computes available = total - sold - live unpaid
// reservations for an already-locked category row and returns the available
// count, or a typed InsufficientInventoryError naming the shortfall.
func (l *Ledger) CheckAvailability(ctx context.Context, tx Tx, cat domain.TicketCategory, requested int) (int, error) {
	if !cat.IsActive {
		return 0, errors.Wrapf(domain.ErrNotFound, "category %s inactive", cat.ID)
	}
	unpaid, err := tx.LiveUnpaidCount(ctx, cat.ID)
	if err != nil {
		return 0, errors.Wrap(err, "count unpaid reservations")
	}
	available := cat.TotalQuantity - cat.SoldQuantity - unpaid
	if requested > available {
		return available, &domain.InsufficientInventoryError{
			CategoryID:   cat.ID,
			CategoryName: cat.Name,
			Requested:    requested,
			Available:    available,
		}
	}
	return available, nil
}

// ConfirmSale moves qty units from reserved to sold. Callers guard
// idempotency by checking-and-setting the payment's status flag in the same
// transaction, so a replayed callback never reaches this twice.
func (l *Ledger) ConfirmSale(ctx context.Context, tx Tx, categoryID uuid.UUID, qty int) error {
	if err := tx.IncrementSold(ctx, categoryID, qty); err != nil {
		return errors.Wrapf(err, "confirm sale of %d units for category %s", qty, categoryID)
	}
	return nil
}

// ReleaseHold returns reserved-but-unpaid capacity. Unpaid reservations
// never touched sold, so there is no counter to decrement; deleting the
// reservation rows (the reaper's job) is the release. Kept as a named
// operation for symmetry and testability.
func (l *Ledger) ReleaseHold(ctx context.Context, tx Tx, categoryID uuid.UUID, qty int) error {
	return nil
}

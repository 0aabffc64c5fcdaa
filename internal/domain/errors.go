package domain

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")
	ErrAlreadyConfirmed     = errors.New("payment already confirmed")
	ErrNotPaid              = errors.New("ticket not paid")
	ErrAlreadyCheckedIn     = errors.New("ticket already checked in")
	ErrDiscountNotUsable    = errors.New("discount code not usable")
)

// InsufficientInventoryError names the first category a booking attempt
// could not be satisfied from, and by how much it fell short.
type InsufficientInventoryError struct {
	CategoryID   uuid.UUID
	CategoryName string
	Requested    int
	Available    int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for %q: requested %d, available %d",
		e.CategoryName, e.Requested, e.Available)
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// BookingItem pairs a locked, current category row with the quantity the
// user asked for.
type BookingItem struct {
	Category TicketCategory
	Quantity int
}

// NewBooking prices a booking attempt server-side from the category rows
// read inside the reserve transaction and materializes the pending Payment
// plus one Reservation row per requested unit. The amount is computed once
// here and never recomputed.
func NewBooking(userID uuid.UUID, items []BookingItem, method PaymentMethod, discount *DiscountCode, now time.Time) (Payment, []Reservation) {
	total := 0.0
	units := 0
	for _, it := range items {
		total += it.Category.Price * float64(it.Quantity)
		units += it.Quantity
	}

	payment := Payment{
		ID:             uuid.New(),
		UserID:         userID,
		Amount:         total,
		Method:         method,
		TransactionRef: uuid.New().String(),
		CreatedAt:      now,
	}
	if discount != nil {
		payment.Amount = total * (1 - discount.PercentOff/100)
		id := discount.ID
		payment.DiscountCodeID = &id
	}

	reservations := make([]Reservation, 0, units)
	for _, it := range items {
		for i := 0; i < it.Quantity; i++ {
			reservations = append(reservations, Reservation{
				ID:         uuid.New(),
				UserID:     userID,
				EventID:    it.Category.EventID,
				CategoryID: it.Category.ID,
				PaymentID:  payment.ID,
				Token:      uuid.New().String(),
				CreatedAt:  now,
			})
		}
	}
	return payment, reservations
}

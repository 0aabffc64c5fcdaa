package domain

import (
	"time"

	"github.com/google/uuid"
)

type PaymentMethod string

const (
	PaymentMethodMomo  PaymentMethod = "momo"
	PaymentMethodVNPay PaymentMethod = "vnpay"
)

// TicketCategory is a priced class of ticket within an event, bounded by a
// total capacity. SoldQuantity only ever counts paid tickets.
type TicketCategory struct {
	ID            uuid.UUID
	EventID       uuid.UUID
	Name          string
	Price         float64
	TotalQuantity int
	SoldQuantity  int
	IsActive      bool
}

// Reservation is one provisionally held ticket unit. It does not count
// against SoldQuantity until IsPaid flips; until then availability checks
// count it as a live unpaid reservation.
type Reservation struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	EventID      uuid.UUID
	CategoryID   uuid.UUID
	PaymentID    uuid.UUID
	Token        string
	QRCodeURL    string
	IsPaid       bool
	PurchaseDate *time.Time
	IsCheckedIn  bool
	CheckInDate  *time.Time
	CreatedAt    time.Time
}

// Payment covers all reservations of one booking attempt. Status flips to
// true exactly once, on the provider's success callback.
type Payment struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Amount         float64
	Method         PaymentMethod
	Status         bool
	PaidAt         *time.Time
	TransactionRef string
	DiscountCodeID *uuid.UUID
	CreatedAt      time.Time
}

type DiscountCode struct {
	ID            uuid.UUID
	Code          string
	PercentOff    float64
	ValidFrom     time.Time
	ValidUntil    time.Time
	MaxUses       int
	UsedCount     int
	CustomerGroup string
}

// Usable reports whether the code can be applied at the given time by a
// member of the given customer group.
func (d DiscountCode) Usable(now time.Time, group string) bool {
	if now.Before(d.ValidFrom) || now.After(d.ValidUntil) {
		return false
	}
	if d.MaxUses > 0 && d.UsedCount >= d.MaxUses {
		return false
	}
	if d.CustomerGroup != "" && d.CustomerGroup != group {
		return false
	}
	return true
}

type Notification struct {
	Title    string
	Body     string
	Category string
}

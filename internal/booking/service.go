// Package booking orchestrates the reserve-then-pay-then-confirm flow:
// validate requested quantities and reserve them in one serializable
// transaction, hand off to the payment provider, and apply the provider's
// asynchronous callback exactly once.
package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/eventhub/booking/internal/adapters/crdb"
	"github.com/eventhub/booking/internal/domain"
	"github.com/eventhub/booking/internal/inventory"
	"github.com/eventhub/booking/internal/notify"
	"github.com/eventhub/booking/internal/observability"
	"github.com/eventhub/booking/internal/trending"
	"github.com/eventhub/booking/internal/vnpay"
)

const qrRenderURL = "https://api.qrserver.com/v1/create-qr-code/?size=200x200&data="

// Tx is everything the workflow needs from one storage transaction.
// *crdb.Tx implements it; tests use an in-memory store with the same
// locking semantics.
type Tx interface {
	inventory.Tx
	GetDiscountForUpdate(ctx context.Context, code string) (*domain.DiscountCode, error)
	MarkDiscountUsed(ctx context.Context, id uuid.UUID) error
	InsertPayment(ctx context.Context, p domain.Payment) error
	InsertReservations(ctx context.Context, rs []domain.Reservation) error
	GetPaymentForUpdate(ctx context.Context, txnRef string) (*domain.Payment, error)
	MarkPaymentPaid(ctx context.Context, paymentID uuid.UUID, paidAt time.Time) error
	MarkReservationsPaid(ctx context.Context, paymentID uuid.UUID, paidAt time.Time) ([]domain.Reservation, error)
	SetReservationQR(ctx context.Context, id uuid.UUID, qrURL string) error
	TrendingInputs(ctx context.Context, eventID uuid.UUID) (viewCount int64, sold, total int, salesStart time.Time, err error)
	UpdateTrending(ctx context.Context, eventID uuid.UUID, revenue float64, trendingScore, interestScore float64, now time.Time) error
	InsertOutbox(ctx context.Context, rec crdb.OutboxRecord) error
}

type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	DeleteExpiredUnpaid(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	CategoryAvailability(ctx context.Context, categoryID uuid.UUID) (int, error)
	GetBooking(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, []domain.Reservation, error)
	CheckInByToken(ctx context.Context, token string, now time.Time) (*domain.Reservation, error)
	EventTicketHolders(ctx context.Context, eventID uuid.UUID) ([]uuid.UUID, error)
}

// Provider is the payment gateway boundary. *vnpay.Client implements it.
type Provider interface {
	BuildPayURL(p vnpay.PayParams) (string, error)
	VerifyCallback(q url.Values) error
}

// AvailabilityCache holds short-lived availability snapshots for read
// traffic, invalidated whenever a confirm or sweep moves the real numbers.
// Best-effort; a nil cache is valid and every read falls through to the
// store.
type AvailabilityCache interface {
	GetAvailability(ctx context.Context, categoryID uuid.UUID) (int, bool, error)
	SetAvailability(ctx context.Context, categoryID uuid.UUID, available int, ttl time.Duration) error
	Invalidate(ctx context.Context, categoryID uuid.UUID) error
}

const availabilityCacheTTL = 10 * time.Second

type Service struct {
	store    Store
	ledger   *inventory.Ledger
	provider Provider
	cache    AvailabilityCache
	logger   observability.Logger

	reservationTTL time.Duration
	sweepBatch     int
	now            func() time.Time
}

func NewService(store Store, ledger *inventory.Ledger, provider Provider, cache AvailabilityCache, logger observability.Logger, reservationTTL time.Duration, sweepBatch int) *Service {
	if reservationTTL <= 0 {
		reservationTTL = 15 * time.Minute
	}
	if sweepBatch <= 0 {
		sweepBatch = 500
	}
	return &Service{
		store:          store,
		ledger:         ledger,
		provider:       provider,
		cache:          cache,
		logger:         logger,
		reservationTTL: reservationTTL,
		sweepBatch:     sweepBatch,
		now:            time.Now,
	}
}

type ReserveItem struct {
	CategoryID uuid.UUID
	Quantity   int
}

type ReserveInput struct {
	UserID        uuid.UUID
	Items         []ReserveItem
	Method        domain.PaymentMethod
	DiscountCode  string
	CustomerGroup string
	ClientIP      string
	OrderInfo     string
}

type ReserveResult struct {
	Payment      domain.Payment
	Reservations []domain.Reservation
	PayURL       string
	ExpiresAt    time.Time
}

// Reserve validates and reserves in one atomic step: the category rows are
// locked, availability is recomputed including live unpaid reservations,
// and the pending payment plus its reservation rows are inserted, all
// inside one serializable transaction. Before validating it runs a
// best-effort sweep so stale holds from abandoned checkouts do not eat
// capacity.
func (s *Service) Reserve(ctx context.Context, in ReserveInput) (*ReserveResult, error) {
	if _, err := s.Sweep(ctx, s.reservationTTL); err != nil {
		s.logger.WithError(err).Warn("opportunistic sweep failed, booking proceeds")
	}

	items, err := normalizeItems(in.Items)
	if err != nil {
		return nil, err
	}
	if in.Method != domain.PaymentMethodVNPay && in.Method != domain.PaymentMethodMomo {
		return nil, errors.Wrapf(domain.ErrInvalidInput, "unknown payment method %q", in.Method)
	}

	now := s.now()
	var payment domain.Payment
	var reservations []domain.Reservation

	err = s.store.WithTx(ctx, func(tx Tx) error {
		ids := make([]uuid.UUID, len(items))
		for i, it := range items {
			ids[i] = it.CategoryID
		}
		cats, err := tx.LockCategories(ctx, ids)
		if err != nil {
			return errors.Wrap(err, "lock categories")
		}

		bookingItems := make([]domain.BookingItem, 0, len(items))
		for _, it := range items {
			cat, ok := cats[it.CategoryID]
			if !ok {
				return errors.Wrapf(domain.ErrNotFound, "ticket category %s", it.CategoryID)
			}
			if _, err := s.ledger.CheckAvailability(ctx, tx, cat, it.Quantity); err != nil {
				return err
			}
			bookingItems = append(bookingItems, domain.BookingItem{Category: cat, Quantity: it.Quantity})
		}

		var discount *domain.DiscountCode
		if in.DiscountCode != "" {
			d, err := tx.GetDiscountForUpdate(ctx, in.DiscountCode)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return errors.Wrapf(domain.ErrDiscountNotUsable, "code %q", in.DiscountCode)
				}
				return err
			}
			if !d.Usable(now, in.CustomerGroup) {
				return errors.Wrapf(domain.ErrDiscountNotUsable, "code %q", in.DiscountCode)
			}
			if err := tx.MarkDiscountUsed(ctx, d.ID); err != nil {
				return err
			}
			discount = d
		}

		payment, reservations = domain.NewBooking(in.UserID, bookingItems, in.Method, discount, now)

		if err := tx.InsertPayment(ctx, payment); err != nil {
			return errors.Wrap(err, "insert payment")
		}
		if err := tx.InsertReservations(ctx, reservations); err != nil {
			return errors.Wrap(err, "insert reservations")
		}
		return nil
	})
	if err != nil {
		var short *domain.InsufficientInventoryError
		if errors.As(err, &short) {
			observability.InventoryRejections.Inc()
			observability.BookingsTotal.WithLabelValues("rejected").Inc()
		} else {
			observability.BookingsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	observability.BookingsTotal.WithLabelValues("reserved").Inc()

	result := &ReserveResult{
		Payment:      payment,
		Reservations: reservations,
		ExpiresAt:    now.Add(s.reservationTTL),
	}
	if in.Method == domain.PaymentMethodVNPay {
		orderInfo := in.OrderInfo
		if orderInfo == "" {
			orderInfo = "EventHub booking " + payment.TransactionRef
		}
		payURL, err := s.provider.BuildPayURL(vnpay.PayParams{
			TxnRef:    payment.TransactionRef,
			Amount:    payment.Amount,
			OrderInfo: orderInfo,
			ClientIP:  in.ClientIP,
		})
		if err != nil {
			return nil, errors.Wrap(err, "build pay url")
		}
		result.PayURL = payURL
	}
	return result, nil
}

func normalizeItems(items []ReserveItem) ([]ReserveItem, error) {
	if len(items) == 0 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "empty ticket list")
	}
	merged := map[uuid.UUID]int{}
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, errors.Wrapf(domain.ErrInvalidInput, "non-positive quantity for category %s", it.CategoryID)
		}
		merged[it.CategoryID] += it.Quantity
	}
	out := make([]ReserveItem, 0, len(merged))
	for id, qty := range merged {
		out = append(out, ReserveItem{CategoryID: id, Quantity: qty})
	}
	// Stable lock order across concurrent bookings.
	sort.Slice(out, func(i, j int) bool {
		return out[i].CategoryID.String() < out[j].CategoryID.String()
	})
	return out, nil
}

type ConfirmResult struct {
	Confirmed bool
	Replay    bool
	Reason    string
	PaymentID uuid.UUID
}

var errReplay = errors.New("callback replay")

// Confirm applies an inbound provider callback. A mis-signed callback is
// rejected without any state change. A success code flips the payment,
// marks every child reservation paid, issues credentials, and increments
// sold counts per category, all in one transaction; a replayed callback
// finds status already set and changes nothing.
func (s *Service) Confirm(ctx context.Context, q url.Values) (*ConfirmResult, error) {
	if err := s.provider.VerifyCallback(q); err != nil {
		observability.CallbacksTotal.WithLabelValues("bad_signature").Inc()
		return nil, err
	}

	txnRef := q.Get("vnp_TxnRef")
	code := q.Get("vnp_ResponseCode")
	if txnRef == "" {
		return nil, errors.Wrap(domain.ErrInvalidInput, "missing transaction reference")
	}

	if code != vnpay.ResponseCodeSuccess {
		return s.confirmFailure(ctx, txnRef, code)
	}

	now := s.now()
	result := &ConfirmResult{Confirmed: true}
	var touchedCategories []uuid.UUID

	err := s.store.WithTx(ctx, func(tx Tx) error {
		p, err := tx.GetPaymentForUpdate(ctx, txnRef)
		if err != nil {
			return err
		}
		result.PaymentID = p.ID
		if p.Status {
			return errReplay
		}
		if err := tx.MarkPaymentPaid(ctx, p.ID, now); err != nil {
			return err
		}
		paid, err := tx.MarkReservationsPaid(ctx, p.ID, now)
		if err != nil {
			return err
		}

		perCategory := map[uuid.UUID]int{}
		perEvent := map[uuid.UUID]int{}
		for _, res := range paid {
			if err := tx.SetReservationQR(ctx, res.ID, qrRenderURL+res.Token); err != nil {
				return err
			}
			perCategory[res.CategoryID]++
			perEvent[res.EventID]++
		}

		// Batched per category, not per unit, to keep lock time short.
		for catID, qty := range perCategory {
			if err := s.ledger.ConfirmSale(ctx, tx, catID, qty); err != nil {
				return err
			}
			touchedCategories = append(touchedCategories, catID)
			if err := s.insertInventoryNote(ctx, tx, catID, qty); err != nil {
				return err
			}
		}

		for eventID, n := range perEvent {
			revenue := p.Amount * float64(n) / float64(len(paid))
			if err := s.updateTrending(ctx, tx, eventID, revenue, now); err != nil {
				s.logger.WithError(err).WithField("event_id", eventID).Warn("trending update skipped")
			}
		}

		return s.insertUserNote(ctx, tx, p.UserID, p.ID, domain.Notification{
			Title:    "Payment succeeded",
			Body:     fmt.Sprintf("Your payment %s was confirmed. %d tickets issued.", p.TransactionRef, len(paid)),
			Category: "payment",
		})
	})
	if errors.Is(err, errReplay) {
		observability.CallbacksTotal.WithLabelValues("replay").Inc()
		return &ConfirmResult{Confirmed: true, Replay: true, PaymentID: result.PaymentID}, nil
	}
	if err != nil {
		observability.CallbacksTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	observability.CallbacksTotal.WithLabelValues("confirmed").Inc()

	if s.cache != nil {
		for _, catID := range touchedCategories {
			if err := s.cache.Invalidate(ctx, catID); err != nil {
				s.logger.WithError(err).Debug("availability cache invalidation failed")
			}
		}
	}
	return result, nil
}

// confirmFailure records the provider-reported failure and notifies the
// user. Reservations stay unpaid and are reclaimed by the reaper.
func (s *Service) confirmFailure(ctx context.Context, txnRef, code string) (*ConfirmResult, error) {
	reason := vnpay.ResponseMessage(code)
	result := &ConfirmResult{Confirmed: false, Reason: reason}

	err := s.store.WithTx(ctx, func(tx Tx) error {
		p, err := tx.GetPaymentForUpdate(ctx, txnRef)
		if err != nil {
			return err
		}
		result.PaymentID = p.ID
		if p.Status {
			return errReplay
		}
		return s.insertUserNote(ctx, tx, p.UserID, p.ID, domain.Notification{
			Title:    "Payment failed",
			Body:     reason,
			Category: "payment",
		})
	})
	if errors.Is(err, errReplay) {
		observability.CallbacksTotal.WithLabelValues("replay").Inc()
		return &ConfirmResult{Confirmed: true, Replay: true, PaymentID: result.PaymentID}, nil
	}
	if err != nil {
		observability.CallbacksTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	observability.CallbacksTotal.WithLabelValues("failed").Inc()
	return result, nil
}

func (s *Service) updateTrending(ctx context.Context, tx Tx, eventID uuid.UUID, revenue float64, now time.Time) error {
	views, sold, total, salesStart, err := tx.TrendingInputs(ctx, eventID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	trendScore, interestScore := trending.Scores(trending.Input{
		SoldTickets:  sold,
		TotalTickets: total,
		ViewCount:    views,
		SalesStart:   salesStart,
		Now:          now,
	})
	return tx.UpdateTrending(ctx, eventID, revenue, trendScore, interestScore, now)
}

func (s *Service) insertUserNote(ctx context.Context, tx Tx, userID, aggregateID uuid.UUID, n domain.Notification) error {
	return tx.InsertOutbox(ctx, crdb.OutboxRecord{
		ID:            uuid.New(),
		AggregateType: "payment",
		AggregateID:   aggregateID,
		EventType:     notify.RoutingKeyUser,
		Payload:       notify.EncodeUser(userID, n),
		DedupeKey:     uuid.New().String(),
	})
}

func (s *Service) insertInventoryNote(ctx context.Context, tx Tx, categoryID uuid.UUID, qty int) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"category_id": categoryID,
		"sold_delta":  qty,
	})
	return tx.InsertOutbox(ctx, crdb.OutboxRecord{
		ID:            uuid.New(),
		AggregateType: "ticket_category",
		AggregateID:   categoryID,
		EventType:     "inventory.updated",
		Payload:       payload,
		DedupeKey:     uuid.New().String(),
	})
}

// Sweep deletes reservations that were never paid within the timeout,
// in bounded chunks so a large backlog cannot hold locks for long. Each
// reaped reservation frees a unit, so the touched categories' cached
// availability is invalidated afterwards.
func (s *Service) Sweep(ctx context.Context, timeout time.Duration) (int64, error) {
	cutoff := s.now().Add(-timeout)
	var reaped int64
	touched := map[uuid.UUID]struct{}{}
	for {
		categories, err := s.store.DeleteExpiredUnpaid(ctx, cutoff, s.sweepBatch)
		reaped += int64(len(categories))
		for _, catID := range categories {
			touched[catID] = struct{}{}
		}
		if err != nil {
			return reaped, errors.Wrap(err, "sweep expired reservations")
		}
		if len(categories) < s.sweepBatch {
			break
		}
	}
	if reaped > 0 {
		observability.ReapedReservations.Add(float64(reaped))
	}
	if s.cache != nil {
		for catID := range touched {
			if err := s.cache.Invalidate(ctx, catID); err != nil {
				s.logger.WithError(err).Debug("availability cache invalidation failed")
			}
		}
	}
	return reaped, nil
}

// Availability is the read path for "how many units are left": served from
// the cache when warm, recomputed from the store and cached on a miss. The
// snapshot can lag a concurrent booking by up to the cache TTL; Reserve
// never trusts it.
func (s *Service) Availability(ctx context.Context, categoryID uuid.UUID) (int, error) {
	if s.cache != nil {
		if n, ok, err := s.cache.GetAvailability(ctx, categoryID); err == nil && ok {
			return n, nil
		}
	}
	available, err := s.store.CategoryAvailability(ctx, categoryID)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		if err := s.cache.SetAvailability(ctx, categoryID, available, availabilityCacheTTL); err != nil {
			s.logger.WithError(err).Debug("availability cache write failed")
		}
	}
	return available, nil
}

// ReservationTTL is the configured unpaid-reservation timeout.
func (s *Service) ReservationTTL() time.Duration {
	return s.reservationTTL
}

func (s *Service) GetBooking(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, []domain.Reservation, error) {
	return s.store.GetBooking(ctx, paymentID)
}

// CheckIn redeems a paid ticket by its token. Already-checked-in tickets
// are reported as such, not re-stamped.
func (s *Service) CheckIn(ctx context.Context, token string) (*domain.Reservation, error) {
	return s.store.CheckInByToken(ctx, token, s.now())
}

// NotifyEventHolders fans one notification out to every user holding a
// paid ticket for the event, through the outbox.
func (s *Service) NotifyEventHolders(ctx context.Context, eventID uuid.UUID, n domain.Notification) (int, error) {
	holders, err := s.store.EventTicketHolders(ctx, eventID)
	if err != nil {
		return 0, err
	}
	err = s.store.WithTx(ctx, func(tx Tx) error {
		for _, userID := range holders {
			if err := s.insertUserNote(ctx, tx, userID, eventID, n); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(holders), nil
}

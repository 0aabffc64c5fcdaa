package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventhub/booking/internal/domain"
	"github.com/eventhub/booking/internal/observability"
)

const (
	SerializationFailureCode = "40001"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Tx wraps one SERIALIZABLE transaction. All reserve/confirm work goes
// through it so the availability check and the rows it protects commit
// together or not at all.
type Tx struct {
	tx pgx.Tx
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	start := time.Now()
	defer func() {
		observability.DBTxDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	err = fn(&Tx{tx: tx})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}

	return tx.Commit(ctx)
}

// LockCategories reads the category rows FOR UPDATE. Callers pass ids in a
// stable order so two overlapping bookings lock in the same sequence.
func (t *Tx) LockCategories(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.TicketCategory, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, event_id, name, price, total_quantity, sold_quantity, is_active
		FROM ticket_types WHERE id = ANY($1)
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cats := make(map[uuid.UUID]domain.TicketCategory, len(ids))
	for rows.Next() {
		var c domain.TicketCategory
		if err := rows.Scan(&c.ID, &c.EventID, &c.Name, &c.Price, &c.TotalQuantity, &c.SoldQuantity, &c.IsActive); err != nil {
			return nil, err
		}
		cats[c.ID] = c
	}
	return cats, rows.Err()
}

func (t *Tx) LiveUnpaidCount(ctx context.Context, categoryID uuid.UUID) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT count(*) FROM tickets WHERE ticket_type_id = $1 AND is_paid = false
	`, categoryID).Scan(&n)
	return n, err
}

func (t *Tx) IncrementSold(ctx context.Context, categoryID uuid.UUID, qty int) error {
	result, err := t.tx.Exec(ctx, `
		UPDATE ticket_types SET sold_quantity = sold_quantity + $2
		WHERE id = $1 AND sold_quantity + $2 <= total_quantity
	`, categoryID, qty)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrConflict, "sold count for %s would exceed capacity", categoryID)
	}
	return nil
}

func (t *Tx) InsertPayment(ctx context.Context, p domain.Payment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payments (id, user_id, amount, payment_method, status, transaction_id, discount_code_id, created_at)
		VALUES ($1, $2, $3, $4, false, $5, $6, $7)
	`, p.ID, p.UserID, p.Amount, p.Method, p.TransactionRef, p.DiscountCodeID, p.CreatedAt)
	return err
}

func (t *Tx) InsertReservations(ctx context.Context, rs []domain.Reservation) error {
	batch := &pgx.Batch{}
	for _, res := range rs {
		batch.Queue(`
			INSERT INTO tickets (id, user_id, event_id, ticket_type_id, payment_id, uuid, is_paid, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, false, $7)
		`, res.ID, res.UserID, res.EventID, res.CategoryID, res.PaymentID, res.Token, res.CreatedAt)
	}
	results := t.tx.SendBatch(ctx, batch)
	defer results.Close()
	for range rs {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) GetPaymentForUpdate(ctx context.Context, txnRef string) (*domain.Payment, error) {
	var p domain.Payment
	err := t.tx.QueryRow(ctx, `
		SELECT id, user_id, amount, payment_method, status, paid_at, transaction_id, discount_code_id, created_at
		FROM payments WHERE transaction_id = $1
		FOR UPDATE
	`, txnRef).Scan(&p.ID, &p.UserID, &p.Amount, &p.Method, &p.Status, &p.PaidAt, &p.TransactionRef, &p.DiscountCodeID, &p.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *Tx) MarkPaymentPaid(ctx context.Context, paymentID uuid.UUID, paidAt time.Time) error {
	result, err := t.tx.Exec(ctx, `
		UPDATE payments SET status = true, paid_at = $2 WHERE id = $1 AND status = false
	`, paymentID, paidAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAlreadyConfirmed
	}
	return nil
}

func (t *Tx) MarkReservationsPaid(ctx context.Context, paymentID uuid.UUID, paidAt time.Time) ([]domain.Reservation, error) {
	rows, err := t.tx.Query(ctx, `
		UPDATE tickets SET is_paid = true, purchase_date = $2
		WHERE payment_id = $1 AND is_paid = false
		RETURNING id, user_id, event_id, ticket_type_id, uuid, created_at
	`, paymentID, paidAt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paid []domain.Reservation
	for rows.Next() {
		res := domain.Reservation{PaymentID: paymentID, IsPaid: true}
		purchase := paidAt
		res.PurchaseDate = &purchase
		if err := rows.Scan(&res.ID, &res.UserID, &res.EventID, &res.CategoryID, &res.Token, &res.CreatedAt); err != nil {
			return nil, err
		}
		paid = append(paid, res)
	}
	return paid, rows.Err()
}

func (t *Tx) SetReservationQR(ctx context.Context, id uuid.UUID, qrURL string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE tickets SET qr_code_url = $2 WHERE id = $1
	`, id, qrURL)
	return err
}

func (t *Tx) GetDiscountForUpdate(ctx context.Context, code string) (*domain.DiscountCode, error) {
	var d domain.DiscountCode
	err := t.tx.QueryRow(ctx, `
		SELECT id, code, percent_off, valid_from, valid_until, max_uses, used_count, customer_group
		FROM discount_codes WHERE code = $1
		FOR UPDATE
	`, code).Scan(&d.ID, &d.Code, &d.PercentOff, &d.ValidFrom, &d.ValidUntil, &d.MaxUses, &d.UsedCount, &d.CustomerGroup)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (t *Tx) MarkDiscountUsed(ctx context.Context, id uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE discount_codes SET used_count = used_count + 1 WHERE id = $1
	`, id)
	return err
}

// UpdateTrending folds confirmed revenue into the event's trending log and
// recomputes its scores. Events without a trending log row are skipped.
func (t *Tx) UpdateTrending(ctx context.Context, eventID uuid.UUID, revenue float64, trendingScore, interestScore float64, now time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE event_trending_logs
		SET total_revenue = total_revenue + $2, trending_score = $3, interest_score = $4, last_updated = $5
		WHERE event_id = $1
	`, eventID, revenue, trendingScore, interestScore, now)
	return err
}

// TrendingInputs reads the numbers the score formula needs. Returns
// ErrNotFound when the event has no trending log.
func (t *Tx) TrendingInputs(ctx context.Context, eventID uuid.UUID) (viewCount int64, sold, total int, salesStart time.Time, err error) {
	err = t.tx.QueryRow(ctx, `
		SELECT l.view_count, coalesce(sum(tt.sold_quantity), 0), coalesce(sum(tt.total_quantity), 0), e.created_at
		FROM events e
		JOIN event_trending_logs l ON l.event_id = e.id
		LEFT JOIN ticket_types tt ON tt.event_id = e.id
		WHERE e.id = $1
		GROUP BY l.view_count, e.created_at
	`, eventID).Scan(&viewCount, &sold, &total, &salesStart)
	if err == pgx.ErrNoRows {
		err = domain.ErrNotFound
	}
	return
}

// DeleteExpiredUnpaid removes one bounded chunk of reservations that were
// never paid within the timeout window. Deleting them is the release:
// unpaid rows never touched sold_quantity. Returns the category id of each
// deleted row so the caller can invalidate cached availability.
func (r *Repository) DeleteExpiredUnpaid(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		DELETE FROM tickets WHERE id IN (
			SELECT id FROM tickets
			WHERE is_paid = false AND purchase_date IS NULL AND created_at < $1
			LIMIT $2
		)
		RETURNING ticket_type_id
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		categories = append(categories, id)
	}
	return categories, rows.Err()
}

// CategoryAvailability computes available = total - sold - live unpaid for
// one category outside any booking transaction. The number is a snapshot
// for read traffic; the binding check happens under row locks in Reserve.
func (r *Repository) CategoryAvailability(ctx context.Context, categoryID uuid.UUID) (int, error) {
	var available int
	err := r.pool.QueryRow(ctx, `
		SELECT total_quantity - sold_quantity -
			(SELECT count(*) FROM tickets WHERE ticket_type_id = $1 AND is_paid = false)
		FROM ticket_types WHERE id = $1 AND is_active = true
	`, categoryID).Scan(&available)
	if err == pgx.ErrNoRows {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return available, nil
}

func (r *Repository) GetBooking(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, []domain.Reservation, error) {
	var p domain.Payment
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, amount, payment_method, status, paid_at, transaction_id, discount_code_id, created_at
		FROM payments WHERE id = $1
	`, paymentID).Scan(&p.ID, &p.UserID, &p.Amount, &p.Method, &p.Status, &p.PaidAt, &p.TransactionRef, &p.DiscountCodeID, &p.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, event_id, ticket_type_id, uuid, coalesce(qr_code_url, ''), is_paid, purchase_date, is_checked_in, check_in_date, created_at
		FROM tickets WHERE payment_id = $1
	`, paymentID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var tickets []domain.Reservation
	for rows.Next() {
		res := domain.Reservation{PaymentID: paymentID}
		if err := rows.Scan(&res.ID, &res.UserID, &res.EventID, &res.CategoryID, &res.Token, &res.QRCodeURL,
			&res.IsPaid, &res.PurchaseDate, &res.IsCheckedIn, &res.CheckInDate, &res.CreatedAt); err != nil {
			return nil, nil, err
		}
		tickets = append(tickets, res)
	}
	return &p, tickets, rows.Err()
}

// CheckInByToken stamps a paid ticket as checked in, exactly once.
func (r *Repository) CheckInByToken(ctx context.Context, token string, now time.Time) (*domain.Reservation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var res domain.Reservation
	err = tx.QueryRow(ctx, `
		SELECT id, user_id, event_id, ticket_type_id, payment_id, uuid, is_paid, is_checked_in, created_at
		FROM tickets WHERE uuid = $1
		FOR UPDATE
	`, token).Scan(&res.ID, &res.UserID, &res.EventID, &res.CategoryID, &res.PaymentID, &res.Token,
		&res.IsPaid, &res.IsCheckedIn, &res.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !res.IsPaid {
		return nil, domain.ErrNotPaid
	}
	if res.IsCheckedIn {
		return &res, domain.ErrAlreadyCheckedIn
	}

	_, err = tx.Exec(ctx, `
		UPDATE tickets SET is_checked_in = true, check_in_date = $2 WHERE id = $1
	`, res.ID, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	res.IsCheckedIn = true
	res.CheckInDate = &now
	return &res, nil
}

func (r *Repository) EventTicketHolders(ctx context.Context, eventID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT user_id FROM tickets WHERE event_id = $1 AND is_paid = true
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holders []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		holders = append(holders, id)
	}
	return holders, rows.Err()
}

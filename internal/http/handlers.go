package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mongoadapter "github.com/eventhub/booking/internal/adapters/mongo"
	"github.com/eventhub/booking/internal/booking"
	"github.com/eventhub/booking/internal/config"
	"github.com/eventhub/booking/internal/domain"
	"github.com/eventhub/booking/internal/idempotency"
	"github.com/eventhub/booking/internal/observability"
	"github.com/eventhub/booking/internal/vnpay"
)

type Handlers struct {
	cfg     *config.Config
	svc     *booking.Service
	idemp   *idempotency.Idempotency
	catalog *mongoadapter.CatalogRepository
	audit   *mongoadapter.AuditLogger
	logger  observability.Logger
}

func NewHandlers(cfg *config.Config, svc *booking.Service, idemp *idempotency.Idempotency, catalog *mongoadapter.CatalogRepository, audit *mongoadapter.AuditLogger, logger observability.Logger) *Handlers {
	return &Handlers{
		cfg:     cfg,
		svc:     svc,
		idemp:   idemp,
		catalog: catalog,
		audit:   audit,
		logger:  logger,
	}
}

type bookingItemRequest struct {
	CategoryID uuid.UUID `json:"category_id"`
	Quantity   int       `json:"quantity"`
}

type bookingRequest struct {
	UserID        uuid.UUID            `json:"user_id"`
	EventID       *uuid.UUID           `json:"event_id,omitempty"`
	Items         []bookingItemRequest `json:"items"`
	PaymentMethod string               `json:"payment_method"`
	DiscountCode  string               `json:"discount_code,omitempty"`
	CustomerGroup string               `json:"customer_group,omitempty"`
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return
	}

	var req bookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.EventID != nil {
		if _, err := h.catalog.GetEvent(r.Context(), *req.EventID); err != nil {
			http.Error(w, "event not found", http.StatusNotFound)
			return
		}
	}

	items := make([]booking.ReserveItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = booking.ReserveItem{CategoryID: it.CategoryID, Quantity: it.Quantity}
	}

	result, err := h.svc.Reserve(r.Context(), booking.ReserveInput{
		UserID:        req.UserID,
		Items:         items,
		Method:        domain.PaymentMethod(req.PaymentMethod),
		DiscountCode:  req.DiscountCode,
		CustomerGroup: req.CustomerGroup,
		ClientIP:      r.RemoteAddr,
	})
	if err != nil {
		h.writeReserveError(w, err)
		return
	}

	resp := map[string]interface{}{
		"payment_id":      result.Payment.ID,
		"transaction_ref": result.Payment.TransactionRef,
		"amount":          result.Payment.Amount,
		"pay_url":         result.PayURL,
		"expires_at":      result.ExpiresAt.Format(time.RFC3339),
		"tickets":         len(result.Reservations),
	}
	data, _ := json.Marshal(resp)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(data)

	h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data})
}

func (h *Handlers) writeReserveError(w http.ResponseWriter, err error) {
	var short *domain.InsufficientInventoryError
	switch {
	case errors.As(err, &short):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":     "insufficient inventory",
			"category":  short.CategoryName,
			"requested": short.Requested,
			"available": short.Available,
		})
	case errors.Is(err, domain.ErrSerializationFailure):
		http.Error(w, "conflict, try again", http.StatusConflict)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrDiscountNotUsable):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// VNPayCallback is the provider's asynchronous confirmation. It may arrive
// more than once; replays are acknowledged without re-applying anything.
func (h *Handlers) VNPayCallback(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Confirm(r.Context(), r.URL.Query())
	if err != nil {
		if errors.Is(err, vnpay.ErrInvalidSignature) || errors.Is(err, vnpay.ErrMissingSignature) {
			h.audit.LogRejectedCallback(r.Context(), r.RemoteAddr, r.URL.Query())
			http.Error(w, "invalid signature", http.StatusBadRequest)
			return
		}
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]string{"RspCode": "01", "Message": "Order not found"})
			return
		}
		if errors.Is(err, domain.ErrInvalidInput) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.audit.LogConfirmation(r.Context(), result.PaymentID, result.Replay)
	writeJSON(w, http.StatusOK, map[string]string{"RspCode": "00", "Message": "Confirm Success"})
}

// GetAvailability serves the cached availability snapshot for browse
// pages. The number is advisory; the booking path recomputes under locks.
func (h *Handlers) GetAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	available, err := h.svc.Availability(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "category not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"category_id": id,
		"available":   available,
	})
}

func (h *Handlers) Sweep(w http.ResponseWriter, r *http.Request) {
	timeout := h.svc.ReservationTTL()
	if override := r.URL.Query().Get("timeout"); override != "" {
		d, err := time.ParseDuration(override)
		if err != nil || d <= 0 {
			http.Error(w, "invalid timeout", http.StatusBadRequest)
			return
		}
		timeout = d
	}
	reaped, err := h.svc.Sweep(r.Context(), timeout)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reaped": reaped})
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	payment, tickets, err := h.svc.GetBooking(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "booking not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	items := make([]map[string]interface{}, len(tickets))
	for i, t := range tickets {
		items[i] = map[string]interface{}{
			"ticket_id":   t.ID,
			"category_id": t.CategoryID,
			"token":       t.Token,
			"qr_code_url": t.QRCodeURL,
			"paid":        t.IsPaid,
			"checked_in":  t.IsCheckedIn,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"payment_id":      payment.ID,
		"transaction_ref": payment.TransactionRef,
		"amount":          payment.Amount,
		"paid":            payment.Status,
		"paid_at":         payment.PaidAt,
		"tickets":         items,
	})
}

func (h *Handlers) CheckIn(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	res, err := h.svc.CheckIn(r.Context(), token)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "ticket not found", http.StatusNotFound)
		return
	case errors.Is(err, domain.ErrNotPaid):
		http.Error(w, "ticket not paid", http.StatusConflict)
		return
	case errors.Is(err, domain.ErrAlreadyCheckedIn):
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ticket_id":          res.ID,
			"already_checked_in": true,
		})
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.audit.LogCheckIn(r.Context(), res.ID, res.EventID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ticket_id":     res.ID,
		"checked_in_at": res.CheckInDate,
	})
}

func (h *Handlers) NotifyEventHolders(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req struct {
		Title    string `json:"title"`
		Body     string `json:"body"`
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		http.Error(w, "title required", http.StatusUnprocessableEntity)
		return
	}

	notified, err := h.svc.NotifyEventHolders(r.Context(), eventID, domain.Notification{
		Title:    req.Title,
		Body:     req.Body,
		Category: req.Category,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notified": notified})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

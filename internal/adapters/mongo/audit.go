package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/eventhub/booking/internal/observability"
)

// AuditLogger records security- and money-relevant events: confirmed
// payments, rejected callbacks, check-ins.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        uuid.UUID `bson:"_id"`
	Action    string    `bson:"action"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action string, data map[string]interface{}) error {
	log := AuditLog{
		ID:        uuid.New(),
		Action:    action,
		Timestamp: time.Now(),
		Data:      bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.WithError(err).Error("failed to insert audit log")
		return err
	}
	return nil
}

// LogRejectedCallback flags a callback whose signature did not verify.
// Possible tampering; the request mutated nothing.
func (a *AuditLogger) LogRejectedCallback(ctx context.Context, remoteAddr string, params map[string][]string) error {
	return a.LogEvent(ctx, "callback.rejected", map[string]interface{}{
		"remote_addr": remoteAddr,
		"params":      params,
	})
}

func (a *AuditLogger) LogConfirmation(ctx context.Context, paymentID uuid.UUID, replay bool) error {
	return a.LogEvent(ctx, "payment.confirmed", map[string]interface{}{
		"payment_id": paymentID,
		"replay":     replay,
	})
}

func (a *AuditLogger) LogCheckIn(ctx context.Context, ticketID, eventID uuid.UUID) error {
	return a.LogEvent(ctx, "ticket.checkin", map[string]interface{}{
		"ticket_id": ticketID,
		"event_id":  eventID,
	})
}

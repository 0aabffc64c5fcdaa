// Package notify carries user notifications from the outbox to their
// delivery channel. The booking core only writes outbox records; this
// package owns the wire payload and the consumer side.
package notify

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/eventhub/booking/internal/adapters/mongo"
	"github.com/eventhub/booking/internal/adapters/rabbit"
	"github.com/eventhub/booking/internal/domain"
	"github.com/eventhub/booking/internal/observability"
)

// RoutingKeyUser is the topic key for single-user notifications.
const RoutingKeyUser = "notification.user"

type UserMessage struct {
	UserID   uuid.UUID `json:"user_id"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	Category string    `json:"category"`
}

func EncodeUser(userID uuid.UUID, n domain.Notification) []byte {
	payload, _ := json.Marshal(UserMessage{
		UserID:   userID,
		Title:    n.Title,
		Body:     n.Body,
		Category: n.Category,
	})
	return payload
}

func DecodeUser(data []byte) (UserMessage, error) {
	var m UserMessage
	err := json.Unmarshal(data, &m)
	return m, err
}

// Deliverer consumes notification messages and hands them to whatever
// channel delivers them to the user. The delivery mechanism itself
// (email, in-app, push) lives outside this core; here each delivery is
// recorded and acknowledged.
type Deliverer struct {
	consumer *rabbit.Consumer
	audit    *mongo.AuditLogger
	logger   observability.Logger
}

func NewDeliverer(consumer *rabbit.Consumer, audit *mongo.AuditLogger, logger observability.Logger) *Deliverer {
	return &Deliverer{consumer: consumer, audit: audit, logger: logger}
}

func (d *Deliverer) Run(ctx context.Context) error {
	deliveries, err := d.consumer.Consume(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				return nil
			}
			m, err := DecodeUser(msg.Body)
			if err != nil {
				d.logger.WithError(err).Warn("undecodable notification dropped")
				msg.Nack(false, false)
				continue
			}
			d.logger.WithField("user_id", m.UserID).WithField("category", m.Category).Info("notification delivered: " + m.Title)
			if d.audit != nil {
				_ = d.audit.LogEvent(ctx, "notification.delivered", map[string]interface{}{
					"user_id":  m.UserID,
					"category": m.Category,
					"title":    m.Title,
				})
			}
			msg.Ack(false)
		}
	}
}

package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/eventhub/booking/internal/observability"
)

// CatalogRepository holds the denormalized event read model: what the
// browse pages show, kept out of the transactional store.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("events"),
		logger: logger,
	}
}

type EventDoc struct {
	ID         uuid.UUID     `bson:"_id"`
	Title      string        `bson:"title"`
	Category   string        `bson:"category"`
	Venue      string        `bson:"venue"`
	StartTime  time.Time     `bson:"start_time"`
	EndTime    time.Time     `bson:"end_time"`
	IsActive   bool          `bson:"is_active"`
	Categories []CategoryDoc `bson:"ticket_categories"`
	CreatedAt  time.Time     `bson:"created_at"`
	UpdatedAt  time.Time     `bson:"updated_at"`
}

type CategoryDoc struct {
	ID    uuid.UUID `bson:"id"`
	Name  string    `bson:"name"`
	Price float64   `bson:"price"`
}

func (c *CatalogRepository) GetEvent(ctx context.Context, id uuid.UUID) (*EventDoc, error) {
	var event EventDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&event)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (c *CatalogRepository) UpsertEvent(ctx context.Context, event EventDoc) error {
	event.UpdatedAt = time.Now()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = event.UpdatedAt
	}
	_, err := c.coll.UpdateOne(ctx, bson.M{"_id": event.ID},
		bson.M{"$set": event}, options.Update().SetUpsert(true))
	if err != nil {
		c.logger.WithError(err).Error("failed to upsert event doc")
	}
	return err
}

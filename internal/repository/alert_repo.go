package repository

import (
	"context"
	"time"

	"drivehub/internal/db"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoAlertRepository stores reconciliation alerts for the back office.
type MongoAlertRepository struct {
	coll *mongo.Collection
}

func NewMongoAlertRepository(database *mongo.Database) *MongoAlertRepository {
	return &MongoAlertRepository{coll: database.Collection("reconciliation_alerts")}
}

func (r *MongoAlertRepository) Save(ctx context.Context, alert db.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}
	_, err := r.coll.InsertOne(ctx, alert)
	return err
}

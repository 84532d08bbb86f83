package service

import (
	"context"
	"time"

	"drivehub/internal/db"

	"go.uber.org/zap"
)

type AlertStore interface {
	Save(ctx context.Context, alert db.Alert) error
}

// AlertService logs every alert and persists it when a store is configured.
type AlertService struct {
	store  AlertStore
	logger *zap.Logger
}

func NewAlertService(store AlertStore, logger *zap.Logger) *AlertService {
	return &AlertService{store: store, logger: logger}
}

func (s *AlertService) RaiseAlert(ctx context.Context, alert db.Alert) error {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}
	s.logger.Error("reconciliation alert",
		zap.String("kind", string(alert.Kind)),
		zap.String("reservation_id", alert.ReservationID),
		zap.String("payment_reference", alert.PaymentReference),
		zap.Int64("expected", alert.Expected),
		zap.Int64("received", alert.Received),
		zap.String("message", alert.Message))
	if s.store == nil {
		return nil
	}
	return s.store.Save(ctx, alert)
}

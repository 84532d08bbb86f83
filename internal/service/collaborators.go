package service

import (
	"context"
	"time"

	"drivehub/internal/db"
)

// ReservationStore persists reservations. Update is an optimistic write
// keyed on Reservation.Version.
type ReservationStore interface {
	Create(ctx context.Context, r *db.Reservation) error
	GetByID(ctx context.Context, id string) (*db.Reservation, error)
	GetByPaymentReference(ctx context.Context, ref string) (*db.Reservation, error)
	Update(ctx context.Context, r *db.Reservation) error
	ListByVehicle(ctx context.Context, vehicleID string) ([]db.Reservation, error)
}

// JobStore holds the queries behind scheduled sweeps.
type JobStore interface {
	ListStalePendingPayment(ctx context.Context, before time.Time) ([]string, error)
	ListUnreleased(ctx context.Context) ([]string, error)
}

type VehicleCatalog interface {
	GetVehicle(ctx context.Context, id string) (*db.Vehicle, error)
}

type AvailabilityLedger interface {
	TryReserve(ctx context.Context, vehicleID string, start, end time.Time) (string, error)
	Commit(ctx context.Context, windowID, reservationID string) error
	Release(ctx context.Context, windowID string) error
}

// PaymentInitiator starts a payment for r.Price.Total and returns the provider reference.
type PaymentInitiator interface {
	InitiatePayment(ctx context.Context, r *db.Reservation) (string, error)
}

// Notifier delivers lifecycle messages. Implementations handle their own failures.
type Notifier interface {
	Notify(ctx context.Context, event db.Event, r *db.Reservation)
}

type PermissionChecker interface {
	ActorCanTransition(ctx context.Context, actor db.Actor, r *db.Reservation, event db.Event) bool
}

type AlertSink interface {
	RaiseAlert(ctx context.Context, alert db.Alert) error
}

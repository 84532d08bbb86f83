package db

import (
	"time"
)

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusConfirmed      Status = "confirmed"
	StatusInProgress     Status = "in_progress"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
	StatusPaymentFailed  Status = "payment_failed"
)

var statuses = map[Status]struct{}{
	StatusPendingPayment: {},
	StatusConfirmed:      {},
	StatusInProgress:     {},
	StatusCompleted:      {},
	StatusCancelled:      {},
	StatusPaymentFailed:  {},
}

func (s Status) Valid() bool {
	_, ok := statuses[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// HoldsInventory reports whether a reservation in s occupies its date interval.
func (s Status) HoldsInventory() bool {
	return s == StatusPendingPayment || s == StatusConfirmed || s == StatusInProgress
}

// Event drives a reservation from one status to another.
type Event string

const (
	EventPaymentConfirmed Event = "payment_confirmed"
	EventPaymentFailed    Event = "payment_failed"
	EventRetry            Event = "retry"
	EventStart            Event = "start"
	EventComplete         Event = "complete"
	EventCancel           Event = "cancel"
)

func (e Event) Valid() bool {
	switch e {
	case EventPaymentConfirmed, EventPaymentFailed, EventRetry, EventStart, EventComplete, EventCancel:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodCard        PaymentMethod = "card"
	PaymentMethodMobileMoney PaymentMethod = "mobile_money"
)

// PriceBreakdown amounts are whole currency units.
type PriceBreakdown struct {
	BasePrice     int64 `json:"basePrice"`
	OptionsPrice  int64 `json:"optionsPrice"`
	ServiceFee    int64 `json:"serviceFee"`
	InsuranceFee  int64 `json:"insuranceFee"`
	Total         int64 `json:"total"`
	DepositAmount int64 `json:"depositAmount"`
}

type Reservation struct {
	ID                      string
	VehicleID               string
	RenterID                string
	OwnerID                 string
	StartDate               time.Time
	EndDate                 time.Time
	DayCount                int
	SelectedOptions         []string
	Price                   PriceBreakdown
	Currency                string
	Status                  Status
	PaymentMethod           PaymentMethod
	PaymentReference        string
	PaymentReferenceHistory []string
	RetryCount              int
	WindowID                string
	PickupLocation          string
	ReturnLocation          string
	RenterEmail             string
	RenterPhone             string
	CancellationReason      string
	CreatedAt               time.Time
	ConfirmedAt             *time.Time
	StartedAt               *time.Time
	CompletedAt             *time.Time
	CancelledAt             *time.Time
	PaymentFailedAt         *time.Time
	UpdatedAt               time.Time
	Version                 int
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r *Reservation) Clone() *Reservation {
	c := *r
	c.SelectedOptions = append([]string(nil), r.SelectedOptions...)
	c.PaymentReferenceHistory = append([]string(nil), r.PaymentReferenceHistory...)
	c.ConfirmedAt = cloneTime(r.ConfirmedAt)
	c.StartedAt = cloneTime(r.StartedAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	c.CancelledAt = cloneTime(r.CancelledAt)
	c.PaymentFailedAt = cloneTime(r.PaymentFailedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Window is an interval claimed on a vehicle. A window with a nil ExpiresAt
// is committed to ReservationID; otherwise it is a hold lease.
type Window struct {
	ID            string
	VehicleID     string
	StartDate     time.Time
	EndDate       time.Time
	ReservationID string
	ExpiresAt     *time.Time
	CreatedAt     time.Time
}

// Live reports whether w still blocks its interval at now.
func (w Window) Live(now time.Time) bool {
	return w.ExpiresAt == nil || w.ExpiresAt.After(now)
}

type Vehicle struct {
	ID            string
	OwnerID       string
	DailyRate     int64
	DepositAmount int64
}

type Role string

const (
	RoleRenter Role = "renter"
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

type Actor struct {
	ID   string
	Role Role
}

// SystemActor is used by the reconciliation worker and scheduled jobs.
var SystemActor = Actor{ID: "system", Role: RoleSystem}

type AlertKind string

const (
	AlertAmountMismatch     AlertKind = "amount_mismatch"
	AlertPaymentAfterCancel AlertKind = "payment_after_cancel"
	AlertLatePayment        AlertKind = "late_payment"
	AlertSupersededPayment  AlertKind = "superseded_payment"
)

// Alert asks a human to reconcile a reservation by hand.
type Alert struct {
	ID               string    `bson:"id" json:"id"`
	Kind             AlertKind `bson:"kind" json:"kind"`
	ReservationID    string    `bson:"reservationId" json:"reservationId"`
	PaymentReference string    `bson:"paymentReference,omitempty" json:"paymentReference,omitempty"`
	Expected         int64     `bson:"expected,omitempty" json:"expected,omitempty"`
	Received         int64     `bson:"received,omitempty" json:"received,omitempty"`
	Message          string    `bson:"message" json:"message"`
	CreatedAt        time.Time `bson:"createdAt" json:"createdAt"`
}

package service

import (
	"context"
	"fmt"

	"drivehub/internal/db"
	apperr "drivehub/internal/errors"

	"go.uber.org/zap"
)

// Outcome is a payment provider's verdict on a payment.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

func (o Outcome) Valid() bool {
	return o == OutcomeSucceeded || o == OutcomeFailed
}

// ErrUnknownPaymentReference is returned when no reservation carries the
// reference yet. The payment may have been initiated moments ago and its
// reservation not written, so callers decide how long to keep trying.
var ErrUnknownPaymentReference = apperr.New(apperr.KindNotFound, "no reservation for payment reference")

// Reconciler applies provider payment events to reservations. Providers
// deliver at least once, so every path is idempotent.
type Reconciler struct {
	repo    ReservationStore
	machine *StateMachine
	alerts  AlertSink
	logger  *zap.Logger
}

func NewReconciler(repo ReservationStore, machine *StateMachine, alerts AlertSink, logger *zap.Logger) *Reconciler {
	return &Reconciler{repo: repo, machine: machine, alerts: alerts, logger: logger}
}

// HandleProviderEvent returns nil for anything that should not be redelivered:
// superseded references, duplicates and already-settled reservations. An unknown
// reference returns ErrUnknownPaymentReference. A short or excess payment returns
// a PaymentMismatch error after raising an alert.
func (c *Reconciler) HandleProviderEvent(ctx context.Context, paymentReference string, outcome Outcome, amount int64) error {
	log := c.logger.With(zap.String("payment_reference", paymentReference), zap.String("outcome", string(outcome)))
	if !outcome.Valid() {
		return apperr.Newf(apperr.KindInvalidInput, "unknown payment outcome %q", outcome)
	}
	if paymentReference == "" {
		log.Warn("payment event without reference dropped")
		return nil
	}

	r, err := c.repo.GetByPaymentReference(ctx, paymentReference)
	if apperr.IsKind(err, apperr.KindNotFound) {
		log.Info("payment event for unknown reference")
		return ErrUnknownPaymentReference
	}
	if err != nil {
		return apperr.Wrap("lookup payment reference", err)
	}
	log = log.With(zap.String("reservation_id", r.ID))

	if r.PaymentReference != paymentReference {
		log = log.With(zap.String("current_reference", r.PaymentReference))
		if outcome == OutcomeSucceeded {
			c.raise(ctx, db.Alert{
				Kind: db.AlertSupersededPayment, ReservationID: r.ID, PaymentReference: paymentReference,
				Expected: r.Price.Total, Received: amount,
				Message: "payment captured on an attempt replaced by a retry, refund required",
			})
			return nil
		}
		log.Info("payment failure for superseded reference ignored")
		return nil
	}
	return c.settle(ctx, r, outcome, amount, log, true)
}

// settle classifies r by its current status. When the transition loses a race
// with another writer, r is reloaded and classified once more.
func (c *Reconciler) settle(ctx context.Context, r *db.Reservation, outcome Outcome, amount int64, base *zap.Logger, reload bool) error {
	log := base.With(zap.String("status", string(r.Status)))
	ref := r.PaymentReference

	var req TransitionRequest
	if outcome == OutcomeFailed {
		if r.Status != db.StatusPendingPayment {
			log.Info("payment failure ignored, reservation already settled")
			return nil
		}
		req = TransitionRequest{Event: db.EventPaymentFailed, Actor: db.SystemActor, PaymentReference: ref}
	} else {
		switch r.Status {
		case db.StatusConfirmed, db.StatusInProgress, db.StatusCompleted:
			log.Debug("duplicate payment success ignored")
			return nil
		case db.StatusCancelled:
			c.raise(ctx, db.Alert{
				Kind: db.AlertPaymentAfterCancel, ReservationID: r.ID, PaymentReference: ref,
				Expected: r.Price.Total, Received: amount,
				Message: "payment captured for a cancelled reservation, refund required",
			})
			return nil
		case db.StatusPaymentFailed:
			c.raise(ctx, db.Alert{
				Kind: db.AlertLatePayment, ReservationID: r.ID, PaymentReference: ref,
				Expected: r.Price.Total, Received: amount,
				Message: "payment captured after the reservation was marked payment_failed",
			})
			return nil
		}
		if amount != r.Price.Total {
			c.raise(ctx, db.Alert{
				Kind: db.AlertAmountMismatch, ReservationID: r.ID, PaymentReference: ref,
				Expected: r.Price.Total, Received: amount,
				Message: fmt.Sprintf("received %d, expected %d", amount, r.Price.Total),
			})
			return apperr.Newf(apperr.KindPaymentMismatch, "reservation %s: received %d, expected %d", r.ID, amount, r.Price.Total)
		}
		req = TransitionRequest{Event: db.EventPaymentConfirmed, Actor: db.SystemActor, PaymentReference: ref, Amount: amount}
	}

	_, err := c.machine.Apply(ctx, r.ID, req)
	if apperr.IsKind(err, apperr.KindInvalidTransition) && reload {
		// another transition landed after the lookup
		fresh, getErr := c.repo.GetByID(ctx, r.ID)
		if getErr != nil {
			return apperr.Wrap("reload reservation", getErr)
		}
		if fresh.PaymentReference != ref {
			return c.HandleProviderEvent(ctx, ref, outcome, amount)
		}
		log.Info("reservation changed during reconciliation", zap.String("now", string(fresh.Status)), zap.Error(err))
		return c.settle(ctx, fresh, outcome, amount, base, false)
	}
	if apperr.IsKind(err, apperr.KindInvalidTransition) {
		log.Warn("payment event not applied", zap.Error(err))
		return nil
	}
	if err != nil {
		return apperr.Wrap("reconcile "+string(req.Event), err)
	}
	log.Info("payment event applied", zap.String("event", string(req.Event)))
	return nil
}

func (c *Reconciler) raise(ctx context.Context, alert db.Alert) {
	if c.alerts == nil {
		c.logger.Error("reconciliation alert", zap.String("kind", string(alert.Kind)), zap.String("reservation_id", alert.ReservationID))
		return
	}
	if err := c.alerts.RaiseAlert(ctx, alert); err != nil {
		c.logger.Error("failed to record reconciliation alert",
			zap.String("kind", string(alert.Kind)), zap.String("reservation_id", alert.ReservationID), zap.Error(err))
	}
}

package service

import (
	"context"
	"errors"
	"time"

	"drivehub/internal/db"
	apperr "drivehub/internal/errors"
	"drivehub/internal/ledger"
	"drivehub/internal/repository"
	"drivehub/internal/utils"

	"go.uber.org/zap"
)

type transitionRule struct {
	from []db.Status
	to   db.Status
}

var transitionTable = map[db.Event]transitionRule{
	db.EventPaymentConfirmed: {from: []db.Status{db.StatusPendingPayment}, to: db.StatusConfirmed},
	db.EventPaymentFailed:    {from: []db.Status{db.StatusPendingPayment}, to: db.StatusPaymentFailed},
	db.EventRetry:            {from: []db.Status{db.StatusPaymentFailed}, to: db.StatusPendingPayment},
	db.EventStart:            {from: []db.Status{db.StatusConfirmed}, to: db.StatusInProgress},
	db.EventComplete:         {from: []db.Status{db.StatusInProgress}, to: db.StatusCompleted},
	db.EventCancel:           {from: []db.Status{db.StatusPendingPayment, db.StatusConfirmed}, to: db.StatusCancelled},
}

// NextStatus looks up the transition table. It never guesses a status.
func NextStatus(from db.Status, event db.Event) (db.Status, error) {
	rule, ok := transitionTable[event]
	if !ok {
		return "", apperr.Newf(apperr.KindInvalidInput, "unknown event %q", event)
	}
	for _, s := range rule.from {
		if s == from {
			return rule.to, nil
		}
	}
	return "", apperr.Newf(apperr.KindInvalidTransition, "cannot apply %s to a reservation in status %s", event, from)
}

// releasesWindow reports whether entering the event's target status frees the interval.
func releasesWindow(event db.Event) bool {
	return event == db.EventCancel || event == db.EventComplete || event == db.EventPaymentFailed
}

type TransitionRequest struct {
	Event            db.Event
	Actor            db.Actor
	Reason           string
	PaymentReference string
	Amount           int64
}

type StateMachineConfig struct {
	MaxPaymentRetries int
	LockTimeout       time.Duration
	Retry             utils.RetryPolicy
	Now               func() time.Time
}

// StateMachine owns every status change of a reservation. Transitions on one
// reservation are serialized by a per-reservation lock, and each write is
// checked against the row version in case another process got there first.
type StateMachine struct {
	repo        ReservationStore
	ledger      AvailabilityLedger
	payments    PaymentInitiator
	notifier    Notifier
	locks       ledger.Locker
	maxRetries  int
	lockTimeout time.Duration
	retry       utils.RetryPolicy
	now         func() time.Time
	logger      *zap.Logger
}

const maxVersionAttempts = 3

func NewStateMachine(repo ReservationStore, avail AvailabilityLedger, payments PaymentInitiator, notifier Notifier, locks ledger.Locker, cfg StateMachineConfig, logger *zap.Logger) *StateMachine {
	if cfg.MaxPaymentRetries < 0 {
		cfg.MaxPaymentRetries = 0
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 3 * time.Second
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = utils.DefaultRetryPolicy
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &StateMachine{
		repo:        repo,
		ledger:      avail,
		payments:    payments,
		notifier:    notifier,
		locks:       locks,
		maxRetries:  cfg.MaxPaymentRetries,
		lockTimeout: cfg.LockTimeout,
		retry:       cfg.Retry,
		now:         cfg.Now,
		logger:      logger,
	}
}

// Create stores a new reservation in pending_payment.
func (m *StateMachine) Create(ctx context.Context, r *db.Reservation) error {
	now := m.now()
	r.Status = db.StatusPendingPayment
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = r.CreatedAt

	err := m.repo.Create(ctx, r)
	if err == nil {
		return nil
	}
	if apperr.IsTransient(err) {
		// the insert may have landed before the connection dropped
		var existing *db.Reservation
		lookupErr := utils.Retry(ctx, m.retry, func(ctx context.Context) error {
			var err error
			existing, err = m.repo.GetByID(ctx, r.ID)
			return err
		})
		if lookupErr == nil && existing.WindowID == r.WindowID {
			*r = *existing
			return nil
		}
	}
	return err
}

// Apply runs one transition on reservation id.
func (m *StateMachine) Apply(ctx context.Context, id string, req TransitionRequest) (*db.Reservation, error) {
	if !req.Event.Valid() {
		return nil, apperr.Newf(apperr.KindInvalidInput, "unknown event %q", req.Event)
	}

	unlock, err := m.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		var current *db.Reservation
		err := utils.Retry(ctx, m.retry, func(ctx context.Context) error {
			var err error
			current, err = m.repo.GetByID(ctx, id)
			return err
		})
		if err != nil {
			return nil, apperr.Wrap("load reservation", err)
		}

		next, err := m.step(ctx, current, req)
		if errors.Is(err, repository.ErrStaleVersion) && attempt < maxVersionAttempts {
			m.logger.Info("reservation changed concurrently, retrying transition",
				zap.String("reservation_id", id), zap.String("event", string(req.Event)), zap.Int("attempt", attempt))
			continue
		}
		return next, err
	}
}

// FinishRelease frees the window of a reservation that no longer holds
// inventory but still references one. It is safe to call repeatedly.
func (m *StateMachine) FinishRelease(ctx context.Context, id string) error {
	unlock, err := m.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	r, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return apperr.Wrap("load reservation", err)
	}
	if r.WindowID == "" || r.Status.HoldsInventory() {
		return nil
	}
	return m.releaseWindow(ctx, r)
}

func (m *StateMachine) lock(ctx context.Context, id string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, m.lockTimeout)
	defer cancel()
	unlock, err := m.locks.Lock(lockCtx, "reservation:"+id)
	if err != nil {
		return nil, apperr.Wrap("reservation lock", err)
	}
	return unlock, nil
}

func (m *StateMachine) step(ctx context.Context, r *db.Reservation, req TransitionRequest) (*db.Reservation, error) {
	// a release that failed earlier is finished by repeating the event
	if rule := transitionTable[req.Event]; releasesWindow(req.Event) && r.Status == rule.to && r.WindowID != "" {
		if err := m.releaseWindow(ctx, r); err != nil {
			return r.Clone(), err
		}
		return r.Clone(), nil
	}

	to, err := NextStatus(r.Status, req.Event)
	if err != nil {
		return nil, err
	}
	now := m.now()
	if err := m.guard(r, req, now); err != nil {
		return nil, err
	}

	next := r.Clone()
	next.Status = to
	next.UpdatedAt = now

	var rollback func()
	switch req.Event {
	case db.EventPaymentConfirmed:
		next.ConfirmedAt = &now
	case db.EventPaymentFailed:
		next.PaymentFailedAt = &now
	case db.EventStart:
		next.StartedAt = &now
	case db.EventComplete:
		next.CompletedAt = &now
	case db.EventCancel:
		next.CancelledAt = &now
		next.CancellationReason = req.Reason
	case db.EventRetry:
		if rollback, err = m.prepareRetry(ctx, next); err != nil {
			return nil, err
		}
	}

	if err := utils.Retry(ctx, m.retry, func(ctx context.Context) error {
		return m.repo.Update(ctx, next)
	}); err != nil {
		if rollback != nil {
			rollback()
		}
		return nil, apperr.Wrap("save "+string(req.Event), err)
	}

	m.logger.Info("reservation transitioned",
		zap.String("reservation_id", next.ID), zap.String("event", string(req.Event)),
		zap.String("from", string(r.Status)), zap.String("to", string(to)),
		zap.String("actor", req.Actor.ID))
	m.dispatch(req.Event, next)

	if releasesWindow(req.Event) {
		if err := m.releaseWindow(ctx, next); err != nil {
			return next.Clone(), err
		}
	}
	return next.Clone(), nil
}

func (m *StateMachine) guard(r *db.Reservation, req TransitionRequest, now time.Time) error {
	switch req.Event {
	case db.EventPaymentConfirmed:
		if r.PaymentReference == "" {
			return apperr.New(apperr.KindInvalidTransition, "no payment has been initiated")
		}
		if req.PaymentReference != r.PaymentReference {
			return apperr.Newf(apperr.KindPaymentMismatch, "payment reference %q does not match %q", req.PaymentReference, r.PaymentReference)
		}
		if req.Amount != r.Price.Total {
			return apperr.Newf(apperr.KindPaymentMismatch, "paid %d, expected %d", req.Amount, r.Price.Total)
		}
	case db.EventRetry:
		if r.RetryCount >= m.maxRetries {
			return apperr.Newf(apperr.KindInvalidTransition, "payment retry limit of %d reached", m.maxRetries)
		}
	case db.EventStart, db.EventComplete:
		if utils.Day(now).Before(r.StartDate) {
			return apperr.Newf(apperr.KindInvalidTransition, "rental starts on %s", utils.FormatDate(r.StartDate))
		}
	case db.EventCancel:
		if req.Reason == "" {
			return apperr.New(apperr.KindInvalidInput, "a cancellation reason is required")
		}
	}
	return nil
}

// prepareRetry re-claims the interval and starts a new payment. The returned
// rollback frees the new window if the status write fails.
func (m *StateMachine) prepareRetry(ctx context.Context, next *db.Reservation) (func(), error) {
	if next.WindowID != "" {
		if err := m.ledger.Release(ctx, next.WindowID); err != nil {
			return nil, apperr.Transient("retry: release previous window", err)
		}
		next.WindowID = ""
	}
	windowID, err := m.ledger.TryReserve(ctx, next.VehicleID, next.StartDate, next.EndDate)
	if err != nil {
		return nil, apperr.Wrap("retry: availability re-check", err)
	}
	release := func() {
		if err := m.ledger.Release(context.WithoutCancel(ctx), windowID); err != nil {
			m.logger.Error("failed to release retry hold", zap.String("window_id", windowID), zap.Error(err))
		}
	}

	next.RetryCount++
	ref, err := m.payments.InitiatePayment(ctx, next)
	if err != nil {
		release()
		return nil, apperr.Wrap("retry: initiate payment", err)
	}
	if err := m.ledger.Commit(ctx, windowID, next.ID); err != nil {
		release()
		return nil, apperr.Wrap("retry: commit availability", err)
	}

	if next.PaymentReference != "" {
		next.PaymentReferenceHistory = append(next.PaymentReferenceHistory, next.PaymentReference)
	}
	next.PaymentReference = ref
	next.WindowID = windowID
	next.PaymentFailedAt = nil
	return release, nil
}

// releaseWindow frees r's window and clears the reference. If the release
// fails the reference stays so a later call or the sweeper can finish it.
func (m *StateMachine) releaseWindow(ctx context.Context, r *db.Reservation) error {
	if err := m.ledger.Release(ctx, r.WindowID); err != nil {
		m.logger.Error("availability window not released",
			zap.String("reservation_id", r.ID), zap.String("window_id", r.WindowID), zap.Error(err))
		return apperr.Transient("release availability window", err)
	}

	r.WindowID = ""
	r.UpdatedAt = m.now()
	if err := utils.Retry(ctx, m.retry, func(ctx context.Context) error {
		return m.repo.Update(ctx, r)
	}); err != nil {
		// the window is already free; the sweeper clears the stale reference
		m.logger.Warn("window released but reservation not updated",
			zap.String("reservation_id", r.ID), zap.Error(err))
	}
	return nil
}

func (m *StateMachine) dispatch(event db.Event, r *db.Reservation) {
	if m.notifier == nil {
		return
	}
	snapshot := r.Clone()
	go func() {
		defer func() {
			if p := recover(); p != nil {
				m.logger.Error("notifier panicked", zap.String("reservation_id", snapshot.ID), zap.Any("panic", p))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		m.notifier.Notify(ctx, event, snapshot)
	}()
}

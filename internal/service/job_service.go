package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"drivehub/internal/db"
	apperr "drivehub/internal/errors"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type HoldReclaimer interface {
	ReclaimExpired(ctx context.Context) (int64, error)
}

// JobService runs the periodic sweeps that keep inventory from leaking.
type JobService struct {
	jobs           JobStore
	holds          HoldReclaimer
	machine        *StateMachine
	paymentTimeout time.Duration
	now            func() time.Time
	logger         *zap.Logger
}

func NewJobService(jobs JobStore, holds HoldReclaimer, machine *StateMachine, paymentTimeout time.Duration, now func() time.Time, logger *zap.Logger) *JobService {
	if now == nil {
		now = time.Now
	}
	return &JobService{
		jobs:           jobs,
		holds:          holds,
		machine:        machine,
		paymentTimeout: paymentTimeout,
		now:            now,
		logger:         logger,
	}
}

// ReclaimExpiredHolds deletes holds whose lease ran out before commit.
func (s *JobService) ReclaimExpiredHolds(ctx context.Context) error {
	n, err := s.holds.ReclaimExpired(ctx)
	if err != nil {
		return fmt.Errorf("cron job: failed to reclaim expired holds: %w", err)
	}
	if n > 0 {
		s.logger.Info("cron job: reclaimed expired holds", zap.Int64("count", n))
	}
	return nil
}

// ExpireStalePayments fails reservations that waited for payment longer than the timeout.
func (s *JobService) ExpireStalePayments(ctx context.Context) error {
	if s.paymentTimeout <= 0 {
		return nil
	}
	ids, err := s.jobs.ListStalePendingPayment(ctx, s.now().Add(-s.paymentTimeout))
	if err != nil {
		return fmt.Errorf("cron job: failed to list stale pending payments: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	s.logger.Info("cron job: expiring stale pending payments", zap.Int("count", len(ids)))

	var errs []error
	for _, id := range ids {
		_, err := s.machine.Apply(ctx, id, TransitionRequest{Event: db.EventPaymentFailed, Actor: db.SystemActor})
		if err != nil && !apperr.IsKind(err, apperr.KindInvalidTransition) {
			errs = append(errs, fmt.Errorf("reservation %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// FinishPendingReleases retries window releases that failed during a transition.
func (s *JobService) FinishPendingReleases(ctx context.Context) error {
	ids, err := s.jobs.ListUnreleased(ctx)
	if err != nil {
		return fmt.Errorf("cron job: failed to list unreleased windows: %w", err)
	}
	var errs []error
	for _, id := range ids {
		if err := s.machine.FinishRelease(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("reservation %s: %w", id, err))
		}
	}
	if len(ids) > 0 {
		s.logger.Info("cron job: finished pending window releases", zap.Int("count", len(ids)-len(errs)))
	}
	return errors.Join(errs...)
}

// Sweep runs every job once. Each job runs even if an earlier one failed.
func (s *JobService) Sweep(ctx context.Context) error {
	return errors.Join(
		s.ReclaimExpiredHolds(ctx),
		s.ExpireStalePayments(ctx),
		s.FinishPendingReleases(ctx),
	)
}

// Schedule registers Sweep on c.
func (s *JobService) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := s.Sweep(ctx); err != nil {
			s.logger.Error("cron job: sweep failed", zap.Error(err))
		}
	})
}

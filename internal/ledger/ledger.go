package ledger

import (
	"context"
	"time"

	"drivehub/internal/db"
	apperr "drivehub/internal/errors"
	"drivehub/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store persists availability windows.
type Store interface {
	ListWindows(ctx context.Context, vehicleID string) ([]db.Window, error)
	InsertWindow(ctx context.Context, w *db.Window) error
	// CommitWindow attaches a live hold to a reservation and clears its
	// expiry. It returns a NotFound error if the hold is gone or expired.
	CommitWindow(ctx context.Context, windowID, reservationID string, now time.Time) error
	// DeleteWindow is a no-op for unknown ids.
	DeleteWindow(ctx context.Context, windowID string) error
	// DeleteExpiredWindows removes lapsed holds, for one vehicle or all when vehicleID is empty.
	DeleteExpiredWindows(ctx context.Context, vehicleID string, now time.Time) (int64, error)
}

type Options struct {
	HoldTTL     time.Duration
	LockTimeout time.Duration
	Retry       utils.RetryPolicy
	Now         func() time.Time
}

// Ledger guarantees that live windows of one vehicle never overlap.
// Check-and-insert for a vehicle runs under that vehicle's lock only.
type Ledger struct {
	store       Store
	locker      Locker
	holdTTL     time.Duration
	lockTimeout time.Duration
	retry       utils.RetryPolicy
	now         func() time.Time
	logger      *zap.Logger
}

func New(store Store, locker Locker, opts Options, logger *zap.Logger) *Ledger {
	if opts.HoldTTL <= 0 {
		opts.HoldTTL = 2 * time.Minute
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 3 * time.Second
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = utils.DefaultRetryPolicy
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ledger{
		store:       store,
		locker:      locker,
		holdTTL:     opts.HoldTTL,
		lockTimeout: opts.LockTimeout,
		retry:       opts.Retry,
		now:         opts.Now,
		logger:      logger,
	}
}

// Overlaps reports whether half-open intervals [s1,e1) and [s2,e2) intersect.
// Touching endpoints do not overlap: a return day may be the next pickup day.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}

// TryReserve places a hold on [start, end) for vehicleID and returns the window id.
// A live overlapping window yields a Conflict error and writes nothing.
func (l *Ledger) TryReserve(ctx context.Context, vehicleID string, start, end time.Time) (string, error) {
	start, end = utils.Day(start), utils.Day(end)
	if vehicleID == "" {
		return "", apperr.New(apperr.KindInvalidInput, "vehicleId is required")
	}
	if !end.After(start) {
		return "", apperr.New(apperr.KindInvalidInput, "endDate must be after startDate")
	}

	lockCtx, cancel := context.WithTimeout(ctx, l.lockTimeout)
	unlock, err := l.locker.Lock(lockCtx, "vehicle:"+vehicleID)
	cancel()
	if err != nil {
		return "", apperr.Wrap("availability lock", err)
	}
	defer unlock()

	now := l.now()
	var windowID string
	err = utils.Retry(ctx, l.retry, func(ctx context.Context) error {
		if n, err := l.store.DeleteExpiredWindows(ctx, vehicleID, now); err != nil {
			return err
		} else if n > 0 {
			l.logger.Info("reclaimed expired holds", zap.String("vehicle_id", vehicleID), zap.Int64("count", n))
		}

		windows, err := l.store.ListWindows(ctx, vehicleID)
		if err != nil {
			return err
		}
		for _, w := range windows {
			if w.Live(now) && Overlaps(start, end, w.StartDate, w.EndDate) {
				return apperr.Newf(apperr.KindConflict, "vehicle %s is not available from %s to %s",
					vehicleID, utils.FormatDate(start), utils.FormatDate(end))
			}
		}

		expires := now.Add(l.holdTTL)
		w := &db.Window{
			ID:        uuid.NewString(),
			VehicleID: vehicleID,
			StartDate: start,
			EndDate:   end,
			ExpiresAt: &expires,
			CreatedAt: now,
		}
		if err := l.store.InsertWindow(ctx, w); err != nil {
			return err
		}
		windowID = w.ID
		return nil
	})
	if err != nil {
		return "", apperr.Wrap("try reserve", err)
	}

	l.logger.Debug("availability hold placed",
		zap.String("vehicle_id", vehicleID), zap.String("window_id", windowID),
		zap.String("start", utils.FormatDate(start)), zap.String("end", utils.FormatDate(end)))
	return windowID, nil
}

// Commit turns a hold into a permanent window for reservationID.
// Committing a hold that already lapsed is a Conflict: its interval may have been taken.
func (l *Ledger) Commit(ctx context.Context, windowID, reservationID string) error {
	err := utils.Retry(ctx, l.retry, func(ctx context.Context) error {
		return l.store.CommitWindow(ctx, windowID, reservationID, l.now())
	})
	if apperr.IsKind(err, apperr.KindNotFound) {
		return apperr.Newf(apperr.KindConflict, "availability hold %s expired before commit", windowID)
	}
	return apperr.Wrap("commit window", err)
}

// Release frees a window. Releasing an unknown or already released window succeeds.
func (l *Ledger) Release(ctx context.Context, windowID string) error {
	if windowID == "" {
		return nil
	}
	err := utils.Retry(ctx, l.retry, func(ctx context.Context) error {
		return l.store.DeleteWindow(ctx, windowID)
	})
	if err != nil {
		l.logger.Error("failed to release availability window", zap.String("window_id", windowID), zap.Error(err))
		return apperr.Wrap("release window", err)
	}
	return nil
}

// ReclaimExpired deletes every lapsed hold.
func (l *Ledger) ReclaimExpired(ctx context.Context) (int64, error) {
	var n int64
	err := utils.Retry(ctx, l.retry, func(ctx context.Context) error {
		var err error
		n, err = l.store.DeleteExpiredWindows(ctx, "", l.now())
		return err
	})
	if err != nil {
		return 0, apperr.Wrap("reclaim expired holds", err)
	}
	return n, nil
}

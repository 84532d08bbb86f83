package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"drivehub/internal/entities"
	apperr "drivehub/internal/errors"
	"drivehub/internal/service"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Reconciler interface {
	HandleProviderEvent(ctx context.Context, paymentReference string, outcome service.Outcome, amount int64) error
}

// errReferenceNotYetKnown asks for redelivery of an event whose reservation
// may still be in the middle of being written.
var errReferenceNotYetKnown = errors.New("payment reference not known yet")

// PaymentEventHandler applies queued provider events. Errors that a retry
// cannot fix are wrapped in asynq.SkipRetry so the task goes straight to the archive.
// Events for unknown references are retried until unknownGrace has passed
// since the webhook received them, then dropped.
type PaymentEventHandler struct {
	recon        Reconciler
	unknownGrace time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

func NewPaymentEventHandler(recon Reconciler, unknownGrace time.Duration, logger *zap.Logger) *PaymentEventHandler {
	return &PaymentEventHandler{recon: recon, unknownGrace: unknownGrace, now: time.Now, logger: logger}
}

func (h *PaymentEventHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var ev entities.ProviderEvent
	if err := json.Unmarshal(task.Payload(), &ev); err != nil {
		h.logger.Error("invalid payment event payload", zap.Error(err))
		return fmt.Errorf("decode payment event: %v: %w", err, asynq.SkipRetry)
	}
	return h.handle(ctx, ev)
}

func (h *PaymentEventHandler) handle(ctx context.Context, ev entities.ProviderEvent) error {
	log := h.logger.With(zap.String("provider", ev.Provider), zap.String("event_id", ev.EventID),
		zap.String("payment_reference", ev.PaymentReference))

	err := h.recon.HandleProviderEvent(ctx, ev.PaymentReference, service.Outcome(ev.Outcome), ev.Amount)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrUnknownPaymentReference):
		if ev.ReceivedAt.IsZero() || h.now().Sub(ev.ReceivedAt) >= h.unknownGrace {
			log.Warn("payment event for unknown reference dropped", zap.Time("received_at", ev.ReceivedAt))
			return nil
		}
		log.Info("payment event for unknown reference will be retried")
		return errReferenceNotYetKnown
	case apperr.IsTransient(err):
		log.Warn("payment event will be retried", zap.Error(err))
		return err
	case apperr.IsKind(err, apperr.KindPaymentMismatch), apperr.IsKind(err, apperr.KindInvalidInput):
		log.Error("payment event needs manual reconciliation", zap.Error(err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		log.Error("payment event failed", zap.Error(err))
		return err
	}
}

// NewServeMux routes payment tasks to h.
func NewServeMux(h *PaymentEventHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypePaymentEvent, h)
	return mux
}

// NewServer builds the worker server for the payments queue.
func NewServer(opt asynq.RedisClientOpt, concurrency int, logger *zap.Logger) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueuePayments: 1,
		},
		Logger: logger.Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Warn("payment task failed",
				zap.String("type", task.Type()), zap.Int("retried", retried), zap.Int("max_retry", maxRetry), zap.Error(err))
		}),
	})
}

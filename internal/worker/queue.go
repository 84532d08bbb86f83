package worker

import (
	"context"
	"errors"
	"time"

	"drivehub/internal/entities"
	apperr "drivehub/internal/errors"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Queue hands provider events to the durable asynq queue.
type Queue struct {
	client   *asynq.Client
	maxRetry int
	logger   *zap.Logger
}

func NewQueue(client *asynq.Client, maxRetry int, logger *zap.Logger) *Queue {
	return &Queue{client: client, maxRetry: maxRetry, logger: logger}
}

func (q *Queue) EnqueueProviderEvent(ctx context.Context, ev entities.ProviderEvent) error {
	task, opts, err := NewPaymentEventTask(ev, q.maxRetry)
	if err != nil {
		return err
	}
	info, err := q.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		q.logger.Info("payment event already queued", zap.String("provider", ev.Provider), zap.String("event_id", ev.EventID))
		return nil
	}
	if err != nil {
		return err
	}
	q.logger.Debug("payment event queued", zap.String("task_id", info.ID), zap.String("payment_reference", ev.PaymentReference))
	return nil
}

// InlineQueue processes events synchronously. Used when no Redis is configured.
// Events for references not known yet are retried in the background every
// RetryDelay until the handler's grace period runs out.
type InlineQueue struct {
	Handler    *PaymentEventHandler
	RetryDelay time.Duration
}

func (q *InlineQueue) EnqueueProviderEvent(ctx context.Context, ev entities.ProviderEvent) error {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = q.Handler.now()
	}
	err := q.Handler.handle(ctx, ev)
	switch {
	case errors.Is(err, errReferenceNotYetKnown):
		q.later(ev)
		return nil
	case errors.Is(err, asynq.SkipRetry):
		// already logged and alerted; retrying would not help
		return nil
	}
	return err
}

func (q *InlineQueue) later(ev entities.ProviderEvent) {
	delay := q.RetryDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := q.Handler.handle(ctx, ev)
		switch {
		case errors.Is(err, errReferenceNotYetKnown):
			q.later(ev)
		case apperr.IsTransient(err) && q.Handler.now().Sub(ev.ReceivedAt) < q.Handler.unknownGrace:
			q.later(ev)
		case err != nil && !errors.Is(err, asynq.SkipRetry):
			q.Handler.logger.Error("delayed payment event failed", zap.String("event_id", ev.EventID), zap.Error(err))
		}
	})
}

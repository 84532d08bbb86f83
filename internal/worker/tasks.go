package worker

import (
	"encoding/json"
	"fmt"

	"drivehub/internal/entities"

	"github.com/hibiken/asynq"
)

const (
	TypePaymentEvent = "payment:reconcile"
	QueuePayments    = "payments"
)

// NewPaymentEventTask builds a task whose id is unique per provider event, so
// a webhook redelivered while the first copy is still queued is dropped.
func NewPaymentEventTask(ev entities.ProviderEvent, maxRetry int) (*asynq.Task, []asynq.Option, error) {
	if ev.Provider == "" || ev.EventID == "" {
		return nil, nil, fmt.Errorf("payment event needs provider and event id")
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypePaymentEvent, b)
	opts := []asynq.Option{
		asynq.TaskID(ev.Provider + ":" + ev.EventID),
		asynq.Queue(QueuePayments),
		asynq.MaxRetry(maxRetry),
	}
	return task, opts, nil
}

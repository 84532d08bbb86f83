package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"drivehub/internal/entities"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

const (
	providerStripe      = "stripe"
	providerMobileMoney = "mobile_money"
)

// EventQueue accepts provider events for reconciliation.
type EventQueue interface {
	EnqueueProviderEvent(ctx context.Context, ev entities.ProviderEvent) error
}

type StripeWebhookHandler struct {
	secret string
	queue  EventQueue
	logger *zap.Logger
}

func NewStripeWebhookHandler(secret string, queue EventQueue, logger *zap.Logger) *StripeWebhookHandler {
	return &StripeWebhookHandler{secret: secret, queue: queue, logger: logger}
}

// HandleWebhook verifies the signature and queues payment intent outcomes.
// It answers 200 only once the event is durably queued, so Stripe redelivers otherwise.
func (h *StripeWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Warn("error reading webhook body", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.secret)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var outcome string
	switch event.Type {
	case "payment_intent.succeeded":
		outcome = "succeeded"
	case "payment_intent.payment_failed":
		outcome = "failed"
	default:
		h.logger.Debug("unhandled event type", zap.String("type", string(event.Type)))
		w.WriteHeader(http.StatusOK)
		return
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil || pi.ID == "" {
		h.logger.Warn("error parsing payment_intent", zap.String("event_id", event.ID), zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ev := entities.ProviderEvent{
		Provider:         providerStripe,
		EventID:          event.ID,
		PaymentReference: pi.ID,
		Outcome:          outcome,
		Amount:           pi.AmountReceived,
		ReceivedAt:       time.Now(),
	}
	if err := h.queue.EnqueueProviderEvent(r.Context(), ev); err != nil {
		h.logger.Error("failed to queue payment event", zap.String("event_id", event.ID), zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

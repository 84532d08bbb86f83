package api

import (
	"net/http"
	"time"

	"drivehub/internal/entities"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// MobileMoneyWebhookHandler receives collection callbacks. The gateway sends a
// shared token in X-Callback-Token; only its bcrypt hash is configured here.
type MobileMoneyWebhookHandler struct {
	tokenHash []byte
	queue     EventQueue
	logger    *zap.Logger
}

func NewMobileMoneyWebhookHandler(tokenHash string, queue EventQueue, logger *zap.Logger) *MobileMoneyWebhookHandler {
	return &MobileMoneyWebhookHandler{tokenHash: []byte(tokenHash), queue: queue, logger: logger}
}

func (h *MobileMoneyWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Callback-Token")
	if len(h.tokenHash) == 0 || token == "" || bcrypt.CompareHashAndPassword(h.tokenHash, []byte(token)) != nil {
		h.logger.Warn("mobile money callback rejected", zap.String("remote", r.RemoteAddr))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var cb entities.MobileMoneyCallback
	if err := decode(w, r, &cb); err != nil {
		writeError(w, h.logger, err)
		return
	}

	outcome := "failed"
	if cb.Status == "SUCCESSFUL" {
		outcome = "succeeded"
	}
	ev := entities.ProviderEvent{
		Provider:         providerMobileMoney,
		EventID:          cb.TransactionID + ":" + cb.Status,
		PaymentReference: cb.TransactionID,
		Outcome:          outcome,
		Amount:           cb.Amount,
		ReceivedAt:       time.Now(),
	}
	if err := h.queue.EnqueueProviderEvent(r.Context(), ev); err != nil {
		h.logger.Error("failed to queue payment event", zap.String("transaction_id", cb.TransactionID), zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

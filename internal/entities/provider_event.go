package entities

import "time"

// ProviderEvent is a payment outcome reported by Stripe or the mobile money
// gateway, queued for reconciliation.
type ProviderEvent struct {
	Provider         string `json:"provider"`
	EventID          string `json:"eventId"`
	PaymentReference string `json:"paymentReference"`
	Outcome          string `json:"outcome"`
	Amount           int64  `json:"amount"`

	// ReceivedAt is when the webhook accepted the event.
	ReceivedAt time.Time `json:"receivedAt"`
}

// MobileMoneyCallback is the body the mobile money gateway posts.
type MobileMoneyCallback struct {
	TransactionID string `json:"transactionId" validate:"required"`
	Status        string `json:"status" validate:"required,oneof=SUCCESSFUL FAILED"`
	Amount        int64  `json:"amount" validate:"gte=0"`
	ExternalID    string `json:"externalId"`
}

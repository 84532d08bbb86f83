package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"drivehub/internal/db"
	apperr "drivehub/internal/errors"
)

// MobileMoneyService requests a collection from a mobile money aggregator.
// The aggregator pushes the payer prompt and later calls our callback.
type MobileMoneyService struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewMobileMoneyService(baseURL, apiKey string, client *http.Client) *MobileMoneyService {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &MobileMoneyService{baseURL: baseURL, apiKey: apiKey, client: client}
}

type collectionRequest struct {
	ExternalID string `json:"externalId"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Payer      string `json:"payer"`
	Message    string `json:"message"`
}

type collectionResponse struct {
	TransactionID string `json:"transactionId"`
}

func (s *MobileMoneyService) InitiatePayment(ctx context.Context, r *db.Reservation) (string, error) {
	body, err := json.Marshal(collectionRequest{
		ExternalID: fmt.Sprintf("%s:%d", r.ID, r.RetryCount),
		Amount:     r.Price.Total,
		Currency:   r.Currency,
		Payer:      r.RenterPhone,
		Message:    "DriveHub rental " + r.ID,
	})
	if err != nil {
		return "", fmt.Errorf("mobile money: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/collections", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("mobile money: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", apperr.Transient("mobile money", err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", apperr.Transient("mobile money", fmt.Errorf("status %d: %s", resp.StatusCode, payload))
	case resp.StatusCode >= 400:
		return "", apperr.Newf(apperr.KindInvalidInput, "mobile money rejected the collection: %s", payload)
	}

	var out collectionResponse
	if err := json.Unmarshal(payload, &out); err != nil || out.TransactionID == "" {
		return "", fmt.Errorf("mobile money: unexpected response %q", payload)
	}
	return out.TransactionID, nil
}

// PaymentRouter dispatches to the initiator for the reservation's payment method.
type PaymentRouter struct {
	Card        PaymentInitiator
	MobileMoney PaymentInitiator
}

func (p *PaymentRouter) InitiatePayment(ctx context.Context, r *db.Reservation) (string, error) {
	var target PaymentInitiator
	switch r.PaymentMethod {
	case db.PaymentMethodCard, "":
		target = p.Card
	case db.PaymentMethodMobileMoney:
		target = p.MobileMoney
	}
	if target == nil {
		return "", apperr.Newf(apperr.KindInvalidInput, "payment method %q is not available", r.PaymentMethod)
	}
	return target.InitiatePayment(ctx, r)
}

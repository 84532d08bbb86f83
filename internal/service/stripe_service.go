package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"drivehub/internal/db"
	apperr "drivehub/internal/errors"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
)

// StripeService initiates card payments as Stripe PaymentIntents. The
// intent id is the reservation's payment reference.
type StripeService struct{}

func NewStripeService(secretKey string) *StripeService {
	stripe.Key = secretKey
	return &StripeService{}
}

func (s *StripeService) InitiatePayment(ctx context.Context, r *db.Reservation) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(r.Price.Total),
		Currency: stripe.String(strings.ToLower(r.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Description:  stripe.String(fmt.Sprintf("Rental of vehicle %s", r.VehicleID)),
		ReceiptEmail: nilIfEmpty(r.RenterEmail),
	}
	params.Context = ctx
	params.AddMetadata("reservation_id", r.ID)
	params.AddMetadata("vehicle_id", r.VehicleID)
	// one intent per attempt, even if this call is repeated
	params.SetIdempotencyKey(fmt.Sprintf("%s:%d", r.ID, r.RetryCount))

	pi, err := paymentintent.New(params)
	if err != nil {
		return "", classifyStripe(err)
	}
	return pi.ID, nil
}

func classifyStripe(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode >= 500 || se.HTTPStatusCode == 429 || se.Type == stripe.ErrorTypeAPI {
			return apperr.Transient("stripe", err)
		}
		if se.Type == stripe.ErrorTypeInvalidRequest || se.Type == stripe.ErrorTypeCard {
			return &apperr.Error{Kind: apperr.KindInvalidInput, Op: "stripe", Message: se.Msg, Err: err}
		}
	}
	return fmt.Errorf("stripe: %w", err)
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return stripe.String(s)
}

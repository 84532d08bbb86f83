package service

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"drivehub/internal/db"
	"drivehub/internal/utils"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

type EmailSender interface {
	SendEmail(ctx context.Context, toEmail, subject, plainText, html string) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, toNumber, body string) error
}

// SendGridSender delivers email through the SendGrid v3 API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
}

func NewSendGridSender(apiKey, fromEmail, fromName string) *SendGridSender {
	return &SendGridSender{client: sendgrid.NewSendClient(apiKey), fromEmail: fromEmail, fromName: fromName}
}

func (s *SendGridSender) SendEmail(ctx context.Context, toEmail, subject, plainText, html string) error {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail("", toEmail)
	message := mail.NewSingleEmail(from, subject, to, plainText, html)

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send to %s: %w", toEmail, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// TwilioSender delivers SMS through the Twilio REST API.
type TwilioSender struct {
	client *twilio.RestClient
	from   string
}

func NewTwilioSender(accountSID, authToken, fromNumber string) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username:   accountSID,
		Password:   authToken,
		AccountSid: accountSID,
	})
	return &TwilioSender{client: client, from: fromNumber}
}

func (s *TwilioSender) SendSMS(ctx context.Context, toNumber, body string) error {
	if !strings.HasPrefix(toNumber, "+") {
		return fmt.Errorf("phone number %q is not in E.164 format", toNumber)
	}
	params := &openapi.CreateMessageParams{}
	params.SetTo(toNumber)
	params.SetFrom(s.from)
	params.SetBody(body)

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio send to %s: %w", toNumber, err)
	}
	return nil
}

var emailTemplate = template.Must(template.New("reservation").Parse(`<!DOCTYPE html>
<html><body style="font-family: sans-serif">
<h2>{{.Headline}}</h2>
<p>Reservation <strong>{{.ID}}</strong></p>
<table>
<tr><td>Vehicle</td><td>{{.VehicleID}}</td></tr>
<tr><td>From</td><td>{{.Start}}</td></tr>
<tr><td>Until</td><td>{{.End}}</td></tr>
<tr><td>Total</td><td>{{.Total}} {{.Currency}}</td></tr>
{{if .Reason}}<tr><td>Reason</td><td>{{.Reason}}</td></tr>{{end}}
</table>
</body></html>`))

type emailData struct {
	Headline  string
	ID        string
	VehicleID string
	Start     string
	End       string
	Total     int64
	Currency  string
	Reason    string
}

var headlines = map[db.Event]string{
	db.EventPaymentConfirmed: "Your rental is confirmed",
	db.EventPaymentFailed:    "Your payment did not go through",
	db.EventRetry:            "We are retrying your payment",
	db.EventStart:            "Your rental has started",
	db.EventComplete:         "Thanks for returning the vehicle",
	db.EventCancel:           "Your reservation was cancelled",
}

// NotificationService tells the renter about lifecycle changes by email and SMS.
// Delivery failures are logged and never returned.
type NotificationService struct {
	email  EmailSender
	sms    SMSSender
	logger *zap.Logger
}

func NewNotificationService(email EmailSender, sms SMSSender, logger *zap.Logger) *NotificationService {
	return &NotificationService{email: email, sms: sms, logger: logger}
}

func (n *NotificationService) Notify(ctx context.Context, event db.Event, r *db.Reservation) {
	headline, ok := headlines[event]
	if !ok {
		return
	}
	log := n.logger.With(zap.String("reservation_id", r.ID), zap.String("event", string(event)))
	data := emailData{
		Headline:  headline,
		ID:        r.ID,
		VehicleID: r.VehicleID,
		Start:     utils.FormatDate(r.StartDate),
		End:       utils.FormatDate(r.EndDate),
		Total:     r.Price.Total,
		Currency:  r.Currency,
		Reason:    r.CancellationReason,
	}

	if n.email != nil && r.RenterEmail != "" {
		var html bytes.Buffer
		if err := emailTemplate.Execute(&html, data); err != nil {
			log.Error("failed to render email", zap.Error(err))
		} else {
			subject := fmt.Sprintf("%s - %s", headline, r.ID)
			plain := fmt.Sprintf("%s.\nReservation %s for vehicle %s, %s to %s. Total %d %s.",
				headline, r.ID, r.VehicleID, data.Start, data.End, r.Price.Total, r.Currency)
			if err := n.email.SendEmail(ctx, r.RenterEmail, subject, plain, html.String()); err != nil {
				log.Warn("email notification failed", zap.Error(err))
			}
		}
	}

	if n.sms != nil && r.RenterPhone != "" {
		body := fmt.Sprintf("DriveHub: %s. Reservation %s, %s to %s.", headline, r.ID, data.Start, data.End)
		if err := n.sms.SendSMS(ctx, r.RenterPhone, body); err != nil {
			log.Warn("sms notification failed", zap.Error(err))
		}
	}
}

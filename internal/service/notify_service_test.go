package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"drivehub/internal/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentEmail struct {
	to, subject, plain, html string
}

type fakeEmail struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (f *fakeEmail) SendEmail(ctx context.Context, toEmail, subject, plainText, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEmail{toEmail, subject, plainText, html})
	return f.err
}

type fakeSMS struct {
	mu   sync.Mutex
	to   []string
	body []string
}

func (f *fakeSMS) SendSMS(ctx context.Context, toNumber, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.to = append(f.to, toNumber)
	f.body = append(f.body, body)
	return nil
}

func notifyReservation() *db.Reservation {
	return &db.Reservation{
		ID:                 "res-1",
		VehicleID:          "veh-1",
		StartDate:          day("2024-03-10"),
		EndDate:            day("2024-03-13"),
		Currency:           "XAF",
		Price:              db.PriceBreakdown{Total: 138000},
		RenterEmail:        "renter@example.com",
		RenterPhone:        "+237650000000",
		CancellationReason: "plans changed",
	}
}

func TestNotifySendsEmailAndSMS(t *testing.T) {
	email, sms := &fakeEmail{}, &fakeSMS{}
	n := NewNotificationService(email, sms, zap.NewNop())

	n.Notify(context.Background(), db.EventCancel, notifyReservation())

	require.Len(t, email.sent, 1)
	msg := email.sent[0]
	assert.Equal(t, "renter@example.com", msg.to)
	assert.Contains(t, msg.subject, "cancelled")
	assert.Contains(t, msg.plain, "2024-03-10 to 2024-03-13")
	assert.Contains(t, msg.html, "plans changed")
	assert.Contains(t, msg.html, "138000 XAF")

	require.Len(t, sms.to, 1)
	assert.Equal(t, "+237650000000", sms.to[0])
	assert.Contains(t, sms.body[0], "res-1")
}

func TestNotifySkipsMissingContacts(t *testing.T) {
	email, sms := &fakeEmail{}, &fakeSMS{}
	n := NewNotificationService(email, sms, zap.NewNop())

	r := notifyReservation()
	r.RenterEmail = ""
	r.RenterPhone = ""
	n.Notify(context.Background(), db.EventPaymentConfirmed, r)

	assert.Empty(t, email.sent)
	assert.Empty(t, sms.to)
}

func TestNotifyIgnoresUnknownEventAndSendFailures(t *testing.T) {
	email := &fakeEmail{err: errors.New("smtp down")}
	sms := &fakeSMS{}
	n := NewNotificationService(email, sms, zap.NewNop())

	n.Notify(context.Background(), db.Event("teleport"), notifyReservation())
	assert.Empty(t, email.sent)

	n.Notify(context.Background(), db.EventStart, notifyReservation())
	assert.Len(t, email.sent, 1)
	assert.Len(t, sms.to, 1)
}

func TestNotifyWithoutSenders(t *testing.T) {
	n := NewNotificationService(nil, nil, zap.NewNop())
	assert.NotPanics(t, func() {
		n.Notify(context.Background(), db.EventComplete, notifyReservation())
	})
}

func TestTwilioRejectsNonE164(t *testing.T) {
	s := NewTwilioSender("AC123", "token", "+15550000000")
	err := s.SendSMS(context.Background(), "650000000", "hello")
	assert.ErrorContains(t, err, "E.164")
}

type memoryAlertStore struct {
	saved []db.Alert
	err   error
}

func (m *memoryAlertStore) Save(ctx context.Context, alert db.Alert) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, alert)
	return nil
}

func TestAlertServicePersists(t *testing.T) {
	store := &memoryAlertStore{}
	svc := NewAlertService(store, zap.NewNop())

	err := svc.RaiseAlert(context.Background(), db.Alert{Kind: db.AlertLatePayment, ReservationID: "res-1"})
	require.NoError(t, err)
	require.Len(t, store.saved, 1)
	assert.False(t, store.saved[0].CreatedAt.IsZero())

	store.err = errors.New("mongo unavailable")
	assert.Error(t, svc.RaiseAlert(context.Background(), db.Alert{Kind: db.AlertAmountMismatch}))
}

func TestAlertServiceWithoutStore(t *testing.T) {
	svc := NewAlertService(nil, zap.NewNop())
	assert.NoError(t, svc.RaiseAlert(context.Background(), db.Alert{Kind: db.AlertPaymentAfterCancel}))
}

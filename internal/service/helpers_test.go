package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"drivehub/internal/db"
	apperr "drivehub/internal/errors"
	"drivehub/internal/ledger"
	"drivehub/internal/repository"
	"drivehub/internal/utils"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func day(s string) time.Time {
	t, err := time.Parse(utils.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakePayments struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *fakePayments) InitiatePayment(ctx context.Context, r *db.Reservation) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.calls++
	return fmt.Sprintf("pi_%d", p.calls), nil
}

func (p *fakePayments) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

type notification struct {
	event db.Event
	id    string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
	hook func()
}

func (n *recordingNotifier) Notify(ctx context.Context, event db.Event, r *db.Reservation) {
	if n.hook != nil {
		n.hook()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{event: event, id: r.ID})
}

func (n *recordingNotifier) count(event db.Event) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.event == event {
			c++
		}
	}
	return c
}

type recordingAlerts struct {
	mu     sync.Mutex
	alerts []db.Alert
}

func (a *recordingAlerts) RaiseAlert(ctx context.Context, alert db.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
	return nil
}

func (a *recordingAlerts) kinds() []db.AlertKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []db.AlertKind
	for _, al := range a.alerts {
		out = append(out, al.Kind)
	}
	return out
}

// switchLedger fails Release while failRelease is set.
type switchLedger struct {
	*ledger.Ledger
	failRelease atomic.Bool
}

func (l *switchLedger) Release(ctx context.Context, windowID string) error {
	if l.failRelease.Load() {
		return apperr.Transient("delete window", errors.New("connection refused"))
	}
	return l.Ledger.Release(ctx, windowID)
}

type allowAll struct{}

func (allowAll) ActorCanTransition(ctx context.Context, actor db.Actor, r *db.Reservation, event db.Event) bool {
	return true
}

// partyPermissions lets only admins and the parties to a reservation act.
type partyPermissions struct{}

func (partyPermissions) ActorCanTransition(ctx context.Context, actor db.Actor, r *db.Reservation, event db.Event) bool {
	return actor.Role == db.RoleAdmin || actor.ID == r.RenterID || actor.ID == r.OwnerID
}

var (
	testVehicle = db.Vehicle{ID: "veh-1", OwnerID: "owner-1", DailyRate: 35000, DepositAmount: 50000}
	testPricing = Pricing{Currency: "XAF", Rates: testRates, Catalog: testCatalog}
	renter      = db.Actor{ID: "renter-1", Role: db.RoleRenter}
)

type testEnv struct {
	clock    *testClock
	repo     *repository.MemoryReservationRepository
	windows  *repository.MemoryWindowRepository
	ledger   *switchLedger
	payments *fakePayments
	notifier *recordingNotifier
	alerts   *recordingAlerts
	machine  *StateMachine
	booking  *BookingService
	recon    *Reconciler
	jobs     *JobService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clk := &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	logger := zap.NewNop()
	noRetry := utils.RetryPolicy{Attempts: 1, BaseDelay: time.Millisecond}

	repo := repository.NewMemoryReservationRepository()
	windows := repository.NewMemoryWindowRepository()
	locks := ledger.NewKeyedMutex()
	avail := &switchLedger{Ledger: ledger.New(windows, locks, ledger.Options{
		HoldTTL:     2 * time.Minute,
		LockTimeout: time.Second,
		Retry:       noRetry,
		Now:         clk.Now,
	}, logger)}
	payments := &fakePayments{}
	notifier := &recordingNotifier{}
	alerts := &recordingAlerts{}

	machine := NewStateMachine(repo, avail, payments, notifier, locks, StateMachineConfig{
		MaxPaymentRetries: 3,
		LockTimeout:       time.Second,
		Retry:             noRetry,
		Now:               clk.Now,
	}, logger)
	vehicles := repository.NewMemoryVehicleRepository(testVehicle)

	return &testEnv{
		clock:    clk,
		repo:     repo,
		windows:  windows,
		ledger:   avail,
		payments: payments,
		notifier: notifier,
		alerts:   alerts,
		machine:  machine,
		booking:  NewBookingService(vehicles, testPricing, avail, machine, repo, payments, allowAll{}, clk.Now, logger),
		recon:    NewReconciler(repo, machine, alerts, logger),
		jobs:     NewJobService(repo, avail, machine, 30*time.Minute, clk.Now, logger),
	}
}

func (e *testEnv) create(t *testing.T, start, end string) *db.Reservation {
	t.Helper()
	r, err := e.booking.CreateReservation(context.Background(), CreateReservationRequest{
		VehicleID:   testVehicle.ID,
		RenterID:    renter.ID,
		StartDate:   day(start),
		EndDate:     day(end),
		OptionCodes: []string{"child_seat"},
		RenterEmail: "renter@example.com",
	})
	require.NoError(t, err)
	return r
}

func (e *testEnv) apply(id string, event db.Event, opts ...func(*TransitionRequest)) (*db.Reservation, error) {
	req := TransitionRequest{Event: event, Actor: db.Actor{ID: "admin-1", Role: db.RoleAdmin}}
	for _, o := range opts {
		o(&req)
	}
	return e.machine.Apply(context.Background(), id, req)
}

func withReason(reason string) func(*TransitionRequest) {
	return func(r *TransitionRequest) { r.Reason = reason }
}

func paid(ref string, amount int64) func(*TransitionRequest) {
	return func(r *TransitionRequest) {
		r.PaymentReference = ref
		r.Amount = amount
	}
}

func (e *testEnv) confirm(t *testing.T, r *db.Reservation) *db.Reservation {
	t.Helper()
	out, err := e.apply(r.ID, db.EventPaymentConfirmed, paid(r.PaymentReference, r.Price.Total))
	require.NoError(t, err)
	return out
}

func (e *testEnv) stored(t *testing.T, id string) *db.Reservation {
	t.Helper()
	r, err := e.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return r
}

func (e *testEnv) liveWindows(t *testing.T) int {
	t.Helper()
	ws, err := e.windows.ListWindows(context.Background(), testVehicle.ID)
	require.NoError(t, err)
	n := 0
	for _, w := range ws {
		if w.Live(e.clock.Now()) {
			n++
		}
	}
	return n
}

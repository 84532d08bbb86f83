package service

import (
	"context"
	"time"

	"drivehub/internal/db"
	apperr "drivehub/internal/errors"
	"drivehub/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type QuoteRequest struct {
	VehicleID   string
	StartDate   time.Time
	EndDate     time.Time
	OptionCodes []string
}

type QuoteResult struct {
	Price    db.PriceBreakdown
	DayCount int
	Currency string
}

type CreateReservationRequest struct {
	VehicleID      string
	RenterID       string
	StartDate      time.Time
	EndDate        time.Time
	OptionCodes    []string
	PickupLocation string
	ReturnLocation string
	PaymentMethod  db.PaymentMethod
	RenterEmail    string
	RenterPhone    string
}

// BookingService is the entry point for quoting, booking and transitions.
type BookingService struct {
	vehicles VehicleCatalog
	pricing  Pricing
	ledger   AvailabilityLedger
	machine  *StateMachine
	repo     ReservationStore
	payments PaymentInitiator
	perms    PermissionChecker
	now      func() time.Time
	logger   *zap.Logger
}

func NewBookingService(
	vehicles VehicleCatalog,
	pricing Pricing,
	avail AvailabilityLedger,
	machine *StateMachine,
	repo ReservationStore,
	payments PaymentInitiator,
	perms PermissionChecker,
	now func() time.Time,
	logger *zap.Logger,
) *BookingService {
	if now == nil {
		now = time.Now
	}
	return &BookingService{
		vehicles: vehicles,
		pricing:  pricing,
		ledger:   avail,
		machine:  machine,
		repo:     repo,
		payments: payments,
		perms:    perms,
		now:      now,
		logger:   logger,
	}
}

// GetQuote prices a candidate rental. Nothing is stored or held.
func (s *BookingService) GetQuote(ctx context.Context, req QuoteRequest) (*QuoteResult, error) {
	if req.VehicleID == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "vehicleId is required")
	}
	vehicle, err := s.vehicles.GetVehicle(ctx, req.VehicleID)
	if err != nil {
		return nil, apperr.Wrap("quote: vehicle lookup", err)
	}
	days := utils.DayCount(req.StartDate, req.EndDate)
	price, err := Quote(vehicle.DailyRate, days, req.OptionCodes, s.pricing.Catalog, vehicle.DepositAmount, s.pricing.Rates)
	if err != nil {
		return nil, apperr.Wrap("quote", err)
	}
	return &QuoteResult{Price: price, DayCount: days, Currency: s.pricing.Currency}, nil
}

// CreateReservation holds the interval, prices it, starts the payment and
// stores the reservation in pending_payment. Any failure after the hold
// releases it, and the record is written last so no partial state is visible.
func (s *BookingService) CreateReservation(ctx context.Context, req CreateReservationRequest) (*db.Reservation, error) {
	if err := s.validateCreate(&req); err != nil {
		return nil, err
	}
	vehicle, err := s.vehicles.GetVehicle(ctx, req.VehicleID)
	if err != nil {
		return nil, apperr.Wrap("create reservation: vehicle lookup", err)
	}
	if vehicle.OwnerID == req.RenterID {
		return nil, apperr.New(apperr.KindInvalidInput, "owners cannot rent their own vehicle")
	}

	windowID, err := s.ledger.TryReserve(ctx, req.VehicleID, req.StartDate, req.EndDate)
	if err != nil {
		return nil, apperr.Wrap("create reservation: availability hold", err)
	}
	log := s.logger.With(zap.String("vehicle_id", req.VehicleID), zap.String("window_id", windowID))
	fail := func(step string, err error) (*db.Reservation, error) {
		if relErr := s.ledger.Release(context.WithoutCancel(ctx), windowID); relErr != nil {
			log.Error("failed to release hold after create failure", zap.String("step", step), zap.Error(relErr))
		}
		log.Warn("create reservation failed", zap.String("step", step), zap.Error(err))
		return nil, apperr.Wrap("create reservation: "+step, err)
	}

	days := utils.DayCount(req.StartDate, req.EndDate)
	price, err := Quote(vehicle.DailyRate, days, req.OptionCodes, s.pricing.Catalog, vehicle.DepositAmount, s.pricing.Rates)
	if err != nil {
		return fail("price quote", err)
	}

	r := &db.Reservation{
		ID:              uuid.NewString(),
		VehicleID:       req.VehicleID,
		RenterID:        req.RenterID,
		OwnerID:         vehicle.OwnerID,
		StartDate:       utils.Day(req.StartDate),
		EndDate:         utils.Day(req.EndDate),
		DayCount:        days,
		SelectedOptions: NormalizeOptions(req.OptionCodes),
		Price:           price,
		Currency:        s.pricing.Currency,
		Status:          db.StatusPendingPayment,
		PaymentMethod:   req.PaymentMethod,
		PickupLocation:  req.PickupLocation,
		ReturnLocation:  req.ReturnLocation,
		RenterEmail:     req.RenterEmail,
		RenterPhone:     req.RenterPhone,
		CreatedAt:       s.now(),
	}

	ref, err := s.payments.InitiatePayment(ctx, r)
	if err != nil {
		return fail("initiate payment", err)
	}
	r.PaymentReference = ref

	if err := s.ledger.Commit(ctx, windowID, r.ID); err != nil {
		return fail("commit availability", err)
	}
	r.WindowID = windowID

	if err := s.machine.Create(ctx, r); err != nil {
		return fail("persist reservation", err)
	}

	log.Info("reservation created",
		zap.String("reservation_id", r.ID), zap.String("payment_reference", r.PaymentReference),
		zap.Int64("total", r.Price.Total))
	return r, nil
}

func (s *BookingService) validateCreate(req *CreateReservationRequest) error {
	if req.VehicleID == "" || req.RenterID == "" {
		return apperr.New(apperr.KindInvalidInput, "vehicleId and renterId are required")
	}
	if days := utils.DayCount(req.StartDate, req.EndDate); days < 1 {
		return apperr.Newf(apperr.KindInvalidInput, "endDate must be after startDate (dayCount %d)", days)
	}
	if utils.Day(req.StartDate).Before(utils.Day(s.now())) {
		return apperr.New(apperr.KindInvalidInput, "startDate is in the past")
	}
	switch req.PaymentMethod {
	case "":
		req.PaymentMethod = db.PaymentMethodCard
	case db.PaymentMethodCard:
	case db.PaymentMethodMobileMoney:
		if req.RenterPhone == "" {
			return apperr.New(apperr.KindInvalidInput, "mobile money payments need a renter phone number")
		}
	default:
		return apperr.Newf(apperr.KindInvalidInput, "unsupported payment method %q", req.PaymentMethod)
	}
	return nil
}

// Transition checks the actor's permission and applies the event.
func (s *BookingService) Transition(ctx context.Context, reservationID string, req TransitionRequest) (*db.Reservation, error) {
	r, err := s.repo.GetByID(ctx, reservationID)
	if err != nil {
		return nil, apperr.Wrap("transition: load reservation", err)
	}
	if !s.perms.ActorCanTransition(ctx, req.Actor, r, req.Event) {
		return nil, apperr.Newf(apperr.KindUnauthorized, "actor may not apply %s to this reservation", req.Event)
	}
	out, err := s.machine.Apply(ctx, reservationID, req)
	if err != nil {
		return out, apperr.Wrap("transition "+string(req.Event), err)
	}
	return out, nil
}

// GetReservation returns a reservation visible to its renter, its owner or an admin.
func (s *BookingService) GetReservation(ctx context.Context, reservationID string, actor db.Actor) (*db.Reservation, error) {
	r, err := s.repo.GetByID(ctx, reservationID)
	if err != nil {
		return nil, apperr.Wrap("get reservation", err)
	}
	if actor.Role != db.RoleAdmin && actor.ID != r.RenterID && actor.ID != r.OwnerID {
		return nil, apperr.New(apperr.KindUnauthorized, "not a party to this reservation")
	}
	return r, nil
}

func (s *BookingService) ListVehicleReservations(ctx context.Context, vehicleID string) ([]db.Reservation, error) {
	out, err := s.repo.ListByVehicle(ctx, vehicleID)
	if err != nil {
		return nil, apperr.Wrap("list vehicle reservations", err)
	}
	return out, nil
}

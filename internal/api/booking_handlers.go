package api

import (
	"context"
	"net/http"
	"time"

	"drivehub/internal/auth"
	"drivehub/internal/db"
	"drivehub/internal/entities"
	apperr "drivehub/internal/errors"
	"drivehub/internal/service"
	"drivehub/internal/utils"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Bookings is the booking orchestrator as seen by the HTTP layer.
type Bookings interface {
	GetQuote(ctx context.Context, req service.QuoteRequest) (*service.QuoteResult, error)
	CreateReservation(ctx context.Context, req service.CreateReservationRequest) (*db.Reservation, error)
	GetReservation(ctx context.Context, id string, actor db.Actor) (*db.Reservation, error)
	Transition(ctx context.Context, id string, req service.TransitionRequest) (*db.Reservation, error)
	ListVehicleReservations(ctx context.Context, vehicleID string) ([]db.Reservation, error)
}

type BookingHandler struct {
	bookings Bookings
	logger   *zap.Logger
}

func NewBookingHandler(bookings Bookings, logger *zap.Logger) *BookingHandler {
	return &BookingHandler{bookings: bookings, logger: logger}
}

func (h *BookingHandler) Quote(w http.ResponseWriter, r *http.Request) {
	var req entities.QuoteRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	start, end, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	q, err := h.bookings.GetQuote(r.Context(), service.QuoteRequest{
		VehicleID:   req.VehicleID,
		StartDate:   start,
		EndDate:     end,
		OptionCodes: req.Options,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entities.QuoteResponse{
		VehicleID:      req.VehicleID,
		DayCount:       q.DayCount,
		Currency:       q.Currency,
		PriceBreakdown: q.Price,
	})
}

func (h *BookingHandler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, apperr.ErrUnauthenticated("missing actor"))
		return
	}
	var req entities.CreateReservationRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	start, end, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	res, err := h.bookings.CreateReservation(r.Context(), service.CreateReservationRequest{
		VehicleID:      req.VehicleID,
		RenterID:       actor.ID,
		StartDate:      start,
		EndDate:        end,
		OptionCodes:    req.Options,
		PickupLocation: req.PickupLocation,
		ReturnLocation: req.ReturnLocation,
		PaymentMethod:  db.PaymentMethod(req.PaymentMethod),
		RenterEmail:    req.Email,
		RenterPhone:    req.Phone,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, entities.NewReservationResponse(res))
}

func (h *BookingHandler) GetReservation(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	res, err := h.bookings.GetReservation(r.Context(), mux.Vars(r)["id"], actor)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entities.NewReservationResponse(res))
}

func (h *BookingHandler) Transition(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	var req entities.TransitionRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	res, err := h.bookings.Transition(r.Context(), mux.Vars(r)["id"], service.TransitionRequest{
		Event:            db.Event(req.Event),
		Actor:            actor,
		Reason:           req.Reason,
		PaymentReference: req.PaymentReference,
		Amount:           req.Amount,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entities.NewReservationResponse(res))
}

func parseRange(startRaw, endRaw string) (start, end time.Time, err error) {
	if start, err = utils.ParseDate("startDate", startRaw); err != nil {
		return
	}
	end, err = utils.ParseDate("endDate", endRaw)
	return
}

package entities

import (
	"time"

	"drivehub/internal/db"
	"drivehub/internal/utils"
)

type QuoteResponse struct {
	VehicleID string `json:"vehicleId"`
	DayCount  int    `json:"dayCount"`
	Currency  string `json:"currency"`
	db.PriceBreakdown
}

type ReservationResponse struct {
	ID                      string            `json:"id"`
	VehicleID               string            `json:"vehicleId"`
	RenterID                string            `json:"renterId"`
	OwnerID                 string            `json:"ownerId"`
	StartDate               string            `json:"startDate"`
	EndDate                 string            `json:"endDate"`
	DayCount                int               `json:"dayCount"`
	SelectedOptions         []string          `json:"selectedOptions"`
	Price                   db.PriceBreakdown `json:"price"`
	Currency                string            `json:"currency"`
	Status                  db.Status         `json:"status"`
	PaymentMethod           db.PaymentMethod  `json:"paymentMethod"`
	PaymentReference        string            `json:"paymentReference,omitempty"`
	PaymentReferenceHistory []string          `json:"paymentReferenceHistory,omitempty"`
	RetryCount              int               `json:"retryCount"`
	PickupLocation          string            `json:"pickupLocation,omitempty"`
	ReturnLocation          string            `json:"returnLocation,omitempty"`
	CancellationReason      string            `json:"cancellationReason,omitempty"`
	CreatedAt               time.Time         `json:"createdAt"`
	ConfirmedAt             *time.Time        `json:"confirmedAt,omitempty"`
	StartedAt               *time.Time        `json:"startedAt,omitempty"`
	CompletedAt             *time.Time        `json:"completedAt,omitempty"`
	CancelledAt             *time.Time        `json:"cancelledAt,omitempty"`
	PaymentFailedAt         *time.Time        `json:"paymentFailedAt,omitempty"`
	UpdatedAt               time.Time         `json:"updatedAt"`
}

func NewReservationResponse(r *db.Reservation) ReservationResponse {
	opts := r.SelectedOptions
	if opts == nil {
		opts = []string{}
	}
	return ReservationResponse{
		ID:                      r.ID,
		VehicleID:               r.VehicleID,
		RenterID:                r.RenterID,
		OwnerID:                 r.OwnerID,
		StartDate:               utils.FormatDate(r.StartDate),
		EndDate:                 utils.FormatDate(r.EndDate),
		DayCount:                r.DayCount,
		SelectedOptions:         opts,
		Price:                   r.Price,
		Currency:                r.Currency,
		Status:                  r.Status,
		PaymentMethod:           r.PaymentMethod,
		PaymentReference:        r.PaymentReference,
		PaymentReferenceHistory: r.PaymentReferenceHistory,
		RetryCount:              r.RetryCount,
		PickupLocation:          r.PickupLocation,
		ReturnLocation:          r.ReturnLocation,
		CancellationReason:      r.CancellationReason,
		CreatedAt:               r.CreatedAt,
		ConfirmedAt:             r.ConfirmedAt,
		StartedAt:               r.StartedAt,
		CompletedAt:             r.CompletedAt,
		CancelledAt:             r.CancelledAt,
		PaymentFailedAt:         r.PaymentFailedAt,
		UpdatedAt:               r.UpdatedAt,
	}
}

type ReservationsList struct {
	Total        int                   `json:"total"`
	Reservations []ReservationResponse `json:"reservations"`
}

func NewReservationsList(rs []db.Reservation) ReservationsList {
	out := ReservationsList{Total: len(rs), Reservations: make([]ReservationResponse, 0, len(rs))}
	for i := range rs {
		out.Reservations = append(out.Reservations, NewReservationResponse(&rs[i]))
	}
	return out
}

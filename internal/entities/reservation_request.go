package entities

type QuoteRequest struct {
	VehicleID string   `json:"vehicleId" validate:"required"`
	StartDate string   `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate   string   `json:"endDate" validate:"required,datetime=2006-01-02"`
	Options   []string `json:"options" validate:"dive,required"`
}

// CreateReservationRequest has no renter field; the renter is the token subject.
type CreateReservationRequest struct {
	VehicleID      string   `json:"vehicleId" validate:"required"`
	StartDate      string   `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate        string   `json:"endDate" validate:"required,datetime=2006-01-02"`
	Options        []string `json:"options" validate:"dive,required"`
	PickupLocation string   `json:"pickupLocation" validate:"max=200"`
	ReturnLocation string   `json:"returnLocation" validate:"max=200"`
	PaymentMethod  string   `json:"paymentMethod" validate:"omitempty,oneof=card mobile_money"`
	Email          string   `json:"email" validate:"omitempty,email"`
	Phone          string   `json:"phone" validate:"omitempty,e164"`
}

type TransitionRequest struct {
	Event            string `json:"event" validate:"required"`
	Reason           string `json:"reason" validate:"max=500"`
	PaymentReference string `json:"paymentReference"`
	Amount           int64  `json:"amount" validate:"gte=0"`
}

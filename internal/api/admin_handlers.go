package api

import (
	"net/http"

	"drivehub/internal/entities"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type AdminHandler struct {
	bookings Bookings
	logger   *zap.Logger
}

func NewAdminHandler(bookings Bookings, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{bookings: bookings, logger: logger}
}

func (h *AdminHandler) ListVehicleReservations(w http.ResponseWriter, r *http.Request) {
	list, err := h.bookings.ListVehicleReservations(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entities.NewReservationsList(list))
}

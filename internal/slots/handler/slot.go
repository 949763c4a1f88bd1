package handler

import (
	"net/http"

	"courtslots/internal/slots/service"
	httputil "courtslots/pkg/http"
	"courtslots/pkg/logger"
	"courtslots/pkg/model"

	"github.com/julienschmidt/httprouter"
)

const (
	bookingsPath      = "/api/v1/slots/bookings"
	cancellationsPath = "/api/v1/slots/cancellations"
	cancelBookingPath = "/api/v1/slots/bookings/:booking_id"
	snapshotPath      = "/api/v1/resources/:resource_id/dates/:date/slots"
)

type CancelBookingResponse struct {
	BookingID string `json:"bookingId"`
	Released  int    `json:"released"`
}

type SlotHandler struct {
	service service.BookingService
	log     *logger.Logger
}

func NewSlotHandler(service service.BookingService, log *logger.Logger) *SlotHandler {
	return &SlotHandler{
		service: service,
		log:     log,
	}
}

// Submit books the slots the caller currently holds.
func (h *SlotHandler) Submit(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID, err := httputil.UserID(r)
	if err != nil {
		h.writeError(w, "Submit", err)
		return
	}

	var req model.BookingRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.writeError(w, "Submit", err)
		return
	}

	result, err := h.service.Submit(r.Context(), userID, &req)
	if err != nil {
		h.writeError(w, "Submit", err)
		return
	}

	if err := httputil.WriteCreated(w, result); err != nil {
		h.log.Error("failed to write created response", "handler", "Submit", "operation", "WriteCreated", "error", err)
	}
}

// Cancel releases booked slots named in the body.
func (h *SlotHandler) Cancel(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req model.CancelRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.writeError(w, "Cancel", err)
		return
	}

	if err := h.service.Cancel(r.Context(), &req); err != nil {
		h.writeError(w, "Cancel", err)
		return
	}

	httputil.WriteNoContent(w)
}

// CancelBooking releases every slot recorded under a booking reference.
func (h *SlotHandler) CancelBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	bookingID := ps.ByName("booking_id")

	released, err := h.service.CancelBooking(r.Context(), bookingID)
	if err != nil {
		h.writeError(w, "CancelBooking", err)
		return
	}

	if err := httputil.WriteSuccess(w, CancelBookingResponse{BookingID: bookingID, Released: released}); err != nil {
		h.log.Error("failed to write success response", "handler", "CancelBooking", "operation", "WriteSuccess", "error", err)
	}
}

// Snapshot lists held and booked slots of a room, hiding the caller's own
// holds. The caller identity is optional here.
func (h *SlotHandler) Snapshot(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	room := model.RoomKey{
		ResourceID: ps.ByName("resource_id"),
		Date:       ps.ByName("date"),
	}
	userID, _ := httputil.UserID(r)

	locks, err := h.service.Snapshot(r.Context(), room, userID)
	if err != nil {
		h.writeError(w, "Snapshot", err)
		return
	}

	if err := httputil.WriteSuccess(w, locks); err != nil {
		h.log.Error("failed to write success response", "handler", "Snapshot", "operation", "WriteSuccess", "error", err)
	}
}

func (h *SlotHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}

func (h *SlotHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST(bookingsPath, h.Submit)
	router.DELETE(cancelBookingPath, h.CancelBooking)
	router.POST(cancellationsPath, h.Cancel)
	router.GET(snapshotPath, h.Snapshot)
}

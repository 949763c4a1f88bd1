package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	slotserrors "courtslots/internal/slots/errors"
	"courtslots/internal/slots/validator"
	"courtslots/pkg/config"
	apperrors "courtslots/pkg/errors"
	"courtslots/pkg/model"
	"courtslots/pkg/sanitizer"
)

const compensationTimeout = 10 * time.Second

// BookingConfirmer is the external booking service. CreateBooking must
// durably record the booking before it reports success.
type BookingConfirmer interface {
	CreateBooking(ctx context.Context, req *model.BookingRequest) (*model.BookingResult, error)
	CancelBooking(ctx context.Context, bookingID string) error
}

type SlotManager interface {
	HeldBy(room model.RoomKey, timeSlots []string, userID string) error
	Confirm(ctx context.Context, room model.RoomKey, timeSlots []string, bookingRef, holder string) error
	Release(ctx context.Context, room model.RoomKey, timeSlots []string, bookingRef string) error
	Snapshot(room model.RoomKey, requesterID string) []model.SlotLock
}

// BookingRefLookup finds the booked slots that belong to a booking.
type BookingRefLookup interface {
	FindByBookingRef(ctx context.Context, bookingRef string) ([]model.SlotLock, error)
}

type BookingService interface {
	Submit(ctx context.Context, userID string, req *model.BookingRequest) (*model.BookingResult, error)
	Cancel(ctx context.Context, req *model.CancelRequest) error
	CancelBooking(ctx context.Context, bookingRef string) (int, error)
	Snapshot(ctx context.Context, room model.RoomKey, userID string) ([]model.SlotLock, error)
}

type bookingService struct {
	manager   SlotManager
	confirmer BookingConfirmer
	lookup    BookingRefLookup
	validator *validator.SlotValidator
	cfg       *config.Config
}

func NewBookingService(
	manager SlotManager,
	confirmer BookingConfirmer,
	lookup BookingRefLookup,
	validator *validator.SlotValidator,
	cfg *config.Config,
) BookingService {
	return &bookingService{
		manager:   manager,
		confirmer: confirmer,
		lookup:    lookup,
		validator: validator,
		cfg:       cfg,
	}
}

// Submit books slots the user holds. The booking service is only called
// while every hold is live; if the holds vanish between that call and the
// confirm, the booking is cancelled again and HOLD_EXPIRED is returned.
// Any other failure leaves the holds in place so the user can retry.
func (s *bookingService) Submit(ctx context.Context, userID string, req *model.BookingRequest) (*model.BookingResult, error) {
	if userID == "" {
		return nil, apperrors.Unauthorized("Missing user identity")
	}
	sanitizer.SanitizeBooking(req)
	if err := s.validator.ValidateBooking(req); err != nil {
		s.cfg.Log.Warn("Booking validation failed", "user_id", userID, "error", err)
		return nil, apperrors.Validation("Booking validation failed", map[string]any{"error": err.Error()})
	}

	room := req.Room()
	if err := s.manager.HeldBy(room, req.TimeSlots, userID); err != nil {
		s.cfg.Log.Info("Booking rejected, holds not owned",
			"user_id", userID,
			"room", room.String(),
			"error", err,
		)
		return nil, holdError(err)
	}

	result, err := s.confirmer.CreateBooking(ctx, req)
	if err != nil {
		s.cfg.Log.Error("Booking service call failed", "user_id", userID, "room", room.String(), "error", err)
		return nil, apperrors.BookingFailed("Booking could not be created, your slots are still held", err)
	}
	if !result.Success {
		s.cfg.Log.Warn("Booking service declined booking", "user_id", userID, "room", room.String())
		return nil, apperrors.BookingFailed("Booking was declined, your slots are still held", nil)
	}

	if err := s.manager.Confirm(ctx, room, req.TimeSlots, result.BookingID, userID); err != nil {
		s.compensate(ctx, result.BookingID, err)
		if errors.Is(err, slotserrors.ErrHoldExpired) {
			return nil, apperrors.HoldExpired(err)
		}
		return nil, apperrors.Internal("Failed to confirm booked slots", err)
	}

	s.cfg.Log.Info("Booking confirmed",
		"booking_id", result.BookingID,
		"user_id", userID,
		"resource_id", req.ResourceID,
		"date", req.Date,
		"time_slots", req.TimeSlots,
	)
	return result, nil
}

// compensate cancels a booking whose slots could not be confirmed. It runs
// detached from the request so a client hang-up cannot skip it.
func (s *bookingService) compensate(ctx context.Context, bookingID string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if err := s.confirmer.CancelBooking(ctx, bookingID); err != nil {
		s.cfg.Log.Error("Failed to cancel unconfirmed booking, needs manual reconciliation",
			"booking_id", bookingID,
			"cause", cause,
			"error", err,
		)
		return
	}
	s.cfg.Log.Warn("Cancelled booking whose slots could not be confirmed",
		"booking_id", bookingID,
		"cause", cause,
	)
}

func (s *bookingService) Cancel(ctx context.Context, req *model.CancelRequest) error {
	sanitizer.SanitizeCancel(req)
	if err := s.validator.ValidateCancel(req); err != nil {
		return apperrors.Validation("Cancellation validation failed", map[string]any{"error": err.Error()})
	}

	if err := s.manager.Release(ctx, req.Room(), req.TimeSlots, req.BookingID); err != nil {
		s.cfg.Log.Error("Failed to release booked slots", "room", req.Room().String(), "error", err)
		return apperrors.Internal("Failed to release booked slots", err)
	}
	return nil
}

// CancelBooking releases every slot recorded under bookingRef. It returns
// how many slots were released.
func (s *bookingService) CancelBooking(ctx context.Context, bookingRef string) (int, error) {
	if bookingRef == "" {
		return 0, apperrors.InvalidInput("Booking ID cannot be empty")
	}
	if s.lookup == nil {
		return 0, apperrors.Unavailable("booked slot storage")
	}

	locks, err := s.lookup.FindByBookingRef(ctx, bookingRef)
	if err != nil {
		return 0, apperrors.Internal("Failed to look up booked slots", err)
	}

	byRoom := make(map[model.RoomKey][]string)
	var rooms []model.RoomKey
	for _, l := range locks {
		room := l.Key.Room()
		if _, ok := byRoom[room]; !ok {
			rooms = append(rooms, room)
		}
		byRoom[room] = append(byRoom[room], l.Key.TimeSlot)
	}

	released := 0
	for _, room := range rooms {
		if err := s.manager.Release(ctx, room, byRoom[room], bookingRef); err != nil {
			return released, apperrors.Internal("Failed to release booked slots", err)
		}
		released += len(byRoom[room])
	}

	s.cfg.Log.Info("Booking cancellation applied", "booking_id", bookingRef, "released", released)
	return released, nil
}

func (s *bookingService) Snapshot(ctx context.Context, room model.RoomKey, userID string) ([]model.SlotLock, error) {
	if err := s.validator.ValidateRoom(room, false); err != nil {
		return nil, apperrors.Validation("Invalid room", map[string]any{"error": err.Error()})
	}
	return s.manager.Snapshot(room, userID), nil
}

func holdError(err error) error {
	switch {
	case errors.Is(err, slotserrors.ErrAlreadyBooked):
		return apperrors.Wrap(err, apperrors.CodeAlreadyBooked, "One or more slots are already booked", http.StatusConflict)
	case errors.Is(err, slotserrors.ErrHoldExpired):
		return apperrors.HoldExpired(err)
	default:
		return apperrors.Internal("Failed to verify holds", err)
	}
}

package events

import (
	"context"

	apperrors "courtslots/pkg/errors"
	"courtslots/pkg/kafka"
	"courtslots/pkg/logger"
	"courtslots/pkg/model"
)

// BookingCancelled is published by the booking service when a confirmed
// booking is cancelled. Without slot details the booked slots are found by
// booking reference.
type BookingCancelled struct {
	BookingID  string   `json:"bookingId"`
	ResourceID string   `json:"resourceId,omitempty"`
	Date       string   `json:"date,omitempty"`
	TimeSlots  []string `json:"timeSlots,omitempty"`
}

type Canceller interface {
	Cancel(ctx context.Context, req *model.CancelRequest) error
	CancelBooking(ctx context.Context, bookingRef string) (int, error)
}

func CancellationHandler(svc Canceller, log *logger.Logger) kafka.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		var ev BookingCancelled
		if err := msg.DecodeValue(&ev); err != nil {
			return kafka.NewPermanentError("deserialization failed", err)
		}

		if len(ev.TimeSlots) == 0 {
			released, err := svc.CancelBooking(ctx, ev.BookingID)
			if err != nil {
				return classify(err)
			}
			log.Info("Released slots of cancelled booking", "booking_id", ev.BookingID, "released", released)
			return nil
		}

		err := svc.Cancel(ctx, &model.CancelRequest{
			ResourceID: ev.ResourceID,
			Date:       ev.Date,
			TimeSlots:  ev.TimeSlots,
			BookingID:  ev.BookingID,
		})
		if err != nil {
			return classify(err)
		}
		log.Info("Released slots of cancelled booking",
			"booking_id", ev.BookingID,
			"resource_id", ev.ResourceID,
			"date", ev.Date,
			"time_slots", ev.TimeSlots,
		)
		return nil
	}
}

// classify makes bad input permanent and everything else retryable.
func classify(err error) error {
	if apperrors.HasCode(err, apperrors.CodeValidation) || apperrors.HasCode(err, apperrors.CodeInvalidInput) {
		return kafka.NewPermanentError("invalid booking cancellation", err)
	}
	return kafka.NewTransientError("release booked slots", err)
}

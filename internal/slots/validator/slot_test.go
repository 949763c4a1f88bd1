package validator

import (
	"errors"
	"strings"
	"testing"
	"time"

	"courtslots/pkg/logger"
	"courtslots/pkg/model"
)

func newTestValidator() *SlotValidator {
	log := logger.New(logger.Config{
		Level:   "error",
		Format:  logger.JSON,
		Service: "test",
	})
	return NewSlotValidator(log, func(resourceID string) time.Duration {
		if resourceID == "half-court" {
			return 30 * time.Minute
		}
		return time.Hour
	})
}

func validBooking() *model.BookingRequest {
	return &model.BookingRequest{
		ResourceID: "C1",
		Date:       "2025-03-10",
		TimeSlots:  []string{"18:00-19:00", "19:00-20:00"},
		ContactInfo: model.ContactInfo{
			Name:  "Dana Levi",
			Phone: "+972541234567",
			Email: "dana@example.com",
		},
		Pricing: model.Pricing{Amount: 12000, Currency: "ILS"},
	}
}

func TestValidateBooking(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name      string
		mutate    func(*model.BookingRequest)
		wantError string
	}{
		{"valid", func(r *model.BookingRequest) {}, ""},
		{"missing resource", func(r *model.BookingRequest) { r.ResourceID = "" }, "ResourceID is required"},
		{"non canonical date", func(r *model.BookingRequest) { r.Date = "2025-3-10" }, "YYYY-MM-DD"},
		{"no slots", func(r *model.BookingRequest) { r.TimeSlots = nil }, "TimeSlots is required"},
		{"duplicate slots", func(r *model.BookingRequest) { r.TimeSlots = []string{"18:00-19:00", "18:00-19:00"} }, "duplicates"},
		{"malformed slot", func(r *model.BookingRequest) { r.TimeSlots = []string{"6pm"} }, "HH:MM-HH:MM"},
		{"misaligned slot", func(r *model.BookingRequest) { r.TimeSlots = []string{"18:30-19:30"} }, "not aligned"},
		{"bad phone", func(r *model.BookingRequest) { r.ContactInfo.Phone = "054-1234567" }, "E.164"},
		{"bad currency", func(r *model.BookingRequest) { r.Pricing.Currency = "shekel" }, "ISO 4217"},
		{"half hour court", func(r *model.BookingRequest) {
			r.ResourceID = "half-court"
			r.TimeSlots = []string{"18:30-19:00"}
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validBooking()
			tt.mutate(req)
			err := v.ValidateBooking(req)

			if tt.wantError == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantError)
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}
			if !strings.Contains(err.Error(), tt.wantError) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantError)
			}
		})
	}
}

func TestValidateRoom(t *testing.T) {
	v := newTestValidator()

	if err := v.ValidateRoom(model.RoomKey{ResourceID: "C1", Date: "2025-03-10"}, false); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := v.ValidateRoom(model.RoomKey{ResourceID: "C1"}, true); err != nil {
		t.Errorf("resource-only room should be allowed: %v", err)
	}
	if err := v.ValidateRoom(model.RoomKey{ResourceID: "C1"}, false); err == nil {
		t.Error("expected date to be required")
	}
	if err := v.ValidateRoom(model.RoomKey{Date: "2025-03-10"}, false); err == nil {
		t.Error("expected resourceId to be required")
	}
}

func TestValidateSlotKey(t *testing.T) {
	v := newTestValidator()

	if err := v.ValidateSlotKey(model.SlotKey{ResourceID: "C1", Date: "2025-03-10", TimeSlot: "23:00-24:00"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := v.ValidateSlotKey(model.SlotKey{ResourceID: "C1", Date: "2025-03-10", TimeSlot: "18:00-18:30"}); err == nil {
		t.Error("half hour slot on an hourly court should fail")
	}
}

func TestValidateCancel(t *testing.T) {
	v := newTestValidator()

	err := v.ValidateCancel(&model.CancelRequest{ResourceID: "C1", Date: "2025-03-10", TimeSlots: []string{"18:00-19:00"}, BookingID: "bk-1"})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := v.ValidateCancel(&model.CancelRequest{ResourceID: "C1", Date: "2025-03-10"}); err == nil {
		t.Error("expected TimeSlots to be required")
	}
}

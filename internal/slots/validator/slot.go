package validator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"courtslots/pkg/logger"
	"courtslots/pkg/model"

	"github.com/go-playground/validator/v10"
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var messages []string
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

// GranularityFunc returns the slot length configured for a resource.
type GranularityFunc func(resourceID string) time.Duration

type SlotValidator struct {
	validate    *validator.Validate
	granularity GranularityFunc
	logger      *logger.Logger
}

func NewSlotValidator(log *logger.Logger, granularity GranularityFunc) *SlotValidator {
	v := validator.New()

	if err := v.RegisterValidation("slot_date", validateSlotDate); err != nil {
		log.Fatal("Failed to register 'slot_date' validator", "error", err)
	}
	if err := v.RegisterValidation("time_slot", validateTimeSlotFormat); err != nil {
		log.Fatal("Failed to register 'time_slot' validator", "error", err)
	}

	log.Info("Slot validator initialized successfully")

	return &SlotValidator{
		validate:    v,
		granularity: granularity,
		logger:      log,
	}
}

func validateSlotDate(fl validator.FieldLevel) bool {
	_, err := model.ParseDate(fl.Field().String())
	return err == nil
}

// validateTimeSlotFormat checks shape only. Alignment depends on the
// resource and is checked by checkGranularity.
func validateTimeSlotFormat(fl validator.FieldLevel) bool {
	_, err := model.ParseTimeSlot(fl.Field().String(), 0)
	return err == nil
}

func (v *SlotValidator) ValidateBooking(req *model.BookingRequest) error {
	if err := v.validate.Struct(req); err != nil {
		return v.translate(err)
	}
	return v.checkGranularity(req.ResourceID, req.TimeSlots)
}

func (v *SlotValidator) ValidateCancel(req *model.CancelRequest) error {
	if err := v.validate.Struct(req); err != nil {
		return v.translate(err)
	}
	return v.checkGranularity(req.ResourceID, req.TimeSlots)
}

// ValidateRoom checks a resource and date pair. An empty date is allowed
// when allowResourceOnly is set, addressing the resource-wide room.
func (v *SlotValidator) ValidateRoom(room model.RoomKey, allowResourceOnly bool) error {
	var errs ValidationErrors
	if strings.TrimSpace(room.ResourceID) == "" {
		errs = append(errs, ValidationError{Field: "resourceId", Message: "resourceId is required"})
	} else if len(room.ResourceID) > 128 {
		errs = append(errs, ValidationError{Field: "resourceId", Message: "resourceId must be at most 128 characters"})
	}

	if room.Date == "" && !allowResourceOnly {
		errs = append(errs, ValidationError{Field: "date", Message: "date is required"})
	} else if room.Date != "" {
		if _, err := model.ParseDate(room.Date); err != nil {
			errs = append(errs, ValidationError{Field: "date", Message: "date must be YYYY-MM-DD"})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (v *SlotValidator) ValidateSlotKey(key model.SlotKey) error {
	if err := v.ValidateRoom(key.Room(), false); err != nil {
		return err
	}
	return v.checkGranularity(key.ResourceID, []string{key.TimeSlot})
}

func (v *SlotValidator) checkGranularity(resourceID string, timeSlots []string) error {
	granularity := v.granularity(resourceID)

	var errs ValidationErrors
	for _, ts := range timeSlots {
		if _, err := model.ParseTimeSlot(ts, granularity); err != nil {
			errs = append(errs, ValidationError{Field: "timeSlot", Message: err.Error()})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (v *SlotValidator) translate(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	var out ValidationErrors
	for _, fe := range validationErrs {
		message := fe.Error()

		switch fe.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", fe.Field())
		case "min":
			message = fmt.Sprintf("%s must have at least %s item(s) or characters", fe.Field(), fe.Param())
		case "max":
			message = fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
		case "e164":
			message = fmt.Sprintf("%s must be in E.164 format (e.g., +972501234567)", fe.Field())
		case "email":
			message = fmt.Sprintf("%s must be a valid email address", fe.Field())
		case "iso4217":
			message = fmt.Sprintf("%s must be an ISO 4217 currency code", fe.Field())
		case "unique":
			message = fmt.Sprintf("%s must not contain duplicates", fe.Field())
		case "slot_date":
			message = fmt.Sprintf("%s must be a calendar date in YYYY-MM-DD form", fe.Field())
		case "time_slot":
			message = fmt.Sprintf("%s must be HH:MM-HH:MM", fe.Field())
		}

		out = append(out, ValidationError{
			Field:   fe.Field(),
			Message: message,
		})
	}
	return out
}

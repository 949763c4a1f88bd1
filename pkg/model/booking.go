package model

// ContactInfo is forwarded to the booking service once normalized.
type ContactInfo struct {
	Name  string `json:"name" validate:"required,min=2,max=100"`
	Phone string `json:"phone" validate:"required,e164"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
}

type Pricing struct {
	Amount   int64  `json:"amount" validate:"min=0"`
	Currency string `json:"currency" validate:"required,iso4217"`
}

// BookingRequest is what a user submits for the slots they hold, and also
// the body sent to the booking confirmation service.
type BookingRequest struct {
	ResourceID  string      `json:"resourceId" validate:"required,max=128"`
	Date        string      `json:"date" validate:"required,slot_date"`
	TimeSlots   []string    `json:"timeSlots" validate:"required,min=1,max=48,unique,dive,time_slot"`
	ContactInfo ContactInfo `json:"contactInfo"`
	Pricing     Pricing     `json:"pricing"`
}

func (r *BookingRequest) Room() RoomKey {
	return RoomKey{ResourceID: r.ResourceID, Date: r.Date}
}

type BookingResult struct {
	Success   bool   `json:"success"`
	BookingID string `json:"bookingId,omitempty"`
}

// CancelRequest releases booked slots after the booking was cancelled
// outside this service.
type CancelRequest struct {
	ResourceID string   `json:"resourceId" validate:"required,max=128"`
	Date       string   `json:"date" validate:"required,slot_date"`
	TimeSlots  []string `json:"timeSlots" validate:"required,min=1,max=48,unique,dive,time_slot"`
	BookingID  string   `json:"bookingId,omitempty" validate:"omitempty,max=128"`
}

func (r *CancelRequest) Room() RoomKey {
	return RoomKey{ResourceID: r.ResourceID, Date: r.Date}
}

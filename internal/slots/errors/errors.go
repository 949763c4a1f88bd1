package errors

import "errors"

var (
	ErrAlreadyLocked = errors.New("slot already locked")

	ErrAlreadyBooked = errors.New("slot already booked")

	// ErrHoldExpired means a confirm referenced a slot whose lock no longer
	// exists (or belongs to someone else). The caller must re-lock.
	ErrHoldExpired = errors.New("hold expired")

	ErrMissingUser = errors.New("user identity is required")

	ErrInvalidSlot = errors.New("invalid slot")
)

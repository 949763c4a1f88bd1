package realtime

import (
	"errors"
	"fmt"

	"courtslots/pkg/protocol"
)

var (
	ErrAlreadyLocked  = errors.New("slot is held by another user")
	ErrAlreadyBooked  = errors.New("slot is already booked")
	ErrRateLimited    = errors.New("too many lock requests")
	ErrInvalidRequest = errors.New("request rejected as invalid")
	ErrServer         = errors.New("server failed to handle request")
)

// RequestError is an error reply from the server.
type RequestError struct {
	Event  string
	Reason string
	Detail string
}

func (e *RequestError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Event, e.Reason, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Event, e.Reason)
}

func (e *RequestError) Unwrap() error {
	switch e.Reason {
	case protocol.ReasonAlreadyLocked:
		return ErrAlreadyLocked
	case protocol.ReasonAlreadyBooked:
		return ErrAlreadyBooked
	case protocol.ReasonRateLimited:
		return ErrRateLimited
	case protocol.ReasonInvalidRequest:
		return ErrInvalidRequest
	default:
		return ErrServer
	}
}

// IsContention reports whether err means another user got the slot first.
func IsContention(err error) bool {
	return errors.Is(err, ErrAlreadyLocked) || errors.Is(err, ErrAlreadyBooked)
}

package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestWrap(t *testing.T) {
	originalErr := errors.New("mongo write failed")
	wrapped := Wrap(originalErr, CodeInternal, "internal error", http.StatusInternalServerError)

	if wrapped.Err != originalErr {
		t.Errorf("expected wrapped error to contain original error")
	}
	if errors.Unwrap(wrapped) != originalErr {
		t.Errorf("Unwrap() should return original error")
	}
}

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name:     "without underlying error",
			appErr:   &AppError{Code: CodeAlreadyLocked, Message: "held"},
			expected: "ALREADY_LOCKED: held",
		},
		{
			name:     "with underlying error",
			appErr:   &AppError{Code: CodeHoldExpired, Message: "expired", Err: errors.New("18:00-19:00")},
			expected: "HOLD_EXPIRED: expired (caused by: 18:00-19:00)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appErr.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestContentionConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		code   string
		status int
	}{
		{"already locked", AlreadyLocked("18:00-19:00"), CodeAlreadyLocked, http.StatusConflict},
		{"already booked", AlreadyBooked("18:00-19:00"), CodeAlreadyBooked, http.StatusConflict},
		{"hold expired", HoldExpired(nil), CodeHoldExpired, http.StatusConflict},
		{"rate limited", RateLimited("slow down"), CodeRateLimited, http.StatusTooManyRequests},
		{"booking failed", BookingFailed("upstream", nil), CodeBookingFailed, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, tt.err.Code)
			}
			if tt.err.StatusCode() != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, tt.err.StatusCode())
			}
		})
	}
}

func TestHasCode_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("submit: %w", HoldExpired(errors.New("gone")))

	if !HasCode(err, CodeHoldExpired) {
		t.Errorf("HasCode() should see through fmt.Errorf wrapping")
	}
	if HasCode(err, CodeAlreadyLocked) {
		t.Errorf("HasCode() matched the wrong code")
	}
	if HasCode(errors.New("plain"), CodeHoldExpired) {
		t.Errorf("HasCode() should be false for non-AppError")
	}
}

func TestAsAppError(t *testing.T) {
	appErr := NotFound("Slot")
	regularErr := errors.New("regular error")

	if AsAppError(appErr) != appErr {
		t.Errorf("AsAppError() should return same AppError")
	}
	if AsAppError(fmt.Errorf("ctx: %w", appErr)) != appErr {
		t.Errorf("AsAppError() should unwrap wrapped AppError")
	}

	result := AsAppError(regularErr)
	if result.Code != CodeInternal {
		t.Errorf("AsAppError() should wrap regular error as internal error")
	}
	if result.Err != regularErr {
		t.Errorf("AsAppError() should wrap the original error")
	}
}

func TestAppError_ToJSON(t *testing.T) {
	body := string(AlreadyBooked("18:00-19:00").ToJSON())

	if !strings.Contains(body, CodeAlreadyBooked) {
		t.Errorf("ToJSON() should contain error code, got %s", body)
	}
	if !strings.Contains(body, "18:00-19:00") {
		t.Errorf("ToJSON() should contain details, got %s", body)
	}
}

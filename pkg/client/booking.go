package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	apperrors "courtslots/pkg/errors"
	"courtslots/pkg/model"

	"github.com/google/uuid"
)

const (
	bookingsPath = "/api/v1/bookings"
	headerIdem   = "Idempotency-Key"
)

// BookingClient talks to the external booking confirmation service.
type BookingClient struct {
	httpClient *HttpClient
}

func NewBookingClient(baseURL string, timeout time.Duration) *BookingClient {
	return &BookingClient{
		httpClient: NewHttpClient(baseURL, timeout),
	}
}

// CreateBooking asks the booking service to durably record a booking. A
// transport failure or a non-2xx status is returned as an error; a 2xx
// answer with success=false is returned as a result.
func (c *BookingClient) CreateBooking(ctx context.Context, req *model.BookingRequest) (*model.BookingResult, error) {
	resp, err := c.httpClient.POST(ctx, bookingsPath, req, map[string]string{
		headerIdem: uuid.NewString(),
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "booking service is temporarily unavailable", http.StatusServiceUnavailable)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("booking service returned %d: %w", resp.StatusCode, AsAppError(resp))
	}

	var result model.BookingResult
	if err := resp.DecodeJSON(&result); err != nil {
		return nil, fmt.Errorf("could not decode booking result: %w", err)
	}
	return &result, nil
}

// CancelBooking undoes a booking whose slots could not be confirmed. A
// booking that is already gone counts as cancelled.
func (c *BookingClient) CancelBooking(ctx context.Context, bookingID string) error {
	resp, err := c.httpClient.DELETE(ctx, bookingsPath+"/id/"+url.PathEscape(bookingID), nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeUnavailable, "booking service is temporarily unavailable", http.StatusServiceUnavailable)
	}
	if resp.IsSuccess() || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return fmt.Errorf("booking service returned %d: %w", resp.StatusCode, AsAppError(resp))
}

package client

import (
	"context"
	"net/url"
	"time"

	"courtslots/pkg/model"
)

const (
	slotBookingsPath = "/api/v1/slots/bookings"
	headerUserID     = "X-User-ID"
)

// SlotsClient calls this service's own HTTP API on behalf of one user.
type SlotsClient struct {
	httpClient *HttpClient
	userID     string
}

func NewSlotsClient(baseURL, userID string, timeout time.Duration) *SlotsClient {
	return &SlotsClient{
		httpClient: NewHttpClient(baseURL, timeout),
		userID:     userID,
	}
}

// Book submits held slots. Server errors come back as *errors.AppError so
// the caller can tell HOLD_EXPIRED apart from a retryable failure.
func (c *SlotsClient) Book(ctx context.Context, req *model.BookingRequest) (*model.BookingResult, error) {
	resp, err := c.httpClient.POST(ctx, slotBookingsPath, req, c.headers())
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, AsAppError(resp)
	}

	var result model.BookingResult
	if err := resp.DecodeData(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Snapshot fetches the current holds and bookings of a room over HTTP.
func (c *SlotsClient) Snapshot(ctx context.Context, room model.RoomKey) ([]model.SlotLock, error) {
	path := "/api/v1/resources/" + url.PathEscape(room.ResourceID) + "/dates/" + url.PathEscape(room.Date) + "/slots"
	resp, err := c.httpClient.GET(ctx, path, c.headers())
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, AsAppError(resp)
	}

	var locks []model.SlotLock
	if err := resp.DecodeData(&locks); err != nil {
		return nil, err
	}
	return locks, nil
}

func (c *SlotsClient) headers() map[string]string {
	return map[string]string{headerUserID: c.userID}
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "courtslots/pkg/errors"
	httputil "courtslots/pkg/http"
	"courtslots/pkg/logger"
	"courtslots/pkg/model"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type mockBookingService struct {
	submitFunc        func(ctx context.Context, userID string, req *model.BookingRequest) (*model.BookingResult, error)
	cancelFunc        func(ctx context.Context, req *model.CancelRequest) error
	cancelBookingFunc func(ctx context.Context, ref string) (int, error)
	snapshotFunc      func(ctx context.Context, room model.RoomKey, userID string) ([]model.SlotLock, error)
}

func (m *mockBookingService) Submit(ctx context.Context, userID string, req *model.BookingRequest) (*model.BookingResult, error) {
	return m.submitFunc(ctx, userID, req)
}

func (m *mockBookingService) Cancel(ctx context.Context, req *model.CancelRequest) error {
	return m.cancelFunc(ctx, req)
}

func (m *mockBookingService) CancelBooking(ctx context.Context, ref string) (int, error) {
	return m.cancelBookingFunc(ctx, ref)
}

func (m *mockBookingService) Snapshot(ctx context.Context, room model.RoomKey, userID string) ([]model.SlotLock, error) {
	return m.snapshotFunc(ctx, room, userID)
}

func newRouter(svc *mockBookingService) *httprouter.Router {
	router := httprouter.New()
	NewSlotHandler(svc, logger.Discard()).RegisterRoutes(router)
	return router
}

func serve(router http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(httputil.HeaderUserID, user)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

const bookingBody = `{
	"resourceId": "C1",
	"date": "2025-03-10",
	"timeSlots": ["18:00-19:00"],
	"contactInfo": {"name": "Dana Levi", "phone": "+972501234567"},
	"pricing": {"amount": 12000, "currency": "ILS"}
}`

func TestSubmit_Created(t *testing.T) {
	var gotUser string
	var gotReq *model.BookingRequest
	router := newRouter(&mockBookingService{
		submitFunc: func(ctx context.Context, userID string, req *model.BookingRequest) (*model.BookingResult, error) {
			gotUser, gotReq = userID, req
			return &model.BookingResult{Success: true, BookingID: "bk-1"}, nil
		},
	})

	rec := serve(router, http.MethodPost, "/api/v1/slots/bookings", "alice", bookingBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"data":{"success":true,"bookingId":"bk-1"}}`, rec.Body.String())
	assert.Equal(t, "alice", gotUser)
	assert.Equal(t, []string{"18:00-19:00"}, gotReq.TimeSlots)
	assert.Equal(t, "ILS", gotReq.Pricing.Currency)
}

func TestSubmit_Errors(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		body     string
		err      error
		wantCode int
		wantErr  string
	}{
		{name: "missing user", body: bookingBody, wantCode: http.StatusUnauthorized, wantErr: apperrors.CodeUnauthorized},
		{name: "malformed body", user: "alice", body: `{"resourceId":`, wantCode: http.StatusBadRequest, wantErr: apperrors.CodeInvalidInput},
		{name: "unknown field", user: "alice", body: `{"resource":"C1"}`, wantCode: http.StatusBadRequest, wantErr: apperrors.CodeInvalidInput},
		{name: "hold expired", user: "alice", body: bookingBody, err: apperrors.HoldExpired(errors.New("gone")), wantCode: http.StatusConflict, wantErr: apperrors.CodeHoldExpired},
		{name: "booking failed", user: "alice", body: bookingBody, err: apperrors.BookingFailed("down", nil), wantCode: http.StatusBadGateway, wantErr: apperrors.CodeBookingFailed},
		{name: "plain error", user: "alice", body: bookingBody, err: errors.New("boom"), wantCode: http.StatusInternalServerError, wantErr: apperrors.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter(&mockBookingService{
				submitFunc: func(ctx context.Context, userID string, req *model.BookingRequest) (*model.BookingResult, error) {
					return nil, tt.err
				},
			})
			rec := serve(router, http.MethodPost, "/api/v1/slots/bookings", tt.user, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)

			var body httputil.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantErr, body.Code)
		})
	}
}

func TestCancel(t *testing.T) {
	var got *model.CancelRequest
	router := newRouter(&mockBookingService{
		cancelFunc: func(ctx context.Context, req *model.CancelRequest) error {
			got = req
			return nil
		},
	})

	rec := serve(router, http.MethodPost, "/api/v1/slots/cancellations", "",
		`{"resourceId":"C1","date":"2025-03-10","timeSlots":["18:00-19:00"],"bookingId":"bk-1"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "bk-1", got.BookingID)
}

func TestCancelBooking(t *testing.T) {
	router := newRouter(&mockBookingService{
		cancelBookingFunc: func(ctx context.Context, ref string) (int, error) {
			if ref != "bk-1" {
				return 0, apperrors.NotFound("booking")
			}
			return 2, nil
		},
	})

	rec := serve(router, http.MethodDelete, "/api/v1/slots/bookings/bk-1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"bookingId":"bk-1","released":2}}`, rec.Body.String())

	rec = serve(router, http.MethodDelete, "/api/v1/slots/bookings/other", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSnapshot(t *testing.T) {
	var gotRoom model.RoomKey
	var gotUser string
	router := newRouter(&mockBookingService{
		snapshotFunc: func(ctx context.Context, room model.RoomKey, userID string) ([]model.SlotLock, error) {
			gotRoom, gotUser = room, userID
			return []model.SlotLock{{
				Key:   room.Slot("18:00-19:00"),
				State: model.SlotBooked,
			}}, nil
		},
	})

	rec := serve(router, http.MethodGet, "/api/v1/resources/C1/dates/2025-03-10/slots", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.RoomKey{ResourceID: "C1", Date: "2025-03-10"}, gotRoom)
	assert.Equal(t, "bob", gotUser)

	var body struct {
		Data []model.SlotLock `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, model.SlotBooked, body.Data[0].State)

	rec = serve(router, http.MethodGet, "/api/v1/resources/C1/dates/2025-03-10/slots", "", "")
	assert.Equal(t, http.StatusOK, rec.Code, "anonymous callers can read a room")
	assert.Empty(t, gotUser)
}

type mockPinger struct{ err error }

func (m *mockPinger) Ping(ctx context.Context, rp *readpref.ReadPref) error { return m.err }

type fixedConns int

func (f fixedConns) Connections() int { return int(f) }

func TestHealth(t *testing.T) {
	router := httprouter.New()
	NewHealthHandler(&mockPinger{}, fixedConns(3), logger.Discard()).RegisterRoutes(router)

	rec := serve(router, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","connections":3}`, rec.Body.String())

	rec = serve(router, http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","database":"ok"}`, rec.Body.String())
}

func TestReady_DatabaseDown(t *testing.T) {
	router := httprouter.New()
	NewHealthHandler(&mockPinger{err: errors.New("no reachable servers")}, nil, logger.Discard()).RegisterRoutes(router)

	rec := serve(router, http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable","database":"error"}`, rec.Body.String())
}

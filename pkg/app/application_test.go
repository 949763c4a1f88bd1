package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"courtslots/pkg/config"
	"courtslots/pkg/contracts"
	"courtslots/pkg/logger"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:             "8080",
		RequestTimeout:   50 * time.Millisecond,
		IdempotencyTTL:   time.Minute,
		MaxRequestSize:   1024,
		ShutdownTimeout:  time.Second,
		BookingRateLimit: 100,
		BookingRateBurst: 100,
		Log:              logger.Discard(),
	}
}

type routes func(*httprouter.Router)

func (r routes) RegisterRoutes(router *httprouter.Router) { r(router) }

func newTestApp(t *testing.T, realtime http.Handler) *Application {
	t.Helper()
	a := NewApplication(testConfig())
	a.SetApp(
		routes(func(r *httprouter.Router) {
			r.POST("/api/v1/echo", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
				w.WriteHeader(http.StatusCreated)
			})
			r.GET("/api/v1/slow", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
				<-r.Context().Done()
			})
		}),
		routes(func(r *httprouter.Router) {
			r.GET("/health", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
				w.WriteHeader(http.StatusOK)
			})
		}),
		realtime,
	)
	t.Cleanup(func() {
		a.idempotencyStore.Stop()
		a.rateLimiter.Stop()
	})
	return a
}

func TestHandler_Routing(t *testing.T) {
	var realtimeHits int
	a := newTestApp(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		realtimeHits++
		time.Sleep(80 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	h := a.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, MetricsPath, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "courtslots_")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RealtimePath, nil))
	assert.Equal(t, http.StatusOK, rec.Code, "realtime endpoint is not subject to the request timeout")
	assert.Equal(t, 1, realtimeHits)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHandler_AppMiddleware(t *testing.T) {
	h := newTestApp(t, nil).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/echo", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/echo", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/slow", nil))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RealtimePath, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "no realtime handler configured")
}

func TestGracefulShutdown_Order(t *testing.T) {
	a := newTestApp(t, nil)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	started := make(chan struct{})
	a.AddWorker("sweeper", contracts.WorkerFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		record("worker stopped")
		return ctx.Err()
	}))
	a.OnDrain("hub", func() error {
		record("drain")
		return nil
	})
	a.OnClose("producer", func() error {
		record("close")
		return nil
	})

	errs := a.startWorkers()
	<-started
	a.gracefulShutdown()

	assert.Equal(t, []string{"drain", "worker stopped", "close"}, order)
	assert.Empty(t, errs, "context cancellation is a clean stop")
}

func TestStartWorkers_ReportsFailure(t *testing.T) {
	a := newTestApp(t, nil)
	a.AddWorker("consumer", contracts.WorkerFunc(func(ctx context.Context) error {
		return assert.AnError
	}))

	errs := a.startWorkers()
	select {
	case err := <-errs:
		require.ErrorIs(t, err, assert.AnError)
	case <-time.After(time.Second):
		t.Fatal("worker failure not reported")
	}
	a.gracefulShutdown()
}

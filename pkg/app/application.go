package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"courtslots/pkg/config"
	"courtslots/pkg/contracts"
	"courtslots/pkg/metrics"
	"courtslots/pkg/middleware"

	"github.com/julienschmidt/httprouter"
)

const (
	RealtimePath = "/ws"
	MetricsPath  = "/metrics"

	rateLimiterIdleTTL = 10 * time.Minute
)

type namedWorker struct {
	name   string
	worker contracts.Worker
}

type hook struct {
	name string
	fn   func() error
}

type Application struct {
	cfg              *config.Config
	server           *http.Server
	idempotencyStore *middleware.InMemoryIdempotencyStore
	rateLimiter      *middleware.UserRateLimiter
	healthHandler    http.Handler
	appHttpHandler   http.Handler
	realtimeHandler  http.Handler

	workers    []namedWorker
	drainHooks []hook
	closeHooks []hook
	workersWG  sync.WaitGroup
	stop       context.CancelFunc
}

func NewApplication(cfg *config.Config) *Application {
	return &Application{cfg: cfg}
}

// SetApp wires the REST routes, the health routes and the websocket
// endpoint. realtime may be nil.
func (a *Application) SetApp(appHandler, healthHandler contracts.Handler, realtime http.Handler) {
	a.setHealthHandler(healthHandler)
	a.setAppHandler(appHandler)
	a.setRealtimeHandler(realtime)
	a.setAppServer()
}

// AddWorker registers a background loop started by Run and stopped after
// the HTTP server and the drain hooks.
func (a *Application) AddWorker(name string, w contracts.Worker) {
	a.workers = append(a.workers, namedWorker{name: name, worker: w})
}

// OnDrain runs after the HTTP server stops accepting requests while the
// workers are still running.
func (a *Application) OnDrain(name string, fn func() error) {
	a.drainHooks = append(a.drainHooks, hook{name: name, fn: fn})
}

// OnClose runs after every worker has returned.
func (a *Application) OnClose(name string, fn func() error) {
	a.closeHooks = append(a.closeHooks, hook{name: name, fn: fn})
}

func (a *Application) setHealthHandler(healthHandler contracts.Handler) {
	healthRouter := httprouter.New()
	healthHandler.RegisterRoutes(healthRouter)
	healthRouter.Handler(http.MethodGet, MetricsPath, metrics.Handler())

	var healthHTTPHandler http.Handler = healthRouter
	healthHTTPHandler = middleware.RequestLogging(a.cfg.Log)(healthHTTPHandler)
	healthHTTPHandler = middleware.Recovery(a.cfg.Log)(healthHTTPHandler)
	a.healthHandler = healthHTTPHandler
	a.cfg.Log.Info("Health endpoints configured with minimal middleware (Recovery + Logging only)")
}

func (a *Application) setAppHandler(appHandler contracts.Handler) {
	appRouter := httprouter.New()
	appHandler.RegisterRoutes(appRouter)

	a.idempotencyStore = middleware.NewInMemoryIdempotencyStore(a.cfg.IdempotencyTTL)
	a.rateLimiter = middleware.NewUserRateLimiter(
		a.cfg.BookingRateLimit,
		a.cfg.BookingRateBurst,
		rateLimiterIdleTTL,
		middleware.DefaultUserExtractor,
		a.cfg.Log,
	)

	var appHttpHandler http.Handler = appRouter
	appHttpHandler = middleware.Idempotency(a.idempotencyStore, "")(appHttpHandler)
	appHttpHandler = middleware.RequestTimeout(a.cfg.RequestTimeout)(appHttpHandler)
	appHttpHandler = middleware.UserRateLimit(a.rateLimiter)(appHttpHandler)
	appHttpHandler = middleware.ContentTypeValidation(a.cfg.Log)(appHttpHandler)
	appHttpHandler = middleware.MaxRequestSize(int64(a.cfg.MaxRequestSize))(appHttpHandler)
	appHttpHandler = middleware.RequestLogging(a.cfg.Log)(appHttpHandler)
	appHttpHandler = middleware.Recovery(a.cfg.Log)(appHttpHandler)
	a.appHttpHandler = appHttpHandler
	a.cfg.Log.Info("Application endpoints configured with full middleware stack")
}

// The websocket endpoint is long lived, so it skips the timeout, size and
// idempotency layers.
func (a *Application) setRealtimeHandler(realtime http.Handler) {
	if realtime == nil {
		return
	}
	var h http.Handler = realtime
	h = middleware.RequestLogging(a.cfg.Log)(h)
	h = middleware.Recovery(a.cfg.Log)(h)
	a.realtimeHandler = h
	a.cfg.Log.Info("Realtime endpoint configured", "path", RealtimePath)
}

func (a *Application) setAppServer() {
	a.server = &http.Server{
		Addr:         ":" + a.cfg.Port,
		Handler:      a.Handler(),
		ReadTimeout:  a.cfg.ReadTimeout,
		WriteTimeout: a.cfg.WriteTimeout,
		IdleTimeout:  a.cfg.IdleTimeout,
	}

	a.cfg.Log.Info("HTTP server configured", "port", a.cfg.Port)
}

// Handler is the root mux served by Run.
func (a *Application) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/health", a.healthHandler)
	mux.Handle("/ready", a.healthHandler)
	mux.Handle(MetricsPath, a.healthHandler)
	if a.realtimeHandler != nil {
		mux.Handle(RealtimePath, a.realtimeHandler)
	}
	mux.Handle("/", a.appHttpHandler)
	return mux
}

func (a *Application) Run() {
	workerErrors := a.startWorkers()
	serverErrors := make(chan error, 1)

	go func() {
		a.cfg.Log.Info("Starting HTTP server", "address", a.server.Addr)
		serverErrors <- a.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		a.cfg.Log.Error("HTTP server failed", "error", err)
		a.gracefulShutdown()
		a.cfg.Log.Fatal("HTTP server failed", "error", err)

	case err := <-workerErrors:
		a.cfg.Log.Error("Background worker failed, shutting down", "error", err)
		a.gracefulShutdown()

	case sig := <-shutdown:
		a.cfg.Log.Info("Shutdown signal received", "signal", sig)
		a.gracefulShutdown()
	}
}

func (a *Application) startWorkers() <-chan error {
	ctx, cancel := context.WithCancel(context.Background())
	a.stop = cancel

	errs := make(chan error, len(a.workers))
	for _, w := range a.workers {
		a.workersWG.Add(1)
		go func() {
			defer a.workersWG.Done()
			a.cfg.Log.Info("Background worker started", "worker", w.name)
			err := w.worker.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.cfg.Log.Error("Background worker stopped with error", "worker", w.name, "error", err)
				errs <- err
				return
			}
			a.cfg.Log.Info("Background worker stopped", "worker", w.name)
		}()
	}
	return errs
}

func (a *Application) gracefulShutdown() {
	a.cfg.Log.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.cfg.Log.Error("Server shutdown failed", "error", err)
		if err := a.server.Close(); err != nil {
			a.cfg.Log.Error("Could not stop server gracefully", "error", err)
		}
	}

	a.runHooks("drain", a.drainHooks)

	a.cfg.Log.Info("Stopping background workers...")
	a.idempotencyStore.Stop()
	a.rateLimiter.Stop()
	if a.stop != nil {
		a.stop()
	}
	done := make(chan struct{})
	go func() {
		a.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.cfg.Log.Info("Background workers stopped")
	case <-ctx.Done():
		a.cfg.Log.Warn("Background workers did not stop before the shutdown timeout")
	}

	a.runHooks("close", a.closeHooks)
	a.cfg.GracefulShutdown()

	a.cfg.Log.Info("Server stopped gracefully")
}

func (a *Application) runHooks(phase string, hooks []hook) {
	for _, h := range hooks {
		if err := h.fn(); err != nil {
			a.cfg.Log.Error("Shutdown hook failed", "phase", phase, "hook", h.name, "error", err)
		}
	}
}

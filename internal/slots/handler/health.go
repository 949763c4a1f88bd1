package handler

import (
	"context"
	"net/http"
	"time"

	httputil "courtslots/pkg/http"
	"courtslots/pkg/logger"

	"github.com/julienschmidt/httprouter"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const readyPingTimeout = 2 * time.Second

// Pinger is satisfied by *mongo.Client.
type Pinger interface {
	Ping(ctx context.Context, rp *readpref.ReadPref) error
}

// ConnectionCounter is satisfied by *hub.Hub.
type ConnectionCounter interface {
	Connections() int
}

type HealthResponse struct {
	Status      string `json:"status"`
	Database    string `json:"database,omitempty"`
	Connections *int   `json:"connections,omitempty"`
}

type HealthHandler struct {
	db    Pinger
	conns ConnectionCounter
	log   *logger.Logger
}

func NewHealthHandler(db Pinger, conns ConnectionCounter, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		db:    db,
		conns: conns,
		log:   log,
	}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	resp := HealthResponse{Status: "ok"}
	if h.conns != nil {
		n := h.conns.Connections()
		resp.Connections = &n
	}
	if err := httputil.WriteJSON(w, http.StatusOK, resp); err != nil {
		h.log.Error("failed to write JSON response", "handler", "Health", "operation", "WriteJSON", "error", err)
	}
}

// Ready reports unavailable until the booked-slot database answers a ping.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if h.db == nil {
		h.writeReady(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Database: "not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyPingTimeout)
	defer cancel()

	if err := h.db.Ping(ctx, nil); err != nil {
		h.log.Error("Database health check failed",
			"error", err,
			"path", r.URL.Path,
		)
		h.writeReady(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Database: "error"})
		return
	}

	h.writeReady(w, http.StatusOK, HealthResponse{Status: "ready", Database: "ok"})
}

func (h *HealthHandler) writeReady(w http.ResponseWriter, status int, resp HealthResponse) {
	if err := httputil.WriteJSON(w, status, resp); err != nil {
		h.log.Error("failed to write JSON response", "handler", "Ready", "operation", "WriteJSON", "error", err)
	}
}

func (h *HealthHandler) RegisterRoutes(router *httprouter.Router) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
}

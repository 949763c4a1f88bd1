package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "courtslots"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	slotOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slots",
			Name:      "operations_total",
			Help:      "Lock manager operations by outcome.",
		},
		[]string{"op", "outcome"},
	)

	activeHolds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "slots",
			Name:      "active_holds",
			Help:      "Slots currently held in the locked state.",
		},
	)

	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Open websocket connections.",
		},
	)

	wsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "slow_consumers_total",
			Help:      "Connections closed because their send queue was full.",
		},
	)

	kafkaMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "messages_total",
			Help:      "Kafka messages produced or consumed by outcome.",
		},
		[]string{"direction", "topic", "outcome"},
	)

	kafkaDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "events_dropped_total",
			Help:      "Slot events dropped because the publish queue was full.",
		},
	)

	kafkaDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "message_duration_seconds",
			Help:      "Duration of Kafka publish and handle calls.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"direction"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "status"},
	)
)

func init() {
	Registry.MustRegister(
		slotOperations,
		activeHolds,
		wsConnections,
		wsDropped,
		kafkaMessages,
		kafkaDropped,
		kafkaDuration,
		httpRequests,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordSlotOp counts one lock manager operation, e.g. ("lock", "granted").
func RecordSlotOp(op, outcome string) {
	slotOperations.WithLabelValues(op, outcome).Inc()
}

func AddActiveHolds(delta int) {
	activeHolds.Add(float64(delta))
}

func ConnectionOpened() { wsConnections.Inc() }

func ConnectionClosed() { wsConnections.Dec() }

func SlowConsumerDropped() { wsDropped.Inc() }

func RecordKafka(direction, topic string, err error, took time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	kafkaMessages.WithLabelValues(direction, topic, outcome).Inc()
	kafkaDuration.WithLabelValues(direction).Observe(took.Seconds())
}

func KafkaEventDropped() { kafkaDropped.Inc() }

func RecordHTTP(method string, status int) {
	httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

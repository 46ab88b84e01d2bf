package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	issuanceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_issuance_total",
			Help: "Issuance outcomes per status",
		},
		[]string{"status"},
	)

	validationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_validations_total",
			Help: "Gate validation outcomes per result",
		},
		[]string{"result"},
	)

	stockRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "event_stock_remaining",
			Help: "Remaining tickets per event",
		},
		[]string{"event_id"},
	)

	issuanceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticket_issuance_duration_seconds",
			Help:    "End-to-end duration of the issuance workflow",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)
)

// Monitor exposes the engine's metrics and periodically mirrors the Redis
// stock counters into gauges.
type Monitor struct {
	redis *redis.Client
}

func NewMonitor(redisClient *redis.Client) *Monitor {
	return &Monitor{redis: redisClient}
}

// Run collects stock gauges until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collectStockMetrics(ctx)
		}
	}
}

func (m *Monitor) collectStockMetrics(ctx context.Context) {
	keys, _ := m.redis.Keys(ctx, "event:stock:*").Result()
	for _, key := range keys {
		eventID := key[len("event:stock:"):]
		remaining, err := m.redis.Get(ctx, key).Int64()
		if err != nil {
			continue
		}
		stockRemaining.WithLabelValues(eventID).Set(float64(remaining))
	}
}

// TrackIssuance counts one issuance outcome (issued, duplicate,
// invalid_metadata, out_of_stock, render_failure, error).
func (m *Monitor) TrackIssuance(outcome string) {
	issuanceTotal.WithLabelValues(outcome).Inc()
}

// TrackValidation counts one gate validation outcome (admitted,
// invalid_signature, not_found, already_used).
func (m *Monitor) TrackValidation(result string) {
	validationsTotal.WithLabelValues(result).Inc()
}

// ObserveIssuanceDuration records the issuance workflow latency.
func (m *Monitor) ObserveIssuanceDuration(d time.Duration) {
	issuanceDuration.Observe(d.Seconds())
}

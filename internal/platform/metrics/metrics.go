package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns every metric the service exports. A nil Collector is valid
// and records nothing.
type Collector struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	deletionRuns    *prometheus.CounterVec
	rowsDeleted     *prometheus.CounterVec
	tierDuration    *prometheus.HistogramVec
	receipts        prometheus.Counter
	realtimeEvents  *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		return nil
	}
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		deletionRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offboarding_runs_total",
			Help: "Employee deletion runs by outcome.",
		}, []string{"outcome"}),
		rowsDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offboarding_rows_deleted_total",
			Help: "Rows removed by employee deletion, per table.",
		}, []string{"table"}),
		tierDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "offboarding_tier_duration_seconds",
			Help:    "Duration of each deletion tier.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tier"}),
		receipts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notification_receipts_inserted_total",
			Help: "Read receipts newly written.",
		}),
		realtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Change events published, by table and operation.",
		}, []string{"table", "op"}),
	}
	reg.MustRegister(c.requests, c.requestDuration, c.deletionRuns, c.rowsDeleted, c.tierDuration, c.receipts, c.realtimeEvents)
	return c
}

func (c *Collector) Record(method, route string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	c.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (c *Collector) DeletionRun(outcome string) {
	if c == nil {
		return
	}
	c.deletionRuns.WithLabelValues(outcome).Inc()
}

func (c *Collector) RowsDeleted(table string, n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.rowsDeleted.WithLabelValues(table).Add(float64(n))
}

func (c *Collector) TierDuration(tier int, duration time.Duration) {
	if c == nil {
		return
	}
	c.tierDuration.WithLabelValues(strconv.Itoa(tier)).Observe(duration.Seconds())
}

func (c *Collector) ReceiptsInserted(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.receipts.Add(float64(n))
}

func (c *Collector) RealtimeEvent(table, op string) {
	if c == nil {
		return
	}
	c.realtimeEvents.WithLabelValues(table, op).Inc()
}

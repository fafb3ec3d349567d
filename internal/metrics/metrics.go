package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder defines the interface for recording authentication metrics.
// Implementations include Metrics (Prometheus-based) and NoopMetrics (no-op).
type Recorder interface {
	// RecordAuthAttempt counts one authentication attempt against a
	// backend. result is "success", "rejected" or "error".
	RecordAuthAttempt(backend, result string, duration time.Duration)

	// RecordDCAttempt counts one domain controller attempt in the AD
	// failover loop. result is "success", "invalid_credentials",
	// "connectivity" or "tls_error".
	RecordDCAttempt(result string)

	// RecordGroupResolution observes one completed group-membership
	// resolution: how many distinct groups were found and how many
	// directory searches it took.
	RecordGroupResolution(groups, searches int)

	// RecordUserCreated counts a local user provisioned by a backend.
	RecordUserCreated(backend string)
}

// Ensure Metrics implements Recorder interface at compile time
var _ Recorder = (*Metrics)(nil)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	AuthAttemptsTotal *prometheus.CounterVec
	AuthDuration      *prometheus.HistogramVec

	DCAttemptsTotal *prometheus.CounterVec

	GroupResolutionGroups   prometheus.Histogram
	GroupResolutionSearches prometheus.Histogram

	UsersCreatedTotal *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Init initializes metrics based on enabled flag.
// If enabled=true, returns Prometheus-based Metrics.
// If enabled=false, returns NoopMetrics (zero overhead).
// Uses sync.Once to ensure Prometheus metrics are only registered once.
func Init(enabled bool) Recorder {
	if !enabled {
		return NewNoopMetrics()
	}

	once.Do(func() {
		defaultMetrics = initMetrics()
	})
	return defaultMetrics
}

func initMetrics() *Metrics {
	return &Metrics{
		AuthAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_attempts_total",
				Help: "Total number of authentication attempts",
			},
			[]string{"backend", "result"}, // result: success, rejected, error
		),
		AuthDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "auth_duration_seconds",
				Help:    "Time taken to complete an authentication attempt",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		DCAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_ad_dc_attempts_total",
				Help: "Total number of domain controller attempts",
			},
			[]string{"result"}, // success, invalid_credentials, connectivity, tls_error
		),
		GroupResolutionGroups: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "auth_ad_group_resolution_groups",
				Help:    "Distinct groups found per membership resolution",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
			},
		),
		GroupResolutionSearches: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "auth_ad_group_resolution_searches",
				Help:    "Directory searches issued per membership resolution",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
		),
		UsersCreatedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_users_created_total",
				Help: "Local users provisioned on first successful authentication",
			},
			[]string{"backend"},
		),
	}
}

func (m *Metrics) RecordAuthAttempt(backend, result string, duration time.Duration) {
	m.AuthAttemptsTotal.WithLabelValues(backend, result).Inc()
	m.AuthDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

func (m *Metrics) RecordDCAttempt(result string) {
	m.DCAttemptsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordGroupResolution(groups, searches int) {
	m.GroupResolutionGroups.Observe(float64(groups))
	m.GroupResolutionSearches.Observe(float64(searches))
}

func (m *Metrics) RecordUserCreated(backend string) {
	m.UsersCreatedTotal.WithLabelValues(backend).Inc()
}

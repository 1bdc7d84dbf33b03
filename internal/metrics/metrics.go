// Package metrics provides Prometheus metrics for the ledger service.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/leaderboard-ledger/internal/domain"
	"github.com/leaderboard-ledger/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation outcomes used as label values.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

// Manager owns the ledger's collectors and the registry they live in. A nil
// *Manager is valid and records nothing.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         *prometheus.Registry
	runtimeMetrics   bool

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	personalBests     prometheus.Counter
	topScoreChanges   prometheus.Counter

	totalPlayers prometheus.Gauge
	totalGames   prometheus.Gauge
	topScore     prometheus.Gauge
}

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace sets the metric namespace.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		m.namespace = namespace
	}
}

// WithSubsystem sets the metric subsystem.
func WithSubsystem(subsystem string) Option {
	return func(m *Manager) {
		m.subsystem = subsystem
	}
}

// WithHistogramBuckets sets the latency buckets, in seconds.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		m.histogramBuckets = buckets
	}
}

// WithRegistry registers the collectors on registry instead of a fresh one.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(m *Manager) {
		m.registry = registry
	}
}

// WithRuntimeMetrics adds the Go runtime and process collectors.
func WithRuntimeMetrics(enabled bool) Option {
	return func(m *Manager) {
		m.runtimeMetrics = enabled
	}
}

// NewManager creates a metrics manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "ledger",
		subsystem:        "leaderboard",
		histogramBuckets: prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.operations = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "operations_total",
		Help:      "Ledger operations by name and outcome",
	}, []string{"operation", "outcome"})

	m.operationDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "operation_duration_seconds",
		Help:      "Ledger operation latency, store round-trips included",
		Buckets:   m.histogramBuckets,
	}, []string{"operation"})

	m.personalBests = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "personal_bests_total",
		Help:      "Submissions that raised a player's high score",
	})

	m.topScoreChanges = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "top_score_changes_total",
		Help:      "Submissions that took the global top score",
	})

	m.totalPlayers = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "total_players",
		Help:      "Registered players",
	})

	m.totalGames = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "total_games",
		Help:      "Accepted score submissions",
	})

	m.topScore = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "top_score",
		Help:      "Current global top score",
	})

	if m.runtimeMetrics {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveOperation records one ledger operation.
func (m *Manager) ObserveOperation(operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, Outcome(err)).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// IncPersonalBest counts a new personal best.
func (m *Manager) IncPersonalBest() {
	if m == nil {
		return
	}
	m.personalBests.Inc()
}

// IncTopScoreChange counts a change of champion or top score.
func (m *Manager) IncTopScoreChange() {
	if m == nil {
		return
	}
	m.topScoreChanges.Inc()
}

// SetSnapshot publishes the leaderboard aggregates as gauges. Values above
// 2^53 lose precision.
func (m *Manager) SetSnapshot(snap domain.LeaderboardSnapshot) {
	if m == nil {
		return
	}
	m.totalPlayers.Set(float64(snap.TotalPlayers))
	m.totalGames.Set(float64(snap.TotalGames))
	m.topScore.Set(float64(snap.TopScore))
}

// Outcome maps an operation error to its label value.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case domain.IsDomainError(err):
		return OutcomeRejected
	case errors.Is(err, store.ErrConflict):
		return OutcomeConflict
	default:
		return OutcomeError
	}
}

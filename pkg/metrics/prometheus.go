// Package metrics provides Prometheus metrics for the session engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns all Prometheus instruments for the engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	registry         prometheus.Registerer

	// Ingestion
	readingsIngested prometheus.Counter
	readingsRejected *prometheus.CounterVec
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge

	// Session cadence
	ticksTotal        prometheus.Counter
	tickLatency       prometheus.Histogram
	autosaveAttempts  prometheus.Counter
	autosaveFailures  prometheus.Counter
	autosaveLatency   prometheus.Histogram
	validationRejects *prometheus.CounterVec

	// Roster / entities
	activeEntities prometheus.Gauge
	rosterSize     prometheus.Gauge
	entitiesEnded  *prometheus.CounterVec

	// Gamification
	coinsMinted     prometheus.Counter
	coinsByZone     *prometheus.CounterVec
	challengesFired prometheus.Counter

	// Governance
	governanceState       prometheus.Gauge
	governanceTransitions *prometheus.CounterVec

	// Timeline
	timelineEvents    prometheus.Counter
	encodedSeriesSize prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // engine-scoped registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "pedalhouse",
		subsystem:        "session",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.readingsIngested = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "readings_ingested_total",
		Help:      "Total device readings accepted into the pending tick payload",
	})

	m.readingsRejected = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "readings_rejected_total",
		Help:      "Total device readings dropped, by reason",
	}, []string{"reason"})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "reading_queue_size",
		Help:      "Current depth of the in-memory reading queue",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "reading_queue_capacity",
		Help:      "Configured capacity of the in-memory reading queue",
	})

	m.ticksTotal = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "ticks_total",
		Help:      "Total timeline ticks committed",
	})

	m.tickLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "tick_latency_milliseconds",
		Help:      "Time spent folding one tick window",
		Buckets:   m.histogramBuckets,
	})

	m.autosaveAttempts = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "autosave_attempts_total",
		Help:      "Total autosave attempts, including retries",
	})

	m.autosaveFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "autosave_failures_total",
		Help:      "Total autosave attempts that returned an error",
	})

	m.autosaveLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "autosave_latency_milliseconds",
		Help:      "Persistence sink write latency",
		Buckets:   m.histogramBuckets,
	})

	m.validationRejects = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "payload_validation_rejects_total",
		Help:      "Persistence payloads rejected at validation, by code",
	}, []string{"code"})

	m.activeEntities = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "active_entities",
		Help:      "Participation entities currently active",
	})

	m.rosterSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "roster_size",
		Help:      "Participants currently on the roster",
	})

	m.entitiesEnded = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "entities_ended_total",
		Help:      "Participation entities ended, by reason",
	}, []string{"reason"})

	m.coinsMinted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "coins_minted_total",
		Help:      "Total coins credited across all entities",
	})

	m.coinsByZone = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "coins_by_zone_total",
		Help:      "Coins credited per effort zone",
	}, []string{"zone"})

	m.challengesFired = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "challenges_fired_total",
		Help:      "Challenges fired by the governance scheduler",
	})

	m.governanceState = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "governance_state",
		Help:      "Current governance state (0=pending 1=unlocked 2=warning 3=locked)",
	})

	m.governanceTransitions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "governance_transitions_total",
		Help:      "Governance state transitions, by target state",
	}, []string{"to"})

	m.timelineEvents = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "timeline_events_total",
		Help:      "Irregular events recorded on the timeline",
	})

	m.encodedSeriesSize = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "encoded_series_bytes",
		Help:      "Encoded size of timeline series at autosave",
		Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
	})
}

// Handler returns an http.Handler serving the engine registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(customRegistry, promhttp.HandlerOpts{})
}

// Package-level helpers recording against the global manager.

func RecordReadingIngested() { globalManager.readingsIngested.Inc() }

func RecordReadingRejected(reason string) {
	globalManager.readingsRejected.WithLabelValues(reason).Inc()
}

func UpdateQueueSize(n int)     { globalManager.queueSize.Set(float64(n)) }
func UpdateQueueCapacity(n int) { globalManager.queueCapacity.Set(float64(n)) }

func RecordTick()                      { globalManager.ticksTotal.Inc() }
func RecordTickLatency(ms float64)     { globalManager.tickLatency.Observe(ms) }
func RecordAutosaveAttempt()           { globalManager.autosaveAttempts.Inc() }
func RecordAutosaveFailure()           { globalManager.autosaveFailures.Inc() }
func RecordAutosaveLatency(ms float64) { globalManager.autosaveLatency.Observe(ms) }

func RecordValidationReject(code string) {
	globalManager.validationRejects.WithLabelValues(code).Inc()
}

func UpdateActiveEntities(n int) { globalManager.activeEntities.Set(float64(n)) }
func UpdateRosterSize(n int)     { globalManager.rosterSize.Set(float64(n)) }

func RecordEntityEnded(reason string) {
	globalManager.entitiesEnded.WithLabelValues(reason).Inc()
}

func RecordCoinsMinted(n int) { globalManager.coinsMinted.Add(float64(n)) }

func RecordCoinsByZone(zone string, n int) {
	globalManager.coinsByZone.WithLabelValues(zone).Add(float64(n))
}

func RecordChallengeFired() { globalManager.challengesFired.Inc() }

func UpdateGovernanceState(state int) { globalManager.governanceState.Set(float64(state)) }

func RecordGovernanceTransition(to string) {
	globalManager.governanceTransitions.WithLabelValues(to).Inc()
}

func RecordTimelineEvent() { globalManager.timelineEvents.Inc() }

func RecordEncodedSeriesSize(bytes int) {
	globalManager.encodedSeriesSize.Observe(float64(bytes))
}

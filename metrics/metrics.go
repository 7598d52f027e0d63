// Package metrics exposes Prometheus collectors for the wallet daemon and
// the HTTP server that serves them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ruteri/tee-wallet-kms/seedcache"
)

const (
	MetricCommands         = "commands_total"
	MetricCommandDuration  = "command_duration_seconds"
	MetricSessionsActive   = "sessions_active"
	MetricSessionsExpired  = "sessions_expired_total"
	MetricSessionsPoisoned = "sessions_poisoned_total"
	MetricAuditSinkErrors  = "audit_sink_errors_total"
	MetricSeedCacheHits    = "seed_cache_hits_total"
	MetricSeedCacheMisses  = "seed_cache_misses_total"
	MetricSeedCacheEvicted = "seed_cache_evictions_total"
	MetricSeedCacheSize    = "seed_cache_entries"
)

// Metrics holds the daemon collectors. All methods are safe for concurrent
// use and are no-ops on a nil receiver, so components can run unobserved.
type Metrics struct {
	namespace string

	commands         *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	sessionsActive   prometheus.Gauge
	sessionsExpired  prometheus.Counter
	sessionsPoisoned prometheus.Counter
	auditSinkErrors  *prometheus.CounterVec
}

// New creates the collectors without registering them.
func New(namespace string) *Metrics {
	return &Metrics{
		namespace: namespace,
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricCommands,
			Help:      "Trusted application command invocations by command and result status",
		}, []string{"command", "status"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricCommandDuration,
			Help:      "Time spent inside the trusted application per command",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"command"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      MetricSessionsActive,
			Help:      "Host sessions currently open",
		}),
		sessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricSessionsExpired,
			Help:      "Host sessions closed by the idle sweep",
		}),
		sessionsPoisoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricSessionsPoisoned,
			Help:      "Host sessions discarded after a transport failure",
		}),
		auditSinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricAuditSinkErrors,
			Help:      "Audit entries a sink failed to accept",
		}, []string{"sink"}),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RegisterSeedCache exports the counters of a seed cache. The values are
// read from stats on every scrape.
func (m *Metrics) RegisterSeedCache(reg prometheus.Registerer, stats func() seedcache.Stats) error {
	collectors := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      MetricSeedCacheHits,
			Help:      "Seed lookups served from the cache",
		}, func() float64 { return float64(stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      MetricSeedCacheMisses,
			Help:      "Seed lookups that ran the PBKDF2 expansion",
		}, func() float64 { return float64(stats().Misses) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      MetricSeedCacheEvicted,
			Help:      "Seeds evicted by capacity or expiry",
		}, func() float64 { return float64(stats().Evictions) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      MetricSeedCacheSize,
			Help:      "Seeds currently cached",
		}, func() float64 { return float64(stats().Size) }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveCommand records one trusted application invocation.
func (m *Metrics) ObserveCommand(command, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(command, status).Inc()
	m.commandDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

func (m *Metrics) SessionExpired() {
	if m == nil {
		return
	}
	m.sessionsExpired.Inc()
}

func (m *Metrics) SessionPoisoned() {
	if m == nil {
		return
	}
	m.sessionsPoisoned.Inc()
}

// AuditSinkError matches audit.Options.OnSinkError.
func (m *Metrics) AuditSinkError(sink string, _ error) {
	if m == nil {
		return
	}
	m.auditSinkErrors.WithLabelValues(sink).Inc()
}

// Collectors returns the collectors owned by m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.commands,
		m.commandDuration,
		m.sessionsActive,
		m.sessionsExpired,
		m.sessionsPoisoned,
		m.auditSinkErrors,
	}
}

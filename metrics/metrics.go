// Package metrics exports unit of work activity to Prometheus.
//
//	c := metrics.NewCollector(
//	    metrics.WithQueryStats(statsDriver),
//	    metrics.WithCacheStats(cachedStore),
//	)
//	prometheus.MustRegister(c)
//	f, err := unitofwork.NewFactory(g, s, unitofwork.WithObserver(c))
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/syssam/tessera/dialect/sql"
	"github.com/syssam/tessera/store/cache"
	"github.com/syssam/tessera/unitofwork"
)

const namespace = "tessera"

// QueryStatser is implemented by sql.StatsDriver.
type QueryStatser interface {
	QueryStats() *sql.QueryStats
}

// CacheStatser is implemented by cache.Store.
type CacheStatser interface {
	Stats() cache.Stats
}

// Collector is a prometheus.Collector observing units of work. It
// implements unitofwork.Observer.
type Collector struct {
	sessions  *prometheus.CounterVec
	changes   *prometheus.CounterVec
	loaded    prometheus.Counter
	conflicts prometheus.Counter
	duration  *prometheus.HistogramVec

	queries QueryStatser
	cache   CacheStatser
	descs   struct {
		statements, seconds, slow, errors, txs, lookups *prometheus.Desc
	}
}

// Option configures the Collector.
type Option func(*Collector)

// WithQueryStats exports the statement counters of a stats driver.
func WithQueryStats(s QueryStatser) Option {
	return func(c *Collector) {
		c.queries = s
	}
}

// WithCacheStats exports the lookup counters of a cached store.
func WithCacheStats(s CacheStatser) Option {
	return func(c *Collector) {
		c.cache = s
	}
}

// WithBuckets sets the buckets of the session duration histogram.
func WithBuckets(buckets []float64) Option {
	return func(c *Collector) {
		c.duration = newDuration(buckets)
	}
}

func newDuration(buckets []float64) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "unitofwork",
		Name:      "duration_seconds",
		Help:      "Time from opening a unit of work to each completion attempt or discard.",
		Buckets:   buckets,
	}, []string{"outcome"})
}

// NewCollector returns a new Collector.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unitofwork",
			Name:      "completions_total",
			Help:      "Completion attempts and discards by usecase and outcome.",
		}, []string{"usecase", "outcome"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unitofwork",
			Name:      "changes_total",
			Help:      "Entity changes written by successful completions.",
		}, []string{"op"}),
		loaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unitofwork",
			Name:      "loaded_entities_total",
			Help:      "Entities read from the store.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unitofwork",
			Name:      "conflicts_total",
			Help:      "Entities rejected by optimistic concurrency control.",
		}),
		duration: newDuration(prometheus.DefBuckets),
	}
	for _, opt := range opts {
		opt(c)
	}
	d := &c.descs
	d.statements = prometheus.NewDesc("tessera_sql_statements_total", "SQL statements executed, by kind.", []string{"kind"}, nil)
	d.seconds = prometheus.NewDesc("tessera_sql_statement_seconds_total", "Time spent executing SQL statements.", nil, nil)
	d.slow = prometheus.NewDesc("tessera_sql_slow_statements_total", "SQL statements exceeding the slow threshold.", nil, nil)
	d.errors = prometheus.NewDesc("tessera_sql_errors_total", "Failed SQL statements.", nil, nil)
	d.txs = prometheus.NewDesc("tessera_sql_transactions_total", "Finished SQL transactions, by result.", []string{"result"}, nil)
	d.lookups = prometheus.NewDesc("tessera_cache_lookups_total", "Entity cache lookups, by result.", []string{"result"}, nil)
	return c
}

// ObserveUnitOfWork implements unitofwork.Observer.
func (c *Collector) ObserveUnitOfWork(_ context.Context, r unitofwork.Report) {
	outcome := r.Outcome.String()
	c.sessions.WithLabelValues(r.Usecase.Name, outcome).Inc()
	c.duration.WithLabelValues(outcome).Observe(r.Duration.Seconds())
	c.loaded.Add(float64(r.Loaded))
	c.conflicts.Add(float64(r.Conflicts))
	switch r.Outcome {
	case unitofwork.OutcomeCompleted, unitofwork.OutcomeApplied:
		c.changes.WithLabelValues(unitofwork.OpCreate.String()).Add(float64(r.Created))
		c.changes.WithLabelValues(unitofwork.OpUpdate.String()).Add(float64(r.Updated))
		c.changes.WithLabelValues(unitofwork.OpRemove.String()).Add(float64(r.Removed))
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.sessions.Describe(ch)
	c.changes.Describe(ch)
	c.loaded.Describe(ch)
	c.conflicts.Describe(ch)
	c.duration.Describe(ch)
	if c.queries != nil {
		ch <- c.descs.statements
		ch <- c.descs.seconds
		ch <- c.descs.slow
		ch <- c.descs.errors
		ch <- c.descs.txs
	}
	if c.cache != nil {
		ch <- c.descs.lookups
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.sessions.Collect(ch)
	c.changes.Collect(ch)
	c.loaded.Collect(ch)
	c.conflicts.Collect(ch)
	c.duration.Collect(ch)
	if c.queries != nil {
		s := c.queries.QueryStats().Snapshot()
		d := &c.descs
		ch <- prometheus.MustNewConstMetric(d.statements, prometheus.CounterValue, float64(s.Queries), "query")
		ch <- prometheus.MustNewConstMetric(d.statements, prometheus.CounterValue, float64(s.Execs), "exec")
		ch <- prometheus.MustNewConstMetric(d.seconds, prometheus.CounterValue, s.Duration.Seconds())
		ch <- prometheus.MustNewConstMetric(d.slow, prometheus.CounterValue, float64(s.Slow))
		ch <- prometheus.MustNewConstMetric(d.errors, prometheus.CounterValue, float64(s.Errors))
		ch <- prometheus.MustNewConstMetric(d.txs, prometheus.CounterValue, float64(s.Commits), "commit")
		ch <- prometheus.MustNewConstMetric(d.txs, prometheus.CounterValue, float64(s.Rollbacks), "rollback")
	}
	if c.cache != nil {
		s := c.cache.Stats()
		ch <- prometheus.MustNewConstMetric(c.descs.lookups, prometheus.CounterValue, float64(s.Hits), "hit")
		ch <- prometheus.MustNewConstMetric(c.descs.lookups, prometheus.CounterValue, float64(s.Misses), "miss")
	}
}

var (
	_ prometheus.Collector = (*Collector)(nil)
	_ unitofwork.Observer  = (*Collector)(nil)
	_ QueryStatser         = (*sql.StatsDriver)(nil)
	_ CacheStatser         = (*cache.Store)(nil)
)

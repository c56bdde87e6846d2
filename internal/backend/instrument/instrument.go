// Package instrument wraps a backend with Prometheus metrics.
package instrument

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dshills/confstore/internal/backend"
	"github.com/dshills/confstore/internal/notify"
	"github.com/dshills/confstore/internal/variant"
)

const namespace = "confstore"

// Metrics holds the backend collectors. All labels include the backend
// name given to Wrap.
type Metrics struct {
	// ReadsTotal counts reads. Labels: backend, result (hit, miss).
	ReadsTotal *prometheus.CounterVec

	// WritesTotal counts write calls. Labels: backend, op (write, tree),
	// status (success, error).
	WritesTotal *prometheus.CounterVec

	// KeysWrittenTotal counts keys written, resets included. Labels: backend.
	KeysWrittenTotal *prometheus.CounterVec

	// WriteDurationSeconds measures write latency. Labels: backend, op.
	WriteDurationSeconds *prometheus.HistogramVec

	// EventsTotal counts events delivered to subscribers. Labels: backend,
	// kind.
	EventsTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		ReadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "reads_total",
			Help:      "Backend reads by result.",
		}, []string{"backend", "result"}),
		WritesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "writes_total",
			Help:      "Backend write calls by operation and status.",
		}, []string{"backend", "op", "status"}),
		KeysWrittenTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "keys_written_total",
			Help:      "Keys written or reset.",
		}, []string{"backend"}),
		WriteDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "write_duration_seconds",
			Help:      "Backend write latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"backend", "op"}),
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "events_total",
			Help:      "Change events delivered to subscribers by kind.",
		}, []string{"backend", "kind"}),
	}
}

// Backend records metrics for every call it passes to the wrapped backend.
type Backend struct {
	under   backend.Backend
	metrics *Metrics
	name    string
}

// Wrap returns under with metrics recorded under the given backend name.
func Wrap(under backend.Backend, m *Metrics, name string) *Backend {
	return &Backend{under: under, metrics: m, name: name}
}

// Unwrap returns the wrapped backend.
func (b *Backend) Unwrap() backend.Backend { return b.under }

// Read implements backend.Backend.
func (b *Backend) Read(key string, typ variant.Type) (variant.Value, bool) {
	v, ok := b.under.Read(key, typ)
	result := "miss"
	if ok {
		result = "hit"
	}
	b.metrics.ReadsTotal.WithLabelValues(b.name, result).Inc()
	return v, ok
}

// Write implements backend.Backend.
func (b *Backend) Write(key string, value *variant.Value, origin string) error {
	start := time.Now()
	err := b.under.Write(key, value, origin)
	b.record("write", 1, start, err)
	return err
}

// WriteTree implements backend.Backend.
func (b *Backend) WriteTree(tree *backend.Changeset, origin string) error {
	start := time.Now()
	err := b.under.WriteTree(tree, origin)
	b.record("tree", tree.Len(), start, err)
	return err
}

func (b *Backend) record(op string, keys int, start time.Time, err error) {
	b.metrics.WriteDurationSeconds.WithLabelValues(b.name, op).Observe(time.Since(start).Seconds())
	status := "success"
	if err != nil {
		status = "error"
	} else {
		b.metrics.KeysWrittenTotal.WithLabelValues(b.name).Add(float64(keys))
	}
	b.metrics.WritesTotal.WithLabelValues(b.name, op, status).Inc()
}

// IsWritable implements backend.Backend.
func (b *Backend) IsWritable(key string) bool { return b.under.IsWritable(key) }

// Subscribe implements backend.Backend. Delivered events are counted.
func (b *Backend) Subscribe(prefix string, observer notify.Observer) *notify.Subscription {
	return b.under.Subscribe(prefix, func(e notify.Event) {
		b.metrics.EventsTotal.WithLabelValues(b.name, e.Kind.String()).Inc()
		observer(e)
	})
}

// Sync implements backend.Backend.
func (b *Backend) Sync() error { return b.under.Sync() }

var _ backend.Backend = (*Backend)(nil)

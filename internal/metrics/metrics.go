// Package metrics exports cache and fetch counters as prometheus collectors.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "pyramid"
	subsystem = "cache"
)

// Metrics holds the collectors of one loader. The zero value is not usable;
// a nil *Metrics ignores every call.
type Metrics struct {
	requests    *prometheus.CounterVec
	loads       *prometheus.CounterVec
	loadSeconds prometheus.Histogram
	opens       prometheus.Counter
	queueDepth  prometheus.GaugeFunc
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered. depth is sampled on every scrape for the queue depth
// gauge; when several loaders share reg the first one's depth is reported.
func New(reg prometheus.Registerer, depth func() float64) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "requests_total",
				Help:      "Block requests. Broken down by loading strategy and result.",
			},
			[]string{"strategy", "result"},
		),
		loads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "loads_total",
				Help:      "Completed block loads. Broken down by block origin.",
			},
			[]string{"origin"},
		),
		loadSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "load_duration_seconds",
			Help:      "Time to read, decompress and decode one block.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}),
		opens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "opens_total",
			Help:      "Times the loader was opened.",
		}),
		queueDepth: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_depth",
			Help:      "Fetch jobs waiting in the queue.",
		}, depth),
	}
	if reg == nil {
		return m, nil
	}
	var err error
	if m.requests, err = register(reg, m.requests); err != nil {
		return nil, err
	}
	if m.loads, err = register(reg, m.loads); err != nil {
		return nil, err
	}
	if m.loadSeconds, err = register(reg, m.loadSeconds); err != nil {
		return nil, err
	}
	if m.opens, err = register(reg, m.opens); err != nil {
		return nil, err
	}
	if m.queueDepth, err = register(reg, m.queueDepth); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg. A collector another loader already registered
// is shared instead.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return c, err
}

// Request counts one cache request.
func (m *Metrics) Request(strategy string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.requests.WithLabelValues(strategy, result).Inc()
}

// Load records one completed block load.
func (m *Metrics) Load(origin string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(origin).Inc()
	m.loadSeconds.Observe(elapsed.Seconds())
}

// Open counts one loader initialization.
func (m *Metrics) Open() {
	if m == nil {
		return
	}
	m.opens.Inc()
}

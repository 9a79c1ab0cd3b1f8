package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/PFigs/backend-client/internal/domain"
	"github.com/PFigs/backend-client/internal/ports"
)

// PromObs implements ports.Observability with Prometheus collectors and a
// logrus logger.
type PromObs struct {
	log *logrus.Entry

	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer

	discards *prometheus.CounterVec
}

type Option func(*PromObs)

func WithLogger(l *logrus.Logger) Option {
	return func(p *PromObs) {
		if l != nil {
			p.log = logrus.NewEntry(l)
		}
	}
}

// NewPromObs registers the collectors on reg, or on the default registerer
// when reg is nil.
func NewPromObs(reg prometheus.Registerer, opts ...Option) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	received := counter(ports.MetricItemsReceived, "Work items accepted from producers.")
	dispatched := counter(ports.MetricItemsDispatched, "Work items fully written to the storage backend.")
	discarded := counter(ports.MetricItemsDiscarded, "Work items dropped after a failed dispatch.")
	queueDrops := counter(ports.MetricQueueDropped, "Work items lost due to queue backpressure policies.")
	reconnects := counter(ports.MetricReconnectAttempts, "Backend reconnect attempts made by workers.")
	deaths := counter(ports.MetricWorkerDeaths, "Workers that stopped unexpectedly.")
	invalid := counter(ports.MetricEnvelopesInvalid, "Collector payloads that could not be decoded.")

	queueLen := gauge(ports.MetricQueueLength, "Current number of work items buffered in the queue.")
	alive := gauge(ports.MetricWorkersAlive, "Workers currently running.")

	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ports.MetricDispatchLatency,
		Help:    "Time spent routing one work item into the backend.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	discards := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_client_items_discarded_by_kind_total",
		Help: "Discarded work items by kind.",
	}, []string{"kind"})

	reg.MustRegister(received, dispatched, discarded, queueDrops, reconnects, deaths, invalid,
		queueLen, alive, latency, discards)

	p := &PromObs{
		log: logrus.NewEntry(logrus.StandardLogger()),
		counters: map[string]prometheus.Counter{
			ports.MetricItemsReceived:     received,
			ports.MetricItemsDispatched:   dispatched,
			ports.MetricItemsDiscarded:    discarded,
			ports.MetricQueueDropped:      queueDrops,
			ports.MetricReconnectAttempts: reconnects,
			ports.MetricWorkerDeaths:      deaths,
			ports.MetricEnvelopesInvalid:  invalid,
		},
		gauges: map[string]prometheus.Gauge{
			ports.MetricQueueLength:  queueLen,
			ports.MetricWorkersAlive: alive,
		},
		histos: map[string]prometheus.Observer{
			ports.MetricDispatchLatency: latency,
		},
		discards: discards,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *PromObs) entry(fields []ports.Field) *logrus.Entry {
	if len(fields) == 0 {
		return p.log
	}
	f := make(logrus.Fields, len(fields))
	for _, field := range fields {
		f[field.Key] = field.Value
	}
	return p.log.WithFields(f)
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.entry(fields).Info(msg)
}

func (p *PromObs) LogWarn(msg string, err error, fields ...ports.Field) {
	p.entry(fields).WithError(err).Warn(msg)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.entry(fields).WithError(err).Error(msg)
}

// LogCritical logs at error level with critical=true; it never exits.
func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.entry(fields).WithError(err).WithField("critical", true).Error(msg)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordDiscard(item domain.WorkItem, err error) {
	p.IncCounter(ports.MetricItemsDiscarded, 1)
	if item == nil {
		return
	}
	p.discards.WithLabelValues(item.Kind().String()).Inc()
	p.log.WithFields(logrus.Fields{
		"kind": item.Kind().String(),
		"node": item.Meta().Address(),
	}).WithError(err).Warn("item_discarded")
}

var _ ports.Observability = (*PromObs)(nil)

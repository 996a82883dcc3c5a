// Package obs holds the Prometheus collectors and tracing helpers shared by
// the pipeline workers and the gateway.
package obs

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	namespace = "marketpipe"

	// Outcome labels for records_total.
	OutcomePublished   = "published"
	OutcomeQuarantined = "quarantined"
	OutcomeDuplicate   = "duplicate"
	OutcomeDecodeDrop  = "decode_drop"
)

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newGaugeVec(subsystem, name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// Metrics is the collector set for one daemon instance.
type Metrics struct {
	recordsTotal    *prometheus.CounterVec
	quarantineTotal *prometheus.CounterVec
	retryExhausted  *prometheus.CounterVec
	sinkLatency     *prometheus.HistogramVec
	consumerLag     *prometheus.GaugeVec
	queueDrops      *prometheus.CounterVec
	activeSubs      prometheus.Gauge
	quotaRefusals   *prometheus.CounterVec

	registerer prometheus.Registerer
	mu         sync.Mutex
	registered bool
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer: registerer,
		recordsTotal: newCounterVec("pipeline", "records_total",
			"Records consumed from the inbound log, by domain and outcome",
			[]string{"domain", "outcome"}),
		quarantineTotal: newCounterVec("pipeline", "quarantined_total",
			"Records routed to quarantine, by domain and stage",
			[]string{"domain", "stage"}),
		retryExhausted: newCounterVec("sink", "retry_exhausted_total",
			"Sink writes that exhausted the retry budget and stalled the partition",
			[]string{"sink"}),
		sinkLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "write_seconds",
				Help:      "Sink write latency including retries",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
			},
			[]string{"sink"}),
		consumerLag: newGaugeVec("pipeline", "consumer_lag",
			"Messages consumed but not yet checkpointed, per topic",
			[]string{"topic"}),
		queueDrops: newCounterVec("feed", "subscriber_queue_drops_total",
			"Deliveries dropped because a subscriber queue overflowed",
			[]string{"subscriber"}),
		activeSubs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "active_subscribers",
			Help:      "Currently connected feed subscribers",
		}),
		quotaRefusals: newCounterVec("feed", "quota_refusals_total",
			"Deliveries suppressed because a client exceeded its quota",
			[]string{"client"}),
	}
}

// Register attaches the collectors to the registerer. Safe to call twice.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.recordsTotal,
		m.quarantineTotal,
		m.retryExhausted,
		m.sinkLatency,
		m.consumerLag,
		m.queueDrops,
		m.activeSubs,
		m.quotaRefusals,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

func (m *Metrics) RecordOutcome(domain, outcome string) {
	m.recordsTotal.WithLabelValues(domain, outcome).Inc()
}

func (m *Metrics) RecordQuarantine(domain, stage string) {
	m.quarantineTotal.WithLabelValues(domain, stage).Inc()
}

func (m *Metrics) RecordRetryExhausted(sink string) {
	m.retryExhausted.WithLabelValues(sink).Inc()
}

func (m *Metrics) ObserveSinkWrite(sink string, d time.Duration) {
	m.sinkLatency.WithLabelValues(sink).Observe(d.Seconds())
}

func (m *Metrics) SetConsumerLag(topic string, lag float64) {
	m.consumerLag.WithLabelValues(topic).Set(lag)
}

func (m *Metrics) RecordQueueDrop(subscriber string) {
	m.queueDrops.WithLabelValues(subscriber).Inc()
}

func (m *Metrics) SubscriberConnected()    { m.activeSubs.Inc() }
func (m *Metrics) SubscriberDisconnected() { m.activeSubs.Dec() }

func (m *Metrics) RecordQuotaRefusal(client string) {
	m.quotaRefusals.WithLabelValues(client).Inc()
}

// StartSpan opens a pipeline span with the stage and topic attached.
func StartSpan(ctx context.Context, stage, topic string) (context.Context, trace.Span) {
	return otel.Tracer("marketpipe").Start(ctx, stage,
		trace.WithAttributes(
			attribute.String("pipeline.stage", stage),
			attribute.String("pipeline.topic", topic),
		))
}

// Package metrics exposes pipeline counters. Every drop and every error in
// the pipeline increments a counter here so nothing is silently swallowed.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector bundles the pipeline counters. A nil Collector is a no-op at
// every call site, mirroring how loggers are handled.
type Collector struct {
	FramesDecoded      prometheus.Counter
	DecodeFailures     *prometheus.CounterVec
	QueueDrops         *prometheus.CounterVec
	FanoutDrops        prometheus.Counter
	Reconnects         prometheus.Counter
	ClassifierFailures prometheus.Counter
	AlertsSent         prometheus.Counter
	SendFailures       prometheus.Counter
	PersistDrops       prometheus.Counter
}

// NewCollector registers the counters with reg; nil means the default
// registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		FramesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forestwatch_frames_decoded_total",
			Help: "Wire frames decoded into alerts.",
		}),
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forestwatch_decode_failures_total",
			Help: "Wire frames rejected, by reason.",
		}, []string{"reason"}),
		QueueDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forestwatch_queue_drops_total",
			Help: "Items dropped oldest-first under backpressure, by stage.",
		}, []string{"stage"}),
		FanoutDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forestwatch_fanout_drops_total",
			Help: "Live events dropped for slow subscribers.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forestwatch_serial_reconnects_total",
			Help: "Serial link reopens after loss.",
		}),
		ClassifierFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forestwatch_classifier_failures_total",
			Help: "Inference errors treated as no-detection windows.",
		}),
		AlertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forestwatch_alerts_sent_total",
			Help: "Alerts encoded and handed to the transport.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forestwatch_send_failures_total",
			Help: "Alert transmissions that failed at the transport.",
		}),
		PersistDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forestwatch_persist_drops_total",
			Help: "Alerts not persisted because the writer queue was full.",
		}),
	}
	reg.MustRegister(
		c.FramesDecoded, c.DecodeFailures, c.QueueDrops, c.FanoutDrops,
		c.Reconnects, c.ClassifierFailures, c.AlertsSent, c.SendFailures,
		c.PersistDrops,
	)
	return c
}

func (c *Collector) IncDecodeFailure(reason string) {
	if c != nil {
		c.DecodeFailures.WithLabelValues(reason).Inc()
	}
}

func (c *Collector) IncQueueDrop(stage string) {
	if c != nil {
		c.QueueDrops.WithLabelValues(stage).Inc()
	}
}

func inc(ctr prometheus.Counter) {
	if ctr != nil {
		ctr.Inc()
	}
}

func (c *Collector) IncFramesDecoded() {
	if c != nil {
		inc(c.FramesDecoded)
	}
}

func (c *Collector) IncFanoutDrop() {
	if c != nil {
		inc(c.FanoutDrops)
	}
}

func (c *Collector) IncReconnect() {
	if c != nil {
		inc(c.Reconnects)
	}
}

func (c *Collector) IncClassifierFailure() {
	if c != nil {
		inc(c.ClassifierFailures)
	}
}

func (c *Collector) IncAlertSent() {
	if c != nil {
		inc(c.AlertsSent)
	}
}

func (c *Collector) IncSendFailure() {
	if c != nil {
		inc(c.SendFailures)
	}
}

func (c *Collector) IncPersistDrop() {
	if c != nil {
		inc(c.PersistDrops)
	}
}

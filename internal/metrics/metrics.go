// Package metrics exposes the publishing pipeline's health as Prometheus
// collectors: per-state post counts, publish outcomes, and queue depth.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector registers and records the pipeline metrics.
type Collector struct {
	postStates      *prometheus.GaugeVec
	publishOutcomes *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
	queueDepth      *prometheus.GaugeVec
	sweepRuns       *prometheus.CounterVec
}

// NewCollector registers the collectors on reg. If reg is nil the default
// registerer is used; already-registered collectors are reused.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	postStates := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "syndicate_posts",
		Help: "Number of scheduled posts per lifecycle state",
	}, []string{"status"})
	publishOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "syndicate_publish_attempts_total",
		Help: "Total publish attempts by platform and outcome",
	}, []string{"platform", "success"})
	publishDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "syndicate_publish_duration_seconds",
		Help:    "Time spent in the platform publish call",
		Buckets: prometheus.DefBuckets,
	}, []string{"platform"})
	queueDepth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "syndicate_queue_depth",
		Help: "Pending jobs per queue family",
	}, []string{"queue"})
	sweepRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "syndicate_sweep_runs_total",
		Help: "Maintenance sweep executions by sweep name",
	}, []string{"sweep"})

	c := &Collector{
		postStates:      postStates,
		publishOutcomes: publishOutcomes,
		publishDuration: publishDuration,
		queueDepth:      queueDepth,
		sweepRuns:       sweepRuns,
	}

	for _, collector := range []prometheus.Collector{postStates, publishOutcomes, publishDuration, queueDepth, sweepRuns} {
		if err := reg.Register(collector); err != nil {
			are, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				return nil, err
			}
			switch existing := are.ExistingCollector.(type) {
			case *prometheus.GaugeVec:
				if collector == postStates {
					c.postStates = existing
				} else {
					c.queueDepth = existing
				}
			case *prometheus.CounterVec:
				if collector == publishOutcomes {
					c.publishOutcomes = existing
				} else {
					c.sweepRuns = existing
				}
			case *prometheus.HistogramVec:
				c.publishDuration = existing
			}
		}
	}

	return c, nil
}

func (c *Collector) SetPostStateCount(status string, n int64) {
	c.postStates.WithLabelValues(status).Set(float64(n))
}

func (c *Collector) RecordPublish(platform string, success bool) {
	c.publishOutcomes.WithLabelValues(platform, strconv.FormatBool(success)).Inc()
}

func (c *Collector) ObservePublishDuration(platform string, d time.Duration) {
	c.publishDuration.WithLabelValues(platform).Observe(d.Seconds())
}

func (c *Collector) SetQueueDepth(queueName string, n int64) {
	c.queueDepth.WithLabelValues(queueName).Set(float64(n))
}

func (c *Collector) RecordSweepRun(sweep string) {
	c.sweepRuns.WithLabelValues(sweep).Inc()
}

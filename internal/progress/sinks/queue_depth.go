package sinks

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/civicdocs/ingestor/internal/pipeline"
)

// Depther reports queue entry counts per lifecycle state.
type Depther interface {
	Depth(ctx context.Context) (pipeline.QueueDepth, error)
}

// QueueDepthCollector exports queue depth as a gauge, polled at scrape
// time rather than driven by events.
type QueueDepthCollector struct {
	queue   Depther
	timeout time.Duration
	desc    *prometheus.Desc
}

// NewQueueDepthCollector builds a collector over the queue.
func NewQueueDepthCollector(queue Depther) *QueueDepthCollector {
	return &QueueDepthCollector{
		queue:   queue,
		timeout: 3 * time.Second,
		desc: prometheus.NewDesc(
			"ingestor_queue_depth",
			"Queue entries per lifecycle status.",
			[]string{"status"},
			nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *QueueDepthCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector. A failed depth query yields
// no samples for this scrape.
func (c *QueueDepthCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	depth, err := c.queue.Depth(ctx)
	if err != nil {
		return
	}
	for status, count := range map[string]int{
		string(pipeline.StatusPending):     depth.Pending,
		string(pipeline.StatusDownloading): depth.Downloading,
		string(pipeline.StatusProcessing):  depth.Processing,
		string(pipeline.StatusCompleted):   depth.Completed,
		string(pipeline.StatusFailed):      depth.Failed,
	} {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(count), status)
	}
}

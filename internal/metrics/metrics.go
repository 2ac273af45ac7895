// ============================================================================
// mcpipe Metrics - Prometheus submission metrics
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Count submissions and partition sizes of a batch run
//
// The orchestrator is a short-lived process, so nothing is scraped over HTTP.
// Metrics live on a private registry and are written once at the end of a run
// with prometheus.WriteToTextfile, in the node_exporter textfile format.
//
// Metrics:
//   - mcpipe_submissions_total{stage,particle}         successful submissions
//   - mcpipe_submission_failures_total{stage,particle} failed submissions
//   - mcpipe_submission_latency_seconds{stage}         time until a handle is issued
//   - mcpipe_partition_files{particle,set}             files per split side
//   - mcpipe_partition_chunks{particle,set}            work units per split side
//
// ============================================================================

package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ChuLiYu/mcpipe/pkg/types"
)

const namespace = "mcpipe"

// Collector holds the run metrics.
type Collector struct {
	registry *prometheus.Registry

	submissions *prometheus.CounterVec
	failures    *prometheus.CounterVec
	latency     *prometheus.HistogramVec

	partitionFiles  *prometheus.GaugeVec
	partitionChunks *prometheus.GaugeVec
}

// NewCollector creates a collector on its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Total number of jobs submitted to the batch scheduler",
		}, []string{"stage", "particle"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submission_failures_total",
			Help:      "Total number of submissions that returned no job handle",
		}, []string{"stage", "particle"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_latency_seconds",
			Help:      "Time until the scheduler issued a job handle",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		partitionFiles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "partition_files",
			Help:      "Number of input files per side of the train/test split",
		}, []string{"particle", "set"}),
		partitionChunks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "partition_chunks",
			Help:      "Number of work units per side of the train/test split",
		}, []string{"particle", "set"}),
	}

	c.registry.MustRegister(
		c.submissions,
		c.failures,
		c.latency,
		c.partitionFiles,
		c.partitionChunks,
	)
	return c
}

// Registry exposes the private registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveSubmission records one submission attempt.
func (c *Collector) ObserveSubmission(stage string, particle types.Particle, elapsed time.Duration, err error) {
	c.latency.WithLabelValues(stage).Observe(elapsed.Seconds())
	if err != nil {
		c.failures.WithLabelValues(stage, string(particle)).Inc()
		return
	}
	c.submissions.WithLabelValues(stage, string(particle)).Inc()
}

// RecordPartition records the size of one side of a split.
func (c *Collector) RecordPartition(particle types.Particle, set types.SetType, files, chunks int) {
	c.partitionFiles.WithLabelValues(string(particle), string(set)).Set(float64(files))
	c.partitionChunks.WithLabelValues(string(particle), string(set)).Set(float64(chunks))
}

// WriteTextfile writes every metric to path atomically.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("metrics: write textfile: %w", err)
	}
	return nil
}

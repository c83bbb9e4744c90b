package wnbd

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wnbd-io/go-wnbd/internal/interfaces"
)

// latencyBuckets mirrors the teacher's log-spaced histogram, 1us..10s.
var latencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks one disk's request counters for every request kind the
// pipeline handles (spec §3: "received/submitted/completed/aborted
// requests, outstanding IO, per-kind error counters").
type Metrics struct {
	ReadOps    atomic.Uint64
	WriteOps   atomic.Uint64
	FlushOps   atomic.Uint64
	UnmapOps   atomic.Uint64

	ReadBytes  atomic.Uint64
	WriteBytes atomic.Uint64
	UnmapBytes atomic.Uint64

	ReadErrors  atomic.Uint64
	WriteErrors atomic.Uint64
	FlushErrors atomic.Uint64
	UnmapErrors atomic.Uint64

	SubmittedRequests atomic.Uint64
	CompletedRequests atomic.Uint64
	AbortedRequests   atomic.Uint64
	InvalidRequests   atomic.Uint64
	OutstandingIO     atomic.Int64

	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
}

// NewMetrics allocates a Metrics with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// ObserveRequest implements interfaces.Observer, dispatching to the
// counters for kind ("read", "write", "flush", "unmap").
func (m *Metrics) ObserveRequest(kind string, bytes uint64, latencyNs uint64, success bool) {
	switch kind {
	case "read":
		m.ReadOps.Add(1)
		if success {
			m.ReadBytes.Add(bytes)
		} else {
			m.ReadErrors.Add(1)
		}
	case "write":
		m.WriteOps.Add(1)
		if success {
			m.WriteBytes.Add(bytes)
		} else {
			m.WriteErrors.Add(1)
		}
	case "flush":
		m.FlushOps.Add(1)
		if !success {
			m.FlushErrors.Add(1)
		}
	case "unmap":
		m.UnmapOps.Add(1)
		if success {
			m.UnmapBytes.Add(bytes)
		} else {
			m.UnmapErrors.Add(1)
		}
	}

	m.CompletedRequests.Add(1)
	if !success {
		m.AbortedRequests.Add(1)
	}
	m.OutstandingIO.Add(-1)
	m.recordLatency(latencyNs)
}

// ObserveQueueDepth implements interfaces.Observer.
func (m *Metrics) ObserveQueueDepth(diskID uint64, pending int, submitted int) {
	depth := uint32(pending + submitted)
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)
	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

// ObserveSubmitted marks a request as handed off to a backend, prior to
// ObserveRequest being called on completion.
func (m *Metrics) ObserveSubmitted() {
	m.SubmittedRequests.Add(1)
	m.OutstandingIO.Add(1)
}

// ObserveInvalid records a request that was rejected at ingress and never
// reached a backend.
func (m *Metrics) ObserveInvalid() {
	m.InvalidRequests.Add(1)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range latencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

var _ interfaces.Observer = (*Metrics)(nil)

// prometheus.Collector implementation, grounded on the exporter pattern in
// the example pack's sockstats collector: Describe/Collect over a fixed
// set of *prometheus.Desc, built once and read from atomic counters on
// every scrape.
var (
	descReadOps  = prometheus.NewDesc("wnbd_read_ops_total", "Completed read operations.", nil, nil)
	descWriteOps = prometheus.NewDesc("wnbd_write_ops_total", "Completed write operations.", nil, nil)
	descFlushOps = prometheus.NewDesc("wnbd_flush_ops_total", "Completed flush operations.", nil, nil)
	descUnmapOps = prometheus.NewDesc("wnbd_unmap_ops_total", "Completed unmap operations.", nil, nil)

	descReadBytes  = prometheus.NewDesc("wnbd_read_bytes_total", "Bytes read.", nil, nil)
	descWriteBytes = prometheus.NewDesc("wnbd_write_bytes_total", "Bytes written.", nil, nil)
	descUnmapBytes = prometheus.NewDesc("wnbd_unmap_bytes_total", "Bytes unmapped.", nil, nil)

	descReadErrors  = prometheus.NewDesc("wnbd_read_errors_total", "Failed read operations.", nil, nil)
	descWriteErrors = prometheus.NewDesc("wnbd_write_errors_total", "Failed write operations.", nil, nil)
	descFlushErrors = prometheus.NewDesc("wnbd_flush_errors_total", "Failed flush operations.", nil, nil)
	descUnmapErrors = prometheus.NewDesc("wnbd_unmap_errors_total", "Failed unmap operations.", nil, nil)

	descSubmitted = prometheus.NewDesc("wnbd_submitted_requests_total", "Requests handed off to a backend.", nil, nil)
	descCompleted = prometheus.NewDesc("wnbd_completed_requests_total", "Requests completed back to the host port.", nil, nil)
	descAborted   = prometheus.NewDesc("wnbd_aborted_requests_total", "Requests completed with a non-success status.", nil, nil)
	descInvalid   = prometheus.NewDesc("wnbd_invalid_requests_total", "Requests rejected at ingress.", nil, nil)
	descOutstanding = prometheus.NewDesc("wnbd_outstanding_io", "Requests currently submitted and not yet completed.", nil, nil)

	descMaxQueueDepth = prometheus.NewDesc("wnbd_max_queue_depth", "Highest combined pending+submitted queue depth observed.", nil, nil)
	descAvgLatency    = prometheus.NewDesc("wnbd_avg_latency_seconds", "Mean completed-request latency.", nil, nil)
)

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- descReadOps
	ch <- descWriteOps
	ch <- descFlushOps
	ch <- descUnmapOps
	ch <- descReadBytes
	ch <- descWriteBytes
	ch <- descUnmapBytes
	ch <- descReadErrors
	ch <- descWriteErrors
	ch <- descFlushErrors
	ch <- descUnmapErrors
	ch <- descSubmitted
	ch <- descCompleted
	ch <- descAborted
	ch <- descInvalid
	ch <- descOutstanding
	ch <- descMaxQueueDepth
	ch <- descAvgLatency
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(descReadOps, m.ReadOps.Load())
	counter(descWriteOps, m.WriteOps.Load())
	counter(descFlushOps, m.FlushOps.Load())
	counter(descUnmapOps, m.UnmapOps.Load())
	counter(descReadBytes, m.ReadBytes.Load())
	counter(descWriteBytes, m.WriteBytes.Load())
	counter(descUnmapBytes, m.UnmapBytes.Load())
	counter(descReadErrors, m.ReadErrors.Load())
	counter(descWriteErrors, m.WriteErrors.Load())
	counter(descFlushErrors, m.FlushErrors.Load())
	counter(descUnmapErrors, m.UnmapErrors.Load())
	counter(descSubmitted, m.SubmittedRequests.Load())
	counter(descCompleted, m.CompletedRequests.Load())
	counter(descAborted, m.AbortedRequests.Load())
	counter(descInvalid, m.InvalidRequests.Load())

	ch <- prometheus.MustNewConstMetric(descOutstanding, prometheus.GaugeValue, float64(m.OutstandingIO.Load()))
	ch <- prometheus.MustNewConstMetric(descMaxQueueDepth, prometheus.GaugeValue, float64(m.MaxQueueDepth.Load()))

	var avgLatency float64
	if n := m.OpCount.Load(); n > 0 {
		avgLatency = float64(m.TotalLatencyNs.Load()) / float64(n) / 1e9
	}
	ch <- prometheus.MustNewConstMetric(descAvgLatency, prometheus.GaugeValue, avgLatency)
}

var _ prometheus.Collector = (*Metrics)(nil)

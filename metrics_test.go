package wnbd

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestObserveRequestCountsOpsAndBytes(t *testing.T) {
	m := NewMetrics()
	m.ObserveSubmitted()
	m.ObserveRequest("read", 4096, 5_000, true)

	if got := m.ReadOps.Load(); got != 1 {
		t.Errorf("ReadOps = %d, want 1", got)
	}
	if got := m.ReadBytes.Load(); got != 4096 {
		t.Errorf("ReadBytes = %d, want 4096", got)
	}
	if got := m.OutstandingIO.Load(); got != 0 {
		t.Errorf("OutstandingIO = %d, want 0 after completion", got)
	}
}

func TestObserveRequestFailureIncrementsErrorsAndAborted(t *testing.T) {
	m := NewMetrics()
	m.ObserveRequest("write", 512, 1_000, false)

	if got := m.WriteErrors.Load(); got != 1 {
		t.Errorf("WriteErrors = %d, want 1", got)
	}
	if got := m.AbortedRequests.Load(); got != 1 {
		t.Errorf("AbortedRequests = %d, want 1", got)
	}
	if got := m.WriteBytes.Load(); got != 0 {
		t.Errorf("WriteBytes = %d, want 0 on failure", got)
	}
}

func TestObserveInvalidDoesNotTouchOpCounters(t *testing.T) {
	m := NewMetrics()
	m.ObserveInvalid()

	if got := m.InvalidRequests.Load(); got != 1 {
		t.Errorf("InvalidRequests = %d, want 1", got)
	}
	if got := m.ReadOps.Load() + m.WriteOps.Load(); got != 0 {
		t.Errorf("op counters = %d, want 0", got)
	}
}

func TestObserveQueueDepthTracksMax(t *testing.T) {
	m := NewMetrics()
	m.ObserveQueueDepth(1, 3, 2)
	m.ObserveQueueDepth(1, 1, 1)
	m.ObserveQueueDepth(1, 10, 0)

	if got := m.MaxQueueDepth.Load(); got != 10 {
		t.Errorf("MaxQueueDepth = %d, want 10", got)
	}
	if got := m.QueueDepthCount.Load(); got != 3 {
		t.Errorf("QueueDepthCount = %d, want 3", got)
	}
}

func TestLatencyBucketsAreCumulative(t *testing.T) {
	m := NewMetrics()
	m.ObserveRequest("flush", 0, 500, true) // 500ns, within every bucket

	for i := range latencyBuckets {
		if got := m.LatencyBuckets[i].Load(); got != 1 {
			t.Errorf("bucket %d = %d, want 1", i, got)
		}
	}
}

func TestCollectorDescribeAndCollectAgree(t *testing.T) {
	m := NewMetrics()
	m.ObserveSubmitted()
	m.ObserveRequest("read", 1024, 2_000, true)

	descs := make(chan *prometheus.Desc, 32)
	m.Describe(descs)
	close(descs)
	var descCount int
	for range descs {
		descCount++
	}

	metrics := make(chan prometheus.Metric, 32)
	m.Collect(metrics)
	close(metrics)
	var metricCount int
	for range metrics {
		metricCount++
	}

	if descCount != metricCount {
		t.Errorf("Describe emitted %d descs, Collect emitted %d metrics", descCount, metricCount)
	}
}

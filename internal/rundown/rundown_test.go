package rundown

import (
	"testing"
	"time"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	c := New()
	if !c.Acquire() {
		t.Fatal("Acquire() = false, want true")
	}
	if c.Count() != 1 {
		t.Errorf("Count() = %d, want 1", c.Count())
	}
	c.Release()
	if c.Count() != 0 {
		t.Errorf("Count() = %d, want 0", c.Count())
	}
}

func TestBeginRejectsFurtherAcquire(t *testing.T) {
	c := New()
	c.Begin()
	if c.Acquire() {
		t.Error("Acquire() = true after Begin(), want false")
	}
}

func TestBeginWithNoReferencesClosesImmediately(t *testing.T) {
	c := New()
	select {
	case <-c.Begin():
	case <-time.After(50 * time.Millisecond):
		t.Fatal("Begin() channel never closed with zero outstanding references")
	}
}

func TestBeginWaitsForOutstandingReferences(t *testing.T) {
	c := New()
	c.Acquire()
	drained := c.Begin()

	select {
	case <-drained:
		t.Fatal("drained closed before the outstanding reference was released")
	case <-time.After(20 * time.Millisecond):
	}

	c.Release()
	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("drained never closed after Release")
	}
}

func TestBeginIsIdempotent(t *testing.T) {
	c := New()
	a := c.Begin()
	b := c.Begin()
	if a != b {
		t.Error("Begin() called twice returned different channels")
	}
}

package nbd

import "testing"

func TestGetBufferSizesExactly(t *testing.T) {
	for _, size := range []int{512, size2m, size2m + 1, size4m, size8m + 1} {
		buf := GetBuffer(size)
		if len(buf) != size {
			t.Errorf("GetBuffer(%d) len = %d, want %d", size, len(buf), size)
		}
		PutBuffer(buf)
	}
}

func TestPutBufferRoundTripsThroughPool(t *testing.T) {
	buf := GetBuffer(size2m)
	buf[0] = 0xAB
	PutBuffer(buf)

	reused := GetBuffer(size2m)
	// Not guaranteed to be the same backing array, but the pool should not
	// panic or corrupt state across repeated get/put cycles.
	if len(reused) != size2m {
		t.Errorf("len(reused) = %d, want %d", len(reused), size2m)
	}
}

func TestGetBufferOversizedFallsBackToFreshAlloc(t *testing.T) {
	buf := GetBuffer(size8m + 1024)
	if len(buf) != size8m+1024 {
		t.Errorf("len = %d, want %d", len(buf), size8m+1024)
	}
	// Must not panic even though this capacity matches no bucket.
	PutBuffer(buf)
}

package nbd

import "sync"

// Size buckets for the buffer pool the reply worker reads READ payloads
// into. The smallest bucket matches the default maximum transfer length
// (spec §3: "default 2 MiB, grown on demand"); the larger buckets serve
// records longer than that, which ingress itself never produces since it
// caps every transfer at DefaultMaxTransferBytes.
const (
	size2m = 2 << 20
	size4m = 4 << 20
	size8m = 8 << 20
)

var globalPool = struct {
	pool2m, pool4m, pool8m sync.Pool
}{
	pool2m: sync.Pool{New: func() any { b := make([]byte, size2m); return &b }},
	pool4m: sync.Pool{New: func() any { b := make([]byte, size4m); return &b }},
	pool8m: sync.Pool{New: func() any { b := make([]byte, size8m); return &b }},
}

// GetBuffer returns a pooled buffer of at least size bytes, trimmed to
// exactly size. Buffers larger than the biggest bucket are allocated
// fresh and never returned to the pool.
func GetBuffer(size int) []byte {
	switch {
	case size <= size2m:
		return (*globalPool.pool2m.Get().(*[]byte))[:size]
	case size <= size4m:
		return (*globalPool.pool4m.Get().(*[]byte))[:size]
	case size <= size8m:
		return (*globalPool.pool8m.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// PutBuffer returns buf to the pool matching its capacity. A buffer whose
// capacity does not match a bucket exactly (e.g. the oversized fallback
// from GetBuffer) is dropped instead of pooled.
func PutBuffer(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size2m:
		globalPool.pool2m.Put(&buf)
	case size4m:
		globalPool.pool4m.Put(&buf)
	case size8m:
		globalPool.pool8m.Put(&buf)
	}
}

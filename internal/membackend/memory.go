// Package membackend provides a RAM-backed store used by tests and the
// demo binary to stand in for a real NBD export or user-space backend
// process (spec §4.4, §4.5).
package membackend

import (
	"fmt"
	"sync"
)

// ShardSize is the size of each memory shard. Sharded locking lets
// concurrent requests to disjoint regions of the device proceed without
// contending on a single mutex.
const ShardSize = 64 * 1024

// Memory is a fixed-size RAM disk addressed by byte offset.
type Memory struct {
	data   []byte
	size   int64
	shards []sync.RWMutex
}

// New creates a zero-filled memory backend of the given size in bytes.
func New(size int64) *Memory {
	numShards := (size + ShardSize - 1) / ShardSize
	if numShards < 1 {
		numShards = 1
	}
	return &Memory{
		data:   make([]byte, size),
		size:   size,
		shards: make([]sync.RWMutex, numShards),
	}
}

func (m *Memory) shardRange(off, length int64) (start, end int) {
	start = int(off / ShardSize)
	end = int((off + length - 1) / ShardSize)
	if end >= len(m.shards) {
		end = len(m.shards) - 1
	}
	return start, end
}

// ReadAt copies up to len(p) bytes starting at off into p, clamped to the
// device size.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= m.size {
		return 0, nil
	}
	if available := m.size - off; int64(len(p)) > available {
		p = p[:available]
	}

	start, end := m.shardRange(off, int64(len(p)))
	for i := start; i <= end; i++ {
		m.shards[i].RLock()
	}
	n := copy(p, m.data[off:off+int64(len(p))])
	for i := start; i <= end; i++ {
		m.shards[i].RUnlock()
	}
	return n, nil
}

// WriteAt copies len(p) bytes from p into the device starting at off.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= m.size {
		return 0, fmt.Errorf("membackend: write beyond end of device")
	}
	if available := m.size - off; int64(len(p)) > available {
		p = p[:available]
	}

	start, end := m.shardRange(off, int64(len(p)))
	for i := start; i <= end; i++ {
		m.shards[i].Lock()
	}
	n := copy(m.data[off:off+int64(len(p))], p)
	for i := start; i <= end; i++ {
		m.shards[i].Unlock()
	}
	return n, nil
}

// Discard zero-fills [offset, offset+length), clamped to the device size;
// it backs both UNMAP and the NBD_CMD_TRIM translation.
func (m *Memory) Discard(offset, length int64) error {
	if offset < 0 || offset >= m.size {
		return nil
	}
	end := offset + length
	if end > m.size {
		end = m.size
	}

	start, stop := m.shardRange(offset, end-offset)
	for i := start; i <= stop; i++ {
		m.shards[i].Lock()
	}
	for i := offset; i < end; i++ {
		m.data[i] = 0
	}
	for i := start; i <= stop; i++ {
		m.shards[i].Unlock()
	}
	return nil
}

// Flush is a no-op: a RAM-backed device has nothing to fsync.
func (m *Memory) Flush() error { return nil }

// Size returns the device capacity in bytes.
func (m *Memory) Size() int64 { return m.size }

// Close releases the backing buffer.
func (m *Memory) Close() error {
	m.data = nil
	return nil
}

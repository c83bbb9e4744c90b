// Package reqqueue implements the per-disk pending/submitted request queues
// and the request record they carry (spec §3, §4.2).
package reqqueue

import (
	"sync/atomic"
	"time"
)

// Kind enumerates the IO intents a Record can carry, derived by SRB ingress
// from the originating CDB.
type Kind int

const (
	KindRead Kind = iota
	KindWrite
	KindFlush
	KindUnmap
	KindPersistResIn
	KindPersistResOut
)

func (k Kind) String() string {
	switch k {
	case KindRead:
		return "READ"
	case KindWrite:
		return "WRITE"
	case KindFlush:
		return "FLUSH"
	case KindUnmap:
		return "UNMAP"
	case KindPersistResIn:
		return "PERSIST_RES_IN"
	case KindPersistResOut:
		return "PERSIST_RES_OUT"
	default:
		return "UNKNOWN"
	}
}

// Record is one in-flight SRB's bookkeeping (spec §3, "Request Record").
// A Record lives in exactly one of {pending, submitted, neither}; List
// enforces that by only ever holding a Record's next/prev under its own
// lock.
type Record struct {
	// SRBContext is the back-pointer to whatever the ingress needs in order
	// to complete the originating request; its concrete type is owned by
	// the caller (a mock SRB in tests, a real host-port handle in
	// production).
	SRBContext interface{}

	DiskID           uint64
	Tag              uint64
	Kind             Kind
	StartingLBABytes uint64
	DataLengthBytes  uint32
	FUA              bool
	ServiceAction    uint8
	SubmittedAt      time.Time

	aborted   atomic.Bool
	completed atomic.Bool

	next, prev *Record
}

// MarkAborted flips the aborted flag. It does not itself complete the
// record; callers still run the single-completion path (spec §4.1,
// two-stage cancellation).
func (r *Record) MarkAborted() {
	r.aborted.Store(true)
}

// Aborted reports whether the record has been marked aborted.
func (r *Record) Aborted() bool {
	return r.aborted.Load()
}

// CompleteOnce is the single-completion guard (spec §3 invariant:
// "completed is set by exactly one path using an atomic exchange"). It
// returns true for exactly one caller across however many goroutines race
// to complete the same record.
func (r *Record) CompleteOnce() bool {
	return !r.completed.Swap(true)
}

// Completed reports whether the record has already been completed.
func (r *Record) Completed() bool {
	return r.completed.Load()
}

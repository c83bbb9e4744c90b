package reqqueue

import (
	"context"
	"sync"
)

// semaphoreCapacity bounds the pending queue's counting semaphore. Tokens
// are zero-sized (chan struct{}), so a generous capacity costs nothing and
// is never reached in practice: one token is produced per Enqueue and
// consumed per Wait, so the channel never holds more tokens than there are
// records actually queued.
const semaphoreCapacity = 1 << 20

// list is an intrusive doubly-linked FIFO (spec §4.2). It is not itself
// safe for concurrent use; PendingQueue and SubmittedQueue each guard their
// own list with their own lock.
type list struct {
	head, tail *Record
	size       int
}

func (l *list) pushBack(r *Record) {
	r.prev = l.tail
	r.next = nil
	if l.tail != nil {
		l.tail.next = r
	} else {
		l.head = r
	}
	l.tail = r
	l.size++
}

func (l *list) popFront() *Record {
	r := l.head
	if r == nil {
		return nil
	}
	l.remove(r)
	return r
}

func (l *list) remove(r *Record) {
	if r.prev != nil {
		r.prev.next = r.next
	} else {
		l.head = r.next
	}
	if r.next != nil {
		r.next.prev = r.prev
	} else {
		l.tail = r.prev
	}
	r.next, r.prev = nil, nil
	l.size--
}

// PendingQueue is the per-disk pending FIFO: enqueued by SRB ingress,
// dequeued by whichever dispatcher (NBD worker or user-space caller) is
// ready to transmit next. Its semaphore lets a dequeuing goroutine wait
// jointly on queue non-emptiness and a cancellation context standing in
// for the disk's removal event (spec §4.2).
type PendingQueue struct {
	mu  sync.Mutex
	l   list
	sem chan struct{}
}

// NewPendingQueue returns an empty pending queue.
func NewPendingQueue() *PendingQueue {
	return &PendingQueue{sem: make(chan struct{}, semaphoreCapacity)}
}

// Enqueue appends r to the tail and signals the semaphore (spec §4.1 step
// 3-4: insert under the queue lock, then signal).
func (q *PendingQueue) Enqueue(r *Record) {
	q.mu.Lock()
	q.l.pushBack(r)
	q.mu.Unlock()
	select {
	case q.sem <- struct{}{}:
	default:
	}
}

// Wait blocks until a record is available or ctx is done (the disk's
// terminate/removal event), then dequeues and returns it. ok is false iff
// ctx ended the wait instead of a dequeue.
func (q *PendingQueue) Wait(ctx context.Context) (r *Record, ok bool) {
	select {
	case <-q.sem:
	case <-ctx.Done():
		return nil, false
	}
	q.mu.Lock()
	r = q.l.popFront()
	q.mu.Unlock()
	return r, r != nil
}

// TryDequeue pops one record without blocking, or returns false if empty.
func (q *PendingQueue) TryDequeue() (*Record, bool) {
	select {
	case <-q.sem:
	default:
		return nil, false
	}
	q.mu.Lock()
	r := q.l.popFront()
	q.mu.Unlock()
	return r, r != nil
}

// Len reports the current pending depth.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.l.size
}

// DrainAll removes and returns every pending record, for teardown paths
// that must complete each one as ABORTED (spec §4.6 step 5).
func (q *PendingQueue) DrainAll() []*Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Record, 0, q.l.size)
	for r := q.l.popFront(); r != nil; r = q.l.popFront() {
		select {
		case <-q.sem:
		default:
		}
		out = append(out, r)
	}
	return out
}

// SubmittedQueue is the per-disk submitted FIFO: a record is inserted
// immediately before transmission and removed when its reply (matched by
// tag) arrives, or when teardown drains it. It carries no semaphore; the
// reply path scans it by tag (spec §4.2, §4.4).
type SubmittedQueue struct {
	mu sync.Mutex
	l  list
}

// NewSubmittedQueue returns an empty submitted queue.
func NewSubmittedQueue() *SubmittedQueue {
	return &SubmittedQueue{}
}

// Insert appends r to the tail.
func (q *SubmittedQueue) Insert(r *Record) {
	q.mu.Lock()
	q.l.pushBack(r)
	q.mu.Unlock()
}

// RemoveByTag scans for the record with the given tag, removes it if
// found, and returns it.
func (q *SubmittedQueue) RemoveByTag(tag uint64) (*Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for r := q.l.head; r != nil; r = r.next {
		if r.Tag == tag {
			q.l.remove(r)
			return r, true
		}
	}
	return nil, false
}

// MarkAllAborted marks every record currently in the submitted queue as
// aborted without removing them, so that a late reply still finds its tag
// and can be discarded on arrival rather than forwarded (spec §4.1,
// two-stage cancellation). It returns the marked records so the caller can
// complete each one immediately (stage 1 of that cancellation) while they
// stay queued for stage 2's discard.
func (q *SubmittedQueue) MarkAllAborted() []*Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Record, 0, q.l.size)
	for r := q.l.head; r != nil; r = r.next {
		r.MarkAborted()
		out = append(out, r)
	}
	return out
}

// Len reports the current submitted depth.
func (q *SubmittedQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.l.size
}

// DrainAll removes and returns every submitted record, for hard-teardown
// paths that complete them locally rather than waiting for replies (spec
// §4.6, hard remove).
func (q *SubmittedQueue) DrainAll() []*Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Record, 0, q.l.size)
	for r := q.l.popFront(); r != nil; r = q.l.popFront() {
		out = append(out, r)
	}
	return out
}

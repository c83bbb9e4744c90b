package nbd

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wnbd-io/go-wnbd/internal/interfaces"
	"github.com/wnbd-io/go-wnbd/internal/reqqueue"
	"github.com/wnbd-io/go-wnbd/internal/rundown"
	"github.com/wnbd-io/go-wnbd/internal/uapi"
)

// Config wires a Dispatcher to its disk's queues, transport, and
// observability surface (spec §4.4).
type Config struct {
	Conn         *GuardedConn
	DiskID       uint64
	FUASupported bool

	Pending   *reqqueue.PendingQueue
	Submitted *reqqueue.SubmittedQueue
	// Rundown is the disk's rundown counter. It is released directly (not
	// via HostPort.CompleteSRB) when a reply arrives for a record already
	// completed by two-stage cancellation (spec §4.1), since that record
	// must not be delivered to HostPort a second time.
	Rundown *rundown.Counter

	HostPort interfaces.HostPort
	Logger   interfaces.Logger
	Observer interfaces.Observer

	// PayloadSource returns the outgoing bytes for a WRITE record, read
	// from wherever the caller keeps the original SRB buffer.
	PayloadSource func(rec *reqqueue.Record) []byte
	// PayloadSink delivers the bytes read back for a READ record.
	PayloadSink func(rec *reqqueue.Record, payload []byte)

	// OnTransportError is invoked at most once, from whichever worker
	// notices the transport has failed, to request an async hard
	// teardown (spec §4.4 step 7).
	OnTransportError func(error)
}

// Dispatcher runs the per-disk NBD request/reply worker pair started after
// a successful handshake (spec §4.4).
type Dispatcher struct {
	cfg    Config
	tagSeq atomic.Uint64
	wg     sync.WaitGroup

	teardownOnce sync.Once
}

// NewDispatcher builds a Dispatcher; call Start to launch its workers.
func NewDispatcher(cfg Config) *Dispatcher {
	return &Dispatcher{cfg: cfg}
}

// Start launches the request and reply workers. ctx standing in for the
// per-disk terminate event both workers wait on jointly.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(2)
	go func() { defer d.wg.Done(); d.runRequestWorker(ctx) }()
	go func() { defer d.wg.Done(); d.runReplyWorker(ctx) }()
}

// Join waits for both workers to exit, bounded by timeout (spec §4.6 step
// 4). It reports whether both exited before the deadline.
func (d *Dispatcher) Join(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (d *Dispatcher) nextTag() uint64 {
	return d.tagSeq.Add(1)
}

func (d *Dispatcher) reportTransportError(err error) {
	d.teardownOnce.Do(func() {
		if d.cfg.OnTransportError != nil {
			d.cfg.OnTransportError(err)
		}
	})
}

// runRequestWorker implements spec §4.4's "Request worker".
func (d *Dispatcher) runRequestWorker(ctx context.Context) {
	for {
		rec, ok := d.cfg.Pending.Wait(ctx)
		if !ok {
			return
		}

		rec.Tag = d.nextTag()

		if rec.FUA && !d.cfg.FUASupported {
			d.completeInvalid(rec)
			continue
		}

		cmd, supported := nbdCommandFor(rec.Kind)
		if !supported {
			d.completeInvalid(rec)
			continue
		}

		d.cfg.Submitted.Insert(rec)

		var payload []byte
		if rec.Kind == reqqueue.KindWrite && d.cfg.PayloadSource != nil {
			payload = d.cfg.PayloadSource(rec)
		}

		req := &uapi.NBDRequest{
			Magic:  uapi.NBDRequestMagic,
			Type:   CommandType(cmd, rec.FUA && d.cfg.FUASupported),
			Handle: rec.Tag,
			Offset: rec.StartingLBABytes,
			Length: rec.DataLengthBytes,
		}

		start := time.Now()
		err := WriteRequest(d.cfg.Conn, req, payload)
		if d.cfg.Observer != nil {
			d.cfg.Observer.ObserveRequest(strings.ToLower(rec.Kind.String()), uint64(rec.DataLengthBytes), uint64(time.Since(start).Nanoseconds()), err == nil)
			d.cfg.Observer.ObserveQueueDepth(d.cfg.DiskID, d.cfg.Pending.Len(), d.cfg.Submitted.Len())
		}
		if err != nil {
			if d.cfg.Logger != nil {
				d.cfg.Logger.Errorf("nbd request worker: transport error: %v", err)
			}
			d.reportTransportError(err)
			return
		}
	}
}

// runReplyWorker implements spec §4.4's "Reply worker".
func (d *Dispatcher) runReplyWorker(ctx context.Context) {
	// Unblock a pending ReadReply once ctx ends, so the reply worker also
	// exits on the terminate event and not only on a socket failure.
	stop := context.AfterFunc(ctx, func() { d.cfg.Conn.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		reply, err := ReadReply(d.cfg.Conn)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if d.cfg.Logger != nil {
				d.cfg.Logger.Errorf("nbd reply worker: transport error: %v", err)
			}
			d.reportTransportError(err)
			return
		}

		rec, found := d.cfg.Submitted.RemoveByTag(reply.Handle)
		if !found {
			err := ErrProtocol
			if d.cfg.Logger != nil {
				d.cfg.Logger.Errorf("nbd reply worker: reply for unknown tag %d", reply.Handle)
			}
			d.reportTransportError(err)
			return
		}

		if rec.Kind == reqqueue.KindRead && reply.Error == 0 {
			payload := GetBuffer(int(rec.DataLengthBytes))
			if err := ReadPayload(d.cfg.Conn, payload); err != nil {
				PutBuffer(payload)
				if d.cfg.Logger != nil {
					d.cfg.Logger.Errorf("nbd reply worker: transport error reading payload: %v", err)
				}
				d.reportTransportError(err)
				return
			}
			if d.cfg.PayloadSink != nil && !rec.Aborted() {
				d.cfg.PayloadSink(rec, payload)
			}
			PutBuffer(payload)
		}

		if rec.Aborted() {
			// Already completed by two-stage cancellation; this reply is
			// late and carries no new information, but the record's
			// rundown reference is still ours to release.
			if d.cfg.Rundown != nil {
				d.cfg.Rundown.Release()
			}
			continue
		}

		status := interfaces.SRBStatusSuccess
		dataLen := rec.DataLengthBytes
		if reply.Error != 0 {
			status = interfaces.SRBStatusAborted
			dataLen = 0
		}
		if rec.CompleteOnce() && d.cfg.HostPort != nil {
			d.cfg.HostPort.CompleteSRB(rec.Tag, status, dataLen)
		}
	}
}

func (d *Dispatcher) completeInvalid(rec *reqqueue.Record) {
	if rec.CompleteOnce() && d.cfg.HostPort != nil {
		d.cfg.HostPort.CompleteSRB(rec.Tag, interfaces.SRBStatusInvalidRequest, 0)
	}
}

// nbdCommandFor maps a reqqueue.Kind onto its NBD command type (spec
// §4.3: "Request types mapped from SCSI"). Kinds with no NBD equivalent
// (the PERSIST_RES_* intents, answered inline at the SCSI stub layer per
// spec §4.1/§4.9 and never enqueued for NBD-mode disks) report !supported.
func nbdCommandFor(k reqqueue.Kind) (cmd uint32, supported bool) {
	switch k {
	case reqqueue.KindRead:
		return uapi.NBDCmdRead, true
	case reqqueue.KindWrite:
		return uapi.NBDCmdWrite, true
	case reqqueue.KindFlush:
		return uapi.NBDCmdFlush, true
	case reqqueue.KindUnmap:
		return uapi.NBDCmdTrim, true
	default:
		return 0, false
	}
}

// Package userspace implements the fetch_request/send_response control
// surface exposed to a user-space backend process when a disk is created
// with use_nbd=false (spec §4.5). Unlike the NBD dispatcher, this one has
// no worker goroutines of its own: each call blocks only for the duration
// of the caller's own invocation, mirroring an ioctl round trip.
package userspace

import (
	"context"
	"sync/atomic"

	"github.com/wnbd-io/go-wnbd/internal/interfaces"
	"github.com/wnbd-io/go-wnbd/internal/reqqueue"
	"github.com/wnbd-io/go-wnbd/internal/rundown"
	"github.com/wnbd-io/go-wnbd/internal/uapi"
)

// Config wires a Dispatcher to its disk's queues, identity, and
// observability surface.
type Config struct {
	DiskID       uint64
	ConnectionID uint64
	OwnerPID     uint32
	UseNBD       bool

	Pending   *reqqueue.PendingQueue
	Submitted *reqqueue.SubmittedQueue
	// Rundown is the disk's rundown counter. It is released directly (not
	// via HostPort.CompleteSRB) when send_response arrives for a record
	// already completed by two-stage cancellation (spec §4.1), since that
	// record must not be delivered to HostPort a second time.
	Rundown *rundown.Counter

	HostPort interfaces.HostPort
	Observer interfaces.Observer

	// PayloadSource returns the outgoing bytes for a WRITE/PERSIST_RES_OUT
	// record, read from wherever the caller keeps the original SRB buffer.
	PayloadSource func(rec *reqqueue.Record) []byte
	// PayloadSink delivers the bytes the caller returned for a
	// READ/PERSIST_RES_IN record back to the original SRB buffer. It is
	// always called with a slice of exactly rec.DataLengthBytes, zero
	// padded past whatever the caller actually supplied.
	PayloadSink func(rec *reqqueue.Record, payload []byte)
}

// Dispatcher implements the fetch_request/send_response exchange for one
// disk (spec §4.5).
type Dispatcher struct {
	cfg    Config
	tagSeq atomic.Uint64
}

// NewDispatcher builds a Dispatcher for a single disk.
func NewDispatcher(cfg Config) *Dispatcher {
	return &Dispatcher{cfg: cfg}
}

func (d *Dispatcher) nextTag() uint64 {
	return d.tagSeq.Add(1)
}

// FetchRequest dequeues the next pending record for callerPID, assigns it
// a tag, moves it to the submitted queue, and returns its descriptor plus
// any outgoing payload copied into payloadBuf. ctx standing in for the
// joint wait on the queue semaphore and the disk's removal event: when ctx
// ends without a record ever posting, FetchRequest returns a synthetic
// DISCONNECT descriptor so the caller can exit cleanly (spec §4.5).
//
// Records that fail re-validation (a WRITE/PERSIST_RES_OUT payload that
// cannot fit in payloadBuf) are completed inline as INVALID_REQUEST and
// skipped, exactly as ingress validation failures are.
func (d *Dispatcher) FetchRequest(ctx context.Context, callerPID uint32, payloadBuf []byte) (*uapi.RequestDescriptor, []byte, error) {
	if callerPID != d.cfg.OwnerPID {
		return nil, nil, ErrWrongOwner
	}
	if d.cfg.UseNBD {
		return nil, nil, ErrWrongMode
	}

	for {
		rec, ok := d.cfg.Pending.Wait(ctx)
		if !ok {
			return disconnectDescriptor(d.cfg.ConnectionID), nil, nil
		}

		needsOutgoingPayload := rec.Kind == reqqueue.KindWrite || rec.Kind == reqqueue.KindPersistResOut
		if needsOutgoingPayload && int(rec.DataLengthBytes) > len(payloadBuf) {
			d.completeInvalid(rec)
			continue
		}

		rec.Tag = d.nextTag()
		d.cfg.Submitted.Insert(rec)

		if d.cfg.Observer != nil {
			d.cfg.Observer.ObserveQueueDepth(d.cfg.DiskID, d.cfg.Pending.Len(), d.cfg.Submitted.Len())
		}

		desc := &uapi.RequestDescriptor{
			ConnectionID:  d.cfg.ConnectionID,
			Tag:           rec.Tag,
			Type:          wnbdTypeFor(rec.Kind),
			BlockAddress:  rec.StartingLBABytes,
			BlockCount:    rec.DataLengthBytes,
			FUA:           rec.FUA,
			ServiceAction: rec.ServiceAction,
		}

		var payload []byte
		if needsOutgoingPayload && d.cfg.PayloadSource != nil {
			src := d.cfg.PayloadSource(rec)
			n := copy(payloadBuf, src)
			payload = payloadBuf[:n]
		}
		return desc, payload, nil
	}
}

// SendResponse completes the submitted record identified by resp.Tag.
// For a successful READ/PERSIST_RES_IN, up to len(payload) bytes are
// copied back into the SRB buffer via PayloadSink, zero-filling any tail
// the caller did not supply. A nonzero resp.Status.ScsiStatus completes the
// SRB with SRBStatusError and zero data length; the sense fields of
// resp.Status are not passed on to the host port (spec §4.5).
func (d *Dispatcher) SendResponse(callerPID uint32, resp *uapi.ResponseDescriptor, payload []byte) error {
	if callerPID != d.cfg.OwnerPID {
		return ErrWrongOwner
	}

	rec, found := d.cfg.Submitted.RemoveByTag(resp.Tag)
	if !found {
		return ErrRecordNotFound
	}

	if rec.Aborted() {
		// Already completed by two-stage cancellation; this response is
		// late and carries no new information, but the record's rundown
		// reference is still ours to release.
		if d.cfg.Rundown != nil {
			d.cfg.Rundown.Release()
		}
		return nil
	}

	success := resp.Status.ScsiStatus == 0
	wantsInboundPayload := rec.Kind == reqqueue.KindRead || rec.Kind == reqqueue.KindPersistResIn

	if success && wantsInboundPayload && d.cfg.PayloadSink != nil {
		full := make([]byte, rec.DataLengthBytes)
		copy(full, payload)
		d.cfg.PayloadSink(rec, full)
	}

	status := interfaces.SRBStatusSuccess
	dataLen := rec.DataLengthBytes
	if !success {
		status = interfaces.SRBStatusError
		dataLen = 0
	}

	if rec.CompleteOnce() && d.cfg.HostPort != nil {
		d.cfg.HostPort.CompleteSRB(rec.Tag, status, dataLen)
	}
	return nil
}

func (d *Dispatcher) completeInvalid(rec *reqqueue.Record) {
	if rec.CompleteOnce() && d.cfg.HostPort != nil {
		d.cfg.HostPort.CompleteSRB(rec.Tag, interfaces.SRBStatusInvalidRequest, 0)
	}
}

func disconnectDescriptor(connectionID uint64) *uapi.RequestDescriptor {
	return &uapi.RequestDescriptor{
		ConnectionID: connectionID,
		Type:         uapi.WnbdReqTypeDisconnect,
	}
}

func wnbdTypeFor(k reqqueue.Kind) uapi.WnbdRequestType {
	switch k {
	case reqqueue.KindRead:
		return uapi.WnbdReqTypeRead
	case reqqueue.KindWrite:
		return uapi.WnbdReqTypeWrite
	case reqqueue.KindFlush:
		return uapi.WnbdReqTypeFlush
	case reqqueue.KindUnmap:
		return uapi.WnbdReqTypeUnmap
	case reqqueue.KindPersistResIn:
		return uapi.WnbdReqTypePersistResIn
	case reqqueue.KindPersistResOut:
		return uapi.WnbdReqTypePersistResOut
	default:
		return uapi.WnbdReqTypeUnknown
	}
}

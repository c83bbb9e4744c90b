package wnbd

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/wnbd-io/go-wnbd/internal/constants"
	"github.com/wnbd-io/go-wnbd/internal/interfaces"
	"github.com/wnbd-io/go-wnbd/internal/nbd"
	"github.com/wnbd-io/go-wnbd/internal/reqqueue"
	"github.com/wnbd-io/go-wnbd/internal/rundown"
	"github.com/wnbd-io/go-wnbd/internal/uapi"
	"github.com/wnbd-io/go-wnbd/internal/userspace"
)

type scsiAddr struct {
	Bus, Target, Lun uint8
}

// Disk is one active mapping (spec §3, "Disk"). A real miniport associates
// it with a Windows disk number and PNP device id once the host port's PnP
// subsystem enumerates it; this module only tracks the fields it itself
// produces or consumes.
type Disk struct {
	InstanceName string
	SerialNumber string
	Owner        string
	PID          uint32
	ConnectionID uint64
	PNPDeviceID  string
	addr         scsiAddr

	BlockCount uint64
	BlockSize  uint32
	Flags      uapi.WNBDFlags

	Pending   *reqqueue.PendingQueue
	Submitted *reqqueue.SubmittedQueue
	Metrics   *Metrics
	Rundown   *rundown.Counter

	socket        *nbd.GuardedConn
	nbdDispatcher *nbd.Dispatcher
	usDispatcher  *userspace.Dispatcher

	ctx              context.Context
	cancel           context.CancelFunc
	hardTerminate    atomic.Bool
	removalRequested chan struct{}
	removalOnce      sync.Once
}

// payloadSource returns the outgoing WRITE/UNMAP payload for rec, read
// straight from the SRB it was enqueued from. The NBD and user-space
// dispatchers only ever see a *reqqueue.Record, never an SRB; this closure
// is how the root package keeps that boundary opaque to them (spec §4.4,
// §4.5).
func (d *Disk) payloadSource(rec *reqqueue.Record) []byte {
	if srb, ok := rec.SRBContext.(*SRB); ok {
		return srb.DataBuffer
	}
	return nil
}

func (d *Disk) payloadSink(rec *reqqueue.Record, payload []byte) {
	if srb, ok := rec.SRBContext.(*SRB); ok {
		n := copy(srb.DataBuffer, payload)
		srb.DataTransferLength = uint32(n)
	}
}

// newDisk allocates a Disk and its queues/counters; it does not dial a
// backend or register the disk anywhere (spec §4.6 "Create").
func newDisk(props uapi.WNBDProperties, info *uapi.WNBDConnectionInfo) *Disk {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Disk{
		InstanceName: props.InstanceName,
		SerialNumber: props.SerialNumber,
		Owner:        props.Owner,
		PID:          props.PID,
		ConnectionID: info.ConnectionID,
		PNPDeviceID:  `SCSI\Disk&Ven_WNBD&Prod_Virtual_Disk\` + xid.New().String(),
		addr:         scsiAddr{info.BusNumber, info.TargetID, info.LunID},
		BlockCount:   props.BlockCount,
		BlockSize:    props.BlockSize,
		Flags:        props.Flags,
		Pending:          reqqueue.NewPendingQueue(),
		Submitted:        reqqueue.NewSubmittedQueue(),
		Metrics:          NewMetrics(),
		Rundown:          rundown.New(),
		ctx:              ctx,
		cancel:           cancel,
		removalRequested: make(chan struct{}),
	}
	return d
}

// dialNBD opens and optionally negotiates the NBD transport for a disk
// created with use_nbd=true, updating capability flags and geometry from
// whatever the server actually advertised (spec §4.6).
func (d *Disk) dialNBD(props uapi.WNBDProperties) error {
	nbdProps := props.NBD
	addr := net.JoinHostPort(nbdProps.Hostname, strconv.FormatUint(uint64(nbdProps.PortNumber), 10))
	conn, err := net.DialTimeout("tcp", addr, constants.SocketDialTimeout)
	if err != nil {
		return newError("dialNBD", d.InstanceName, ErrCodeConnectionFailed, err)
	}
	if err := nbd.TuneSocket(conn); err != nil {
		conn.Close()
		return newError("dialNBD", d.InstanceName, ErrCodeConnectionFailed, err)
	}

	if !nbdProps.SkipNegotiation {
		info, err := nbd.Handshake(conn, nbdProps.ExportName)
		if err != nil {
			conn.Close()
			return newError("dialNBD", d.InstanceName, ErrCodeConnectionFailed, err)
		}
		d.BlockCount = info.Size / uint64(d.BlockSize)
		d.Flags.ReadOnly = d.Flags.ReadOnly || info.ReadOnly
		d.Flags.FlushSupported = info.FlushSupported
		d.Flags.FUASupported = info.FUASupported
		d.Flags.UnmapSupported = info.TrimSupported
	}

	d.socket = nbd.NewGuardedConn(conn)
	d.Flags.UseNBD = true
	return nil
}

// startWorkers launches the backend dispatcher appropriate to the disk's
// mode. It must be called after dialNBD (for NBD disks) and before the
// disk is inserted into the registry's visible state, matching create()'s
// ordering in spec §4.6.
func (d *Disk) startWorkers(hostPort interfaces.HostPort, logger interfaces.Logger) {
	wrapped := &diskHostPort{disk: d, inner: hostPort}
	if d.Flags.UseNBD {
		d.nbdDispatcher = nbd.NewDispatcher(nbd.Config{
			Conn:         d.socket,
			DiskID:       d.ConnectionID,
			FUASupported: d.Flags.FUASupported,
			Pending:      d.Pending,
			Submitted:    d.Submitted,
			Rundown:      d.Rundown,
			HostPort:     wrapped,
			Logger:       logger,
			Observer:     d.Metrics,
			PayloadSource: d.payloadSource,
			PayloadSink:   d.payloadSink,
			OnTransportError: func(error) {
				d.requestRemoval(true)
			},
		})
		d.nbdDispatcher.Start(d.ctx)
		return
	}

	d.usDispatcher = userspace.NewDispatcher(userspace.Config{
		DiskID:        d.ConnectionID,
		ConnectionID:  d.ConnectionID,
		OwnerPID:      d.PID,
		UseNBD:        false,
		Pending:       d.Pending,
		Submitted:     d.Submitted,
		Rundown:       d.Rundown,
		HostPort:      wrapped,
		Observer:      d.Metrics,
		PayloadSource: d.payloadSource,
		PayloadSink:   d.payloadSink,
	})
}

// requestRemoval raises the disk's removal signal exactly once; a later
// hard=true call upgrades a pending soft removal by setting the terminate
// flag even though the channel is already closed (spec §4.6).
func (d *Disk) requestRemoval(hard bool) {
	if hard {
		d.hardTerminate.Store(true)
	}
	d.removalOnce.Do(func() {
		close(d.removalRequested)
	})
}

// monitor implements the per-disk teardown sequence (spec §4.6, 9 steps).
// It runs for the lifetime of the disk and returns only once the disk has
// been fully unregistered.
func (d *Disk) monitor(a *Adapter) {
	select {
	case <-a.globalRemoval:
	case <-d.removalRequested:
	}

	// Step 1: force hard-terminate and signal the worker pair.
	d.hardTerminate.Store(true)
	d.cancel()

	// Step 2: disconnect transport.
	if d.socket != nil {
		d.socket.Close()
	}

	// Step 3: join NBD workers, bounded. After this point nothing but this
	// goroutine still touches the disk's queues.
	if d.nbdDispatcher != nil {
		d.nbdDispatcher.Join(constants.WorkerJoinTimeout)
	}
	if d.socket != nil {
		d.socket.Close()
	}

	// Step 4: drain both queues, completing every record as ABORTED. This
	// runs before the rundown wait below on purpose: a record that was
	// enqueued but never dispatched holds a rundown reference that only
	// this drain releases, so waiting on rundown first would needlessly
	// block for the full join timeout on every hard teardown. A submitted
	// record already completed by two-stage cancellation (spec §4.1) is
	// skipped for completion and only has its rundown reference released.
	for _, rec := range d.Pending.DrainAll() {
		d.completeAborted(a, rec)
	}
	for _, rec := range d.Submitted.DrainAll() {
		if rec.Completed() {
			d.Rundown.Release()
			continue
		}
		d.completeAborted(a, rec)
	}

	// Step 5: wait for whatever rundown references remain after the drain
	// above — ordinarily none — to clear.
	drained := d.Rundown.Begin()
	select {
	case <-drained:
	case <-time.After(constants.WorkerJoinTimeout):
		if a.Logger != nil {
			a.Logger.Warnf("disk %s: rundown did not drain within %s, proceeding anyway", d.InstanceName, constants.WorkerJoinTimeout)
		}
	}

	// Steps 6-9: unregister, notify, release address, release adapter
	// rundown reference.
	a.removeDisk(d)
	if a.HostPort != nil {
		a.HostPort.NotifyBusChange()
	}
	a.releaseAddress(d.addr)
	a.rundown.Release()
}

// completeAborted completes rec as ABORTED and releases its rundown
// reference in one step. It is only safe for records no dispatcher can
// still reach by tag — a drained pending record, or a submitted record
// being swept up at final teardown.
func (d *Disk) completeAborted(a *Adapter, rec *reqqueue.Record) {
	if !rec.CompleteOnce() {
		return
	}
	if a.HostPort != nil {
		a.HostPort.CompleteSRB(rec.Tag, interfaces.SRBStatusAborted, 0)
	}
	d.Metrics.AbortedRequests.Add(1)
	d.Metrics.CompletedRequests.Add(1)
	d.Metrics.OutstandingIO.Add(-1)
	d.Rundown.Release()
}

// abortSubmitted implements stage 1 of two-stage cancellation (spec §4.1):
// it completes rec as ABORTED and updates its metrics right away, matching
// the original driver's AbortSubmittedRequests/CompleteRequest. Unlike
// completeAborted it does not release rec's rundown reference — rec stays
// in the submitted queue so the dispatcher can still find it by tag, and
// whichever of them eventually retires it (a late reply recognizing
// rec.Aborted(), or the final teardown drain) releases the reference then.
func (d *Disk) abortSubmitted(a *Adapter, rec *reqqueue.Record) {
	if !rec.CompleteOnce() {
		return
	}
	if a.HostPort != nil {
		a.HostPort.CompleteSRB(rec.Tag, interfaces.SRBStatusAborted, 0)
	}
	d.Metrics.AbortedRequests.Add(1)
	d.Metrics.CompletedRequests.Add(1)
	d.Metrics.OutstandingIO.Add(-1)
}

// diskHostPort wraps the adapter's HostPort so that every completion
// routed through a backend dispatcher also releases the per-IO rundown
// reference enqueueIO acquired, regardless of which dispatcher (NBD or
// user-space) or code path (normal reply, transport-error abort) produced
// the completion.
type diskHostPort struct {
	disk  *Disk
	inner interfaces.HostPort
}

func (h *diskHostPort) CompleteSRB(tag uint64, status interfaces.SRBStatus, dataLength uint32) {
	h.disk.Rundown.Release()
	if h.inner != nil {
		h.inner.CompleteSRB(tag, status, dataLength)
	}
}

func (h *diskHostPort) CompleteAllSRBs(status interfaces.SRBStatus) {
	if h.inner != nil {
		h.inner.CompleteAllSRBs(status)
	}
}

func (h *diskHostPort) NotifyBusChange() {
	if h.inner != nil {
		h.inner.NotifyBusChange()
	}
}

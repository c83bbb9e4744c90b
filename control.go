package wnbd

import (
	"context"

	"github.com/wnbd-io/go-wnbd/internal/uapi"
	"github.com/wnbd-io/go-wnbd/internal/userspace"
)

// FetchRequest implements the user-space control surface's fetch_req
// operation (spec §4.5, §6). callerPID must match the disk's recorded
// owner pid. ctx is canceled when the disk is torn down so a blocked
// caller receives a synthetic DISCONNECT descriptor instead of hanging
// forever.
func (a *Adapter) FetchRequest(ctx context.Context, connectionID uint64, callerPID uint32, payloadBuf []byte) (*uapi.RequestDescriptor, []byte, error) {
	disk, release, ok := a.FindByConnID(connectionID)
	if !ok {
		return nil, nil, newError("FetchRequest", "", ErrCodeNoDevice, nil)
	}
	defer release()

	if disk.usDispatcher == nil {
		return nil, nil, newError("FetchRequest", disk.InstanceName, ErrCodeWrongMode, nil)
	}

	waitCtx, cancel := joinDiskContext(ctx, disk)
	defer cancel()

	desc, payload, err := disk.usDispatcher.FetchRequest(waitCtx, callerPID, payloadBuf)
	if err != nil {
		return nil, nil, wrapUserspaceErr("FetchRequest", disk.InstanceName, err)
	}
	return desc, payload, nil
}

// SendResponse implements the user-space control surface's send_rsp
// operation (spec §4.5, §6).
func (a *Adapter) SendResponse(connectionID uint64, callerPID uint32, resp *uapi.ResponseDescriptor, payload []byte) error {
	disk, release, ok := a.FindByConnID(connectionID)
	if !ok {
		return newError("SendResponse", "", ErrCodeNoDevice, nil)
	}
	defer release()

	if disk.usDispatcher == nil {
		return newError("SendResponse", disk.InstanceName, ErrCodeWrongMode, nil)
	}
	if err := disk.usDispatcher.SendResponse(callerPID, resp, payload); err != nil {
		return wrapUserspaceErr("SendResponse", disk.InstanceName, err)
	}
	return nil
}

func wrapUserspaceErr(op, disk string, err error) error {
	switch err {
	case userspace.ErrWrongOwner:
		return newError(op, disk, ErrCodeWrongOwner, err)
	case userspace.ErrWrongMode:
		return newError(op, disk, ErrCodeWrongMode, err)
	case userspace.ErrRecordNotFound:
		return newError(op, disk, ErrCodeNotFound, err)
	default:
		return newError(op, disk, ErrCodeIO, err)
	}
}

// joinDiskContext derives a context that ends when either the caller's
// context ends or the disk begins teardown, so a blocked fetch_req
// unblocks promptly on disk removal (spec §4.5, "If the disk is being
// removed, return a synthetic DISCONNECT").
func joinDiskContext(parent context.Context, disk *Disk) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := make(chan struct{})
	go func() {
		select {
		case <-disk.ctx.Done():
			cancel()
		case <-stop:
		}
	}()
	return ctx, func() {
		close(stop)
		cancel()
	}
}

// Show returns the resolved properties and SCSI address of a disk by
// instance name (spec §8, scenario 1: "show").
func (a *Adapter) Show(instanceName string) (*uapi.WNBDConnectionInfo, error) {
	disk, release, ok := a.FindByInstanceName(instanceName)
	if !ok {
		return nil, newError("Show", instanceName, ErrCodeNotFound, nil)
	}
	defer release()
	return diskConnectionInfo(disk), nil
}

// List returns connection info for every currently registered disk (spec
// §6, "list").
func (a *Adapter) List() []*uapi.WNBDConnectionInfo {
	disks := a.Enumerate()
	out := make([]*uapi.WNBDConnectionInfo, 0, len(disks))
	for _, d := range disks {
		out = append(out, diskConnectionInfo(d))
	}
	return out
}

func diskConnectionInfo(d *Disk) *uapi.WNBDConnectionInfo {
	return &uapi.WNBDConnectionInfo{
		Properties: uapi.WNBDProperties{
			InstanceName: d.InstanceName,
			SerialNumber: d.SerialNumber,
			Owner:        d.Owner,
			BlockCount:   d.BlockCount,
			BlockSize:    d.BlockSize,
			Flags:        d.Flags,
			PID:          d.PID,
		},
		BusNumber:    d.addr.Bus,
		TargetID:     d.addr.Target,
		LunID:        d.addr.Lun,
		ConnectionID: d.ConnectionID,
		PNPDeviceID:  d.PNPDeviceID,
	}
}

package wnbd

import (
	"github.com/wnbd-io/go-wnbd/internal/interfaces"
	"github.com/wnbd-io/go-wnbd/internal/reqqueue"
)

// SRBFunction enumerates the SRB function codes start_io classifies on
// (spec §4.1).
type SRBFunction int

const (
	SRBFunctionExecuteSCSI SRBFunction = iota
	SRBFunctionResetLogicalUnit
	SRBFunctionAbortCommand
	SRBFunctionResetDevice
	SRBFunctionResetBus
	SRBFunctionFlush
	SRBFunctionShutdown
	SRBFunctionPNP
	SRBFunctionIOControl
)

// SRB is the mock stand-in for the host storage port's SCSI Request Block:
// the unit of work start_io receives and the unit bound to each accepted
// request record (spec §3, "Request Record... back-pointer to the SRB").
type SRB struct {
	Function SRBFunction
	Bus      uint8
	Target   uint8
	Lun      uint8
	CDB      []byte

	// DataBuffer is shared in both directions: ingress reads from it for
	// WRITE-shaped CDBs and writes into it (via Disk.payloadSink) for
	// READ-shaped ones and for inline stub responses.
	DataBuffer []byte

	// DataTransferLength is set by this module on completion to the
	// number of bytes actually produced into DataBuffer (for READ-shaped
	// commands and for inline responses); zero for writes.
	DataTransferLength uint32
}

// StartIO is the adapter-wide entry point invoked once per SRB (spec
// §4.1, "start_io(srb)"). It never blocks: IO is enqueued and
// SRBStatusPending is returned; every other outcome is a synchronous
// completion reflected in the returned status.
func (a *Adapter) StartIO(srb *SRB) interfaces.SRBStatus {
	switch srb.Function {
	case SRBFunctionResetLogicalUnit, SRBFunctionAbortCommand:
		return a.resetLogicalUnit(srb)
	case SRBFunctionResetDevice:
		if a.HostPort != nil {
			a.HostPort.CompleteAllSRBs(interfaces.SRBStatusTimeout)
		}
		return interfaces.SRBStatusSuccess
	case SRBFunctionResetBus:
		if a.HostPort != nil {
			a.HostPort.CompleteAllSRBs(interfaces.SRBStatusBusReset)
		}
		return interfaces.SRBStatusSuccess
	case SRBFunctionFlush, SRBFunctionShutdown:
		return interfaces.SRBStatusSuccess
	case SRBFunctionPNP, SRBFunctionIOControl:
		return interfaces.SRBStatusSuccess
	default:
		return a.executeSCSI(srb)
	}
}

// resetLogicalUnit drains the target disk's pending queue (completing each
// record as ABORTED) and marks every submitted record aborted, completing
// each one immediately too (spec §4.1, two-stage cancellation, matching
// the original driver's AbortSubmittedRequests: mark, then complete right
// away). The records stay in the submitted queue so a backend reply that
// was already in flight still finds its tag and is discarded instead of
// delivered a second time.
func (a *Adapter) resetLogicalUnit(srb *SRB) interfaces.SRBStatus {
	disk, release, ok := a.FindByAddr(srb.Bus, srb.Target, srb.Lun)
	if !ok {
		return interfaces.SRBStatusNoDevice
	}
	defer release()

	for _, rec := range disk.Pending.DrainAll() {
		disk.completeAborted(a, rec)
	}
	for _, rec := range disk.Submitted.MarkAllAborted() {
		disk.abortSubmitted(a, rec)
	}
	return interfaces.SRBStatusSuccess
}

func (a *Adapter) executeSCSI(srb *SRB) interfaces.SRBStatus {
	disk, release, ok := a.FindByAddr(srb.Bus, srb.Target, srb.Lun)
	if !ok {
		return interfaces.SRBStatusNoDevice
	}
	defer release()

	if len(srb.CDB) == 0 {
		return interfaces.SRBStatusInvalidRequest
	}

	switch srb.CDB[0] {
	case scsiOpInquiry:
		resp := inquiryResponse(disk, srb.CDB)
		srb.DataTransferLength = uint32(copy(srb.DataBuffer, resp))
		return interfaces.SRBStatusSuccess
	case scsiOpReadCapacity10:
		resp := readCapacity10Response(disk)
		srb.DataTransferLength = uint32(copy(srb.DataBuffer, resp))
		return interfaces.SRBStatusSuccess
	case scsiOpServiceActionIn16:
		if len(srb.CDB) < 2 || srb.CDB[1]&0x1F != serviceActionReadCapacity16 {
			return interfaces.SRBStatusInvalidRequest
		}
		resp := readCapacity16Response(disk)
		srb.DataTransferLength = uint32(copy(srb.DataBuffer, resp))
		return interfaces.SRBStatusSuccess
	case scsiOpModeSense6:
		resp := modeSenseCachingPage(false)
		srb.DataTransferLength = uint32(copy(srb.DataBuffer, resp))
		return interfaces.SRBStatusSuccess
	case scsiOpModeSense10:
		resp := modeSenseCachingPage(true)
		srb.DataTransferLength = uint32(copy(srb.DataBuffer, resp))
		return interfaces.SRBStatusSuccess
	case scsiOpTestUnitReady, scsiOpVerify10:
		return interfaces.SRBStatusSuccess
	case scsiOpPersistResIn, scsiOpPersistResOut:
		// Answered inline, never enqueued (spec §4.1, §4.9).
		return interfaces.SRBStatusSuccess
	}

	return a.enqueueIO(disk, srb)
}

// enqueueIO implements the CDB-range decode, validation, and the five-step
// accepted-IO sequence of spec §4.1.
func (a *Adapter) enqueueIO(disk *Disk, srb *SRB) interfaces.SRBStatus {
	kind, ok := ioKindFor(srb.CDB[0])
	if !ok {
		return interfaces.SRBStatusInvalidRequest
	}

	rng, ok := decodeCDBRange(srb.CDB)
	if !ok {
		return interfaces.SRBStatusInvalidRequest
	}

	if (kind == reqqueue.KindWrite || kind == reqqueue.KindFlush || kind == reqqueue.KindUnmap) && disk.Flags.ReadOnly {
		return interfaces.SRBStatusInvalidRequest
	}
	if kind == reqqueue.KindUnmap && !disk.Flags.UnmapSupported {
		return interfaces.SRBStatusInvalidRequest
	}
	if kind == reqqueue.KindFlush && !disk.Flags.FlushSupported {
		return interfaces.SRBStatusInvalidRequest
	}

	offset := rng.lbaBlocks * uint64(disk.BlockSize)
	length := rng.blockCount * disk.BlockSize
	if kind != reqqueue.KindFlush || length != 0 {
		if uint64(length) > DefaultMaxTransferBytes {
			return interfaces.SRBStatusInvalidRequest
		}
		if offset+uint64(length) > disk.BlockCount*uint64(disk.BlockSize) {
			return interfaces.SRBStatusInvalidRequest
		}
	}

	// Step 1: acquire a rundown reference on the disk for this record's
	// lifetime. It is released when the record is retired: diskHostPort's
	// CompleteSRB releases it for every dispatcher completion,
	// completeAborted releases it for records aborted locally, and after
	// abortSubmitted the late reply or the teardown drain releases it.
	if !disk.Rundown.Acquire() {
		return interfaces.SRBStatusNoDevice
	}

	rec := &reqqueue.Record{
		SRBContext:       srb,
		DiskID:           disk.ConnectionID,
		Kind:             kind,
		StartingLBABytes: offset,
		DataLengthBytes:  length,
		FUA:              rng.fua && disk.Flags.FUASupported,
	}

	disk.Metrics.ObserveSubmitted()
	disk.Pending.Enqueue(rec)
	return interfaces.SRBStatusPending
}

func ioKindFor(opcode byte) (reqqueue.Kind, bool) {
	switch opcode {
	case scsiOpRead6, scsiOpRead10, scsiOpRead12, scsiOpRead16:
		return reqqueue.KindRead, true
	case scsiOpWrite6, scsiOpWrite10, scsiOpWrite12, scsiOpWrite16:
		return reqqueue.KindWrite, true
	case scsiOpSynchronizeCache10, scsiOpSynchronizeCache16:
		return reqqueue.KindFlush, true
	case scsiOpUnmap:
		return reqqueue.KindUnmap, true
	default:
		return 0, false
	}
}

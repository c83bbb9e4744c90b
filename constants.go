package wnbd

import "github.com/wnbd-io/go-wnbd/internal/constants"

// Re-exported addressing, geometry, and timing limits (spec §3, §6).
const (
	MaxBuses           = constants.MaxBuses
	MaxTargetsPerBus   = constants.MaxTargetsPerBus
	MaxLunsPerTarget   = constants.MaxLunsPerTarget
	MaxDisksPerAdapter = constants.MaxDisksPerAdapter

	MaxInstanceNameLength = constants.MaxInstanceNameLength
	MaxOwnerLength        = constants.MaxOwnerLength
	MaxOptionNameLength   = constants.MaxOptionNameLength

	DefaultBlockSize        = constants.DefaultBlockSize
	DefaultMaxTransferBytes = constants.DefaultMaxTransferBytes
	ScratchBufferSize       = constants.ScratchBufferSize
)

// WorkerJoinTimeout bounds how long disk teardown waits for the NBD
// worker pair to exit before giving up (spec §4.6 step 4).
const WorkerJoinTimeout = constants.WorkerJoinTimeout

// SocketDialTimeout bounds the initial TCP dial to an NBD export.
const SocketDialTimeout = constants.SocketDialTimeout

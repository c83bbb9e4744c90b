// Package interfaces defines the contracts consumed and exposed by the core
// pipeline, kept separate from the root package to avoid import cycles
// between it and the internal transport packages.
package interfaces

// SRBStatus enumerates the completion statuses the host port contract
// understands (spec §6/§7). Values are deliberately distinct from any real
// Windows SRB_STATUS_* numbering since this module never talks to a real
// storport.
type SRBStatus int

const (
	SRBStatusSuccess SRBStatus = iota
	SRBStatusPending
	SRBStatusAborted
	SRBStatusTimeout
	SRBStatusBusReset
	SRBStatusNoDevice
	SRBStatusInvalidRequest
	SRBStatusError
)

// HostPort is the contract the adapter/PnP plumbing binding this pipeline to
// an actual storage port driver must satisfy (spec §6, "Host storage port
// contract (consumed)"). A real miniport shim implements it against the OS;
// tests and the in-process demo use a mock.
type HostPort interface {
	// CompleteSRB notifies the host port that the request identified by tag
	// has finished with the given status and, for reads, payload length.
	CompleteSRB(tag uint64, status SRBStatus, dataLength uint32)

	// CompleteAllSRBs bulk-completes every outstanding SRB on a bus/device
	// reset path (spec §4.1, RESET_DEVICE / RESET_BUS) with a single status.
	CompleteAllSRBs(status SRBStatus)

	// NotifyBusChange asks the host port to rescan so that PDOs are created
	// or removed to match the adapter's current disk set.
	NotifyBusChange()
}

// Logger is the narrow logging surface components depend on; nil-safe at
// every call site, matching the teacher's own discipline of optional
// loggers.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Observer receives metrics events from the request pipeline. Implementations
// must be safe for concurrent use: methods are called from dispatcher
// goroutines.
type Observer interface {
	ObserveRequest(kind string, bytes uint64, latencyNs uint64, success bool)
	ObserveQueueDepth(diskID uint64, pending int, submitted int)
}

// NoOpObserver discards every event.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRequest(string, uint64, uint64, bool) {}
func (NoOpObserver) ObserveQueueDepth(uint64, int, int)          {}

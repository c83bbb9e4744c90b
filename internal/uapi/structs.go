package uapi

// NBDRequest is the 28-byte transmission-phase request header (spec §4.3):
// magic(4) | type(4) | handle(8) | offset(8) | length(4), all big-endian
// except Handle, which is carried opaquely.
type NBDRequest struct {
	Magic  uint32
	Type   uint32
	Handle uint64
	Offset uint64
	Length uint32
}

// NBDRequestSize is the wire size of NBDRequest.
const NBDRequestSize = 4 + 4 + 8 + 8 + 4

// NBDReply is the 16-byte transmission-phase reply header: magic(4) |
// error(4) | handle(8), big-endian except Handle.
type NBDReply struct {
	Magic  uint32
	Error  uint32
	Handle uint64
}

// NBDReplySize is the wire size of NBDReply.
const NBDReplySize = 4 + 4 + 8

// NBDOptionReplyHeader is the header preceding every reply during option
// haggling: magic(8) | option(4) | reply_type(4) | length(4).
type NBDOptionReplyHeader struct {
	Magic     uint64
	Option    uint32
	ReplyType uint32
	Length    uint32
}

// NBDExportInfo captures what the handshake negotiates about the export:
// its size and the per-export capability flags.
type NBDExportInfo struct {
	Size  uint64
	Flags uint16
}

// WNBDStatus carries SCSI status plus autosense fields translated from a
// user-space send_response call onto the originating SRB (spec §4.5). It is
// a plain Go struct rather than a packed bitfield: nothing in this module
// marshals it across a real ioctl boundary, so there is no wire-exactness
// requirement to preserve (see DESIGN.md).
type WNBDStatus struct {
	ScsiStatus       uint8
	SenseKey         uint8
	ASC              uint8
	ASCQ             uint8
	Information      uint64
	InformationValid bool
}

// WNBDFlags mirrors the capability bits of spec §3 ("capability flags").
type WNBDFlags struct {
	ReadOnly              bool
	FlushSupported        bool
	FUASupported          bool
	UnmapSupported        bool
	UnmapAnchorSupported  bool
	UseNBD                bool
	PersistResSupported   bool
}

// NBDConnectionProperties carries the NBD subsettings of a create request
// (spec §6, "optional NBD subsettings").
type NBDConnectionProperties struct {
	Hostname        string
	PortNumber      uint32
	ExportName      string
	SkipNegotiation bool
}

// WNBDProperties is the create() input (spec §6, WNBD_PROPERTIES).
type WNBDProperties struct {
	InstanceName string
	SerialNumber string
	Owner        string
	BlockCount   uint64
	BlockSize    uint32
	Flags        WNBDFlags
	PID          uint32
	NBD          *NBDConnectionProperties
}

// WNBDConnectionInfo is the create() output (spec §6, WNBD_CONNECTION_INFO):
// the resolved properties plus the assigned SCSI address and connection id.
type WNBDConnectionInfo struct {
	Properties   WNBDProperties
	BusNumber    uint8
	TargetID     uint8
	LunID        uint8
	ConnectionID uint64
	PNPDeviceID  string
}

// RequestDescriptor is what fetch_request hands back to a user-space backend
// (spec §4.5): the request's shape, without payload (payload travels through
// the caller's locked buffer).
type RequestDescriptor struct {
	ConnectionID  uint64
	Tag           uint64
	Type          WnbdRequestType
	BlockAddress  uint64 // byte offset
	BlockCount    uint32 // byte length
	FUA           bool
	ServiceAction uint8 // PERSIST_RES_IN/OUT sub-action
}

// ResponseDescriptor is what send_response carries back for a given tag
// (spec §4.5).
type ResponseDescriptor struct {
	ConnectionID uint64
	Tag          uint64
	Status       WNBDStatus
}

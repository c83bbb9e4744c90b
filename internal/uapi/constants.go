// Package uapi holds the structures shared by the NBD transport codec and
// the user-space control surface. The NBD headers are marshaled bit-exact,
// big-endian; the control-surface structs (WNBDProperties,
// RequestDescriptor and the like) are plain Go structs with no fixed binary
// layout. Nothing in this package depends on the rest of the module, so it
// can be marshaled and unmarshaled in isolation and unit tested on its own.
package uapi

// NBD handshake magics (spec §6).
const (
	NBDInitPasswd  = "NBDMAGIC"
	NBDOptionMagic = uint64(0x49484156454F5054) // "IHAVEOPT"
	NBDRequestMagic = uint32(0x25609513)
	NBDReplyMagic   = uint32(0x67446698)
	NBDRepMagic     = uint64(0x3E889045565A9)
)

// Options used during NBD handshake negotiation.
const (
	NBDOptExportName = uint32(1)
	NBDOptGo         = uint32(7)
)

// Global (pre-option) handshake flags.
const (
	NBDFlagFixedNewstyle = uint16(1 << 0)
	NBDFlagNoZeroes      = uint16(1 << 1)
)

// Option reply types.
const (
	NBDRepAck      = uint32(1)
	NBDRepInfo     = uint32(3)
	NBDRepFlagErr  = uint32(1 << 31)
	NBDRepErrUnsup = uint32(1) | NBDRepFlagErr
	NBDRepErrPolicy = uint32(2) | NBDRepFlagErr
)

// NBD_INFO_EXPORT sub-payload type carried inside an NBD_REP_INFO reply.
const NBDInfoExport = uint16(0)

// Per-export transmission flags (returned in NBD_REP_INFO / oldstyle reply).
const (
	NBDFlagHasFlags    = uint16(1 << 0)
	NBDFlagReadOnly    = uint16(1 << 1)
	NBDFlagSendFlush   = uint16(1 << 2)
	NBDFlagSendFUA     = uint16(1 << 3)
	NBDFlagRotational  = uint16(1 << 4)
	NBDFlagSendTrim    = uint16(1 << 5)
	NBDFlagCanMultiConn = uint16(1 << 8)
)

// Transmission command types.
const (
	NBDCmdRead  = uint32(0)
	NBDCmdWrite = uint32(1)
	NBDCmdDisc  = uint32(2)
	NBDCmdFlush = uint32(3)
	NBDCmdTrim  = uint32(4)
)

// Per-command flags, carried in the upper 16 bits of the request Type field.
const NBDCmdFlagFUA = uint32(1 << 16)

// WnbdRequestType enumerates the kinds of request carried across the
// fetch_request/send_response user-space exchange (spec §4.5, §6).
type WnbdRequestType uint32

const (
	WnbdReqTypeUnknown WnbdRequestType = iota
	WnbdReqTypeRead
	WnbdReqTypeWrite
	WnbdReqTypeFlush
	WnbdReqTypeUnmap
	WnbdReqTypeDisconnect
	WnbdReqTypePersistResIn
	WnbdReqTypePersistResOut
)

func (t WnbdRequestType) String() string {
	switch t {
	case WnbdReqTypeRead:
		return "READ"
	case WnbdReqTypeWrite:
		return "WRITE"
	case WnbdReqTypeFlush:
		return "FLUSH"
	case WnbdReqTypeUnmap:
		return "UNMAP"
	case WnbdReqTypeDisconnect:
		return "DISCONNECT"
	case WnbdReqTypePersistResIn:
		return "PERSIST_RES_IN"
	case WnbdReqTypePersistResOut:
		return "PERSIST_RES_OUT"
	default:
		return "UNKNOWN"
	}
}

// Control-surface command selectors (spec §6).
const (
	IOCTLPing = iota + 1
	IOCTLCreate
	IOCTLRemove
	IOCTLFetchReq
	IOCTLSendRsp
	IOCTLList
	IOCTLStats
	IOCTLReloadConfig
	IOCTLVersion
	IOCTLShow
	IOCTLGetDrvOpt
	IOCTLSetDrvOpt
	IOCTLResetDrvOpt
	IOCTLListDrvOpt
)

const (
	MaxNameLength    = 255
	MaxOwnerLength   = 16
	MaxOptNameLength = 64
)

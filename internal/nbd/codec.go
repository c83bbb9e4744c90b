// Package nbd implements the NBD wire protocol codec (handshake and
// transmission phase) used by the per-disk NBD dispatcher (spec §4.3,
// §4.4).
package nbd

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/wnbd-io/go-wnbd/internal/uapi"
)

// clientFlags is the fixed-newstyle client handshake flag this module
// always sends; it never speaks oldstyle.
const clientFlags = uint32(uapi.NBDFlagFixedNewstyle) | uint32(uapi.NBDFlagNoZeroes)

// writeFull loops until every byte of buf has been written or an error
// occurs (spec §4.3: "length-exact... write helpers loop until the
// requested byte count is transferred").
func writeFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// readFull reads exactly len(buf) bytes.
func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}

// ExportInfo is what the handshake resolves about the remote export: its
// size and the capability flags derived from its transmission flags (spec
// §4.3, "derived capability flags").
type ExportInfo struct {
	Size                                             uint64
	ReadOnly, FlushSupported, FUASupported, TrimSupported bool
}

// Handshake performs the NBD newstyle handshake against conn, negotiating
// exportName via NBD_OPT_GO and falling back to NBD_OPT_EXPORT_NAME if the
// server does not support it (spec §4.3).
func Handshake(conn io.ReadWriter, exportName string) (*ExportInfo, error) {
	preamble := make([]byte, 8+8+2)
	if err := readFull(conn, preamble); err != nil {
		return nil, fmt.Errorf("%w: reading server preamble: %v", ErrIO, err)
	}
	if string(preamble[0:8]) != uapi.NBDInitPasswd {
		return nil, fmt.Errorf("%w: bad init passwd", ErrProtocol)
	}
	if binary.BigEndian.Uint64(preamble[8:16]) != uapi.NBDOptionMagic {
		return nil, fmt.Errorf("%w: bad option magic, server is not newstyle", ErrProtocol)
	}

	clientFlagsBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(clientFlagsBuf, clientFlags)
	if err := writeFull(conn, clientFlagsBuf); err != nil {
		return nil, fmt.Errorf("%w: sending client flags: %v", ErrIO, err)
	}

	info, err := negotiateGo(conn, exportName)
	if err == ErrUnsupported {
		return negotiateExportNameLegacy(conn, exportName)
	}
	return info, err
}

// sendOption writes an option request: magic(8) | option(4) | length(4) |
// data.
func sendOption(conn io.Writer, option uint32, data []byte) error {
	header := make([]byte, 16)
	binary.BigEndian.PutUint64(header[0:8], uapi.NBDOptionMagic)
	binary.BigEndian.PutUint32(header[8:12], option)
	binary.BigEndian.PutUint32(header[12:16], uint32(len(data)))
	if err := writeFull(conn, header); err != nil {
		return err
	}
	return writeFull(conn, data)
}

func negotiateGo(conn io.ReadWriter, exportName string) (*ExportInfo, error) {
	nameBytes := []byte(exportName)
	data := make([]byte, 4+len(nameBytes)+2)
	binary.BigEndian.PutUint32(data[0:4], uint32(len(nameBytes)))
	copy(data[4:], nameBytes)
	binary.BigEndian.PutUint16(data[4+len(nameBytes):], 0) // zero information requests

	if err := sendOption(conn, uapi.NBDOptGo, data); err != nil {
		return nil, fmt.Errorf("%w: sending NBD_OPT_GO: %v", ErrIO, err)
	}
	return readOptionReplies(conn, uapi.NBDOptGo)
}

func negotiateExportNameLegacy(conn io.ReadWriter, exportName string) (*ExportInfo, error) {
	if err := sendOption(conn, uapi.NBDOptExportName, []byte(exportName)); err != nil {
		return nil, fmt.Errorf("%w: sending NBD_OPT_EXPORT_NAME: %v", ErrIO, err)
	}

	// Oldstyle-compatible reply to NBD_OPT_EXPORT_NAME: export size(8) |
	// transmission flags(2) | 124 reserved zero bytes (since we sent
	// NBD_FLAG_C_NO_ZEROES, servers may omit the reserved tail, but a
	// compliant server always sends at least size+flags).
	body := make([]byte, 10)
	if err := readFull(conn, body); err != nil {
		return nil, fmt.Errorf("%w: reading NBD_OPT_EXPORT_NAME reply: %v", ErrIO, err)
	}
	size := binary.BigEndian.Uint64(body[0:8])
	flags := binary.BigEndian.Uint16(body[8:10])
	return exportInfoFromFlags(size, flags), nil
}

// readOptionReplies iterates NBD_REP_* replies for a single option until
// NBD_REP_ACK, collecting any NBD_REP_INFO payload along the way (spec
// §4.3).
func readOptionReplies(conn io.Reader, option uint32) (*ExportInfo, error) {
	var size uint64
	var flags uint16
	haveExportInfo := false

	for {
		hdrBuf := make([]byte, 8+4+4+4)
		if err := readFull(conn, hdrBuf); err != nil {
			return nil, fmt.Errorf("%w: reading option reply header: %v", ErrIO, err)
		}
		var hdr uapi.NBDOptionReplyHeader
		if err := uapi.Unmarshal(hdrBuf, &hdr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		if hdr.Magic != uapi.NBDRepMagic {
			return nil, fmt.Errorf("%w: bad reply magic", ErrProtocol)
		}

		payload := make([]byte, hdr.Length)
		if err := readFull(conn, payload); err != nil {
			return nil, fmt.Errorf("%w: reading option reply payload: %v", ErrIO, err)
		}

		switch {
		case hdr.ReplyType == uapi.NBDRepAck:
			if !haveExportInfo {
				return nil, fmt.Errorf("%w: ACK with no export info", ErrProtocol)
			}
			return exportInfoFromFlags(size, flags), nil

		case hdr.ReplyType == uapi.NBDRepInfo:
			if len(payload) >= 2 && binary.BigEndian.Uint16(payload[0:2]) == uapi.NBDInfoExport && len(payload) >= 12 {
				size = binary.BigEndian.Uint64(payload[2:10])
				flags = binary.BigEndian.Uint16(payload[10:12])
				haveExportInfo = true
			}
			continue

		case hdr.ReplyType == uapi.NBDRepErrUnsup:
			return nil, ErrUnsupported

		case hdr.ReplyType == uapi.NBDRepErrPolicy:
			return nil, ErrAccessDenied

		case hdr.ReplyType&uapi.NBDRepFlagErr != 0:
			return nil, ErrIO

		default:
			// Unknown non-error reply type: ignore and keep iterating.
			continue
		}
	}
}

func exportInfoFromFlags(size uint64, flags uint16) *ExportInfo {
	info := &ExportInfo{Size: size}
	if flags&uapi.NBDFlagHasFlags == 0 {
		return info
	}
	info.ReadOnly = flags&uapi.NBDFlagReadOnly != 0
	info.FlushSupported = flags&uapi.NBDFlagSendFlush != 0
	info.FUASupported = flags&uapi.NBDFlagSendFUA != 0
	info.TrimSupported = flags&uapi.NBDFlagSendTrim != 0
	return info
}

// WriteRequest writes a transmission request header followed by payload
// (payload is empty for everything but WRITE).
func WriteRequest(conn io.Writer, req *uapi.NBDRequest, payload []byte) error {
	if err := writeFull(conn, uapi.Marshal(req)); err != nil {
		return fmt.Errorf("%w: writing request header: %v", ErrIO, err)
	}
	if len(payload) == 0 {
		return nil
	}
	if err := writeFull(conn, payload); err != nil {
		return fmt.Errorf("%w: writing request payload: %v", ErrIO, err)
	}
	return nil
}

// ReadReply reads one transmission reply header.
func ReadReply(conn io.Reader) (*uapi.NBDReply, error) {
	buf := make([]byte, uapi.NBDReplySize)
	if err := readFull(conn, buf); err != nil {
		return nil, fmt.Errorf("%w: reading reply header: %v", ErrIO, err)
	}
	reply := &uapi.NBDReply{}
	if err := uapi.Unmarshal(buf, reply); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if reply.Magic != uapi.NBDReplyMagic {
		return nil, fmt.Errorf("%w: bad reply magic", ErrProtocol)
	}
	return reply, nil
}

// ReadPayload reads exactly len(buf) bytes of reply payload into buf.
func ReadPayload(conn io.Reader, buf []byte) error {
	if err := readFull(conn, buf); err != nil {
		return fmt.Errorf("%w: reading reply payload: %v", ErrIO, err)
	}
	return nil
}

// CommandType returns the NBD command type cmd carried in a transmission
// request (the dispatcher's nbdCommandFor picks cmd from a reqqueue.Kind),
// ORing in the FUA flag bit when requested (spec §4.3).
func CommandType(cmd uint32, fua bool) uint32 {
	if fua {
		return cmd | uapi.NBDCmdFlagFUA
	}
	return cmd
}

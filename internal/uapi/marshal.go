package uapi

import (
	"encoding/binary"
	"errors"
)

// ErrInsufficientData is returned when a byte slice is too short to hold
// the struct being unmarshaled.
var ErrInsufficientData = errors.New("uapi: insufficient data")

// Marshal converts a wire struct to bytes. The NBD transmission-phase
// structs are big-endian per the protocol; everything else in this module
// goes through Go values directly and never needs Marshal.
func Marshal(v interface{}) []byte {
	switch val := v.(type) {
	case *NBDRequest:
		return marshalNBDRequest(val)
	case *NBDReply:
		return marshalNBDReply(val)
	case *NBDOptionReplyHeader:
		return marshalNBDOptionReplyHeader(val)
	default:
		return nil
	}
}

// Unmarshal converts bytes back into a wire struct.
func Unmarshal(data []byte, v interface{}) error {
	switch val := v.(type) {
	case *NBDRequest:
		return unmarshalNBDRequest(data, val)
	case *NBDReply:
		return unmarshalNBDReply(data, val)
	case *NBDOptionReplyHeader:
		return unmarshalNBDOptionReplyHeader(data, val)
	default:
		return errors.New("uapi: unsupported type for Unmarshal")
	}
}

// marshalNBDRequest manually marshals the 28-byte transmission request
// header: magic(4) | type(4) | handle(8) | offset(8) | length(4).
func marshalNBDRequest(r *NBDRequest) []byte {
	buf := make([]byte, NBDRequestSize)
	binary.BigEndian.PutUint32(buf[0:4], r.Magic)
	binary.BigEndian.PutUint32(buf[4:8], r.Type)
	binary.BigEndian.PutUint64(buf[8:16], r.Handle)
	binary.BigEndian.PutUint64(buf[16:24], r.Offset)
	binary.BigEndian.PutUint32(buf[24:28], r.Length)
	return buf
}

func unmarshalNBDRequest(data []byte, r *NBDRequest) error {
	if len(data) < NBDRequestSize {
		return ErrInsufficientData
	}
	r.Magic = binary.BigEndian.Uint32(data[0:4])
	r.Type = binary.BigEndian.Uint32(data[4:8])
	r.Handle = binary.BigEndian.Uint64(data[8:16])
	r.Offset = binary.BigEndian.Uint64(data[16:24])
	r.Length = binary.BigEndian.Uint32(data[24:28])
	return nil
}

// marshalNBDReply manually marshals the 16-byte transmission reply header:
// magic(4) | error(4) | handle(8).
func marshalNBDReply(r *NBDReply) []byte {
	buf := make([]byte, NBDReplySize)
	binary.BigEndian.PutUint32(buf[0:4], r.Magic)
	binary.BigEndian.PutUint32(buf[4:8], r.Error)
	binary.BigEndian.PutUint64(buf[8:16], r.Handle)
	return buf
}

func unmarshalNBDReply(data []byte, r *NBDReply) error {
	if len(data) < NBDReplySize {
		return ErrInsufficientData
	}
	r.Magic = binary.BigEndian.Uint32(data[0:4])
	r.Error = binary.BigEndian.Uint32(data[4:8])
	r.Handle = binary.BigEndian.Uint64(data[8:16])
	return nil
}

// nbdOptionReplyHeaderSize is magic(8) | option(4) | reply_type(4) | length(4).
const nbdOptionReplyHeaderSize = 8 + 4 + 4 + 4

func marshalNBDOptionReplyHeader(h *NBDOptionReplyHeader) []byte {
	buf := make([]byte, nbdOptionReplyHeaderSize)
	binary.BigEndian.PutUint64(buf[0:8], h.Magic)
	binary.BigEndian.PutUint32(buf[8:12], h.Option)
	binary.BigEndian.PutUint32(buf[12:16], h.ReplyType)
	binary.BigEndian.PutUint32(buf[16:20], h.Length)
	return buf
}

func unmarshalNBDOptionReplyHeader(data []byte, h *NBDOptionReplyHeader) error {
	if len(data) < nbdOptionReplyHeaderSize {
		return ErrInsufficientData
	}
	h.Magic = binary.BigEndian.Uint64(data[0:8])
	h.Option = binary.BigEndian.Uint32(data[8:12])
	h.ReplyType = binary.BigEndian.Uint32(data[12:16])
	h.Length = binary.BigEndian.Uint32(data[16:20])
	return nil
}

// MarshalExportInfo encodes the NBD_INFO_EXPORT payload carried inside an
// NBD_REP_INFO reply: info_type(2) | export_size(8) | transmission_flags(2).
func MarshalExportInfo(info *NBDExportInfo) []byte {
	buf := make([]byte, 2+8+2)
	binary.BigEndian.PutUint16(buf[0:2], NBDInfoExport)
	binary.BigEndian.PutUint64(buf[2:10], info.Size)
	binary.BigEndian.PutUint16(buf[10:12], info.Flags)
	return buf
}

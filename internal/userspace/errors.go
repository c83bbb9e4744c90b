package userspace

import "errors"

// Sentinel errors surfaced by FetchRequest/SendResponse (spec §4.5,
// "caller-identity invariant").
var (
	ErrWrongOwner  = errors.New("userspace: caller pid does not match the disk's owner")
	ErrWrongMode   = errors.New("userspace: disk is in NBD mode")
	ErrRecordNotFound = errors.New("userspace: no submitted record for tag")
)

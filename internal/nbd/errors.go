package nbd

import "errors"

// Sentinel errors surfaced by the handshake and transmission codec. The
// root package wraps these into its own structured error type; this
// package stays free of any dependency on it to avoid an import cycle.
var (
	ErrProtocol     = errors.New("nbd: protocol violation")
	ErrAccessDenied = errors.New("nbd: access denied")
	ErrIO           = errors.New("nbd: unspecified I/O failure")
	ErrUnsupported  = errors.New("nbd: option not supported")
)

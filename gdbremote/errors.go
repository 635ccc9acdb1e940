package gdbremote

import "errors"

// Sentinel errors returned by the stub. Callers should use errors.Is
// against these rather than matching error strings.
var (
	// ErrConnectionDead is returned once the transport has observed EOF
	// or an I/O error; no further reads or writes are attempted.
	ErrConnectionDead = errors.New("gdbremote: connection dead")

	// ErrProtocolViolation marks a packet that passed framing but
	// failed deeper parsing (bad hex, truncated fields, an over-long
	// register value). Per spec this is fatal to the session.
	ErrProtocolViolation = errors.New("gdbremote: protocol violation")

	// ErrPendingReply is returned when the engine calls GetRequest
	// again without having replied to a request whose kind requires
	// an immediate response, or calls a Reply* method that doesn't
	// match the current request's kind.
	ErrPendingReply = errors.New("gdbremote: reply pending or mismatched")
)

// Package gdbremote implements the debugger-facing half of the remote
// serial protocol: framing, packet parsing, reply encoding, and the
// stateful dance a source-level debugger expects from a stub.
package gdbremote

import (
	"fmt"
	"strconv"
	"strings"
)

// ThreadID identifies a thread as a (pid, tid) pair. Ordering is
// irrelevant; equality is structural.
type ThreadID struct {
	PID int32
	TID int32
}

// AnyThread is the "don't care" sentinel used for Hg/Hc selections and
// for requests that aren't thread-scoped.
var AnyThread = ThreadID{PID: 0, TID: 0}

// AllThreads is the "every thread" sentinel, used mainly on the
// resume-thread side of vCont-style continues.
var AllThreads = ThreadID{PID: -1, TID: -1}

// IsAny reports whether t is the AnyThread sentinel.
func (t ThreadID) IsAny() bool { return t == AnyThread }

// IsAll reports whether t is the AllThreads sentinel.
func (t ThreadID) IsAll() bool { return t == AllThreads }

// Format renders t the way outgoing packets name threads: zero-padded
// (min width 2) hex tid when multiprocess is false, "p<pid>.<tid>"
// when true, each field zero-padded the same way. Sentinels render as
// "-1" and "0" regardless of multiprocess.
func (t ThreadID) Format(multiprocess bool) string {
	if t.IsAll() {
		return "-1"
	}
	if t.IsAny() {
		return "0"
	}
	if multiprocess {
		return fmt.Sprintf("p%02x.%02x", uint32(t.PID), uint32(t.TID))
	}
	return fmt.Sprintf("%02x", uint32(t.TID))
}

// ParseThreadID parses the thread-id forms accepted after Hg/Hc/vCont
// tid suffixes and qThreadExtraInfo: "-1", "0", "p<pid>.<tid>", or a
// bare "<tid>" (pid defaults to tgid, supplied by the caller for the
// single-pid forms).
func ParseThreadID(s string, defaultPID int32) (ThreadID, error) {
	if s == "-1" {
		return AllThreads, nil
	}
	if s == "0" {
		return AnyThread, nil
	}
	if strings.HasPrefix(s, "p") {
		rest := s[1:]
		dot := strings.IndexByte(rest, '.')
		if dot < 0 {
			return ThreadID{}, fmt.Errorf("%w: thread id %q missing '.'", ErrProtocolViolation, s)
		}
		pid, err := parseHexSigned32(rest[:dot])
		if err != nil {
			return ThreadID{}, fmt.Errorf("%w: thread id pid %q: %v", ErrProtocolViolation, rest[:dot], err)
		}
		tid, err := parseHexSigned32(rest[dot+1:])
		if err != nil {
			return ThreadID{}, fmt.Errorf("%w: thread id tid %q: %v", ErrProtocolViolation, rest[dot+1:], err)
		}
		return ThreadID{PID: pid, TID: tid}, nil
	}
	tid, err := parseHexSigned32(s)
	if err != nil {
		return ThreadID{}, fmt.Errorf("%w: thread id %q: %v", ErrProtocolViolation, s, err)
	}
	return ThreadID{PID: defaultPID, TID: tid}, nil
}

func parseHexSigned32(s string) (int32, error) {
	if s == "-1" {
		return -1, nil
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return int32(uint32(v)), nil
}

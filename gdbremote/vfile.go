package gdbremote

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// gdbErrno is the closed host-errno → protocol-errno mapping used by
// F-reply error codes. Anything not listed maps to 9999.
var gdbErrno = map[unix.Errno]int{
	unix.EPERM:        1,
	unix.ENOENT:       2,
	unix.EINTR:        4,
	unix.EBADF:        9,
	unix.EACCES:       13,
	unix.EFAULT:       14,
	unix.EBUSY:        16,
	unix.EEXIST:       17,
	unix.ENODEV:       19,
	unix.ENOTDIR:      20,
	unix.EISDIR:       21,
	unix.EINVAL:       22,
	unix.ENFILE:       23,
	unix.EMFILE:       24,
	unix.EFBIG:        27,
	unix.ENOSPC:       28,
	unix.ESPIPE:       29,
	unix.EROFS:        30,
	unix.ENAMETOOLONG: 91,
}

const unknownGdbErrno = 9999

// ToGdbErrno maps a host error to its protocol-defined errno code for
// F-reply packets. A nil error or one that isn't a unix.Errno maps to
// unknownGdbErrno.
func ToGdbErrno(err error) int {
	var errno unix.Errno
	if e, ok := err.(unix.Errno); ok {
		errno = e
	} else {
		return unknownGdbErrno
	}
	if v, ok := gdbErrno[errno]; ok {
		return v
	}
	return unknownGdbErrno
}

// Protocol vFile:open flag bits (low two bits are the access mode).
const (
	protoAccessMask  = 0x3
	protoAccessRDONLY = 0x0
	protoAccessWRONLY = 0x1
	protoAccessRDWR   = 0x2
	protoAppend       = 0x8
	protoCreate       = 0x200
	protoTrunc        = 0x400
	protoExcl         = 0x800

	protoKnownBits = protoAccessMask | protoAppend | protoCreate | protoTrunc | protoExcl
)

// TranslateOpenFlags converts the vFile:open protocol flag bitfield
// into a host open(2) flag word. Any bit outside the documented set
// is a parse failure, not a silently-ignored flag.
func TranslateOpenFlags(proto uint32) (int, error) {
	if proto&^uint32(protoKnownBits) != 0 {
		return 0, fmt.Errorf("%w: vFile open flags %#x have unsupported bits", ErrProtocolViolation, proto)
	}

	var flags int
	switch proto & protoAccessMask {
	case protoAccessRDONLY:
		flags = unix.O_RDONLY
	case protoAccessWRONLY:
		flags = unix.O_WRONLY
	case protoAccessRDWR:
		flags = unix.O_RDWR
	default:
		return 0, fmt.Errorf("%w: vFile open flags %#x have invalid access mode", ErrProtocolViolation, proto)
	}
	if proto&protoAppend != 0 {
		flags |= unix.O_APPEND
	}
	if proto&protoCreate != 0 {
		flags |= unix.O_CREAT
	}
	if proto&protoTrunc != 0 {
		flags |= unix.O_TRUNC
	}
	if proto&protoExcl != 0 {
		flags |= unix.O_EXCL
	}
	return flags, nil
}

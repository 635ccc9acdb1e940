package gdbremote

import "golang.org/x/sys/unix"

// protocolSignal is a closed, total, invertible-on-its-domain mapping
// from host (Linux/x86) signal numbers to remote-serial-protocol
// signal numbers. Built from unix.SIG* so the host side tracks the
// platform's actual numbering instead of hard-coded magic numbers.
var protocolSignal = map[int]int{
	int(unix.SIGHUP):    1,
	int(unix.SIGINT):    2,
	int(unix.SIGQUIT):   3,
	int(unix.SIGILL):    4,
	int(unix.SIGTRAP):   5,
	int(unix.SIGABRT):   6,
	int(unix.SIGFPE):    8,
	int(unix.SIGKILL):   9,
	int(unix.SIGBUS):    10,
	int(unix.SIGSEGV):   11,
	int(unix.SIGSYS):    12,
	int(unix.SIGPIPE):   13,
	int(unix.SIGALRM):   14,
	int(unix.SIGTERM):   15,
	int(unix.SIGURG):    16,
	int(unix.SIGSTOP):   17,
	int(unix.SIGTSTP):   18,
	int(unix.SIGCONT):   19,
	int(unix.SIGCHLD):   20,
	int(unix.SIGTTIN):   21,
	int(unix.SIGTTOU):   22,
	int(unix.SIGIO):     23,
	int(unix.SIGXCPU):   24,
	int(unix.SIGXFSZ):   25,
	int(unix.SIGVTALRM): 26,
	int(unix.SIGPROF):   27,
	int(unix.SIGWINCH):  28,
	int(unix.SIGUSR1):   30,
	int(unix.SIGUSR2):   31,
	int(unix.SIGPWR):    32,
	int(unix.SIGSTKFLT): 38,
	32:                  77, // the Linux-internal "signal 32" used by glibc's NPTL
}

// unknownProtocolSignal is emitted for any host signal (including
// out-of-range realtime signals) this table doesn't otherwise cover.
const unknownProtocolSignal = 143

// NoProtocolSignal is the stop-reply signal value meaning "no
// signal", used by interrupt-originated stops and anywhere the
// engine reports a stop with no pending signal.
const NoProtocolSignal = 0

// ToProtocolSignal maps a host signal number to its protocol
// counterpart. Realtime signals (33..=63 map to sig+12, 64..=127 map
// to sig+14) are computed rather than tabulated; everything else
// falls back to unknownProtocolSignal.
func ToProtocolSignal(hostSig int) int {
	if hostSig == 0 {
		return NoProtocolSignal
	}
	if v, ok := protocolSignal[hostSig]; ok {
		return v
	}
	switch {
	case hostSig >= 33 && hostSig <= 63:
		return hostSig + 12
	case hostSig >= 64 && hostSig <= 127:
		return hostSig + 14
	default:
		return unknownProtocolSignal
	}
}

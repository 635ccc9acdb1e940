package gdbremote

import (
	"errors"
	"io"
	"net"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"

	"github.com/simeonmiteff/gdbstub/internal/gdblog"
)

// readChunk is the buffer size used for each blocking read(2); it
// bounds how much a single read_once() call can append to inbound.
const readChunk = 4096

// Transport owns the connected stream socket and the byte buffers in
// both directions. It performs exactly one accept, per spec, and
// collapses every I/O error to "connection dead" rather than
// retrying.
type Transport struct {
	conn  net.Conn
	fd    int
	alive bool

	inbound  []byte
	outbound []byte

	log gdblog.Logger
}

// NewTransport constructs a Transport with no connection installed
// yet; call AwaitClient to accept one.
func NewTransport(log gdblog.Logger) *Transport {
	if log == nil {
		log = gdblog.Default
	}
	return &Transport{log: log}
}

// AwaitClient blocks until a client connects on listener and installs
// the accepted connection. The listener must already be bound and
// listening; this performs the stub's one and only accept.
func (t *Transport) AwaitClient(listener net.Listener) error {
	conn, err := listener.Accept()
	if err != nil {
		return err
	}
	t.conn = conn
	t.alive = true
	t.inbound = t.inbound[:0]
	t.outbound = t.outbound[:0]

	// Raw fd lets pollIncoming use unix.Poll directly instead of
	// relying on net.Conn deadlines, matching the blocking
	// poll(2)-based suspension model the state machine assumes.
	// netfd only understands the net.Conn implementations with a
	// reflectable *netFD (TCP/Unix); anything else yields no fd and
	// PollIncoming degrades to "nothing pending yet".
	t.fd = rawFD(conn)
	if t.fd < 0 {
		t.log.Warnf("gdbremote: could not extract raw fd from accepted conn; poll_incoming(0) will report no input pending until read_once blocks")
	}
	return nil
}

// rawFD extracts the accepted connection's file descriptor, tolerating
// connection types netfd doesn't recognize (it panics rather than
// erroring on those) by treating them as fd-less.
func rawFD(conn net.Conn) (fd int) {
	defer func() {
		if recover() != nil {
			fd = -1
		}
	}()
	fd = netfd.GetFdFromConn(conn)
	return
}

// IsAlive reports whether the connection is still usable.
func (t *Transport) IsAlive() bool { return t.alive }

// PollIncoming reports whether bytes are pending on the socket.
// timeoutMs == 0 means non-blocking; timeoutMs == -1 means block
// forever. EINTR is retried transparently; any other poll error marks
// the connection dead.
func (t *Transport) PollIncoming(timeoutMs int) bool {
	if !t.alive {
		return false
	}
	if t.fd < 0 {
		// No raw fd available: there is nothing to poll, so every
		// poll, blocking or not, reports "nothing pending yet".
		return false
	}

	fds := []unix.PollFd{{Fd: int32(t.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, timeoutMs)
		if err == nil {
			return n > 0 && fds[0].Revents&unix.POLLIN != 0
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		t.log.Warnf("gdbremote: poll failed, marking connection dead: %v", err)
		t.markDead()
		return false
	}
}

// ReadOnce blocks until at least one byte is read (or EOF) and
// appends it to the inbound buffer. On EOF or any error the
// connection is marked dead and both buffers are cleared.
func (t *Transport) ReadOnce() error {
	if !t.alive {
		return ErrConnectionDead
	}
	buf := make([]byte, readChunk)
	n, err := t.conn.Read(buf)
	if n > 0 {
		t.inbound = append(t.inbound, buf[:n]...)
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			t.log.Debugf("gdbremote: peer closed connection")
		} else {
			t.log.Warnf("gdbremote: read failed, marking connection dead: %v", err)
		}
		t.markDead()
		if n > 0 {
			// Bytes already appended above are discarded along with
			// the rest of the inbound buffer by markDead.
			return nil
		}
		return ErrConnectionDead
	}
	return nil
}

// QueueOutbound appends b to the outbound buffer without writing it;
// Flush performs the actual write(2).
func (t *Transport) QueueOutbound(b []byte) {
	t.outbound = append(t.outbound, b...)
}

// Flush writes the entire outbound buffer, looping over short writes.
// On error the connection is marked dead and any unwritten output is
// discarded.
func (t *Transport) Flush() error {
	if !t.alive {
		t.outbound = t.outbound[:0]
		return ErrConnectionDead
	}
	for len(t.outbound) > 0 {
		n, err := t.conn.Write(t.outbound)
		if err != nil {
			t.log.Warnf("gdbremote: write failed, marking connection dead: %v", err)
			t.markDead()
			return ErrConnectionDead
		}
		t.outbound = t.outbound[n:]
	}
	return nil
}

// Inbound exposes the current inbound buffer for the framer. The
// slice aliases Transport's internal storage; callers must not retain
// it past the next mutating call.
func (t *Transport) Inbound() []byte { return t.inbound }

// ConsumeInbound drops the first n bytes of the inbound buffer.
func (t *Transport) ConsumeInbound(n int) {
	t.inbound = t.inbound[n:]
}

func (t *Transport) markDead() {
	t.alive = false
	t.inbound = t.inbound[:0]
	t.outbound = t.outbound[:0]
	if t.conn != nil {
		_ = t.conn.Close()
	}
}

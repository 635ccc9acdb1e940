package gdbremote

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/rs/xid"

	"github.com/simeonmiteff/gdbstub/internal/gdblog"
)

// runState is the stub's logical state variable (spec §4.4).
type runState int

const (
	stateIdle runState = iota
	statePendingRequest
	stateRunning
	stateDead
)

// Options configures a Stub at construction time. There is no
// persisted configuration (the stub has no on-disk state); Options is
// just the constructor's parameter object, in the spirit of the
// option-struct constructors used elsewhere in this codebase.
type Options struct {
	// TargetPID is the thread-group id the stub pretends is the only
	// one that exists, used to format multiprocess thread-ids and to
	// filter stop reports and thread lists.
	TargetPID int32
	// ReverseExecutionEnabled advertises ReverseContinue+/ReverseStep+
	// during qSupported and allows bc/bs packets through.
	ReverseExecutionEnabled bool
	// Log receives protocol diagnostics. Defaults to gdblog.Default
	// when nil.
	Log gdblog.Logger
	// Metrics, when non-nil, is notified of packet and byte counts.
	// The stub never registers it with a registry itself; that stays
	// the embedding process's job.
	Metrics MetricsSink
}

// MetricsSink receives stub activity counters. internal/stubmetrics
// implements this against a prometheus.Collector; tests typically use
// a no-op or a counting stub.
type MetricsSink interface {
	PacketReceived()
	PacketSent()
	BytesIn(n int)
	BytesOut(n int)
}

type noopMetrics struct{}

func (noopMetrics) PacketReceived() {}
func (noopMetrics) PacketSent()     {}
func (noopMetrics) BytesIn(int)     {}
func (noopMetrics) BytesOut(int)    {}

// Stub is the debugger-facing remote serial protocol engine: a single
// connection's worth of framing, parsing, state machine, and reply
// encoding. It is not safe for concurrent use — per spec, the stub
// and its engine share one thread.
type Stub struct {
	transport *Transport
	framer    *Framer
	log       gdblog.Logger
	metrics   MetricsSink

	sessionID string

	tgid                    int32
	noAck                   bool
	multiprocessSupported   bool
	reverseExecutionAllowed bool
	cpuFeatures             uint64

	resumeThread ThreadID
	queryThread  ThreadID

	current       *Request
	state         runState
	pendingDeliv  bool
	threadsServed bool

	vfilePID int32
}

// NewStub constructs a Stub with no connection installed yet; call
// AwaitClient to accept one.
func NewStub(opts Options) *Stub {
	log := opts.Log
	if log == nil {
		log = gdblog.Default
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	t := NewTransport(log)
	return &Stub{
		transport:               t,
		framer:                  NewFramer(t, log),
		log:                     log,
		metrics:                 metrics,
		tgid:                    opts.TargetPID,
		reverseExecutionAllowed: opts.ReverseExecutionEnabled,
		resumeThread:            AnyThread,
		queryThread:             AnyThread,
	}
}

// AwaitClient blocks until a debugger connects to listener. Per spec
// the stub performs exactly one accept.
func (s *Stub) AwaitClient(listener net.Listener) error {
	if err := s.transport.AwaitClient(listener); err != nil {
		return err
	}
	s.sessionID = xid.New().String()
	s.log.Debugf("gdbremote: accepted debugger connection, session=%s", s.sessionID)
	return nil
}

// IsConnectionAlive reports whether the transport is still usable.
func (s *Stub) IsConnectionAlive() bool { return s.transport.IsAlive() }

// SetMetrics replaces the stub's MetricsSink, typically right after
// AwaitClient once the caller has a session id to key its own
// per-session sink on (see internal/stubmetrics.Collector.SinkFor). A
// nil sink restores the no-op default.
func (s *Stub) SetMetrics(m MetricsSink) {
	if m == nil {
		m = noopMetrics{}
	}
	s.metrics = m
}

// Features returns the capability flags negotiated so far.
func (s *Stub) Features() (multiprocess, noAck, reverseExecution bool) {
	return s.multiprocessSupported, s.noAck, s.reverseExecutionAllowed
}

// SetCPUFeatures records a CPU feature bitmask for the session. The
// stub only stores it: qSupported replies and every other packet the
// stub formats itself are unaffected by it.
func (s *Stub) SetCPUFeatures(bits uint64) { s.cpuFeatures = bits }

// SessionID is the xid minted when the client connected, used only
// for log correlation — it never appears on the wire.
func (s *Stub) SessionID() string { return s.sessionID }

// GetRequest blocks until the next request the engine must act on is
// available. While a continue request is outstanding it performs a
// non-blocking poll and, absent new input, returns the same request
// again so the engine can step once more.
func (s *Stub) GetRequest() (*Request, error) {
	if s.state == stateDead || !s.transport.IsAlive() {
		s.state = stateDead
		return &Request{Kind: KindDetach}, nil
	}
	if s.pendingDeliv {
		s.pendingDeliv = false
		return s.current, nil
	}
	if s.state == statePendingRequest {
		return nil, fmt.Errorf("%w: GetRequest called before replying to a %s request", ErrPendingReply, s.current.Kind)
	}
	if s.state == stateRunning {
		if !s.transport.PollIncoming(0) {
			return s.current, nil
		}
	}

	for {
		if !s.transport.IsAlive() {
			s.state = stateDead
			return &Request{Kind: KindDetach}, nil
		}
		pkt, err := s.framer.Next(s.noAck)
		if err != nil {
			if errors.Is(err, ErrConnectionDead) {
				s.state = stateDead
				return &Request{Kind: KindDetach}, nil
			}
			s.state = stateDead
			return nil, err
		}
		s.metrics.PacketReceived()

		if pkt.Interrupt {
			s.surface(&Request{Kind: KindInterrupt, Thread: s.resumeThread})
			return s.current, nil
		}
		s.metrics.BytesIn(len(pkt.Payload))

		req, handled, err := s.parsePacket(pkt.Payload)
		if err != nil {
			s.state = stateDead
			return nil, err
		}
		if handled {
			continue
		}
		s.surface(req)
		return s.current, nil
	}
}

func (s *Stub) surface(req *Request) {
	s.current = req
	if req.Kind == KindContinue {
		s.state = stateRunning
	} else {
		s.state = statePendingRequest
	}
}

func (s *Stub) mustCurrent(k RequestKind) error {
	if s.current == nil || s.current.Kind != k {
		got := RequestKind(-1)
		if s.current != nil {
			got = s.current.Kind
		}
		return fmt.Errorf("%w: expected current request %s, have %s", ErrPendingReply, k, got)
	}
	return nil
}

func (s *Stub) consumeCurrent() {
	s.current = nil
	s.state = stateIdle
}

func (s *Stub) writeReply(payload []byte) error {
	pkt := EncodePacket(payload)
	s.transport.QueueOutbound(pkt)
	s.metrics.PacketSent()
	s.metrics.BytesOut(len(payload))
	return s.transport.Flush()
}

func (s *Stub) writeOK() error { return s.writeReply([]byte("OK")) }

func (s *Stub) writeEmpty() error { return s.writeReply(nil) }

func (s *Stub) writeErr(code int) error {
	return s.writeReply([]byte(fmt.Sprintf("E%02x", code)))
}

// --- Reply methods (engine façade, §4.5) ---

// ReplyRegRead answers a register-read request with one register's
// value, hex-encoded 2 digits per byte in little-endian order;
// undefined registers are emitted as "xx" pairs.
func (s *Stub) ReplyRegRead(val RegisterValue) error {
	if err := s.mustCurrent(KindRegRead); err != nil {
		return err
	}
	defer s.consumeCurrent()
	return s.writeReply(hexEncodeRegister(val))
}

// ReplyRegReadAll answers a register-read-all (g) request by
// concatenating the hex encoding of every register the engine
// supplies, in order.
func (s *Stub) ReplyRegReadAll(vals []RegisterValue) error {
	if err := s.mustCurrent(KindRegReadAll); err != nil {
		return err
	}
	defer s.consumeCurrent()
	var out []byte
	for _, v := range vals {
		out = append(out, hexEncodeRegister(v)...)
	}
	return s.writeReply(out)
}

func hexEncodeRegister(v RegisterValue) []byte {
	if !v.Defined {
		out := make([]byte, v.Size*2)
		for i := range out {
			out[i] = 'x'
		}
		return out
	}
	b := v.bytesLE()
	out := make([]byte, 0, len(b)*2)
	for _, c := range b {
		h := hexByte(c)
		out = append(out, h[0], h[1])
	}
	return out
}

// ReplyRegSet answers a register-write (P) or register-write-all (G)
// request. Per spec, a failed register set is reported with an empty
// packet, never an E-code, since the peer treats explicit register-set
// errors as catastrophic.
func (s *Stub) ReplyRegSet(ok bool) error {
	if s.current == nil || (s.current.Kind != KindRegWrite && s.current.Kind != KindRegWriteAll) {
		return fmt.Errorf("%w: ReplyRegSet called without a pending register-write request", ErrPendingReply)
	}
	defer s.consumeCurrent()
	if !ok {
		return s.writeEmpty()
	}
	return s.writeOK()
}

// ReplyMemRead answers a memory-read request with plain hex of data;
// an empty result for a nonzero-length request is reported as E01.
func (s *Stub) ReplyMemRead(data []byte) error {
	if err := s.mustCurrent(KindMemRead); err != nil {
		return err
	}
	defer s.consumeCurrent()
	if len(data) == 0 && s.current.Mem().Len != 0 {
		return s.writeErr(1)
	}
	out := make([]byte, 0, len(data)*2)
	for _, c := range data {
		h := hexByte(c)
		out = append(out, h[0], h[1])
	}
	return s.writeReply(out)
}

// ReplyMemWrite answers a memory-write request.
func (s *Stub) ReplyMemWrite(ok bool) error {
	if err := s.mustCurrent(KindMemWrite); err != nil {
		return err
	}
	defer s.consumeCurrent()
	if !ok {
		return s.writeErr(1)
	}
	return s.writeOK()
}

// ReplyMemSearch answers a qSearch:memory request.
func (s *Stub) ReplyMemSearch(found bool, addr uint64) error {
	if err := s.mustCurrent(KindMemSearch); err != nil {
		return err
	}
	defer s.consumeCurrent()
	if !found {
		return s.writeReply([]byte("0"))
	}
	return s.writeReply([]byte(fmt.Sprintf("1,%x", addr)))
}

// ReplyWatchSet answers a Z (insert watchpoint) request.
func (s *Stub) ReplyWatchSet(ok bool) error { return s.replyWatch(KindWatchSet, ok) }

// ReplyWatchClear answers a z (remove watchpoint) request.
func (s *Stub) ReplyWatchClear(ok bool) error { return s.replyWatch(KindWatchClear, ok) }

func (s *Stub) replyWatch(k RequestKind, ok bool) error {
	if err := s.mustCurrent(k); err != nil {
		return err
	}
	defer s.consumeCurrent()
	if !ok {
		return s.writeErr(1)
	}
	return s.writeOK()
}

// ReplyDetach answers a detach (D) request. gdb isn't required to
// wait for this, but some clients do.
func (s *Stub) ReplyDetach() error {
	if err := s.mustCurrent(KindDetach); err != nil {
		return err
	}
	defer s.consumeCurrent()
	return s.writeOK()
}

// ReplyCurrentThread answers a qC request.
func (s *Stub) ReplyCurrentThread(thread ThreadID) error {
	if err := s.mustCurrent(KindGetCurrentThread); err != nil {
		return err
	}
	defer s.consumeCurrent()
	return s.writeReply([]byte("QC" + thread.Format(s.multiprocessSupported)))
}

// ReplySetThread answers an Hg/Hc selection. On success the stub
// commits the selection to its resume/query thread state; the
// engine's role is only to veto selections it can't honor.
func (s *Stub) ReplySetThread(ok bool) error {
	if s.current == nil || (s.current.Kind != KindSetContinueThread && s.current.Kind != KindSetQueryThread) {
		return fmt.Errorf("%w: ReplySetThread called without a pending Hg/Hc request", ErrPendingReply)
	}
	k := s.current.Kind
	thread := s.current.Thread
	defer s.consumeCurrent()
	if !ok {
		return s.writeErr(1)
	}
	if k == KindSetContinueThread {
		s.resumeThread = thread
	} else {
		s.queryThread = thread
	}
	return s.writeOK()
}

// ReplyThreadList answers a get-thread-list request (the first
// qfThreadInfo of a pair); the following qsThreadInfo is answered
// internally with "l" and never reaches the engine.
func (s *Stub) ReplyThreadList(threads []ThreadID) error {
	if err := s.mustCurrent(KindGetThreadList); err != nil {
		return err
	}
	defer s.consumeCurrent()
	s.threadsServed = true
	return s.writeReply([]byte(s.formatThreadList(threads)))
}

func (s *Stub) formatThreadList(threads []ThreadID) string {
	var sb strings.Builder
	sb.WriteByte('m')
	first := true
	for _, t := range threads {
		if t.PID != s.tgid {
			continue
		}
		if !first {
			sb.WriteByte(',')
		}
		first = false
		sb.WriteString(t.Format(s.multiprocessSupported))
	}
	return sb.String()
}

// ReplyThreadAlive answers a T<tid> liveness query.
func (s *Stub) ReplyThreadAlive(alive bool) error {
	if err := s.mustCurrent(KindIsThreadAlive); err != nil {
		return err
	}
	defer s.consumeCurrent()
	if !alive {
		return s.writeErr(1)
	}
	return s.writeOK()
}

// ReplyThreadExtraInfo answers qThreadExtraInfo with human-readable
// ASCII text, hex-encoded per protocol convention.
func (s *Stub) ReplyThreadExtraInfo(text string) error {
	if err := s.mustCurrent(KindGetThreadExtraInfo); err != nil {
		return err
	}
	defer s.consumeCurrent()
	return s.writeReply([]byte(hexEncodeString(text)))
}

func hexEncodeString(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		h := hexByte(s[i])
		sb.WriteByte(h[0])
		sb.WriteByte(h[1])
	}
	return sb.String()
}

// ReplyQXfer answers any qXfer:<object>:read request by slicing full
// into the offset/length window the client asked for (spec §4.5).
func (s *Stub) ReplyQXfer(full []byte) error {
	if err := s.mustCurrent(KindQXfer); err != nil {
		return err
	}
	defer s.consumeCurrent()
	q := s.current.QXfer()
	o, l := q.Offset, q.Len
	n := uint64(len(full))
	switch {
	case o > n:
		return s.writeErr(1)
	case o == n:
		return s.writeReply([]byte("l"))
	case o+l < n:
		return s.writeReply(append([]byte("m"), full[o:o+l]...))
	default:
		return s.writeReply(append([]byte("l"), full[o:]...))
	}
}

// ReplySiginfoWrite answers a write-siginfo request.
func (s *Stub) ReplySiginfoWrite(ok bool) error {
	if err := s.mustCurrent(KindWriteSiginfo); err != nil {
		return err
	}
	defer s.consumeCurrent()
	if !ok {
		return s.writeErr(1)
	}
	return s.writeOK()
}

// ReplyTLSAddr answers a qGetTLSAddr request.
func (s *Stub) ReplyTLSAddr(addr uint64, ok bool) error {
	if err := s.mustCurrent(KindTLSAddr); err != nil {
		return err
	}
	defer s.consumeCurrent()
	if !ok {
		return s.writeErr(1)
	}
	return s.writeReply([]byte(fmt.Sprintf("%x", addr)))
}

// ReplySymbolDone tells the debugger the engine has no further
// symbols to resolve, ending a qSymbol exchange.
func (s *Stub) ReplySymbolDone() error {
	if err := s.mustCurrent(KindSymbol); err != nil {
		return err
	}
	defer s.consumeCurrent()
	return s.writeOK()
}

// ReplySymbolLookup asks the debugger to resolve name; the reply to
// that lookup arrives as the next qSymbol packet and is surfaced as
// another KindSymbol request.
func (s *Stub) ReplySymbolLookup(name string) error {
	if err := s.mustCurrent(KindSymbol); err != nil {
		return err
	}
	defer s.consumeCurrent()
	return s.writeReply([]byte("qSymbol:" + hexEncodeString(name)))
}

// ReplyMaintenance answers a qRcmd request with console output text
// (hex-encoded) or, for empty output, a bare OK.
func (s *Stub) ReplyMaintenance(output string) error {
	if err := s.mustCurrent(KindMaintenanceCmd); err != nil {
		return err
	}
	defer s.consumeCurrent()
	if output == "" {
		return s.writeOK()
	}
	return s.writeReply([]byte(hexEncodeString(output)))
}

// ReplyOffsets answers a qOffsets request with an already-formatted
// "Text=...;Data=...;Bss=..." style string; the stub does not
// interpret its contents.
func (s *Stub) ReplyOffsets(formatted string) error {
	if err := s.mustCurrent(KindGetOffsets); err != nil {
		return err
	}
	defer s.consumeCurrent()
	return s.writeReply([]byte(formatted))
}

func (s *Stub) fileErrorReply(err error) error {
	return s.writeReply([]byte(fmt.Sprintf("F-1,%x", ToGdbErrno(err))))
}

// ReplyFileSetfs answers vFile:setfs.
func (s *Stub) ReplyFileSetfs(err error) error {
	if e := s.mustCurrent(KindFileSetfs); e != nil {
		return e
	}
	defer s.consumeCurrent()
	if err != nil {
		return s.fileErrorReply(err)
	}
	s.vfilePID = s.current.FileSetfs().PID
	return s.writeReply([]byte("F0"))
}

// ReplyFileOpen answers vFile:open.
func (s *Stub) ReplyFileOpen(fd int32, err error) error {
	if e := s.mustCurrent(KindFileOpen); e != nil {
		return e
	}
	defer s.consumeCurrent()
	if err != nil {
		return s.fileErrorReply(err)
	}
	return s.writeReply([]byte(fmt.Sprintf("F%x;", fd)))
}

// ReplyFilePread answers vFile:pread; data is attached after the
// length prefix exactly as read, binary-escaped by the encoder.
func (s *Stub) ReplyFilePread(data []byte, err error) error {
	if e := s.mustCurrent(KindFilePread); e != nil {
		return e
	}
	defer s.consumeCurrent()
	if err != nil {
		return s.fileErrorReply(err)
	}
	return s.writeReply(append([]byte(fmt.Sprintf("F%x;", len(data))), data...))
}

// ReplyFileClose answers vFile:close.
func (s *Stub) ReplyFileClose(err error) error {
	if e := s.mustCurrent(KindFileClose); e != nil {
		return e
	}
	defer s.consumeCurrent()
	if err != nil {
		return s.fileErrorReply(err)
	}
	return s.writeReply([]byte("F0"))
}

// ReplyUnsupported answers the current request, whatever its kind,
// with an empty packet — the protocol's "unrecognized" convention.
// It exists for engines that don't implement every request kind the
// stub can surface; it does not apply to KindContinue, since an
// unreplied continue is meant to keep running rather than fail.
func (s *Stub) ReplyUnsupported() error {
	if s.current == nil {
		return fmt.Errorf("%w: ReplyUnsupported called with no current request", ErrPendingReply)
	}
	if s.current.Kind == KindContinue {
		return fmt.Errorf("%w: ReplyUnsupported called on a continue request", ErrPendingReply)
	}
	defer s.consumeCurrent()
	return s.writeEmpty()
}

// NotifyNoSuchThread reports that the targeted thread has vanished;
// valid whenever a request is currently outstanding.
func (s *Stub) NotifyNoSuchThread() error {
	if s.current == nil {
		return fmt.Errorf("%w: NotifyNoSuchThread called with no current request", ErrPendingReply)
	}
	defer s.consumeCurrent()
	return s.writeErr(0x10)
}

// NotifyStop reports a stop to the debugger; valid only while a
// continue, interrupt, or get-stop-reason request (from '?' or
// synthesized after a restart) is outstanding. If thread is not
// AnyThread and its pid doesn't match the pretended thread-group, the
// stop is silently swallowed and the current request is left live.
func (s *Stub) NotifyStop(thread ThreadID, sig int, watchAddr uint64, hasWatch bool) error {
	if s.current == nil {
		return fmt.Errorf("%w: NotifyStop called with no current request", ErrPendingReply)
	}
	switch s.current.Kind {
	case KindContinue, KindInterrupt, KindGetStopReason:
	default:
		return fmt.Errorf("%w: NotifyStop called while current request is %s", ErrPendingReply, s.current.Kind)
	}

	if thread.PID != s.tgid && !thread.IsAny() {
		s.log.Debugf("gdbremote: swallowing stop for thread %v outside pretended tgid %d", thread, s.tgid)
		return nil
	}

	wasBackward := s.current.Kind == KindContinue && s.current.Cont().Direction == DirBackward
	defer s.consumeCurrent()

	var sb strings.Builder
	fmt.Fprintf(&sb, "T%02x", ToProtocolSignal(sig))
	fmt.Fprintf(&sb, "thread:%s;", thread.Format(s.multiprocessSupported))
	if hasWatch {
		fmt.Fprintf(&sb, "watch:%x;", watchAddr)
	}

	if wasBackward {
		s.resumeThread = AnyThread
		s.queryThread = AnyThread
	} else {
		s.resumeThread = thread
		s.queryThread = thread
	}
	return s.writeReply([]byte(sb.String()))
}

// NotifyExitCode reports tracee exit; valid only while a resume or
// interrupt request is outstanding.
func (s *Stub) NotifyExitCode(code int) error {
	if err := s.requireResumeOrInterrupt(); err != nil {
		return err
	}
	defer s.consumeCurrent()
	return s.writeReply([]byte(fmt.Sprintf("W%02x", code&0xff)))
}

// NotifyExitSignal reports tracee death by signal; valid only while a
// resume or interrupt request is outstanding.
func (s *Stub) NotifyExitSignal(sig int) error {
	if err := s.requireResumeOrInterrupt(); err != nil {
		return err
	}
	defer s.consumeCurrent()
	return s.writeReply([]byte(fmt.Sprintf("X%02x", ToProtocolSignal(sig))))
}

func (s *Stub) requireResumeOrInterrupt() error {
	if s.current == nil || (s.current.Kind != KindContinue && s.current.Kind != KindInterrupt) {
		return fmt.Errorf("%w: expected a resume or interrupt request outstanding", ErrPendingReply)
	}
	return nil
}

// NotifyRestart answers a restart (R) request: resume/query threads
// reset to ANY, and — without waiting for a new packet — the stub
// synthesizes a get-stop-reason request so the engine's next
// GetRequest call can hand back a relaunch stop packet.
func (s *Stub) NotifyRestart() error {
	if err := s.mustCurrent(KindRestart); err != nil {
		return err
	}
	s.resumeThread = AnyThread
	s.queryThread = AnyThread
	s.current = &Request{Kind: KindGetStopReason, Thread: AnyThread}
	s.state = statePendingRequest
	s.pendingDeliv = true
	return nil
}

// NotifyRestartFailed answers a restart (R) request that the engine
// could not honor.
func (s *Stub) NotifyRestartFailed() error {
	if err := s.mustCurrent(KindRestart); err != nil {
		return err
	}
	defer s.consumeCurrent()
	return s.writeErr(1)
}

// --- Parsing (spec §4.3) ---

// parsePacket translates a logical payload into a surfaced Request,
// or replies to it directly and reports handled=true. A non-nil error
// is a fatal protocol violation (malformed hex, missing delimiters,
// truncated fields) and ends the session.
func (s *Stub) parsePacket(payload []byte) (req *Request, handled bool, err error) {
	p := string(payload)

	switch {
	case strings.HasPrefix(p, "qSupported"):
		return nil, true, s.handleQSupported(p)
	case p == "QStartNoAckMode":
		if err := s.writeOK(); err != nil {
			return nil, true, err
		}
		s.noAck = true
		return nil, true, nil
	case p == "!":
		return nil, true, s.writeOK()
	case p == "?":
		return &Request{Kind: KindGetStopReason, Thread: s.queryThread}, false, nil
	case strings.HasPrefix(p, "Hg"):
		return s.parseSetThread(p[2:], KindSetQueryThread)
	case strings.HasPrefix(p, "Hc"):
		return s.parseSetThread(p[2:], KindSetContinueThread)
	case len(p) > 1 && p[0] == 'T':
		thread, err := ParseThreadID(p[1:], s.tgid)
		if err != nil {
			return nil, false, err
		}
		return &Request{Kind: KindIsThreadAlive, Thread: thread}, false, nil
	case p == "qC":
		return &Request{Kind: KindGetCurrentThread}, false, nil
	case p == "qfThreadInfo":
		s.threadsServed = false
		return &Request{Kind: KindGetThreadList}, false, nil
	case p == "qsThreadInfo":
		if s.threadsServed {
			return nil, true, s.writeReply([]byte("l"))
		}
		return &Request{Kind: KindGetThreadList}, false, nil
	case strings.HasPrefix(p, "qThreadExtraInfo,"):
		thread, err := ParseThreadID(p[len("qThreadExtraInfo,"):], s.tgid)
		if err != nil {
			return nil, false, err
		}
		return &Request{Kind: KindGetThreadExtraInfo, Thread: thread}, false, nil
	case p == "qAttached" || strings.HasPrefix(p, "qAttached:"):
		return nil, true, s.writeReply([]byte("1"))
	case p == "qOffsets":
		return &Request{Kind: KindGetOffsets}, false, nil
	case p == "qTStatus":
		return nil, true, s.writeEmpty()
	case p == "qSymbol::":
		return &Request{Kind: KindSymbol}, false, nil
	case strings.HasPrefix(p, "qSymbol:"):
		name, err := hexDecodeString(p[len("qSymbol:"):])
		if err != nil {
			return nil, false, err
		}
		return &Request{Kind: KindSymbol, symbol: SymbolPayload{Resolved: true, Name: name}}, false, nil
	case strings.HasPrefix(p, "qRcmd,"):
		text, err := hexDecodeString(p[len("qRcmd,"):])
		if err != nil {
			return nil, false, err
		}
		return &Request{Kind: KindMaintenanceCmd, maint: text}, false, nil
	case strings.HasPrefix(p, "qXfer:"):
		return s.parseQXfer(p)
	case p == "vMustReplyEmpty":
		return nil, true, s.writeEmpty()
	case p == "vCtrlC":
		return &Request{Kind: KindInterrupt, Thread: s.resumeThread}, false, nil
	case p == "vCont?":
		return nil, true, s.writeReply([]byte("vCont;c;C;s;S"))
	case strings.HasPrefix(p, "vCont;") || strings.HasPrefix(p, "vCont:"):
		req, err := s.parseVCont(p[len("vCont;"):])
		if err != nil {
			return nil, false, err
		}
		return req, false, nil
	case (p == "bc" || p == "bs") && !s.reverseExecutionAllowed:
		return nil, true, s.writeEmpty()
	case p == "bc":
		return &Request{Kind: KindContinue, Thread: s.resumeThread, cont: ContPayload{
			Direction: DirBackward,
			Actions:   []ContAction{{Type: ActionContinue, Thread: s.resumeThread, Signal: NoSignal}},
		}}, false, nil
	case p == "bs":
		return &Request{Kind: KindContinue, Thread: s.resumeThread, cont: ContPayload{
			Direction: DirBackward,
			Actions:   []ContAction{{Type: ActionStep, Thread: s.resumeThread, Signal: NoSignal}},
		}}, false, nil
	case len(p) > 0 && (p[0] == 'c' || p[0] == 's' || p[0] == 'C' || p[0] == 'S'):
		return s.parseLegacyCont(p)
	case len(p) > 0 && p[0] == 'm':
		return s.parseMemRead(p[1:])
	case len(p) > 0 && p[0] == 'M':
		return s.parseMemWrite(p[1:], false)
	case len(p) > 0 && p[0] == 'X':
		return s.parseMemWrite(p[1:], true)
	case strings.HasPrefix(p, "qSearch:memory:"):
		return s.parseMemSearch(p[len("qSearch:memory:"):])
	case len(p) > 0 && p[0] == 'p':
		reg, err := parseHexU64(p[1:])
		if err != nil {
			return nil, false, err
		}
		return &Request{Kind: KindRegRead, Thread: s.queryThread, reg: RegPayload{Reg: RegisterID(reg)}}, false, nil
	case len(p) > 0 && p[0] == 'P':
		return s.parseRegWrite(p[1:])
	case p == "g":
		return &Request{Kind: KindRegReadAll, Thread: s.queryThread}, false, nil
	case len(p) > 0 && p[0] == 'G':
		data, err := hexDecodeBytes(p[1:])
		if err != nil {
			return nil, false, err
		}
		return &Request{Kind: KindRegWriteAll, Thread: s.queryThread, regAll: RegAllPayload{Raw: data}}, false, nil
	case len(p) > 0 && (p[0] == 'z' || p[0] == 'Z'):
		return s.parseWatch(p)
	case p == "D" || strings.HasPrefix(p, "D;"):
		return &Request{Kind: KindDetach}, false, nil
	case p == "k":
		return &Request{Kind: KindDetach}, false, nil
	case len(p) > 0 && p[0] == 'R':
		return s.parseRestart(p[1:])
	case strings.HasPrefix(p, "qGetTLSAddr:"):
		return s.parseTLS(p[len("qGetTLSAddr:"):])
	case strings.HasPrefix(p, "vFile:setfs:"):
		pid, err := parseHexSigned32(p[len("vFile:setfs:"):])
		if err != nil {
			return nil, false, err
		}
		return &Request{Kind: KindFileSetfs, fileSetfs: FileSetfsPayload{PID: pid}}, false, nil
	case strings.HasPrefix(p, "vFile:open:"):
		return s.parseFileOpen(p[len("vFile:open:"):])
	case strings.HasPrefix(p, "vFile:pread:"):
		return s.parseFilePread(p[len("vFile:pread:"):])
	case strings.HasPrefix(p, "vFile:close:"):
		fd, err := parseHexSigned32(p[len("vFile:close:"):])
		if err != nil {
			return nil, false, err
		}
		return &Request{Kind: KindFileClose, fileClose: FileClosePayload{FD: fd}}, false, nil
	default:
		return nil, true, s.writeEmpty()
	}
}

func (s *Stub) handleQSupported(p string) error {
	rest := strings.TrimPrefix(p, "qSupported")
	rest = strings.TrimPrefix(rest, ":")
	for _, feat := range strings.Split(rest, ";") {
		if feat == "multiprocess+" {
			s.multiprocessSupported = true
		}
	}

	var feats []string
	feats = append(feats, "multiprocess+", "QStartNoAckMode+", "vContSupported+")
	if s.reverseExecutionAllowed {
		feats = append(feats, "ReverseContinue+", "ReverseStep+")
	}
	feats = append(feats,
		"PacketSize=4000",
		"qXfer:features:read+",
		"qXfer:auxv:read+",
		"qXfer:exec-file:read+",
		"qXfer:siginfo:read+",
		"qXfer:siginfo:write+",
		"qXfer:threads:read+",
	)
	return s.writeReply([]byte(strings.Join(feats, ";")))
}

func (s *Stub) parseSetThread(rest string, kind RequestKind) (*Request, bool, error) {
	thread, err := ParseThreadID(rest, s.tgid)
	if err != nil {
		return nil, false, err
	}
	return &Request{Kind: kind, Thread: thread}, false, nil
}

func (s *Stub) parseQXfer(p string) (*Request, bool, error) {
	// qXfer:<object>:read:<annex>:<off>,<len>
	// qXfer:<object>:write:<annex>:<offset>:<data>
	fields := strings.SplitN(strings.TrimPrefix(p, "qXfer:"), ":", 4)
	if len(fields) != 4 {
		return nil, false, fmt.Errorf("%w: malformed qXfer packet %q", ErrProtocolViolation, p)
	}
	object, annex := fields[0], fields[2]
	switch fields[1] {
	case "read":
		rangeStr := fields[3]
		comma := strings.IndexByte(rangeStr, ',')
		if comma < 0 {
			return nil, false, fmt.Errorf("%w: malformed qXfer range %q", ErrProtocolViolation, rangeStr)
		}
		off, err := parseHexU64(rangeStr[:comma])
		if err != nil {
			return nil, false, err
		}
		length, err := parseHexU64(rangeStr[comma+1:])
		if err != nil {
			return nil, false, err
		}
		return &Request{Kind: KindQXfer, qxfer: QXferPayload{Object: object, Annex: annex, Offset: off, Len: length}}, false, nil
	case "write":
		if object != "siginfo" {
			// Advertised only for siginfo; anything else naming
			// "write" is a request this stub doesn't implement, not
			// a malformed one.
			return nil, true, s.writeEmpty()
		}
		colon := strings.IndexByte(fields[3], ':')
		if colon < 0 {
			return nil, false, fmt.Errorf("%w: malformed qXfer write packet %q", ErrProtocolViolation, p)
		}
		off, err := parseHexU64(fields[3][:colon])
		if err != nil {
			return nil, false, err
		}
		data := []byte(fields[3][colon+1:])
		return &Request{Kind: KindWriteSiginfo, writeSiginfo: WriteSiginfoPayload{Offset: off, Data: data}}, false, nil
	default:
		return nil, false, fmt.Errorf("%w: malformed qXfer packet %q", ErrProtocolViolation, p)
	}
}

func (s *Stub) parseVCont(rest string) (*Request, error) {
	var actions []ContAction
	for _, part := range strings.Split(rest, ";") {
		if part == "" {
			continue
		}
		colon := strings.IndexByte(part, ':')
		spec, tidStr := part, ""
		if colon >= 0 {
			spec, tidStr = part[:colon], part[colon+1:]
		}
		thread := s.resumeThread
		if tidStr != "" {
			t, err := ParseThreadID(tidStr, s.tgid)
			if err != nil {
				return nil, err
			}
			thread = t
		}
		var a ContAction
		a.Thread = thread
		switch {
		case spec == "c":
			a.Type, a.Signal = ActionContinue, NoSignal
		case spec == "s":
			a.Type, a.Signal = ActionStep, NoSignal
		case len(spec) > 0 && spec[0] == 'C':
			sig, err := parseHexU64(spec[1:])
			if err != nil {
				return nil, err
			}
			a.Type, a.Signal = ActionContinue, int(sig)
		case len(spec) > 0 && spec[0] == 'S':
			sig, err := parseHexU64(spec[1:])
			if err != nil {
				return nil, err
			}
			a.Type, a.Signal = ActionStep, int(sig)
		default:
			return nil, fmt.Errorf("%w: unrecognized vCont action %q", ErrProtocolViolation, spec)
		}
		actions = append(actions, a)
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("%w: empty vCont action list", ErrProtocolViolation)
	}
	return &Request{Kind: KindContinue, Thread: actions[0].Thread, cont: ContPayload{Direction: DirForward, Actions: actions}}, nil
}

func (s *Stub) parseLegacyCont(p string) (*Request, bool, error) {
	verb := p[0]
	rest := p[1:]
	var sig int = NoSignal
	if verb == 'C' || verb == 'S' {
		semi := strings.IndexByte(rest, ';')
		sigStr := rest
		if semi >= 0 {
			sigStr = rest[:semi]
			rest = rest[semi+1:]
		} else {
			rest = ""
		}
		v, err := parseHexU64(sigStr)
		if err != nil {
			return nil, false, err
		}
		sig = int(v)
	}
	// Any remaining rest is the optional resume address of the legacy
	// forms. It is discarded: the continue request carries no address
	// and the stub does not change the PC, so the tracee resumes from
	// where it stopped.
	_ = rest

	typ := ActionContinue
	if verb == 's' || verb == 'S' {
		typ = ActionStep
	}
	return &Request{Kind: KindContinue, Thread: s.resumeThread, cont: ContPayload{
		Direction: DirForward,
		Actions:   []ContAction{{Type: typ, Thread: s.resumeThread, Signal: sig}},
	}}, false, nil
}

func (s *Stub) parseMemRead(rest string) (*Request, bool, error) {
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return nil, false, fmt.Errorf("%w: malformed m packet %q", ErrProtocolViolation, rest)
	}
	addr, err := parseHexU64(rest[:comma])
	if err != nil {
		return nil, false, err
	}
	length, err := parseHexU64(rest[comma+1:])
	if err != nil {
		return nil, false, err
	}
	return &Request{Kind: KindMemRead, Thread: s.queryThread, mem: MemPayload{Addr: addr, Len: length}}, false, nil
}

func (s *Stub) parseMemWrite(rest string, binary bool) (*Request, bool, error) {
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return nil, false, fmt.Errorf("%w: malformed memory write packet", ErrProtocolViolation)
	}
	addr, err := parseHexU64(rest[:comma])
	if err != nil {
		return nil, false, err
	}
	rest = rest[comma+1:]
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return nil, false, fmt.Errorf("%w: malformed memory write packet, missing data", ErrProtocolViolation)
	}
	length, err := parseHexU64(rest[:colon])
	if err != nil {
		return nil, false, err
	}
	payload := rest[colon+1:]
	var data []byte
	if binary {
		data = []byte(payload)
	} else {
		data, err = hexDecodeBytes(payload)
		if err != nil {
			return nil, false, err
		}
	}
	return &Request{Kind: KindMemWrite, Thread: s.queryThread, mem: MemPayload{Addr: addr, Len: length, Data: data}}, false, nil
}

func (s *Stub) parseMemSearch(rest string) (*Request, bool, error) {
	fields := strings.SplitN(rest, ";", 3)
	if len(fields) != 3 {
		return nil, false, fmt.Errorf("%w: malformed qSearch:memory packet", ErrProtocolViolation)
	}
	addr, err := parseHexU64(fields[0])
	if err != nil {
		return nil, false, err
	}
	length, err := parseHexU64(fields[1])
	if err != nil {
		return nil, false, err
	}
	pattern, err := hexDecodeBytes(fields[2])
	if err != nil {
		return nil, false, err
	}
	return &Request{Kind: KindMemSearch, Thread: s.queryThread, memSearch: MemSearchPayload{Addr: addr, Len: length, Pattern: pattern}}, false, nil
}

func (s *Stub) parseRegWrite(rest string) (*Request, bool, error) {
	eq := strings.IndexByte(rest, '=')
	if eq < 0 {
		return nil, false, fmt.Errorf("%w: malformed P packet %q", ErrProtocolViolation, rest)
	}
	reg, err := parseHexU64(rest[:eq])
	if err != nil {
		return nil, false, err
	}
	data, err := hexDecodeBytes(rest[eq+1:])
	if err != nil {
		return nil, false, err
	}
	if len(data) > MaxRegisterSize {
		return nil, false, fmt.Errorf("%w: register value of %d bytes exceeds %d", ErrProtocolViolation, len(data), MaxRegisterSize)
	}
	return &Request{Kind: KindRegWrite, Thread: s.queryThread, reg: RegPayload{
		Reg:   RegisterID(reg),
		Value: RegisterValue{Defined: true, Size: len(data), Bytes: data},
	}}, false, nil
}

func (s *Stub) parseWatch(p string) (*Request, bool, error) {
	insert := p[0] == 'Z'
	fields := strings.SplitN(p[1:], ",", 3)
	if len(fields) < 3 {
		return nil, false, fmt.Errorf("%w: malformed %c packet %q", ErrProtocolViolation, p[0], p)
	}
	kindNum, err := parseHexU64(fields[0])
	if err != nil {
		return nil, false, err
	}
	if kindNum > 4 {
		return nil, false, fmt.Errorf("%w: watchpoint kind %d out of range", ErrProtocolViolation, kindNum)
	}
	addr, err := parseHexU64(fields[1])
	if err != nil {
		return nil, false, err
	}
	lenAndConds := fields[2]
	semi := strings.IndexByte(lenAndConds, ';')
	lenStr := lenAndConds
	var condsStr string
	if semi >= 0 {
		lenStr = lenAndConds[:semi]
		condsStr = lenAndConds[semi+1:]
	}
	length, err := parseHexU64(lenStr)
	if err != nil {
		return nil, false, err
	}
	var conds [][]byte
	if condsStr != "" {
		for _, c := range strings.Split(condsStr, ";") {
			b, err := hexDecodeBytes(c)
			if err != nil {
				return nil, false, err
			}
			conds = append(conds, b)
		}
	}
	kind := KindWatchClear
	if insert {
		kind = KindWatchSet
	}
	return &Request{Kind: kind, Thread: s.resumeThread, watch: WatchPayload{
		Addr: addr, Len: length, Kind: WatchpointKind(kindNum), Conditions: conds,
	}}, false, nil
}

func (s *Stub) parseRestart(rest string) (*Request, bool, error) {
	var param uint64
	var err error
	if rest != "" {
		param, err = parseHexU64(rest)
		if err != nil {
			return nil, false, err
		}
	}
	return &Request{Kind: KindRestart, restart: RestartPayload{Param: param, Kind: RestartFromEvent}}, false, nil
}

func (s *Stub) parseTLS(rest string) (*Request, bool, error) {
	fields := strings.SplitN(rest, ",", 3)
	if len(fields) != 3 {
		return nil, false, fmt.Errorf("%w: malformed qGetTLSAddr packet", ErrProtocolViolation)
	}
	thread, err := ParseThreadID(fields[0], s.tgid)
	if err != nil {
		return nil, false, err
	}
	offset, err := parseHexU64(fields[1])
	if err != nil {
		return nil, false, err
	}
	module, err := parseHexU64(fields[2])
	if err != nil {
		return nil, false, err
	}
	return &Request{Kind: KindTLSAddr, Thread: thread, tls: TLSPayload{Offset: offset, LoadModule: module}}, false, nil
}

func (s *Stub) parseFileOpen(rest string) (*Request, bool, error) {
	fields := strings.SplitN(rest, ",", 3)
	if len(fields) != 3 {
		return nil, false, fmt.Errorf("%w: malformed vFile:open packet", ErrProtocolViolation)
	}
	nameBytes, err := hexDecodeBytes(fields[0])
	if err != nil {
		return nil, false, err
	}
	protoFlags, err := parseHexU64(fields[1])
	if err != nil {
		return nil, false, err
	}
	mode, err := parseHexU64(fields[2])
	if err != nil {
		return nil, false, err
	}
	flags, err := TranslateOpenFlags(uint32(protoFlags))
	if err != nil {
		return nil, false, err
	}
	return &Request{Kind: KindFileOpen, fileOpen: FileOpenPayload{Name: string(nameBytes), Flags: flags, Mode: uint32(mode)}}, false, nil
}

func (s *Stub) parseFilePread(rest string) (*Request, bool, error) {
	fields := strings.SplitN(rest, ",", 3)
	if len(fields) != 3 {
		return nil, false, fmt.Errorf("%w: malformed vFile:pread packet", ErrProtocolViolation)
	}
	fd, err := parseHexSigned32(fields[0])
	if err != nil {
		return nil, false, err
	}
	count, err := parseHexU64(fields[1])
	if err != nil {
		return nil, false, err
	}
	offset, err := parseHexU64(fields[2])
	if err != nil {
		return nil, false, err
	}
	return &Request{Kind: KindFilePread, filePread: FilePreadPayload{FD: fd, Count: count, Offset: offset}}, false, nil
}

func parseHexU64(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty hex field", ErrProtocolViolation)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid hex field %q: %v", ErrProtocolViolation, s, err)
	}
	return v, nil
}

func hexDecodeBytes(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("%w: odd-length hex data %q", ErrProtocolViolation, s)
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		b, ok := parseHexByte(s[2*i], s[2*i+1])
		if !ok {
			return nil, fmt.Errorf("%w: invalid hex byte in %q", ErrProtocolViolation, s)
		}
		out[i] = b
	}
	return out, nil
}

func hexDecodeString(s string) (string, error) {
	b, err := hexDecodeBytes(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

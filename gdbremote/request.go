package gdbremote

import "fmt"

// RequestKind is the closed tag of the Request sum type. Go has no
// native tagged unions, so Request carries one Kind plus exactly one
// populated payload field, and the typed accessors below assert the
// kind before projecting to it — mirroring the panicking accessor
// pattern (req.mem(), req.cont(), ...) of the engine this protocol was
// modeled on.
type RequestKind int

const (
	KindNone RequestKind = iota
	KindMemRead
	KindMemWrite
	KindMemSearch
	KindRegRead
	KindRegReadAll
	KindRegWrite
	KindRegWriteAll
	KindWatchSet
	KindWatchClear
	KindContinue
	KindDetach
	KindInterrupt
	KindGetStopReason
	KindGetCurrentThread
	KindSetContinueThread
	KindSetQueryThread
	KindGetThreadList
	KindIsThreadAlive
	KindGetThreadExtraInfo
	KindGetAuxv
	KindGetExecFile
	KindReadSiginfo
	KindWriteSiginfo
	KindTLSAddr
	KindSymbol
	KindRestart
	KindMaintenanceCmd
	KindGetOffsets
	KindQXfer
	KindFileSetfs
	KindFileOpen
	KindFilePread
	KindFileClose
)

func (k RequestKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindMemRead:
		return "mem-read"
	case KindMemWrite:
		return "mem-write"
	case KindMemSearch:
		return "mem-search"
	case KindRegRead:
		return "reg-read"
	case KindRegReadAll:
		return "reg-read-all"
	case KindRegWrite:
		return "reg-write"
	case KindRegWriteAll:
		return "reg-write-all"
	case KindWatchSet:
		return "watch-set"
	case KindWatchClear:
		return "watch-clear"
	case KindContinue:
		return "continue"
	case KindDetach:
		return "detach"
	case KindInterrupt:
		return "interrupt"
	case KindGetStopReason:
		return "get-stop-reason"
	case KindGetCurrentThread:
		return "get-current-thread"
	case KindSetContinueThread:
		return "set-continue-thread"
	case KindSetQueryThread:
		return "set-query-thread"
	case KindGetThreadList:
		return "get-thread-list"
	case KindIsThreadAlive:
		return "is-thread-alive"
	case KindGetThreadExtraInfo:
		return "get-thread-extra-info"
	case KindGetAuxv:
		return "get-auxv"
	case KindGetExecFile:
		return "get-exec-file"
	case KindReadSiginfo:
		return "read-siginfo"
	case KindWriteSiginfo:
		return "write-siginfo"
	case KindTLSAddr:
		return "tls-addr"
	case KindSymbol:
		return "symbol"
	case KindRestart:
		return "restart"
	case KindMaintenanceCmd:
		return "maintenance-cmd"
	case KindGetOffsets:
		return "get-offsets"
	case KindQXfer:
		return "qxfer"
	case KindFileSetfs:
		return "vfile-setfs"
	case KindFileOpen:
		return "vfile-open"
	case KindFilePread:
		return "vfile-pread"
	case KindFileClose:
		return "vfile-close"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// NeedsImmediateResponse reports whether the state machine must see a
// matching reply before the next packet that itself needs one is
// read. Every kind except none and continue needs one (spec
// request_needs_immediate_response).
func (k RequestKind) NeedsImmediateResponse() bool {
	return k != KindNone && k != KindContinue
}

// WatchpointKind distinguishes the five watchpoint flavors the Z/z
// packets address. The distilled protocol folds software and
// hardware breakpoints into a single "kind 0..=4" field; this keeps
// them distinct the way the original engine's insert/remove dispatch
// does, since kind 0 and kind 1 install fundamentally different
// mechanisms even though both report as a plain breakpoint stop.
type WatchpointKind int

const (
	WatchSWBreak WatchpointKind = iota
	WatchHWBreak
	WatchWrite
	WatchRead
	WatchAccess
)

// RunDirection is the direction of logical time a continue or step
// resumes in.
type RunDirection int

const (
	DirForward RunDirection = iota
	DirBackward
)

// ActionType distinguishes the two resume verbs a vCont action can
// carry.
type ActionType int

const (
	ActionContinue ActionType = iota
	ActionStep
)

// NoSignal is the sentinel ContAction.Signal value meaning "no signal
// requested", distinct from an explicit signal 0.
const NoSignal = -1

// ContAction is one element of a vCont action list (or the single
// synthesized action of a legacy c/s/C/S packet).
type ContAction struct {
	Type   ActionType
	Thread ThreadID
	Signal int // NoSignal, or a protocol signal number including 0
}

// ContPayload is the payload of a continue request.
type ContPayload struct {
	Direction RunDirection
	Actions   []ContAction
}

// MemPayload carries address/length/data for memory reads and
// writes. Data is populated for writes and ignored for reads.
type MemPayload struct {
	Addr uint64
	Len  uint64
	Data []byte
}

// MemSearchPayload carries the parameters of a qSearch:memory request.
type MemSearchPayload struct {
	Addr    uint64
	Len     uint64
	Pattern []byte
}

// RegPayload addresses a single register by index, carrying a value
// for register-write requests.
type RegPayload struct {
	Reg   RegisterID
	Value RegisterValue
}

// RegAllPayload carries the full register file for a register-write-all
// (G) request, as the raw concatenated bytes the packet decoded to —
// the stub has no notion of individual register widths, so splitting
// Raw into registers is the engine's job. Register-read-all (g)
// requests carry no payload; the engine supplies the set of
// RegisterValue to encode in its reply.
type RegAllPayload struct {
	Raw []byte
}

// WatchPayload is the payload of a Z/z watchpoint insert/remove
// request.
type WatchPayload struct {
	Addr       uint64
	Len        uint64
	Kind       WatchpointKind
	Conditions [][]byte
}

// RestartKind distinguishes the three ways a restart may originate.
type RestartKind int

const (
	RestartFromPrevious RestartKind = iota
	RestartFromEvent
	RestartFromCheckpoint
)

// RestartPayload is the payload of an R request.
type RestartPayload struct {
	Param    uint64
	ParamStr string
	Kind     RestartKind
}

// TLSPayload is the payload of a qGetTLSAddr request.
type TLSPayload struct {
	Offset     uint64
	LoadModule uint64
}

// SymbolPayload is the payload of a qSymbol request/reply round trip.
type SymbolPayload struct {
	Resolved bool
	Addr     uint64
	Name     string
}

// QXferPayload is the payload of a qXfer:<object>:read request.
type QXferPayload struct {
	Object string // "auxv", "exec-file", "features", "siginfo", "threads"
	Annex  string
	Offset uint64
	Len    uint64
}

// WriteSiginfoPayload is the payload of a qXfer:siginfo:write request.
type WriteSiginfoPayload struct {
	Offset uint64
	Data   []byte
}

// FileSetfsPayload is the payload of vFile:setfs.
type FileSetfsPayload struct {
	PID int32
}

// FileOpenPayload is the payload of vFile:open, after flag
// translation (see vfile.go).
type FileOpenPayload struct {
	Name  string
	Flags int
	Mode  uint32
}

// FilePreadPayload is the payload of vFile:pread.
type FilePreadPayload struct {
	FD     int32
	Count  uint64
	Offset uint64
}

// FileClosePayload is the payload of vFile:close.
type FileClosePayload struct {
	FD int32
}

// Request is the tagged value the framer/parser hands to the engine
// via GetRequest. Exactly one of the payload fields is meaningful for
// a given Kind; the typed accessors enforce that.
type Request struct {
	Kind RequestKind
	// Thread is the target thread: the query thread for most reads,
	// the resume thread for continues, or the thread named explicitly
	// in Hg/Hc/T/qThreadExtraInfo/qGetTLSAddr requests. vFile requests
	// carry no thread.
	Thread ThreadID
	// NoReplyStop marks a request whose completion should not produce
	// a debugger-visible stop notification. No request the stub builds
	// sets it, including the get-stop-reason request synthesized after
	// a restart, which is answered with a normal stop packet.
	NoReplyStop bool

	mem          MemPayload
	memSearch    MemSearchPayload
	reg          RegPayload
	regAll       RegAllPayload
	watch        WatchPayload
	cont         ContPayload
	restart      RestartPayload
	tls          TLSPayload
	symbol       SymbolPayload
	qxfer        QXferPayload
	writeSiginfo WriteSiginfoPayload
	maint        string
	fileSetfs    FileSetfsPayload
	fileOpen     FileOpenPayload
	filePread    FilePreadPayload
	fileClose    FileClosePayload
}

func (r *Request) mustBe(k RequestKind) {
	if r.Kind != k {
		panic(fmt.Sprintf("gdbremote: request accessor for %s called on %s request", k, r.Kind))
	}
}

// Mem returns the memory payload; panics unless Kind is KindMemRead
// or KindMemWrite.
func (r *Request) Mem() MemPayload {
	if r.Kind != KindMemRead && r.Kind != KindMemWrite {
		panic(fmt.Sprintf("gdbremote: Mem() called on %s request", r.Kind))
	}
	return r.mem
}

// MemSearch returns the memory-search payload; panics unless Kind is
// KindMemSearch.
func (r *Request) MemSearch() MemSearchPayload {
	r.mustBe(KindMemSearch)
	return r.memSearch
}

// Reg returns the single-register payload; panics unless Kind is
// KindRegRead or KindRegWrite.
func (r *Request) Reg() RegPayload {
	if r.Kind != KindRegRead && r.Kind != KindRegWrite {
		panic(fmt.Sprintf("gdbremote: Reg() called on %s request", r.Kind))
	}
	return r.reg
}

// RegAll returns the whole-register-file payload; panics unless Kind
// is KindRegWriteAll.
func (r *Request) RegAll() RegAllPayload {
	r.mustBe(KindRegWriteAll)
	return r.regAll
}

// Watch returns the watchpoint payload; panics unless Kind is
// KindWatchSet or KindWatchClear.
func (r *Request) Watch() WatchPayload {
	if r.Kind != KindWatchSet && r.Kind != KindWatchClear {
		panic(fmt.Sprintf("gdbremote: Watch() called on %s request", r.Kind))
	}
	return r.watch
}

// Cont returns the continue payload; panics unless Kind is
// KindContinue.
func (r *Request) Cont() ContPayload {
	r.mustBe(KindContinue)
	return r.cont
}

// Restart returns the restart payload; panics unless Kind is
// KindRestart.
func (r *Request) Restart() RestartPayload {
	r.mustBe(KindRestart)
	return r.restart
}

// TLS returns the TLS-address payload; panics unless Kind is
// KindTLSAddr.
func (r *Request) TLS() TLSPayload {
	r.mustBe(KindTLSAddr)
	return r.tls
}

// Symbol returns the symbol payload; panics unless Kind is
// KindSymbol.
func (r *Request) Symbol() SymbolPayload {
	r.mustBe(KindSymbol)
	return r.symbol
}

// QXfer returns the qXfer payload; panics unless Kind is KindQXfer.
func (r *Request) QXfer() QXferPayload {
	r.mustBe(KindQXfer)
	return r.qxfer
}

// WriteSiginfo returns the qXfer:siginfo:write payload; panics unless
// Kind is KindWriteSiginfo.
func (r *Request) WriteSiginfo() WriteSiginfoPayload {
	r.mustBe(KindWriteSiginfo)
	return r.writeSiginfo
}

// Maintenance returns the decoded qRcmd text; panics unless Kind is
// KindMaintenanceCmd.
func (r *Request) Maintenance() string {
	r.mustBe(KindMaintenanceCmd)
	return r.maint
}

// FileSetfs returns the vFile:setfs payload; panics unless Kind is
// KindFileSetfs.
func (r *Request) FileSetfs() FileSetfsPayload {
	r.mustBe(KindFileSetfs)
	return r.fileSetfs
}

// FileOpen returns the vFile:open payload; panics unless Kind is
// KindFileOpen.
func (r *Request) FileOpen() FileOpenPayload {
	r.mustBe(KindFileOpen)
	return r.fileOpen
}

// FilePread returns the vFile:pread payload; panics unless Kind is
// KindFilePread.
func (r *Request) FilePread() FilePreadPayload {
	r.mustBe(KindFilePread)
	return r.filePread
}

// FileClose returns the vFile:close payload; panics unless Kind is
// KindFileClose.
func (r *Request) FileClose() FileClosePayload {
	r.mustBe(KindFileClose)
	return r.fileClose
}

package gdbremote

import (
	"fmt"

	"github.com/simeonmiteff/gdbstub/internal/gdblog"
)

// Escaped special bytes: '#', '$', '}', '*'. A byte b in this set is
// transmitted as '}' followed by b^0x20.
const (
	escEnd    = '#'
	escStart  = '$'
	escEscape = '}'
	escRLE    = '*'
)

func needsEscape(b byte) bool {
	return b == escEnd || b == escStart || b == escEscape || b == escRLE
}

// EscapePayload binary-escapes payload for transmission: every
// occurrence of '#', '$', '}', '*' becomes '}' followed by the byte
// XOR 0x20. Run-length encoding is never produced on egress, only
// parsed on ingress.
func EscapePayload(payload []byte) []byte {
	out := make([]byte, 0, len(payload))
	for _, b := range payload {
		if needsEscape(b) {
			out = append(out, escEscape, b^0x20)
		} else {
			out = append(out, b)
		}
	}
	return out
}

// checksum is the unsigned sum of b mod 256, computed over the wire
// bytes exactly as transmitted between '$' and '#' — i.e. before
// unescaping or run-length expansion, matching the testable property
// in spec: "checksum of the escaped form equals the low byte of the
// sum of the escaped bytes".
func checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}
	return sum
}

func hexByte(b byte) [2]byte {
	const hex = "0123456789abcdef"
	return [2]byte{hex[b>>4], hex[b&0xf]}
}

func parseHexByte(hi, lo byte) (byte, bool) {
	h, ok1 := hexNibble(hi)
	l, ok2 := hexNibble(lo)
	if !ok1 || !ok2 {
		return 0, false
	}
	return h<<4 | l, true
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

// unescapeAndExpand decodes a raw on-wire payload (the bytes between
// '$' and '#') into the logical payload: '}' escapes are reversed and
// '*'-runs are expanded to additional repeats of the previously
// decoded byte.
func unescapeAndExpand(raw []byte) ([]byte, error) {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		b := raw[i]
		switch b {
		case escEscape:
			if i+1 >= len(raw) {
				return nil, fmt.Errorf("%w: truncated escape sequence", ErrProtocolViolation)
			}
			out = append(out, raw[i+1]^0x20)
			i++
		case escRLE:
			if i+1 >= len(raw) || len(out) == 0 {
				return nil, fmt.Errorf("%w: truncated or dangling run-length sequence", ErrProtocolViolation)
			}
			n := int(raw[i+1]) - 29
			if n < 0 {
				return nil, fmt.Errorf("%w: run-length count %d is negative", ErrProtocolViolation, n)
			}
			prev := out[len(out)-1]
			for j := 0; j < n; j++ {
				out = append(out, prev)
			}
			i++
		default:
			out = append(out, b)
		}
	}
	return out, nil
}

// Packet is the result of one Framer.Next call: either an urgent
// interrupt, or a framed and checksum-verified logical payload.
type Packet struct {
	Interrupt bool
	Payload   []byte
}

// Framer finds packet boundaries and urgent-interrupt bytes in a
// Transport's inbound buffer, verifies checksums, and emits
// acknowledgements.
type Framer struct {
	t   *Transport
	log gdblog.Logger
}

// NewFramer constructs a Framer reading from and acknowledging
// through t.
func NewFramer(t *Transport, log gdblog.Logger) *Framer {
	if log == nil {
		log = gdblog.Default
	}
	return &Framer{t: t, log: log}
}

// Next blocks (reading more from the transport as needed) until it
// can return either an interrupt or a checksum-verified packet
// payload. noAck controls whether '+'/'-' acknowledgements are sent.
func (f *Framer) Next(noAck bool) (*Packet, error) {
	for {
		buf := f.t.Inbound()

		start := -1
		for i, b := range buf {
			if b == 0x03 || b == escStart {
				start = i
				break
			}
		}
		if start < 0 {
			// Drop garbage we've already scanned past (none of it
			// mattered) and block for more.
			f.t.ConsumeInbound(len(buf))
			if err := f.t.ReadOnce(); err != nil {
				return nil, err
			}
			continue
		}

		if buf[start] == 0x03 {
			f.t.ConsumeInbound(start + 1)
			return &Packet{Interrupt: true}, nil
		}

		// buf[start] == '$'; drop the pre-'$' noise, keep scanning
		// for '#' plus two hex digits from here.
		if start > 0 {
			f.t.ConsumeInbound(start)
			buf = f.t.Inbound()
		}

		hashIdx := -1
		for i := 1; i < len(buf); i++ {
			if buf[i] == escEnd {
				hashIdx = i
				break
			}
		}
		if hashIdx < 0 || len(buf) < hashIdx+3 {
			if err := f.t.ReadOnce(); err != nil {
				return nil, err
			}
			continue
		}

		rawPayload := buf[1:hashIdx]
		want, ok := parseHexByte(buf[hashIdx+1], buf[hashIdx+2])
		packetLen := hashIdx + 3

		// Non-hex checksum digits are treated like a checksum mismatch:
		// the packet is discarded (and nak'd) rather than ending the
		// session.
		if !ok || checksum(rawPayload) != want {
			f.t.ConsumeInbound(packetLen)
			if !noAck {
				f.t.QueueOutbound([]byte{'-'})
				if err := f.t.Flush(); err != nil {
					return nil, err
				}
			}
			f.log.Warnf("gdbremote: checksum mismatch, discarding packet")
			continue
		}

		f.t.ConsumeInbound(packetLen)
		if !noAck {
			f.t.QueueOutbound([]byte{'+'})
			if err := f.t.Flush(); err != nil {
				return nil, err
			}
		}

		payload, err := unescapeAndExpand(rawPayload)
		if err != nil {
			return nil, err
		}
		return &Packet{Payload: payload}, nil
	}
}

// EncodePacket frames payload (already logically complete, not yet
// escaped) as a full "$<escaped-payload>#<cc>" wire packet.
func EncodePacket(payload []byte) []byte {
	escaped := EscapePayload(payload)
	cs := checksum(escaped)
	hx := hexByte(cs)
	out := make([]byte, 0, len(escaped)+4)
	out = append(out, escStart)
	out = append(out, escaped...)
	out = append(out, escEnd, hx[0], hx[1])
	return out
}

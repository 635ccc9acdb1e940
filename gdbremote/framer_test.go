package gdbremote

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEscapeUnescapeRoundTrip(t *testing.T) {
	b := make([]byte, 256)
	for i := range b {
		b[i] = byte(i)
	}

	escaped := EscapePayload(b)
	got, err := unescapeAndExpand(escaped)
	if err != nil {
		t.Fatalf("unescapeAndExpand: %v", err)
	}
	if diff := cmp.Diff(b, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestChecksumOverEscapedForm(t *testing.T) {
	b := make([]byte, 256)
	for i := range b {
		b[i] = byte(i)
	}
	escaped := EscapePayload(b)

	var want byte
	for _, c := range escaped {
		want += c
	}
	if got := checksum(escaped); got != want {
		t.Fatalf("checksum(escaped) = %#x, want %#x", got, want)
	}
}

func TestRunLengthExpansion(t *testing.T) {
	// 'a' followed by '*' and a byte encoding 3 additional repeats
	// (n - 29 == 3 => n == 32 == ' ').
	raw := []byte{'a', escRLE, ' '}
	got, err := unescapeAndExpand(raw)
	if err != nil {
		t.Fatalf("unescapeAndExpand: %v", err)
	}
	want := []byte{'a', 'a', 'a', 'a'}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("run-length expansion mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodePacketChecksum(t *testing.T) {
	pkt := EncodePacket([]byte("OK"))
	if string(pkt) != "$OK#9a" {
		t.Fatalf("EncodePacket(\"OK\") = %q, want \"$OK#9a\"", string(pkt))
	}
}

func TestEncodePacketEscapesSpecialBytes(t *testing.T) {
	pkt := EncodePacket([]byte{'#'})
	// '#' (0x23) escapes to '}' (0x7d) followed by 0x23^0x20=0x03.
	want := []byte{'$', '}', 0x03, '#'}
	cs := checksum(want[1:3])
	h := hexByte(cs)
	want = append(want, h[0], h[1])
	if diff := cmp.Diff(want, pkt); diff != "" {
		t.Fatalf("EncodePacket(#) mismatch (-want +got):\n%s", diff)
	}
}

func TestFramerParsesPacketAndAcks(t *testing.T) {
	tr, conn := newTestTransport(EncodePacket([]byte("qTStatus")))
	f := NewFramer(tr, nil)

	pkt, err := f.Next(false)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if pkt.Interrupt {
		t.Fatalf("expected a packet, got interrupt")
	}
	if string(pkt.Payload) != "qTStatus" {
		t.Fatalf("payload = %q, want %q", pkt.Payload, "qTStatus")
	}
	if conn.out.String() != "+" {
		t.Fatalf("expected a '+' ack written, got %q", conn.out.String())
	}
}

func TestFramerNoAckSuppressesAcks(t *testing.T) {
	tr, conn := newTestTransport(EncodePacket([]byte("g")))
	f := NewFramer(tr, nil)

	if _, err := f.Next(true); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if conn.out.Len() != 0 {
		t.Fatalf("expected no ack written in no-ack mode, got %q", conn.out.String())
	}
}

func TestFramerDetectsInterrupt(t *testing.T) {
	tr, _ := newTestTransport([]byte{0x03})
	f := NewFramer(tr, nil)

	pkt, err := f.Next(false)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !pkt.Interrupt {
		t.Fatalf("expected an interrupt")
	}
}

func TestFramerChecksumMismatchEmitsNak(t *testing.T) {
	good := EncodePacket([]byte("qC"))
	bad := append([]byte(nil), good...)
	bad[len(bad)-1] ^= 0xff // corrupt the low checksum digit

	tr, conn := newTestTransport(append(append([]byte{}, bad...), good...))
	f := NewFramer(tr, nil)

	pkt, err := f.Next(false)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if conn.out.String() != "-+" {
		t.Fatalf("expected '-' then '+' written across both packets, got %q", conn.out.String())
	}
	if string(pkt.Payload) != "qC" {
		t.Fatalf("payload = %q, want %q", pkt.Payload, "qC")
	}
}

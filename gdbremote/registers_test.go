package gdbremote

import "testing"

func TestHexEncodeRegisterDefinedScalar(t *testing.T) {
	v := RegisterValue{Defined: true, Size: 4, Scalar: 0xdeadbeef}
	got := string(hexEncodeRegister(v))
	want := "efbeadde" // little-endian
	if got != want {
		t.Fatalf("hexEncodeRegister(scalar) = %q, want %q", got, want)
	}
}

func TestHexEncodeRegisterDefinedBytes(t *testing.T) {
	v := RegisterValue{Defined: true, Size: 3, Bytes: []byte{0x01, 0x02, 0x03}}
	got := string(hexEncodeRegister(v))
	want := "010203"
	if got != want {
		t.Fatalf("hexEncodeRegister(bytes) = %q, want %q", got, want)
	}
}

func TestHexEncodeRegisterUndefined(t *testing.T) {
	v := RegisterValue{Defined: false, Size: 4}
	got := string(hexEncodeRegister(v))
	want := "xxxxxxxx"
	if got != want {
		t.Fatalf("hexEncodeRegister(undefined) = %q, want %q", got, want)
	}
}

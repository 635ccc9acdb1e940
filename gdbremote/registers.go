package gdbremote

// MaxRegisterSize is the largest register width, in bytes, the stub
// accepts in a P (register-write) packet. 256 covers AVX-512 zmm
// registers with headroom. Register values the engine supplies for
// replies are encoded at whatever width they carry.
const MaxRegisterSize = 256

// RegisterID is an architecture-defined register index as understood
// by the engine; the stub treats it as opaque and only ever formats
// or parses it as hex.
type RegisterID uint32

// RegisterValue is one register's worth of reply data. A register
// that the engine cannot supply is marked Defined=false and is
// rendered on the wire as Size pairs of "xx".
type RegisterValue struct {
	Name    RegisterID
	Defined bool
	Size    int

	// Scalar holds the value when the register fits one of the inline
	// widths (1, 2, 4, or 8 bytes) and Bytes is nil. Little-endian,
	// matching the wire encoding.
	Scalar uint64

	// Bytes holds the value for any other width (including the
	// inline widths, if the engine prefers to supply bytes
	// directly). When non-nil it takes precedence over Scalar.
	Bytes []byte
}

// bytesLE returns the register's value as Size little-endian bytes,
// using Bytes when present and otherwise unpacking Scalar.
func (r RegisterValue) bytesLE() []byte {
	if r.Bytes != nil {
		return r.Bytes
	}
	out := make([]byte, r.Size)
	v := r.Scalar
	for i := 0; i < r.Size && i < 8; i++ {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}

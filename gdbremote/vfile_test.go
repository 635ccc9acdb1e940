package gdbremote

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

func TestTranslateOpenFlags(t *testing.T) {
	cases := []struct {
		proto uint32
		want  int
	}{
		{0x0, unix.O_RDONLY},
		{0x1, unix.O_WRONLY},
		{0x2, unix.O_RDWR},
		{0x2 | 0x200 | 0x400, unix.O_RDWR | unix.O_CREAT | unix.O_TRUNC},
		{0x1 | 0x8, unix.O_WRONLY | unix.O_APPEND},
		{0x2 | 0x800, unix.O_RDWR | unix.O_EXCL},
	}
	for _, c := range cases {
		got, err := TranslateOpenFlags(c.proto)
		if err != nil {
			t.Fatalf("TranslateOpenFlags(%#x): %v", c.proto, err)
		}
		if got != c.want {
			t.Fatalf("TranslateOpenFlags(%#x) = %#x, want %#x", c.proto, got, c.want)
		}
	}
}

func TestTranslateOpenFlagsRejectsUnknownBits(t *testing.T) {
	if _, err := TranslateOpenFlags(0x1000); err == nil {
		t.Fatalf("expected an error for unsupported bits")
	}
}

func TestTranslateOpenFlagsRejectsBadAccessMode(t *testing.T) {
	if _, err := TranslateOpenFlags(0x3); err == nil {
		t.Fatalf("expected an error for access mode 3")
	}
}

func TestToGdbErrno(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{unix.ENOENT, 2},
		{unix.EACCES, 13},
		{unix.ENAMETOOLONG, 91},
		{errors.New("not a unix errno"), unknownGdbErrno},
	}
	for _, c := range cases {
		if got := ToGdbErrno(c.err); got != c.want {
			t.Fatalf("ToGdbErrno(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

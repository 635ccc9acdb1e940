package gdbremote

import "testing"

func TestParseThreadID(t *testing.T) {
	cases := []struct {
		in   string
		want ThreadID
	}{
		{"-1", AllThreads},
		{"0", AnyThread},
		{"p1.2", ThreadID{PID: 1, TID: 2}},
		{"a", ThreadID{PID: 7, TID: 0xa}},
	}
	for _, c := range cases {
		got, err := ParseThreadID(c.in, 7)
		if err != nil {
			t.Fatalf("ParseThreadID(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParseThreadID(%q) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestParseThreadIDRejectsMalformed(t *testing.T) {
	if _, err := ParseThreadID("p1", 7); err == nil {
		t.Fatalf("expected an error for a pid with no '.'")
	}
	if _, err := ParseThreadID("pz.2", 7); err == nil {
		t.Fatalf("expected an error for a non-hex pid")
	}
}

func TestThreadIDFormat(t *testing.T) {
	th := ThreadID{PID: 1, TID: 2}
	if got := th.Format(false); got != "02" {
		t.Fatalf("Format(false) = %q, want %q", got, "02")
	}
	if got := th.Format(true); got != "p01.02" {
		t.Fatalf("Format(true) = %q, want %q", got, "p01.02")
	}
	if got := AllThreads.Format(true); got != "-1" {
		t.Fatalf("AllThreads.Format(true) = %q, want -1", got)
	}
	if got := AnyThread.Format(true); got != "0" {
		t.Fatalf("AnyThread.Format(true) = %q, want 0", got)
	}
}

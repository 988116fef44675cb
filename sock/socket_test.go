package sock

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/nxserve/nxserve/loop"
)

func newLoop(t *testing.T) *loop.Loop {
	t.Helper()
	l, err := loop.New(loop.Options{})
	if err != nil {
		t.Skipf("epoll unavailable: %v", err)
	}
	return l
}

func TestSocketReadWriteBytes(t *testing.T) {
	l := newLoop(t)
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatal(err)
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		t.Fatal(err)
	}
	a, err := New(l, fds[0])
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(l, fds[1])
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	defer b.Close()

	n, err := a.Out().WriteBytes([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}

	buf := make([]byte, 16)
	got, eof, err := b.In().ReadBytes(buf)
	if err != nil || eof {
		t.Fatalf("read: eof=%v err=%v", eof, err)
	}
	if string(buf[:got]) != "hello" {
		t.Fatalf("got %q", buf[:got])
	}
}

func TestSocketReadEOFOnClose(t *testing.T) {
	l := newLoop(t)
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatal(err)
	}
	unix.SetNonblock(fds[0], true)
	unix.SetNonblock(fds[1], true)
	a, err := New(l, fds[0])
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(l, fds[1])
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	a.Close() // closes fds[0]; fds[1] should observe EOF

	buf := make([]byte, 4)
	_, eof, err := b.In().ReadBytes(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !eof {
		t.Fatal("expected eof after peer close")
	}
}

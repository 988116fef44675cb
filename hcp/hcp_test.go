package hcp

import (
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nxserve/nxserve/loop"
	"github.com/nxserve/nxserve/sock"
)

func newLoop(t *testing.T) *loop.Loop {
	t.Helper()
	l, err := loop.New(loop.Options{})
	if err != nil {
		t.Skipf("epoll unavailable: %v", err)
	}
	return l
}

// backendPair returns a *sock.Socket wired to l standing in for the
// client's end of the connection, and the raw fd of the "backend" peer
// the test drives directly, mirroring hsp's clientPair helper.
func backendPair(t *testing.T, l *loop.Loop) (*sock.Socket, int) {
	t.Helper()
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
	s, err := sock.New(l, fds[0])
	if err != nil {
		t.Fatal(err)
	}
	return s, fds[1]
}

func pumpUntil(t *testing.T, l *loop.Loop, backendFd int, contains string) string {
	t.Helper()
	var got []byte
	buf := make([]byte, 4096)
	for i := 0; i < 1000; i++ {
		l.RunOnce(time.Millisecond)
		n, err := unix.Read(backendFd, buf)
		if n > 0 {
			got = append(got, buf[:n]...)
		}
		if err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			break
		}
		if strings.Contains(string(got), contains) {
			break
		}
	}
	return string(got)
}

func pumpWhile(t *testing.T, l *loop.Loop, cond func() bool) {
	t.Helper()
	for i := 0; i < 1000 && cond(); i++ {
		l.RunOnce(time.Millisecond)
	}
}

func TestDoSendsRequestAndParsesResponse(t *testing.T) {
	l := newLoop(t)
	cl := NewClient(l, Options{})
	s, backendFd := backendPair(t, l)
	defer unix.Close(backendFd)
	conn := cl.Bind(s)

	req := NewRequest("GET", "/widgets", "example.com")
	var gotResp *Response
	var gotErr error
	done := false
	conn.Do(req, func(resp *Response, err error) {
		gotResp, gotErr, done = resp, err, true
	})

	got := pumpUntil(t, l, backendFd, "\r\n\r\n")
	if !strings.HasPrefix(got, "GET /widgets HTTP/1.1\r\n") {
		t.Fatalf("bad request line: %q", got)
	}
	if !strings.Contains(got, "Host: example.com") {
		t.Fatalf("missing host header: %q", got)
	}

	reply := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"
	if _, err := unix.Write(backendFd, []byte(reply)); err != nil {
		t.Fatal(err)
	}
	pumpWhile(t, l, func() bool { return !done })

	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if gotResp == nil || gotResp.Status != 200 || string(gotResp.Body()) != "hello" {
		t.Fatalf("bad response: %+v", gotResp)
	}
}

func TestDoBodyEndsOnConnectionClose(t *testing.T) {
	l := newLoop(t)
	cl := NewClient(l, Options{})
	s, backendFd := backendPair(t, l)
	conn := cl.Bind(s)

	req := NewRequest("GET", "/stream", "example.com")
	var gotResp *Response
	var gotErr error
	done := false
	conn.Do(req, func(resp *Response, err error) {
		gotResp, gotErr, done = resp, err, true
	})

	_ = pumpUntil(t, l, backendFd, "\r\n\r\n")

	reply := "HTTP/1.1 200 OK\r\nConnection: close\r\n\r\npartial-data"
	if _, err := unix.Write(backendFd, []byte(reply)); err != nil {
		t.Fatal(err)
	}
	pumpWhile(t, l, func() bool { return !done })
	unix.Close(backendFd)
	pumpWhile(t, l, func() bool { return !done })

	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if gotResp == nil || string(gotResp.Body()) != "partial-data" {
		t.Fatalf("bad response: %+v", gotResp)
	}
}

func TestDoWaitsFor100ContinueBeforeSendingBody(t *testing.T) {
	l := newLoop(t)
	cl := NewClient(l, Options{})
	s, backendFd := backendPair(t, l)
	defer unix.Close(backendFd)
	conn := cl.Bind(s)

	req := NewRequest("POST", "/upload", "example.com")
	req.SetBytes([]byte("body"))
	req.Expect100 = true
	done := false
	var gotResp *Response
	conn.Do(req, func(resp *Response, err error) {
		gotResp, done = resp, true
	})

	got := pumpUntil(t, l, backendFd, "\r\n\r\n")
	if !strings.Contains(got, "Expect: 100-continue") {
		t.Fatalf("missing expect header: %q", got)
	}
	if strings.Contains(got, "body") {
		t.Fatalf("body sent before 100 Continue: %q", got)
	}

	if _, err := unix.Write(backendFd, []byte("HTTP/1.1 100 Continue\r\n\r\n")); err != nil {
		t.Fatal(err)
	}
	got = pumpUntil(t, l, backendFd, "body")
	if !strings.HasSuffix(got, "body") {
		t.Fatalf("body not sent after 100 Continue: %q", got)
	}

	if _, err := unix.Write(backendFd, []byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")); err != nil {
		t.Fatal(err)
	}
	pumpWhile(t, l, func() bool { return !done })
	if gotResp == nil || gotResp.Status != 200 {
		t.Fatalf("bad final response: %+v", gotResp)
	}
}

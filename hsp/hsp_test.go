package hsp

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

// clientPair returns a server-side *sock.Socket (wired to l) and the
// raw fd of its peer, used to feed/observe wire bytes directly without
// needing a second full Conn.
func clientPair(t *testing.T, l *loop.Loop) (*sock.Socket, int) {
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

// pumpUntil drives l.RunOnce and accumulates bytes read from clientFd
// until contains returns true or the iteration budget is exhausted.
func pumpUntil(t *testing.T, l *loop.Loop, clientFd int, contains string) string {
	t.Helper()
	var got []byte
	buf := make([]byte, 4096)
	for i := 0; i < 1000; i++ {
		l.RunOnce(time.Millisecond)
		n, err := unix.Read(clientFd, buf)
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

func echoHandler(body string) HandlerFunc {
	return func(c *Conn, req *Request) {
		resp := NewResponse(req, 200)
		resp.Header.Set("Content-Type", "text/plain")
		resp.SetBytes([]byte(body))
		c.StartResponse(resp)
	}
}

func TestSimpleRequestResponse(t *testing.T) {
	l := newLoop(t)
	srv := NewServer(l, echoHandler("hello"), ServerOptions{})
	s, clientFd := clientPair(t, l)
	defer unix.Close(clientFd)
	srv.Accept(s)

	req := "GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"
	if _, err := unix.Write(clientFd, []byte(req)); err != nil {
		t.Fatal(err)
	}

	got := pumpUntil(t, l, clientFd, "hello")
	if !strings.HasPrefix(got, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("bad status line: %q", got)
	}
	if !strings.Contains(got, "Content-Length: 5") {
		t.Fatalf("missing content-length: %q", got)
	}
	if !strings.HasSuffix(got, "hello") {
		t.Fatalf("missing body: %q", got)
	}
}

func TestKeepAliveSecondRequestOnSameConnection(t *testing.T) {
	l := newLoop(t)
	var seen []string
	srv := NewServer(l, HandlerFunc(func(c *Conn, req *Request) {
		seen = append(seen, req.Path)
		resp := NewResponse(req, 200)
		resp.SetBytes([]byte("ok"))
		c.StartResponse(resp)
	}), ServerOptions{})
	s, clientFd := clientPair(t, l)
	defer unix.Close(clientFd)
	srv.Accept(s)

	first := "GET /one HTTP/1.1\r\nHost: x\r\n\r\n"
	if _, err := unix.Write(clientFd, []byte(first)); err != nil {
		t.Fatal(err)
	}
	got := pumpUntil(t, l, clientFd, "ok")
	if !strings.Contains(got, "200") {
		t.Fatalf("first response: %q", got)
	}

	second := "GET /two HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"
	if _, err := unix.Write(clientFd, []byte(second)); err != nil {
		t.Fatal(err)
	}
	_ = pumpUntil(t, l, clientFd, "ok")

	if len(seen) != 2 || seen[0] != "/one" || seen[1] != "/two" {
		t.Fatalf("expected two requests to reach the handler, got %v", seen)
	}
}

func TestRequestBodyIsBuffered(t *testing.T) {
	l := newLoop(t)
	var gotBody string
	srv := NewServer(l, HandlerFunc(func(c *Conn, req *Request) {
		gotBody = string(req.Body())
		resp := NewResponse(req, 200)
		resp.SetBytes(nil)
		c.StartResponse(resp)
	}), ServerOptions{})
	s, clientFd := clientPair(t, l)
	defer unix.Close(clientFd)
	srv.Accept(s)

	body := "name=value"
	req := "POST /submit HTTP/1.1\r\nHost: x\r\nContent-Length: 10\r\nConnection: close\r\n\r\n" + body
	if _, err := unix.Write(clientFd, []byte(req)); err != nil {
		t.Fatal(err)
	}

	_ = pumpUntil(t, l, clientFd, "200")
	if gotBody != body {
		t.Fatalf("got body %q want %q", gotBody, body)
	}
}

func TestExpect100ContinueSendsInterimStatus(t *testing.T) {
	l := newLoop(t)
	srv := NewServer(l, echoHandler("done"), ServerOptions{})
	s, clientFd := clientPair(t, l)
	defer unix.Close(clientFd)
	srv.Accept(s)

	headers := "POST /upload HTTP/1.1\r\nHost: x\r\nContent-Length: 4\r\n" +
		"Expect: 100-continue\r\nConnection: close\r\n\r\n"
	if _, err := unix.Write(clientFd, []byte(headers)); err != nil {
		t.Fatal(err)
	}

	got := pumpUntil(t, l, clientFd, "100 Continue")
	if !strings.Contains(got, "HTTP/1.1 100 Continue\r\n\r\n") {
		t.Fatalf("missing interim response: %q", got)
	}

	if _, err := unix.Write(clientFd, []byte("body")); err != nil {
		t.Fatal(err)
	}
	got = pumpUntil(t, l, clientFd, "done")
	if !strings.Contains(got, "HTTP/1.1 200 OK") {
		t.Fatalf("missing final response: %q", got)
	}
}

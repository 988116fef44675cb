package proxy

import (
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nxserve/nxserve/filter"
	"github.com/nxserve/nxserve/hcp"
	"github.com/nxserve/nxserve/hsp"
	"github.com/nxserve/nxserve/loop"
	"github.com/nxserve/nxserve/ppool"
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

func newBackend(t *testing.T, l *loop.Loop, handler hsp.HandlerFunc) string {
	t.Helper()
	srv := hsp.NewServer(l, handler, hsp.ServerOptions{})
	ln, err := sock.Listen(l, "tcp", "127.0.0.1:0", 8, func(s *sock.Socket) {
		srv.Accept(s)
	})
	if err != nil {
		t.Fatal(err)
	}
	addr, err := ln.Addr()
	if err != nil {
		t.Fatal(err)
	}
	return addr
}

func clientPair(t *testing.T, l *loop.Loop) (*sock.Socket, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatal(err)
	}
	unix.SetNonblock(fds[0], true)
	unix.SetNonblock(fds[1], true)
	s, err := sock.New(l, fds[0])
	if err != nil {
		t.Fatal(err)
	}
	return s, fds[1]
}

func pumpUntil(l *loop.Loop, clientFd int, contains string, maxIters int) string {
	var got []byte
	buf := make([]byte, 4096)
	for i := 0; i < maxIters; i++ {
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

func TestHandleForwardsRequestAndResponse(t *testing.T) {
	l := newLoop(t)
	var sawForwardedFor, sawForwardedHost, sawForwardedSSL string
	addr := newBackend(t, l, func(c *hsp.Conn, req *hsp.Request) {
		sawForwardedFor = req.Header.Get("X-Forwarded-For")
		sawForwardedHost = req.Header.Get("X-Forwarded-Host")
		sawForwardedSSL = req.Header.Get("X-Forwarded-Ssl")
		resp := hsp.NewResponse(req, 200)
		resp.Header.Set("Content-Type", "text/plain")
		resp.SetBytes([]byte("backend ok"))
		c.StartResponse(resp)
	})

	cl := hcp.NewClient(l, hcp.Options{})
	pool := ppool.New(l, cl, "tcp", addr, ppool.Options{})
	h := New(l, pool, Options{Secure: true})

	table := filter.NewTable(filter.TableOptions{})
	table.Register(filter.Route{Prefix: "/", Handler: h})

	front := hsp.NewServer(l, table.Handler(), hsp.ServerOptions{})
	s, clientFd := clientPair(t, l)
	front.Accept(s)
	defer unix.Close(clientFd)

	req := "GET /hello HTTP/1.1\r\nHost: front.example\r\n\r\n"
	if _, err := unix.Write(clientFd, []byte(req)); err != nil {
		t.Fatal(err)
	}

	got := pumpUntil(l, clientFd, "backend ok", 2000)
	if !strings.Contains(got, "200") {
		t.Fatalf("expected a 200 response, got %q", got)
	}
	if !strings.Contains(got, "backend ok") {
		t.Fatalf("expected proxied body, got %q", got)
	}
	if sawForwardedHost != "front.example" {
		t.Fatalf("expected X-Forwarded-Host: front.example, got %q", sawForwardedHost)
	}
	if sawForwardedSSL != "on" {
		t.Fatalf("expected X-Forwarded-Ssl: on, got %q", sawForwardedSSL)
	}
	_ = sawForwardedFor
}

func TestHandleRetriesIdempotentRequestAgainstDeadBackend(t *testing.T) {
	l := newLoop(t)
	// Bind to a free port, then close the listener socket so nothing
	// answers the port: the dial itself will fail, exercising the
	// dial-error retry path.
	ln, err := sock.Listen(l, "tcp", "127.0.0.1:0", 1, func(*sock.Socket) {})
	if err != nil {
		t.Fatal(err)
	}
	addr, err := ln.Addr()
	if err != nil {
		t.Fatal(err)
	}
	ln.Close()

	cl := hcp.NewClient(l, hcp.Options{})
	pool := ppool.New(l, cl, "tcp", addr, ppool.Options{})
	h := New(l, pool, Options{MaxRetries: 1})

	table := filter.NewTable(filter.TableOptions{})
	table.Register(filter.Route{Prefix: "/", Handler: h})

	front := hsp.NewServer(l, table.Handler(), hsp.ServerOptions{})
	s, clientFd := clientPair(t, l)
	front.Accept(s)
	defer unix.Close(clientFd)

	req := "GET /hello HTTP/1.1\r\nHost: front.example\r\n\r\n"
	if _, err := unix.Write(clientFd, []byte(req)); err != nil {
		t.Fatal(err)
	}

	got := pumpUntil(l, clientFd, "502", 2000)
	if !strings.Contains(got, "502") {
		t.Fatalf("expected a 502 after exhausting retries, got %q", got)
	}
}

func TestIsIdempotent(t *testing.T) {
	if !isIdempotent("GET") || !isIdempotent("head") || !isIdempotent("OPTIONS") {
		t.Fatal("expected GET/HEAD/OPTIONS to be idempotent")
	}
	if isIdempotent("POST") {
		t.Fatal("expected POST not to be treated as idempotent")
	}
}

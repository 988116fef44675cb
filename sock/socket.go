// Package sock adapts raw, non-blocking sockets into loop.FDSource plus
// a paired istream/ostream, and provides the sendfile and TCP_CORK
// fast paths the buffer layer relies on (§4.3).
package sock

import (
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nxserve/nxserve/loop"
)

// Socket wraps one non-blocking connected TCP (or accepted) fd. Its
// In stream is readable bytes arriving off the wire; its Out stream is
// a sink that accepts bytes (or a sendfile window) to write.
type Socket struct {
	fd  int
	l   *loop.Loop
	in  *InStream
	out *OutStream

	errPub *loop.Publisher

	closed bool

	// tls, when non-nil, intercepts Emit so a TLSSocket can drive its
	// handshake/record-layer streams off the same raw fd readiness
	// instead of exposing plaintext bytes directly (§4.3).
	tls *TLSSocket
}

// New wraps fd (already non-blocking) as a Socket registered with l.
func New(l *loop.Loop, fd int) (*Socket, error) {
	s := &Socket{fd: fd, l: l}
	s.in = &InStream{s: s}
	s.in.InitIStream(l, s.in)
	s.out = &OutStream{s: s}
	s.out.InitOStream(l, s.out)
	s.errPub = loop.NewPublisher(l)
	if err := l.RegisterFDSource(s); err != nil {
		return nil, err
	}
	return s, nil
}

// FromConn wraps an already-accepted *net.TCPConn, putting it into
// non-blocking mode and handing the loop its raw fd.
func FromConn(l *loop.Loop, conn *net.TCPConn) (*Socket, error) {
	conn.SetKeepAlive(true)
	conn.SetKeepAlivePeriod(3 * time.Minute)
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	var fd int
	var dupErr error
	if err := raw.Control(func(descriptor uintptr) {
		fd, dupErr = unix.Dup(int(descriptor))
	}); err != nil {
		return nil, err
	}
	if dupErr != nil {
		return nil, dupErr
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, err
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	s, err := New(l, fd)
	if err != nil {
		return nil, err
	}
	// conn itself is redundant now that we own a dup'd fd; closing it
	// does not affect s.fd.
	conn.Close()
	return s, nil
}

func (s *Socket) FD() int { return s.fd }

// In is the readable side of the socket (§3 istream).
func (s *Socket) In() *InStream { return s.in }

// Out is the writable side of the socket (§3 ostream).
func (s *Socket) Out() *OutStream { return s.out }

// Errors returns the publisher that emits RDCLOSED/ERROR (§7).
func (s *Socket) Errors() *loop.Publisher { return s.errPub }

// Emit implements loop.FDSource: translate the raw epoll mask into
// readiness bits, publishing connection-level errors as needed.
func (s *Socket) Emit(mask uint32) {
	if mask&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		s.errPub.Publish("ERROR")
		return
	}
	if s.tls != nil {
		s.tls.onRawReady(mask)
		return
	}
	if mask&unix.EPOLLRDHUP != 0 {
		s.in.SetReady(true) // a read will observe 0 bytes -> RDCLOSED
	}
	if mask&unix.EPOLLIN != 0 {
		s.in.SetReady(true)
	}
	if mask&unix.EPOLLOUT != 0 {
		s.out.SetReady(true)
	}
}

// EnableTLS installs t to intercept this socket's raw readiness from
// now on, per §4.3's handshake-stub-stream model.
func (s *Socket) EnableTLS(t *TLSSocket) { s.tls = t }

// Close unregisters and closes the underlying fd. Disconnecting any
// paired streams is the caller's responsibility (hsp/hcp teardown),
// per §4.1's note that unregister-time pair/subscriber cleanup belongs
// to the adapter's own shutdown path.
func (s *Socket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.l.DropCarry(s.in)
	_ = s.l.UnregisterFDSource(s)
	return unix.Close(s.fd)
}

// ShutdownWrite half-closes the write side, used by hsp when a
// non-keep-alive response has been fully sent.
func (s *Socket) ShutdownWrite() error {
	return unix.Shutdown(s.fd, unix.SHUT_WR)
}

// Cork toggles TCP_CORK on fd; passed to loop.Options.Cork so the loop
// can coalesce the first write of each iteration into one segment
// (§4.1 "Batch-write coalescing").
func Cork(fd int, on bool) {
	v := 0
	if on {
		v = 1
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_CORK, v)
}

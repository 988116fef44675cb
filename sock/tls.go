package sock

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// TLSSocket drives server-side TLS termination on top of a Socket's
// raw fd (§4.3 "install two stub streams that drive the handshake
// until success, then restore the saved partner pair"). Once the
// handshake completes, the wrapped Socket's own In()/Out() start
// delivering/accepting plaintext transparently, so callers
// (hsp.Server.Accept) never see a different concrete type for a TLS
// connection than for a plain one.
type TLSSocket struct {
	sock *Socket
	conn *tls.Conn

	sendfilePage []byte // staging buffer for the sendfile-over-TLS fallback

	handshakeDone bool
	handshakeErr  error
}

// NewTLSSocket wraps an already-accepted Socket with server-side TLS
// and installs itself so the socket's raw readiness drives the
// handshake, then the plaintext record layer, instead of exposing raw
// ciphertext through s.In()/s.Out().
func NewTLSSocket(s *Socket, cfg *tls.Config) *TLSSocket {
	t := &TLSSocket{sock: s, sendfilePage: make([]byte, 64*1024)}
	t.conn = tls.Server(fdConn{t}, cfg)
	s.EnableTLS(t)
	return t
}

// onRawReady is invoked by the underlying Socket's Emit whenever the
// raw fd becomes readable/writable. While the handshake is in flight
// it is retried; once complete s.In()/s.Out() are marked ready so the
// loop's ordinary relay machinery takes over, now reading/writing
// plaintext through the TLS record layer.
func (t *TLSSocket) onRawReady(mask uint32) {
	if !t.handshakeDone {
		if done, err := t.Handshake(); !done {
			if err != nil {
				t.sock.errPub.Publish("PROTO_ERROR")
			}
			return
		}
	}
	if mask&unix.EPOLLIN != 0 {
		t.sock.in.SetReady(true)
	}
	if mask&unix.EPOLLOUT != 0 {
		t.sock.out.SetReady(true)
	}
}

// fdConn adapts the underlying non-blocking Socket to net.Conn for
// crypto/tls, which only needs Read/Write/Close/deadlines; deadlines
// are no-ops since the loop's own timers enforce timeouts. It talks to
// the raw fd directly (rawRead/rawWrite), never through the
// TLS-transparent ReadBytes/WriteBytes the Socket exposes once
// attached, or the handshake would recurse into itself.
type fdConn struct{ t *TLSSocket }

func (c fdConn) Read(p []byte) (int, error) {
	n, eof, err := c.t.sock.in.rawRead(p)
	if err != nil {
		return n, err
	}
	if eof {
		return n, io.EOF
	}
	if n == 0 {
		return 0, errWouldBlock
	}
	return n, nil
}

func (c fdConn) Write(p []byte) (int, error) {
	n, err := c.t.sock.out.rawWrite(p)
	if n == 0 && err == nil && len(p) > 0 {
		return 0, errWouldBlock
	}
	return n, err
}

func (fdConn) Close() error                    { return nil }
func (fdConn) LocalAddr() net.Addr             { return nil }
func (fdConn) RemoteAddr() net.Addr            { return nil }
func (fdConn) SetDeadline(time.Time) error     { return nil }
func (fdConn) SetReadDeadline(time.Time) error { return nil }
func (fdConn) SetWriteDeadline(time.Time) error { return nil }

var errWouldBlock = errors.New("sock: would block")

// Handshake drives (or continues) the TLS handshake; call it from the
// socket's readiness callbacks until it returns (true, nil).
func (t *TLSSocket) Handshake() (done bool, err error) {
	if t.handshakeDone {
		return true, nil
	}
	err = t.conn.Handshake()
	if err == nil {
		t.handshakeDone = true
		return true, nil
	}
	if errors.Is(err, errWouldBlock) {
		return false, nil
	}
	t.handshakeErr = err
	return false, err
}

// readPlain services InStream.ReadBytes once tls is attached: it reads
// decrypted application data out of the record layer instead of raw
// ciphertext off the fd.
func (t *TLSSocket) readPlain(p []byte) (n int, eof bool, err error) {
	n, err = t.conn.Read(p)
	if err != nil {
		if errors.Is(err, errWouldBlock) {
			t.sock.in.SetReady(false)
			return 0, false, nil
		}
		if errors.Is(err, io.EOF) {
			return n, true, nil
		}
		return n, false, err
	}
	return n, false, nil
}

// writePlain services OutStream.WriteBytes once tls is attached: it
// encrypts p through the record layer rather than writing it raw.
func (t *TLSSocket) writePlain(p []byte) (n int, err error) {
	n, err = t.conn.Write(p)
	if err != nil {
		if errors.Is(err, errWouldBlock) {
			t.sock.out.SetReady(false)
			return 0, nil
		}
		return n, err
	}
	return n, nil
}

// sendfileViaTLS services OutStream.Sendfile once tls is attached:
// sendfile(2) writes a file's bytes straight to a socket fd with no
// opportunity to encrypt them, so a TLS-terminated connection instead
// pages the requested window through a local buffer and pushes it
// through the record layer, preserving the same Sendfile contract
// buf.FileBuf relies on without ever putting plaintext on the wire.
func (t *TLSSocket) sendfileViaTLS(fd int, offset, length int64) (int64, error) {
	want := length
	if want > int64(len(t.sendfilePage)) {
		want = int64(len(t.sendfilePage))
	}
	rn, rerr := unix.Pread(fd, t.sendfilePage[:want], offset)
	if rn == 0 {
		return 0, rerr
	}
	wn, werr := t.writePlain(t.sendfilePage[:rn])
	return int64(wn), werr
}

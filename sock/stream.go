package sock

import (
	"golang.org/x/sys/unix"

	"github.com/nxserve/nxserve/loop"
)

// InStream is the readable side of a Socket: a pull-form source with
// its own storage-free read (bytes land directly in the caller's
// buffer), so it implements loop.ByteReader rather than Pusher —
// whichever sink is paired with it is the active puller.
type InStream struct {
	loop.IBase
	s *Socket
}

// ReadBytes performs one non-blocking read; on EAGAIN it clears
// readiness and returns (0,false,nil); on a 0-byte read it publishes
// RDCLOSED and reports eof (§4.3). Once the socket has TLS attached
// this instead reads decrypted application data off the record layer,
// so callers never need a different concrete type for a TLS
// connection than for a plain one.
func (in *InStream) ReadBytes(p []byte) (n int, eof bool, err error) {
	if in.s.tls != nil {
		return in.s.tls.readPlain(p)
	}
	return in.rawRead(p)
}

// rawRead performs the actual fd-level read; it is also what the TLS
// record layer itself uses to pull ciphertext off the wire, so it must
// never be routed back through ReadBytes's tls branch.
func (in *InStream) rawRead(p []byte) (n int, eof bool, err error) {
	n, rerr := unix.Read(in.s.fd, p)
	if rerr != nil {
		if rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK {
			in.SetReady(false)
			return 0, false, nil
		}
		in.s.errPub.Publish("ERROR")
		return 0, false, rerr
	}
	if n == 0 {
		in.s.errPub.Publish("RDCLOSED")
		return 0, true, nil
	}
	return n, false, nil
}

// OutStream is the writable side of a Socket: a push-form sink
// (ByteWriter) that also accelerates file-backed sources via sendfile.
type OutStream struct {
	loop.OBase
	s *Socket
}

// WriteBytes performs one non-blocking write, marking the fd for
// batch-write coalescing on its first use this loop iteration
// (§4.1 "Batch-write coalescing"). Once the socket has TLS attached
// this instead encrypts p through the record layer before it ever
// reaches the fd.
func (out *OutStream) WriteBytes(p []byte) (n int, err error) {
	if out.s.tls != nil {
		return out.s.tls.writePlain(p)
	}
	return out.rawWrite(p)
}

// rawWrite performs the actual fd-level write; it is also what the
// TLS record layer itself uses to push ciphertext onto the wire, so it
// must never be routed back through WriteBytes's tls branch.
func (out *OutStream) rawWrite(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	out.s.l.MarkBatchWrite(out.s.fd)
	n, werr := unix.Write(out.s.fd, p)
	if werr != nil {
		if werr == unix.EAGAIN || werr == unix.EWOULDBLOCK {
			out.SetReady(false)
			return 0, nil
		}
		out.s.errPub.Publish("ERROR")
		return 0, werr
	}
	if n < len(p) {
		out.SetReady(false)
	}
	return n, nil
}

// Sendfile accelerates a file-backed source by calling the kernel
// sendfile(2) directly on out's fd (§4.2 "Respect sendfile"). A
// TLS-terminated socket cannot let sendfile put plaintext directly on
// the wire, so it pages the window through the record layer instead
// (TLSSocket.sendfileViaTLS), preserving the same contract
// buf.FileBuf's loop.SendfileSink assertion relies on.
func (out *OutStream) Sendfile(fd int, offset int64, length int64) (int64, error) {
	if out.s.tls != nil {
		return out.s.tls.sendfileViaTLS(fd, offset, length)
	}
	out.s.l.MarkBatchWrite(out.s.fd)
	off := offset
	n, err := unix.Sendfile(out.s.fd, fd, &off, int(length))
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			out.SetReady(false)
			return 0, nil
		}
		out.s.errPub.Publish("ERROR")
		return 0, err
	}
	if int64(n) < length {
		out.SetReady(false)
	}
	return int64(n), nil
}

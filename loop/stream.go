package loop

// IStream is a directed, readiness-based source endpoint (§3 "istream").
// Concrete sources (ring buffer data-out, file buffer data-out, socket
// read side) embed IBase and get Ready/Peer/SetReady for free.
type IStream interface {
	Ready() bool
	SetReady(bool)
	Peer() OStream
	SetPeer(OStream)
}

// OStream is a directed, readiness-based sink endpoint (§3 "ostream").
type OStream interface {
	Ready() bool
	SetReady(bool)
	Peer() IStream
	SetPeer(IStream)
}

// Pusher is implemented by a source-active istream: when both ends of a
// pair are ready, the loop prefers calling DoWrite on the source over
// DoRead on the sink (§4.1 "prefer do_write"). DoWrite must not block:
// it pushes as many bytes as the sink will currently accept, then
// returns progress=false once the sink (or the source) would block.
type Pusher interface {
	DoWrite(dst OStream) (n int, progress bool, eof bool, err error)
}

// Puller is implemented by a sink-active ostream: it drains bytes out
// of src itself. Used only when src does not implement Pusher.
type Puller interface {
	DoRead(src IStream) (n int, progress bool, eof bool, err error)
}

// SendfileSource is implemented by file-backed sources (fbuf) that can
// hand a raw fd+offset+length window to a sink instead of copying
// through a user buffer.
type SendfileSource interface {
	FileWindow() (fd int, offset int64, length int64, ok bool)
}

// SendfileSink is implemented by sinks that can accelerate a
// SendfileSource (the raw socket adapter).
type SendfileSink interface {
	Sendfile(fd int, offset int64, length int64) (written int64, err error)
}

// ByteReader is implemented by concrete sources that hold their own
// storage to pull from (a socket's read side). A sink-active ostream's
// DoRead type-asserts its src to ByteReader and drains it directly.
type ByteReader interface {
	ReadBytes(p []byte) (n int, eof bool, err error)
}

// ByteWriter is implemented by concrete sinks a source can push raw
// bytes into (a socket's write side, a file-write buffer). A
// source-active istream's DoWrite type-asserts its dst to ByteWriter.
type ByteWriter interface {
	WriteBytes(p []byte) (n int, err error)
}

// IBase is embedded by concrete istream implementations.
type IBase struct {
	l     *Loop
	self  IStream
	ready bool
	peer  OStream
}

// InitIStream wires b to its owning loop and to the concrete value that
// embeds it (so the loop can type-assert Pusher/SendfileSource on the
// real type, not on IBase itself).
func (b *IBase) InitIStream(l *Loop, self IStream) { b.l, b.self = l, self }

func (b *IBase) Ready() bool    { return b.ready }
func (b *IBase) Peer() OStream  { return b.peer }
func (b *IBase) SetPeer(o OStream) { b.peer = o }

// SetReady flips the readiness bit and, on a 0->1 transition with a
// ready paired sink, schedules (or coalesces into) the pair's stream
// event (§4.1 dispatch, invariant 3).
func (b *IBase) SetReady(v bool) {
	if b.ready == v {
		return
	}
	b.ready = v
	if v && b.peer != nil && b.peer.Ready() && b.l != nil {
		b.l.scheduleStream(b.self, b.peer)
	}
}

// OBase is embedded by concrete ostream implementations.
type OBase struct {
	l     *Loop
	self  OStream
	ready bool
	peer  IStream
}

func (b *OBase) InitOStream(l *Loop, self OStream) { b.l, b.self = l, self }

func (b *OBase) Ready() bool    { return b.ready }
func (b *OBase) Peer() IStream  { return b.peer }
func (b *OBase) SetPeer(i IStream) { b.peer = i }

func (b *OBase) SetReady(v bool) {
	if b.ready == v {
		return
	}
	b.ready = v
	if v && b.peer != nil && b.peer.Ready() && b.l != nil {
		b.l.scheduleStream(b.peer, b.self)
	}
}

// Connect pairs src and dst (invariant 2: each side holds at most one
// peer at a time; callers must Disconnect an existing pair first).
func Connect(src IStream, dst OStream) {
	src.SetPeer(dst)
	dst.SetPeer(src)
}

// Disconnect clears both sides of a pair and drops any pending stream
// event scheduled for it.
func Disconnect(src IStream, dst OStream) {
	if src != nil && src.Peer() == dst {
		src.SetPeer(nil)
	}
	if dst != nil && dst.Peer() == src {
		dst.SetPeer(nil)
	}
}

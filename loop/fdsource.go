package loop

import (
	"golang.org/x/sys/unix"
)

// FDSource adapts an OS file descriptor into the stream/publisher model
// (§3 "FD source", §4.1 register_fd_source). Concrete adapters (sock,
// ssl-sock, the worker pool's completion eventfd) implement it; the
// loop only needs the raw fd and an Emit hook to translate an
// epoll_wait mask into readiness bits and error publications.
type FDSource interface {
	FD() int
	// Emit is called with the raw epoll event mask observed for FD();
	// it must set istream/ostream readiness and publish RDCLOSED/ERROR
	// as appropriate, without blocking.
	Emit(mask uint32)
}

// RegisterFDSource adds fs to the loop's epoll set, edge-triggered on
// IN|OUT|RDHUP|HUP as specified in §4.1.
func (l *Loop) RegisterFDSource(fs FDSource) error {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLET,
		Fd:     int32(fs.FD()),
	}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fs.FD(), &ev); err != nil {
		return err
	}
	l.fdSources[fs.FD()] = fs
	return nil
}

// UnregisterFDSource removes fs from the epoll set. Disconnecting any
// streams it owns and dropping its subscribers is the adapter's own
// responsibility (its Close/shutdown path), consistent with §4.1's
// "disconnect pairs and drop subscribers" happening around unregister,
// not inside the loop's bookkeeping.
func (l *Loop) UnregisterFDSource(fs FDSource) error {
	delete(l.fdSources, fs.FD())
	return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fs.FD(), nil)
}

// ModifyFDSourceInterest re-arms the epoll registration, used when a
// source wants to stop/start requesting EPOLLOUT once it has nothing
// left to write (avoids busy-spinning on a perpetually-writable fd).
func (l *Loop) ModifyFDSourceInterest(fs FDSource, wantRead, wantWrite bool) error {
	var mask uint32 = unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLET
	if wantRead {
		mask |= unix.EPOLLIN
	}
	if wantWrite {
		mask |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: mask, Fd: int32(fs.FD())}
	return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fs.FD(), &ev)
}

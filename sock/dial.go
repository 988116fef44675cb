package sock

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/nxserve/nxserve/loop"
)

// Dial opens a non-blocking TCP connection to addr and registers a
// one-shot FDSource that waits for the connect to resolve (EPOLLOUT, or
// EPOLLERR/HUP on failure), then hands the caller a ready Socket. Used
// by ppool to grow a backend's pool past its idle supply (§4.8
// "connect() [...] otherwise allocate and connect a new one").
func Dial(l *loop.Loop, network, addr string, onConnect func(s *Socket, err error)) error {
	tcpAddr, err := net.ResolveTCPAddr(network, addr)
	if err != nil {
		onConnect(nil, err)
		return nil
	}

	domain := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		sa4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
		copy(sa4.Addr[:], ip4)
		sa = sa4
	} else {
		domain = unix.AF_INET6
		sa6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
		copy(sa6.Addr[:], tcpAddr.IP.To16())
		sa = sa6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		onConnect(nil, err)
		return nil
	}

	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		onConnect(nil, err)
		return nil
	}

	w := &connectWatcher{fd: fd, l: l, done: onConnect}
	if err := l.RegisterFDSource(w); err != nil {
		unix.Close(fd)
		onConnect(nil, err)
		return nil
	}
	return nil
}

// connectWatcher is a one-shot loop.FDSource whose only job is learning
// when a non-blocking connect(2) resolves, then disappearing; a plain
// Socket is too heavyweight (paired streams, error publisher) for a
// phase that ends the moment SO_ERROR is read.
type connectWatcher struct {
	fd   int
	l    *loop.Loop
	done func(s *Socket, err error)
}

func (w *connectWatcher) FD() int { return w.fd }

func (w *connectWatcher) Emit(mask uint32) {
	_ = w.l.UnregisterFDSource(w)

	if mask&(unix.EPOLLERR|unix.EPOLLHUP) == 0 {
		if serr, _ := unix.GetsockoptInt(w.fd, unix.SOL_SOCKET, unix.SO_ERROR); serr != 0 {
			mask |= unix.EPOLLERR
		}
	}
	if mask&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		serr, _ := unix.GetsockoptInt(w.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		unix.Close(w.fd)
		if serr != 0 {
			w.done(nil, unix.Errno(serr))
		} else {
			w.done(nil, unix.ECONNABORTED)
		}
		return
	}

	_ = unix.SetsockoptInt(w.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	s, err := New(w.l, w.fd)
	if err != nil {
		unix.Close(w.fd)
		w.done(nil, err)
		return
	}
	w.done(s, nil)
}

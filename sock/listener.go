package sock

import (
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/nxserve/nxserve/loop"
)

// Listener registers a listening fd with the loop and turns each
// accept-able readiness edge into zero or more accepted connections,
// matching §2's "a listening FD source publishes accepted connections".
type Listener struct {
	fd     int
	l      *loop.Loop
	onConn func(*Socket)
	errPub *loop.Publisher
}

// Listen opens addr (e.g. "0.0.0.0:8080") with the given backlog and
// registers it with l; onConn is invoked once per accepted connection,
// already wrapped as a non-blocking Socket. The listening socket is
// built from raw syscalls rather than net.Listen because net.Listen
// gives the kernel its own default backlog and no way to override it.
func Listen(l *loop.Loop, network, addr string, backlog int, onConn func(*Socket)) (*Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr(network, addr)
	if err != nil {
		return nil, err
	}

	domain := unix.AF_INET
	sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	} else if ip6 := tcpAddr.IP.To16(); ip6 != nil {
		domain = unix.AF_INET6
		sa6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
		copy(sa6.Addr[:], ip6)
		return listenWith(l, domain, sa6, backlog, onConn)
	}
	return listenWith(l, domain, sa, backlog, onConn)
}

func listenWith(l *loop.Loop, domain int, sa unix.Sockaddr, backlog int, onConn func(*Socket)) (*Listener, error) {
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, err
	}

	listener := &Listener{fd: fd, l: l, onConn: onConn, errPub: loop.NewPublisher(l)}
	if err := l.RegisterFDSource(listener); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return listener, nil
}

func (ls *Listener) FD() int { return ls.fd }

// Addr returns the listening socket's bound address, resolving an
// ephemeral ":0" port to the one the kernel actually assigned (used by
// tests that need a free port without a race against another listener).
func (ls *Listener) Addr() (string, error) {
	sa, err := unix.Getsockname(ls.fd)
	if err != nil {
		return "", err
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port)), nil
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port)), nil
	default:
		return "", err
	}
}

// Emit accept(2)s in a loop until EAGAIN, since the listening fd is
// registered edge-triggered and a burst of connections collapses into
// one epoll notification.
func (ls *Listener) Emit(mask uint32) {
	if mask&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		ls.errPub.Publish("ERROR")
		return
	}
	for {
		connFd, _, err := unix.Accept4(ls.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			ls.errPub.Publish("ERROR")
			return
		}
		_ = unix.SetsockoptInt(connFd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		s, err := New(ls.l, connFd)
		if err != nil {
			unix.Close(connFd)
			continue
		}
		if ls.onConn != nil {
			ls.onConn(s)
		}
	}
}

// Close stops accepting new connections.
func (ls *Listener) Close() error {
	_ = ls.l.UnregisterFDSource(ls)
	return unix.Close(ls.fd)
}

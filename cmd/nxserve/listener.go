package main

import (
	"crypto/tls"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nxserve/nxserve/config"
	"github.com/nxserve/nxserve/hsp"
	"github.com/nxserve/nxserve/loop"
	"github.com/nxserve/nxserve/sock"
	"github.com/nxserve/nxserve/tlsboot"
)

// buildListener opens one configured listen entry and accepts onto
// srv. A secure entry's accepted sockets are wrapped with
// tlsboot.Wrap before being handed to srv.Accept; the wrapped
// *sock.Socket starts delivering/accepting plaintext transparently
// once its handshake completes (sock.TLSSocket's onRawReady, driven
// off the same raw fd readiness that would otherwise feed hsp
// directly), so there is exactly one accept path below regardless of
// whether the listener terminates TLS.
func buildListener(l *loop.Loop, le config.ListenEntry, srv *hsp.Server, log *logrus.Entry) (*sock.Listener, error) {
	var tlsCfg *tls.Config
	if le.Secure {
		cfg, err := tlsboot.Build(tlsboot.ListenEntry{
			CertFile: le.CertFile,
			KeyFile:  le.KeyFile,
			Priority: le.Priority,
		})
		if err != nil {
			return nil, fmt.Errorf("build tls config: %w", err)
		}
		tlsCfg = cfg
	}

	network := le.Net
	if network == "" {
		network = "tcp"
	}

	return sock.Listen(l, network, le.Addr, le.Backlog, func(s *sock.Socket) {
		if tlsCfg != nil {
			tlsboot.Wrap(s, tlsCfg)
			s.Errors().Subscribe(onTLSError(log, s))
		}
		srv.Accept(s)
	})
}

// onTLSError logs a PROTO_ERROR raised while a handshake is still in
// flight (a plain accept/read error is already logged by hsp itself
// once srv.Accept's own error subscription sees it).
func onTLSError(log *logrus.Entry, s *sock.Socket) tlsErrorSub {
	return tlsErrorSub{log: log, fd: s.FD()}
}

type tlsErrorSub struct {
	log *logrus.Entry
	fd  int
}

func (s tlsErrorSub) OnMessage(msg any) {
	if msg == "PROTO_ERROR" {
		s.log.WithField("fd", s.fd).Warn("tls handshake failed")
	}
}

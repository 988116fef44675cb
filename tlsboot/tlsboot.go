// Package tlsboot builds a *tls.Config for a secure listen entry and
// wraps an accepted socket with server-side TLS (§4.16). crypto/tls is
// deliberately the one ambient concern built on the standard library:
// it is the idiomatic, and only credible, TLS implementation in the Go
// ecosystem for this role (see DESIGN.md).
package tlsboot

import (
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/nxserve/nxserve/sock"
)

// ListenEntry is the subset of config.ListenEntry tlsboot needs; kept
// as a local, narrow type so this package does not import config and
// create a dependency cycle with callers that build both.
type ListenEntry struct {
	CertFile string
	KeyFile  string
	Priority string // e.g. "modern", "intermediate", "" for Go defaults
}

// cipherPriorities maps the configured priority string to an explicit
// cipher suite order; an unrecognized or empty value leaves Go's
// built-in ordering untouched.
var cipherPriorities = map[string][]uint16{
	"modern": {
		tls.TLS_AES_128_GCM_SHA256,
		tls.TLS_AES_256_GCM_SHA384,
		tls.TLS_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	},
	"intermediate": {
		tls.TLS_AES_128_GCM_SHA256,
		tls.TLS_AES_256_GCM_SHA384,
		tls.TLS_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	},
}

// Build loads entry's certificate/key and returns a server *tls.Config
// with MinVersion 1.2 and the configured cipher priority (§4.16).
func Build(entry ListenEntry) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(entry.CertFile, entry.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("tlsboot: load cert/key: %w", err)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if suites, ok := cipherPriorities[strings.ToLower(entry.Priority)]; ok {
		cfg.CipherSuites = suites
	}
	return cfg, nil
}

// Wrap installs TLS server-side termination on an already-accepted
// socket. The returned TLSSocket only drives the handshake; once it
// completes, s itself starts delivering/accepting plaintext through
// its ordinary In()/Out(), so the caller hands the same *sock.Socket
// to hsp.Server.Accept whether or not the listener is secure.
func Wrap(s *sock.Socket, cfg *tls.Config) *sock.TLSSocket {
	return sock.NewTLSSocket(s, cfg)
}

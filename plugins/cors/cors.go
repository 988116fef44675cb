// Package cors implements the Access-Control-Allow-* response filter
// (§4.20): static per-route configuration, no origin-matching
// algorithm beyond an exact-match allowlist or a literal wildcard.
package cors

import (
	"strings"

	"github.com/nxserve/nxserve/hsp"
	"github.com/nxserve/nxserve/wire"
)

// Config is the static per-route CORS policy a Filter applies.
type Config struct {
	// AllowOrigins lists the exact origins allowed to read the
	// response. A single "*" entry allows any origin; it is mutually
	// exclusive with AllowCredentials (the CORS spec forbids pairing
	// a wildcard origin with credentialed requests).
	AllowOrigins []string
	AllowMethods []string
	AllowHeaders []string
	// AllowCredentials sets Access-Control-Allow-Credentials: true.
	// Ignored when AllowOrigins is the wildcard.
	AllowCredentials bool
}

// Filter sets Access-Control-Allow-* headers from a static Config; it
// does no per-request negotiation beyond matching the Origin header
// against Config.AllowOrigins.
type Filter struct {
	Config Config
}

func (Filter) Name() string { return "cors" }

// Apply implements filter.Filter.
func (f Filter) Apply(req *hsp.Request, resp *hsp.Response) error {
	origin := req.Header.Get(wire.HeaderOrigin)
	if origin == "" {
		return nil
	}

	allowed, wildcard := f.matchOrigin(origin)
	if !allowed {
		return nil
	}

	if wildcard {
		resp.Header.Set(wire.HeaderAccessControlOrigin, "*")
	} else {
		resp.Header.Set(wire.HeaderAccessControlOrigin, origin)
		resp.Header.Set(wire.HeaderVary, wire.HeaderOrigin)
	}
	if len(f.Config.AllowMethods) > 0 {
		resp.Header.Set(wire.HeaderAccessControlMethods, strings.Join(f.Config.AllowMethods, ", "))
	}
	if len(f.Config.AllowHeaders) > 0 {
		resp.Header.Set(wire.HeaderAccessControlHeaders, strings.Join(f.Config.AllowHeaders, ", "))
	}
	if f.Config.AllowCredentials && !wildcard {
		resp.Header.Set(wire.HeaderAccessControlCredentials, "true")
	}
	return nil
}

func (f Filter) matchOrigin(origin string) (allowed, wildcard bool) {
	for _, o := range f.Config.AllowOrigins {
		if o == "*" {
			return true, true
		}
		if o == origin {
			return true, false
		}
	}
	return false, false
}

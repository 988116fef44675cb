package cors

import (
	"testing"

	"github.com/nxserve/nxserve/hdr"
	"github.com/nxserve/nxserve/hsp"
	"github.com/nxserve/nxserve/wire"
)

func TestApplySetsHeadersForAllowedOrigin(t *testing.T) {
	req := &hsp.Request{Header: hdr.Header{}}
	req.Header.Set(wire.HeaderOrigin, "https://example.com")
	resp := &hsp.Response{Header: hdr.Header{}}

	f := Filter{Config: Config{
		AllowOrigins: []string{"https://example.com"},
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Authorization"},
	}}
	if err := f.Apply(req, resp); err != nil {
		t.Fatal(err)
	}
	if got := resp.Header.Get(wire.HeaderAccessControlOrigin); got != "https://example.com" {
		t.Fatalf("unexpected origin header: %q", got)
	}
	if got := resp.Header.Get(wire.HeaderAccessControlMethods); got != "GET, POST" {
		t.Fatalf("unexpected methods header: %q", got)
	}
	if got := resp.Header.Get(wire.HeaderVary); got != wire.HeaderOrigin {
		t.Fatalf("expected Vary: Origin for a non-wildcard match, got %q", got)
	}
}

func TestApplyWildcardSkipsVaryAndCredentials(t *testing.T) {
	req := &hsp.Request{Header: hdr.Header{}}
	req.Header.Set(wire.HeaderOrigin, "https://anything.example")
	resp := &hsp.Response{Header: hdr.Header{}}

	f := Filter{Config: Config{AllowOrigins: []string{"*"}, AllowCredentials: true}}
	if err := f.Apply(req, resp); err != nil {
		t.Fatal(err)
	}
	if got := resp.Header.Get(wire.HeaderAccessControlOrigin); got != "*" {
		t.Fatalf("expected wildcard origin, got %q", got)
	}
	if resp.Header.Get(wire.HeaderVary) != "" {
		t.Fatal("expected no Vary header for a wildcard match")
	}
	if resp.Header.Get(wire.HeaderAccessControlCredentials) != "" {
		t.Fatal("expected no credentials header paired with a wildcard origin")
	}
}

func TestApplySkipsUnlistedOrigin(t *testing.T) {
	req := &hsp.Request{Header: hdr.Header{}}
	req.Header.Set(wire.HeaderOrigin, "https://evil.example")
	resp := &hsp.Response{Header: hdr.Header{}}

	f := Filter{Config: Config{AllowOrigins: []string{"https://example.com"}}}
	if err := f.Apply(req, resp); err != nil {
		t.Fatal(err)
	}
	if resp.Header.Get(wire.HeaderAccessControlOrigin) != "" {
		t.Fatal("expected no CORS headers for an unlisted origin")
	}
}

func TestApplySkipsRequestsWithoutOrigin(t *testing.T) {
	req := &hsp.Request{Header: hdr.Header{}}
	resp := &hsp.Response{Header: hdr.Header{}}

	f := Filter{Config: Config{AllowOrigins: []string{"*"}}}
	if err := f.Apply(req, resp); err != nil {
		t.Fatal(err)
	}
	if resp.Header.Get(wire.HeaderAccessControlOrigin) != "" {
		t.Fatal("expected no CORS headers for a same-origin request")
	}
}

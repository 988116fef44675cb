package main

import (
	"testing"

	"github.com/nxserve/nxserve/config"
	"github.com/nxserve/nxserve/loop"
	"github.com/nxserve/nxserve/plugins/cors"
	"github.com/nxserve/nxserve/plugins/gzip"
)

func newLoop(t *testing.T) *loop.Loop {
	t.Helper()
	l, err := loop.New(loop.Options{})
	if err != nil {
		t.Skipf("epoll unavailable: %v", err)
	}
	return l
}

func TestBuildFilterResolvesKnownNames(t *testing.T) {
	for _, name := range []string{"gzip", "cors", "ssi", "templates"} {
		if _, err := buildFilter(name); err != nil {
			t.Fatalf("buildFilter(%q): %v", name, err)
		}
	}
	if _, err := buildFilter("nope"); err == nil {
		t.Fatal("expected an error for an unknown filter name")
	}
}

func TestBuildFilterTypes(t *testing.T) {
	f, err := buildFilter("gzip")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := f.(gzip.Filter); !ok {
		t.Fatalf("expected a gzip.Filter, got %T", f)
	}
	f, err = buildFilter("cors")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := f.(cors.Filter); !ok {
		t.Fatalf("expected a cors.Filter, got %T", f)
	}
}

func TestBuildTableRejectsUnknownHandler(t *testing.T) {
	l := newLoop(t)
	cfg := &config.Config{
		Routes: []config.RouteEntry{{Prefix: "/", Handler: "nope"}},
	}
	if _, err := buildTable(l, cfg, nil, nil, nil, nil); err == nil {
		t.Fatal("expected an error for an unknown route handler")
	}
}

func TestBuildTableRejectsUnknownBackend(t *testing.T) {
	l := newLoop(t)
	cfg := &config.Config{
		Routes: []config.RouteEntry{{Prefix: "/", Handler: "proxy", Backend: "missing"}},
	}
	if _, err := buildTable(l, cfg, nil, nil, nil, nil); err == nil {
		t.Fatal("expected an error for an unresolved backend")
	}
}

func TestBuildTableRegistersFileserverRoute(t *testing.T) {
	l := newLoop(t)
	dir := t.TempDir()
	cfg := &config.Config{
		Routes: []config.RouteEntry{{Prefix: "/", Handler: "fileserver", Dir: dir, Filters: []string{"gzip"}}},
	}
	table, err := buildTable(l, cfg, nil, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if table == nil {
		t.Fatal("expected a non-nil table")
	}
}

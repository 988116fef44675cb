package gzip

import (
	"bytes"
	"io"
	"testing"

	kzip "github.com/klauspost/compress/gzip"

	"github.com/nxserve/nxserve/hdr"
	"github.com/nxserve/nxserve/hsp"
	"github.com/nxserve/nxserve/wire"
)

func TestApplyCompressesWhenAcceptedAndCompressible(t *testing.T) {
	req := &hsp.Request{Header: hdr.Header{}}
	req.Header.Set(wire.HeaderAcceptEncoding, "gzip, deflate")

	resp := &hsp.Response{Header: hdr.Header{}, Kind: hsp.BodyBytes, Bytes: []byte("hello world hello world")}
	resp.Header.Set(wire.HeaderContentType, "text/plain; charset=utf-8")

	f := Filter{}
	if err := f.Apply(req, resp); err != nil {
		t.Fatal(err)
	}
	if resp.Header.Get(wire.HeaderContentEncoding) != "gzip" {
		t.Fatalf("expected Content-Encoding: gzip, got %q", resp.Header.Get(wire.HeaderContentEncoding))
	}

	r, err := kzip.NewReader(bytes.NewReader(resp.Bytes))
	if err != nil {
		t.Fatalf("expected a valid gzip stream: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world hello world" {
		t.Fatalf("unexpected decompressed content: %q", got)
	}
}

func TestApplySkipsWhenNotAccepted(t *testing.T) {
	req := &hsp.Request{Header: hdr.Header{}}
	resp := &hsp.Response{Header: hdr.Header{}, Kind: hsp.BodyBytes, Bytes: []byte("plain")}
	resp.Header.Set(wire.HeaderContentType, "text/plain")

	if err := (Filter{}).Apply(req, resp); err != nil {
		t.Fatal(err)
	}
	if resp.Header.Get(wire.HeaderContentEncoding) != "" {
		t.Fatal("expected no encoding applied without Accept-Encoding: gzip")
	}
	if string(resp.Bytes) != "plain" {
		t.Fatal("expected body unchanged")
	}
}

func TestApplySkipsNonCompressibleContentType(t *testing.T) {
	req := &hsp.Request{Header: hdr.Header{}}
	req.Header.Set(wire.HeaderAcceptEncoding, "gzip")
	resp := &hsp.Response{Header: hdr.Header{}, Kind: hsp.BodyBytes, Bytes: []byte{0xff, 0xd8, 0xff}}
	resp.Header.Set(wire.HeaderContentType, "image/jpeg")

	if err := (Filter{}).Apply(req, resp); err != nil {
		t.Fatal(err)
	}
	if resp.Header.Get(wire.HeaderContentEncoding) != "" {
		t.Fatal("expected jpeg to stay uncompressed")
	}
}

func TestApplySkipsStreamedBody(t *testing.T) {
	req := &hsp.Request{Header: hdr.Header{}}
	req.Header.Set(wire.HeaderAcceptEncoding, "gzip")
	resp := &hsp.Response{Header: hdr.Header{}, Kind: hsp.BodyStream}
	resp.Header.Set(wire.HeaderContentType, "text/plain")

	if err := (Filter{}).Apply(req, resp); err != nil {
		t.Fatal(err)
	}
	if resp.Kind != hsp.BodyStream {
		t.Fatal("expected streamed body kind to be left untouched")
	}
}

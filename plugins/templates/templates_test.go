package templates

import (
	"testing"

	"github.com/nxserve/nxserve/hdr"
	"github.com/nxserve/nxserve/hsp"
)

func TestApplyLeavesResponseUntouched(t *testing.T) {
	resp := &hsp.Response{Header: hdr.Header{}, Kind: hsp.BodyBytes, Bytes: []byte("{{.Title}}")}
	before := string(resp.Bytes)

	if err := (Filter{}).Apply(&hsp.Request{Header: hdr.Header{}}, resp); err != nil {
		t.Fatal(err)
	}
	if string(resp.Bytes) != before {
		t.Fatal("expected body to pass through unmodified")
	}
}

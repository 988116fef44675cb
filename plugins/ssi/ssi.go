// Package ssi is a pass-through stand-in for server-side-include
// directive processing (§4.20). Real `<!--#include-->`/`<!--#set-->`
// directive expansion is an external collaborator per §1's non-goals;
// this filter exists so the filter chain has a real handle of the
// documented shape to compose, not to process directives itself.
package ssi

import "github.com/nxserve/nxserve/hsp"

// Filter is a no-op filter.Filter: it leaves the response untouched.
// A real implementation would scan resp.Bytes for SSI directives and
// rewrite the body in place before it reaches the client.
type Filter struct{}

func (Filter) Name() string { return "ssi" }

func (Filter) Apply(*hsp.Request, *hsp.Response) error { return nil }

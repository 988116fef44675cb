// Package templates is a pass-through stand-in for template-language
// rendering (§4.20). Real template evaluation is an external
// collaborator per §1's non-goals; this filter exists so the filter
// chain has a real handle of the documented shape to compose, not to
// render templates itself.
package templates

import "github.com/nxserve/nxserve/hsp"

// Filter is a no-op filter.Filter: it leaves the response untouched.
// A real implementation would evaluate resp.Bytes as a template source
// against a request-scoped data context and replace the body with the
// rendered output.
type Filter struct{}

func (Filter) Name() string { return "templates" }

func (Filter) Apply(*hsp.Request, *hsp.Response) error { return nil }

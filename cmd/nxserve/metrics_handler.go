package main

import (
	"bytes"

	"github.com/prometheus/common/expfmt"

	"github.com/nxserve/nxserve/filter"
	"github.com/nxserve/nxserve/hsp"
	"github.com/nxserve/nxserve/metrics"
	"github.com/nxserve/nxserve/wire"
)

// metricsHandler renders reg's gathered samples in the Prometheus text
// exposition format, mounted at /metrics rather than through a
// net/http mux since this server has no net/http listener of its own.
type metricsHandler struct {
	reg *metrics.Registry
}

func (h *metricsHandler) Handle(conn *filter.Conn, req *hsp.Request) {
	resp := hsp.NewResponse(req, 200)
	if h.reg == nil {
		resp.SetBytes(nil)
		conn.StartResponse(resp)
		return
	}
	mfs, err := h.reg.Prometheus().Gather()
	if err != nil {
		resp.Status = 500
		resp.SetBytes([]byte(err.Error()))
		conn.StartResponse(resp)
		return
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			resp.Status = 500
			resp.SetBytes([]byte(err.Error()))
			conn.StartResponse(resp)
			return
		}
	}
	resp.Header.Set(wire.HeaderContentType, string(expfmt.FmtText))
	resp.SetBytes(buf.Bytes())
	conn.StartResponse(resp)
}

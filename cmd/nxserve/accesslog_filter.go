package main

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/nxserve/nxserve/accesslog"
	"github.com/nxserve/nxserve/hsp"
	"github.com/nxserve/nxserve/wire"
)

// accessLogFilter writes one accesslog.Entry per response, registered
// first in every route's filter chain so it observes the handler's
// response before any later filter (gzip, etc.) rewrites it. w may be
// nil, in which case Apply is a no-op (no access_log configured).
type accessLogFilter struct {
	w       *accesslog.Writer
	handler string
}

var reqSeq uint64

func (f *accessLogFilter) Name() string { return "accesslog" }

func (f *accessLogFilter) Apply(req *hsp.Request, resp *hsp.Response) error {
	if f.w == nil {
		return nil
	}
	var bytes int64
	switch resp.Kind {
	case hsp.BodyBytes:
		bytes = int64(len(resp.Bytes))
	case hsp.BodyFile:
		bytes = resp.FileLength
	}
	e := accesslog.Entry{
		Time:       time.Now(),
		ReqUID:     atomic.AddUint64(&reqSeq, 1),
		RemoteAddr: req.RemoteAddr,
		Method:     req.Method,
		HTTP11:     strings.HasSuffix(req.Version, "1.1"),
		Host:       req.Host,
		URI:        req.URI,
		UserAgent:  req.Header.Get(wire.HeaderUserAgent),
		Status:     resp.Status,
		Bytes:      bytes,
		Handler:    f.handler,
	}
	return f.w.Write(e)
}

// Package wire holds the HTTP/1.1 wire-level constants shared by the
// server protocol (hsp), client protocol (hcp) and the filter/module
// layer: methods, well-known header names and the status-code/reason
// phrase table.
package wire

// Request methods.
const (
	MethodGet     = "GET"
	MethodHead    = "HEAD"
	MethodPost    = "POST"
	MethodPut     = "PUT"
	MethodPatch   = "PATCH"
	MethodDelete  = "DELETE"
	MethodConnect = "CONNECT"
	MethodOptions = "OPTIONS"
	MethodTrace   = "TRACE"
)

// Protocol version tokens.
const (
	HTTP11 = "HTTP/1.1"
	HTTP10 = "HTTP/1.0"
)

// Connection tokens.
const (
	ConnClose     = "close"
	ConnKeepAlive = "keep-alive"
)

// Transfer-Encoding / Expect tokens.
const (
	TransferChunked  = "chunked"
	Expect100Continue = "100-continue"
)

// Well-known header names, canonical form.
const (
	HeaderHost              = "Host"
	HeaderContentLength     = "Content-Length"
	HeaderContentType       = "Content-Type"
	HeaderTransferEncoding  = "Transfer-Encoding"
	HeaderConnection        = "Connection"
	HeaderKeepAlive         = "Keep-Alive"
	HeaderExpect            = "Expect"
	HeaderIfModifiedSince   = "If-Modified-Since"
	HeaderLastModified      = "Last-Modified"
	HeaderAcceptEncoding    = "Accept-Encoding"
	HeaderContentEncoding   = "Content-Encoding"
	HeaderDate              = "Date"
	HeaderServer            = "Server"
	HeaderLocation          = "Location"
	HeaderRange             = "Range"
	HeaderContentRange      = "Content-Range"
	HeaderAcceptRanges      = "Accept-Ranges"
	HeaderCookie            = "Cookie"
	HeaderSetCookie         = "Set-Cookie"
	HeaderUserAgent         = "User-Agent"
	HeaderXForwardedFor     = "X-Forwarded-For"
	HeaderXForwardedHost    = "X-Forwarded-Host"
	HeaderXForwardedSSL     = "X-Forwarded-SSL"
	HeaderVary              = "Vary"
	HeaderTrailer           = "Trailer"
	HeaderOrigin            = "Origin"
	HeaderAccessControlOrigin      = "Access-Control-Allow-Origin"
	HeaderAccessControlMethods     = "Access-Control-Allow-Methods"
	HeaderAccessControlHeaders     = "Access-Control-Allow-Headers"
	HeaderAccessControlCredentials = "Access-Control-Allow-Credentials"
)

// TimeFormat is the format used for Date/Last-Modified/If-Modified-Since
// headers: RFC1123 with a hard-coded GMT zone, matching the wire format
// every HTTP/1.1 implementation is required to produce.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// Status codes used by the core and the modules that plug into it.
const (
	StatusContinue           = 100
	StatusOK                 = 200
	StatusNotModified        = 304
	StatusBadRequest         = 400
	StatusNotFound           = 404
	StatusRequestTimeout     = 408
	StatusInternalServerError = 500
	StatusBadGateway         = 502
	StatusServiceUnavailable = 503
	StatusGatewayTimeout     = 504
)

var statusText = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	411: "Length Required",
	413: "Payload Too Large",
	416: "Range Not Satisfiable",
	417: "Expectation Failed",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
}

// StatusText returns the reason phrase for code, or "" if unknown.
func StatusText(code int) string {
	return statusText[code]
}

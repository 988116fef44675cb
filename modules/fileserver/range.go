package fileserver

import (
	"fmt"
	"strconv"
	"strings"
)

// httpRange is one byte-range-spec resolved against a concrete content
// size, grounded on filetransport/http_range.go's type of the same
// name and its contentRange/mimeHeader helpers.
type httpRange struct {
	start, length int64
}

func (r httpRange) contentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.start, r.start+r.length-1, size)
}

// parseRanges parses a Range header value of the form
// "bytes=a-b,c-d,..." against size, resolving open-ended and
// suffix-length forms. It returns ok=false for anything that isn't a
// well-formed "bytes=" range set, which callers treat as "ignore the
// Range header and serve the whole entity" rather than an error.
func parseRanges(header string, size int64) (ranges []httpRange, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return nil, false
	}
	for _, spec := range strings.Split(header[len(prefix):], ",") {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		dash := strings.IndexByte(spec, '-')
		if dash < 0 {
			return nil, false
		}
		startStr, endStr := strings.TrimSpace(spec[:dash]), strings.TrimSpace(spec[dash+1:])

		var r httpRange
		switch {
		case startStr == "":
			// suffix-length: last N bytes.
			n, err := strconv.ParseInt(endStr, 10, 64)
			if err != nil || n < 0 {
				return nil, false
			}
			if n > size {
				n = size
			}
			r = httpRange{start: size - n, length: n}
		case endStr == "":
			start, err := strconv.ParseInt(startStr, 10, 64)
			if err != nil || start < 0 || start >= size {
				return nil, false
			}
			r = httpRange{start: start, length: size - start}
		default:
			start, err := strconv.ParseInt(startStr, 10, 64)
			if err != nil || start < 0 {
				return nil, false
			}
			end, err := strconv.ParseInt(endStr, 10, 64)
			if err != nil || end < start {
				return nil, false
			}
			if start >= size {
				return nil, false
			}
			if end >= size {
				end = size - 1
			}
			r = httpRange{start: start, length: end - start + 1}
		}
		if r.length <= 0 {
			continue
		}
		ranges = append(ranges, r)
	}
	if len(ranges) == 0 {
		return nil, false
	}
	return ranges, true
}

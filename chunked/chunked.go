// Package chunked implements HTTP/1.1 chunked transfer-coding as an
// incremental, allocation-light state machine: Decoder consumes bytes
// as they arrive off the wire (no blocking reads), EncodeChunk and
// EncodeFinal serialize chunk framing around body bytes already in hand. The framing
// rules (chunk-size line, optional extensions, trailer, final chunk)
// follow the same grammar as net/http's chunked reader/writer.
package chunked

import (
	"errors"
	"strconv"
)

var (
	// ErrLineTooLong mirrors net/http's chunked decoder: a chunk-size
	// line (or trailer line) that never terminates within MaxLineLength
	// bytes is a protocol error, not a resource exhaustion to retry.
	ErrLineTooLong = errors.New("chunked: chunk-size line too long")
	// ErrCorrupt is returned for a malformed chunk-size or missing CRLF.
	ErrCorrupt = errors.New("chunked: corrupt chunked encoding")
)

// MaxLineLength bounds a single chunk-size or trailer line.
const MaxLineLength = 4096

type decState int

const (
	stateSize decState = iota
	stateSizeCR
	stateData
	stateDataCR
	stateDataLF
	stateTrailer
	stateDone
)

// Decoder parses chunked framing incrementally. Feed it raw bytes via
// Write; it reports decoded body bytes via Write's body callback and
// signals completion (after the trailer's final CRLF) via Write's done result.
type Decoder struct {
	state decState

	sizeLine []byte
	remain   uint64 // bytes left in the current chunk's data

	trailerLine []byte

	err error
}

// NewDecoder returns a Decoder ready to parse from the start of a
// chunked body.
func NewDecoder() *Decoder { return &Decoder{} }

// Write feeds p (bytes as they arrive off the wire) through the state
// machine. body receives decoded chunk payload bytes (may be called
// zero or more times per Write); it returns (consumed, done, err):
// consumed is how many bytes of p were processed (len(p) unless err !=
// nil or the body ended before the end of p; bytes after the
// terminating CRLF are left unconsumed), done is true once the
// trailer's terminating CRLF has been seen.
func (d *Decoder) Write(p []byte, body func([]byte)) (consumed int, done bool, err error) {
	if d.err != nil {
		return 0, false, d.err
	}
	i := 0
	for i < len(p) {
		switch d.state {
		case stateSize:
			j := indexByte(p[i:], '\n')
			if j < 0 {
				d.sizeLine = append(d.sizeLine, p[i:]...)
				if len(d.sizeLine) > MaxLineLength {
					return i, false, d.fail(ErrLineTooLong)
				}
				i = len(p)
				continue
			}
			d.sizeLine = append(d.sizeLine, p[i:i+j]...)
			i += j + 1
			size, serr := parseChunkSize(d.sizeLine)
			d.sizeLine = d.sizeLine[:0]
			if serr != nil {
				return i, false, d.fail(serr)
			}
			if size == 0 {
				d.state = stateTrailer
			} else {
				d.remain = size
				d.state = stateData
			}
		case stateData:
			n := len(p) - i
			if uint64(n) > d.remain {
				n = int(d.remain)
			}
			if n > 0 {
				body(p[i : i+n])
				i += n
				d.remain -= uint64(n)
			}
			if d.remain == 0 {
				d.state = stateDataCR
			}
		case stateDataCR:
			if p[i] != '\r' {
				return i, false, d.fail(ErrCorrupt)
			}
			i++
			d.state = stateDataLF
		case stateDataLF:
			if p[i] != '\n' {
				return i, false, d.fail(ErrCorrupt)
			}
			i++
			d.state = stateSize
		case stateTrailer:
			j := indexByte(p[i:], '\n')
			if j < 0 {
				d.trailerLine = append(d.trailerLine, p[i:]...)
				if len(d.trailerLine) > MaxLineLength {
					return i, false, d.fail(ErrLineTooLong)
				}
				i = len(p)
				continue
			}
			line := append(d.trailerLine, p[i:i+j]...)
			d.trailerLine = d.trailerLine[:0]
			i += j + 1
			if len(trimCR(line)) == 0 {
				d.state = stateDone
				return i, true, nil
			}
			// trailer header lines are accumulated but not parsed here;
			// hsp/hcp own trailer-to-header merging if ever needed.
		case stateDone:
			return i, true, nil
		}
	}
	return i, d.state == stateDone, nil
}

func (d *Decoder) fail(err error) error {
	d.err = err
	return err
}

func trimCR(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		return b[:len(b)-1]
	}
	return b
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func parseChunkSize(line []byte) (uint64, error) {
	line = trimCR(line)
	if semi := indexByte(line, ';'); semi >= 0 {
		line = line[:semi] // chunk extensions are accepted and ignored
	}
	if len(line) == 0 {
		return 0, ErrCorrupt
	}
	n, err := strconv.ParseUint(string(line), 16, 64)
	if err != nil {
		return 0, ErrCorrupt
	}
	return n, nil
}

// EncodeChunk appends the wire representation of one chunk (size line,
// CRLF, data, CRLF) containing data to dst and returns the result.
func EncodeChunk(dst []byte, data []byte) []byte {
	if len(data) == 0 {
		return dst
	}
	dst = strconv.AppendUint(dst, uint64(len(data)), 16)
	dst = append(dst, '\r', '\n')
	dst = append(dst, data...)
	dst = append(dst, '\r', '\n')
	return dst
}

// EncodeFinal appends the terminating "0\r\n\r\n" sequence (no
// trailers) to dst.
func EncodeFinal(dst []byte) []byte {
	return append(dst, '0', '\r', '\n', '\r', '\n')
}

// Package frame implements LSP's HTTP-style Content-Length framing over a
// byte stream: reading and writing messages shaped
//
//	Content-Length: <decimal>\r\n\r\n<body>
package frame

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const header = "Content-Length: "

const headerSep = "\r\n\r\n"

// ErrMalformed is returned when a frame boundary does not look like a
// Content-Length header, or the length cannot be parsed.
var ErrMalformed = errors.New("frame: malformed header")

// Buffer accumulates bytes off the wire and extracts complete frame bodies
// from them. It mirrors one client session's receive state: the raw bytes
// seen so far and how many body bytes remain for the frame currently being
// assembled.
//
// A Buffer is not safe for concurrent use; callers serialize access per
// connection.
type Buffer struct {
	data []byte
	// expectedLen is the remaining body length for the in-progress frame.
	// -1 means no Content-Length header has been parsed yet.
	expectedLen int
}

// NewBuffer returns an empty frame Buffer.
func NewBuffer() *Buffer {
	return &Buffer{expectedLen: -1}
}

// Feed appends newly received bytes to the buffer.
func (b *Buffer) Feed(p []byte) {
	b.data = append(b.data, p...)
}

// Next extracts the next complete frame body from the buffer, if one is
// available. It returns ok=false (with a nil error) when more bytes are
// needed. It may be called repeatedly to drain multiple frames that arrived
// in one read.
func (b *Buffer) Next() (body []byte, ok bool, err error) {
	for {
		if b.expectedLen < 0 {
			if len(b.data) < len(header) {
				return nil, false, nil
			}
			if !strings.HasPrefix(string(b.data[:len(header)]), header) {
				return nil, false, fmt.Errorf("%w: expected %q prefix", ErrMalformed, header)
			}
			sepIdx := indexOf(b.data, headerSep)
			if sepIdx < 0 {
				return nil, false, nil
			}
			n, perr := strconv.Atoi(string(b.data[len(header):sepIdx]))
			if perr != nil || n < 0 {
				return nil, false, fmt.Errorf("%w: bad Content-Length: %v", ErrMalformed, perr)
			}
			b.expectedLen = n
			b.data = b.data[sepIdx+len(headerSep):]
		}

		if len(b.data) < b.expectedLen {
			return nil, false, nil
		}

		body = b.data[:b.expectedLen]
		b.data = b.data[b.expectedLen:]
		b.expectedLen = -1
		return body, true, nil
	}
}

func indexOf(data []byte, sep string) int {
	return strings.Index(string(data), sep)
}

// Encode wraps a message body in Content-Length framing, ready to write to
// the wire.
func Encode(body []byte) []byte {
	head := fmt.Sprintf("%s%d%s", header, len(body), headerSep)
	out := make([]byte, 0, len(head)+len(body))
	out = append(out, head...)
	out = append(out, body...)
	return out
}

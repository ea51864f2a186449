package eslwire

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Well-known header keys
const (
	HeaderContentType   = "Content-Type"
	HeaderContentLength = "Content-Length"
)

var (
	// ErrMalformedHeader is returned when a header block is not made of "Key: value" lines
	ErrMalformedHeader = errors.New("malformed header block")

	// ErrBadContentLength is returned when Content-Length is not a non-negative integer
	ErrBadContentLength = errors.New("invalid Content-Length")

	// ErrHeaderTooLarge is returned when no header terminator is found within MaxHeaderBytes
	ErrHeaderTooLarge = errors.New("header block too large")

	// ErrInvalidCommand is returned when an outbound command would not fit in one frame
	ErrInvalidCommand = errors.New("invalid command line")
)

// Frame is one wire unit: a header block plus an optional content block.
type Frame struct {
	Header  Header
	Content []byte
}

// ContentType returns the trimmed Content-Type header
func (f *Frame) ContentType() string {
	return strings.TrimSpace(f.Header.Get(HeaderContentType))
}

// ContentLength returns the declared Content-Length, or 0 if the header is absent
func (f *Frame) ContentLength() (int, error) {
	return contentLength(&f.Header)
}

func contentLength(h *Header) (int, error) {
	v, ok := h.Lookup(HeaderContentLength)
	if !ok {
		return 0, nil
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadContentLength, v)
	}
	return n, nil
}

// EncodeFrame renders a header block and optional content in wire format.
// Content-Length is set from content (and removed when content is empty), and
// values are escaped so that ParseHeader restores them exactly.
func EncodeFrame(h Header, content []byte) []byte {
	h = h.Clone()
	if len(content) > 0 {
		h.Set(HeaderContentLength, strconv.Itoa(len(content)))
	} else {
		h.Del(HeaderContentLength)
	}
	var b bytes.Buffer
	for _, k := range h.keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(encodeValue(h.values[k]))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.Write(content)
	return b.Bytes()
}

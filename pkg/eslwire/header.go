package eslwire

import (
	"bytes"
	"fmt"
	"strings"
)

// Header is an ordered, case-sensitive mapping of header keys to string values.
// Setting a key that is already present replaces its value but keeps its
// original position. The zero value is an empty Header ready to use.
type Header struct {
	keys   []string
	values map[string]string
}

// NewHeader creates a Header from alternating key, value strings. It panics if
// given an odd number of arguments.
func NewHeader(kv ...string) Header {
	if len(kv)%2 != 0 {
		panic("eslwire.NewHeader: odd number of arguments")
	}
	var h Header
	for i := 0; i < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

// Get returns the value for key, or "" if it is not present
func (h *Header) Get(key string) string {
	return h.values[key]
}

// Lookup returns the value for key and whether it was present
func (h *Header) Lookup(key string) (string, bool) {
	v, ok := h.values[key]
	return v, ok
}

// Set assigns value to key
func (h *Header) Set(key, value string) {
	if h.values == nil {
		h.values = make(map[string]string)
	}
	if _, ok := h.values[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.values[key] = value
}

// Del removes key
func (h *Header) Del(key string) {
	if _, ok := h.values[key]; !ok {
		return
	}
	delete(h.values, key)
	for i, k := range h.keys {
		if k == key {
			h.keys = append(h.keys[:i:i], h.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order. The returned slice is a copy.
func (h *Header) Keys() []string {
	return append([]string(nil), h.keys...)
}

// Len returns the number of distinct keys
func (h *Header) Len() int {
	return len(h.keys)
}

// Merge copies every entry of other over h, in other's order
func (h *Header) Merge(other *Header) {
	for _, k := range other.keys {
		h.Set(k, other.values[k])
	}
}

// Clone returns a deep copy of h
func (h *Header) Clone() Header {
	var c Header
	c.Merge(h)
	return c
}

// Equal reports whether h and other hold the same entries in the same order
func (h *Header) Equal(other *Header) bool {
	if len(h.keys) != len(other.keys) {
		return false
	}
	for i, k := range h.keys {
		if other.keys[i] != k || other.values[k] != h.values[k] {
			return false
		}
	}
	return true
}

func (h *Header) String() string {
	var b strings.Builder
	for _, k := range h.keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(h.values[k])
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseHeader parses a header block made of "Key: value" lines separated by
// "\n". Empty lines are ignored and a trailing "\r" on a line is dropped. Keys are
// trimmed; values have leading whitespace removed and are percent-decoded.
// A non-empty line without a ':' yields an error wrapping ErrMalformedHeader.
func ParseHeader(block []byte) (Header, error) {
	var h Header
	for len(block) > 0 {
		var line []byte
		if i := bytes.IndexByte(block, '\n'); i >= 0 {
			line, block = block[:i], block[i+1:]
		} else {
			line, block = block, nil
		}
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			return Header{}, fmt.Errorf("%w: line %q has no ':'", ErrMalformedHeader, truncate(line, 64))
		}
		key := strings.TrimSpace(string(line[:colon]))
		if key == "" {
			return Header{}, fmt.Errorf("%w: line %q has an empty key", ErrMalformedHeader, truncate(line, 64))
		}
		h.Set(key, decodeValue(strings.TrimLeft(string(line[colon+1:]), " \t")))
	}
	return h, nil
}

// decodeValue percent-decodes v one escape at a time. An escape that is not
// "%" followed by two hex digits is kept as is.
func decodeValue(v string) string {
	if !strings.Contains(v, "%") {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		if v[i] == '%' && i+2 < len(v) && isHex(v[i+1]) && isHex(v[i+2]) {
			b.WriteByte(unhex(v[i+1])<<4 | unhex(v[i+2]))
			i += 2
			continue
		}
		b.WriteByte(v[i])
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c <= '9':
		return c - '0'
	case c <= 'F':
		return c - 'A' + 10
	default:
		return c - 'a' + 10
	}
}

var valueEscaper = strings.NewReplacer("%", "%25", "\n", "%0A", "\r", "%0D")

// encodeValue escapes the characters that cannot appear raw in a header value,
// including leading whitespace that the parser would otherwise strip
func encodeValue(v string) string {
	v = valueEscaper.Replace(v)
	switch {
	case strings.HasPrefix(v, " "):
		v = "%20" + v[1:]
	case strings.HasPrefix(v, "\t"):
		v = "%09" + v[1:]
	}
	return v
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

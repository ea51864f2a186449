package eslwire

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

const readChunkSize = 32 * 1024

// Reader yields Frames one at a time from an io.Reader, feeding a Decoder with
// whatever chunks the underlying reader returns.
type Reader struct {
	r       io.Reader
	dec     *Decoder
	queue   []*Frame
	buf     []byte
	err     error
	onChunk func(n int)
}

// NewReader creates a Reader on top of r
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:   r,
		dec: NewDecoder(),
		buf: make([]byte, readChunkSize),
	}
}

// OnChunk registers a function called with the size of every chunk read from
// the underlying reader. It is intended for frame-level tracing.
func (r *Reader) OnChunk(fn func(n int)) {
	r.onChunk = fn
}

// ReadFrame blocks until a complete frame is available. Frames already decoded
// are returned before any read or decode error. A stream that ends in the middle
// of a frame returns io.ErrUnexpectedEOF.
func (r *Reader) ReadFrame() (*Frame, error) {
	for len(r.queue) == 0 {
		if r.err != nil {
			return nil, r.err
		}
		n, err := r.r.Read(r.buf)
		if n > 0 {
			if r.onChunk != nil {
				r.onChunk(n)
			}
			frames, ferr := r.dec.Feed(r.buf[:n])
			r.queue = append(r.queue, frames...)
			if ferr != nil {
				r.err = ferr
				continue
			}
		}
		if err != nil {
			if err == io.EOF && (r.dec.pending != nil || len(bytes.TrimLeft(r.dec.buf, "\r\n")) > 0) {
				err = fmt.Errorf("%w: %d bytes of partial frame", io.ErrUnexpectedEOF, r.dec.Buffered())
			}
			r.err = err
		}
	}
	f := r.queue[0]
	r.queue[0] = nil
	r.queue = r.queue[1:]
	return f, nil
}

// ValidateCommand returns the command line with any trailing line break removed,
// or ErrInvalidCommand if the line is empty or contains a blank line of its own.
// A line may carry extra "Key: value" lines, as sendmsg does.
func ValidateCommand(line string) (string, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" || strings.Contains(line, "\n\n") {
		return "", fmt.Errorf("%w: %q", ErrInvalidCommand, line)
	}
	return line, nil
}

// WriteCommand writes one outbound command line followed by the blank line that
// ends it.
func WriteCommand(w io.Writer, line string) error {
	line, err := ValidateCommand(line)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, line+"\n\n")
	return err
}

package eslwire

import (
	"bytes"
	"fmt"
)

// MaxHeaderBytes is the largest header block the Decoder will buffer while
// waiting for the blank line that terminates it.
const MaxHeaderBytes = 1 << 20

var headerTerminator = []byte("\n\n")

// Decoder assembles Frames from a byte stream delivered in arbitrary chunks.
//
// The stream alternates between two modes: scanning for a header block that ends
// with a blank line, and, when that block declares a positive Content-Length,
// collecting exactly that many raw bytes as the content block. Bytes beyond the
// end of a frame stay buffered for the next one.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf []byte

	// pending is a frame whose header has been parsed but whose content
	// block is not complete yet
	pending     *Frame
	pendingSize int

	// MaxHeaderBytes overrides the package default when positive
	MaxHeaderBytes int
}

// NewDecoder returns an empty Decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Buffered returns the number of bytes received but not yet consumed by a frame
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Feed appends p to the stream and returns every frame it completes, in order.
// Feed never blocks. After an error the Decoder is unusable; the frames
// returned alongside the error were complete before the bad header block.
func (d *Decoder) Feed(p []byte) ([]*Frame, error) {
	d.buf = append(d.buf, p...)
	var frames []*Frame
	for {
		f, err := d.next()
		if err != nil {
			return frames, err
		}
		if f == nil {
			break
		}
		frames = append(frames, f)
	}
	if len(d.buf) == 0 {
		d.buf = d.buf[:0]
	}
	return frames, nil
}

// next extracts one frame from the buffer, or returns nil if more bytes are needed
func (d *Decoder) next() (*Frame, error) {
	if d.pending != nil {
		if len(d.buf) < d.pendingSize {
			return nil, nil
		}
		f := d.pending
		f.Content = bytes.Clone(d.buf[:d.pendingSize])
		d.buf = d.buf[d.pendingSize:]
		d.pending = nil
		d.pendingSize = 0
		return f, nil
	}

	// stray line breaks between frames carry no header
	d.buf = bytes.TrimLeft(d.buf, "\r\n")

	end := bytes.Index(d.buf, headerTerminator)
	if end < 0 {
		if len(d.buf) > d.maxHeaderBytes() {
			return nil, fmt.Errorf("%w: %d bytes without a blank line", ErrHeaderTooLarge, len(d.buf))
		}
		return nil, nil
	}
	h, err := ParseHeader(d.buf[:end])
	if err != nil {
		return nil, err
	}
	d.buf = d.buf[end+len(headerTerminator):]

	f := &Frame{Header: h}
	n, err := f.ContentLength()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return f, nil
	}
	d.pending = f
	d.pendingSize = n
	return d.next()
}

func (d *Decoder) maxHeaderBytes() int {
	if d.MaxHeaderBytes > 0 {
		return d.MaxHeaderBytes
	}
	return MaxHeaderBytes
}

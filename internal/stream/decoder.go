// Package stream turns a newline-delimited JSON response body into progress
// frames.
package stream

import "bytes"

// Decoder splits an arbitrarily chunked byte stream into complete lines.
//
// A Decoder belongs to exactly one stream: create it when the response
// starts and drop it when the body ends. Splitting happens on raw bytes;
// '\n' never occurs inside a multi-byte UTF-8 sequence, so a code point
// split across two chunks is reassembled before any line is emitted.
type Decoder struct {
	buf    []byte
	closed bool
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the pending buffer and returns every line it
// completed, in order, without the terminating newline (and without a
// trailing '\r'). Whitespace-only lines are not returned. The returned
// slices are owned by the caller.
func (d *Decoder) Feed(chunk []byte) [][]byte {
	if d.closed || len(chunk) == 0 {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var frames [][]byte
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]

		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		frames = append(frames, bytes.Clone(line))
	}

	// Compact so the backing array does not grow with the stream.
	if len(d.buf) == 0 {
		d.buf = d.buf[:0:0]
	} else if cap(d.buf) > 2*len(d.buf)+4096 {
		d.buf = bytes.Clone(d.buf)
	}
	return frames
}

// Pending reports how many bytes are buffered waiting for a newline.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// Close ends the stream. An unterminated trailing line is discarded, not
// emitted; Close returns its length (ignoring surrounding whitespace) so the
// caller can log the truncation. Feed after Close is a no-op.
func (d *Decoder) Close() int {
	residual := len(bytes.TrimSpace(d.buf))
	d.buf = nil
	d.closed = true
	return residual
}

package wire

import (
	"encoding/binary"
	"fmt"

	"vrnode/pkg/errors"
)

const (
	// HeaderLen is the size of the big-endian length prefix.
	HeaderLen = 4
	// MaxPayload is the largest frame payload accepted on a framed wire.
	MaxPayload = 65535
)

// Encode prefixes payload with its length in network byte order.
func Encode(payload []byte) []byte {
	out := make([]byte, HeaderLen+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[HeaderLen:], payload)

	return out
}

// Decoder reassembles frames from a byte stream split at arbitrary points.
// It waits for the 4 length bytes, then for exactly that many payload bytes,
// then starts over.
type Decoder struct {
	buf     []byte
	need    int
	inFrame bool
}

// NewDecoder returns a decoder waiting for a length prefix.
func NewDecoder() *Decoder {
	return &Decoder{need: HeaderLen}
}

// Feed consumes a chunk of the stream and returns every payload completed by
// it, in order. A length above MaxPayload resets the decoder and is reported.
func (d *Decoder) Feed(chunk []byte) ([][]byte, error) {
	var frames [][]byte

	for len(chunk) > 0 {
		take := d.need - len(d.buf)
		if take > len(chunk) {
			take = len(chunk)
		}

		d.buf = append(d.buf, chunk[:take]...)
		chunk = chunk[take:]

		if len(d.buf) < d.need {
			break
		}

		if !d.inFrame {
			length := binary.BigEndian.Uint32(d.buf)
			if length > MaxPayload {
				d.Reset()

				return frames, fmt.Errorf("frame length %d: %w", length, errors.ErrFrameTooLarge)
			}

			d.buf = d.buf[:0]

			if length == 0 {
				frames = append(frames, []byte{})

				continue
			}

			d.need = int(length)
			d.inFrame = true

			continue
		}

		payload := make([]byte, len(d.buf))
		copy(payload, d.buf)
		frames = append(frames, payload)

		d.buf = d.buf[:0]
		d.need = HeaderLen
		d.inFrame = false
	}

	return frames, nil
}

// Reset drops any partial frame. Called whenever the peer reconnects.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.need = HeaderLen
	d.inFrame = false
}

// Pending reports how many bytes of a partial header or payload are buffered.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

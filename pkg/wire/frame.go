// Package wire implements the length-prefixed binary framing and the
// request/response codecs spoken over every TCP connection.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrFrameTooLarge is returned by WriteFrame when the payload exceeds the
// largest representable frame length.
var ErrFrameTooLarge = errors.New("wire: frame payload exceeds 4294967295 bytes")

// ErrBadFrameTag is returned by ReadFrame when the leading width tag byte
// is not one of the three recognized widths.
var ErrBadFrameTag = errors.New("wire: unrecognized frame width tag")

const (
	width1 = 1
	width2 = 2
	width4 = 4

	maxWidth1 = 0xFF
	maxWidth2 = 0xFFFF
	maxWidth4 = 0xFFFFFFFF
)

// WriteFrame writes payload prefixed by a self-describing variable-width
// length header: a one-byte width tag (1, 2, or 4) followed by that many
// big-endian length bytes, followed by the payload itself. The whole frame
// is written in a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	n := len(payload)

	var header []byte
	switch {
	case n <= maxWidth1:
		header = []byte{width1, byte(n)}
	case n <= maxWidth2:
		header = make([]byte, 3)
		header[0] = width2
		binary.BigEndian.PutUint16(header[1:], uint16(n))
	case n <= maxWidth4:
		header = make([]byte, 5)
		header[0] = width4
		binary.BigEndian.PutUint32(header[1:], uint32(n))
	default:
		return fmt.Errorf("%w: got %d bytes", ErrFrameTooLarge, n)
	}

	frame := make([]byte, 0, len(header)+n)
	frame = append(frame, header...)
	frame = append(frame, payload...)
	_, err := w.Write(frame)
	return err
}

// ReadFrame reads one frame from r. It returns io.EOF, unwrapped, if the
// peer closed the connection cleanly before sending any byte of a new
// frame. Any closure or I/O error once a frame has started is returned
// wrapped (never as a bare io.EOF) so callers can tell the two cases
// apart and treat the latter as fatal for the connection.
func ReadFrame(r io.Reader) ([]byte, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("wire: read frame tag: %w", err)
	}

	var length uint64
	switch tag[0] {
	case width1:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, fmt.Errorf("wire: read frame length: %w", err)
		}
		length = uint64(b[0])
	case width2:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, fmt.Errorf("wire: read frame length: %w", err)
		}
		length = uint64(binary.BigEndian.Uint16(b[:]))
	case width4:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, fmt.Errorf("wire: read frame length: %w", err)
		}
		length = uint64(binary.BigEndian.Uint32(b[:]))
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrBadFrameTag, tag[0])
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("wire: read frame payload: %w", err)
		}
	}
	return payload, nil
}

// Package frame implements the length-prefixed message framing used by the
// rendezvous control protocol: a 4-byte big-endian length followed by that
// many bytes of payload.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxLen bounds the payload a single frame may carry. The rendezvous
// protocol's largest message (SharePeerContacts, two FullContacts) fits
// comfortably under this; anything longer is rejected before it is read.
const MaxLen = 256

// ErrFrameTooLong is returned by Read when the advertised length exceeds
// MaxLen.
var ErrFrameTooLong = errors.New("frame: length exceeds maximum")

// Write sends one frame: a 4-byte big-endian length prefix followed by
// payload, as a single Write call so a partial frame is never observable to
// a concurrent reader on the same connection.
func Write(w io.Writer, payload []byte) error {
	if len(payload) > MaxLen {
		return fmt.Errorf("frame: payload of %d bytes exceeds max %d", len(payload), MaxLen)
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("frame: write: %w", err)
	}
	return nil
}

// Read reads one frame and returns its payload. Errors are wrapped so
// callers can distinguish a short/closed connection (io.ErrUnexpectedEOF,
// io.EOF) from ErrFrameTooLong.
func Read(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("frame: read length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxLen {
		return nil, ErrFrameTooLong
	}
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("frame: read payload: %w", err)
		}
	}
	return payload, nil
}

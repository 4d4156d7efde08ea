// Package transfer implements the application-level exchange that runs
// over the established cryptostream duplex: per-file offer/accept/reject
// followed by the raw file bytes, or a line-based chat loop, multiplexed
// on the same connection via a small length-prefixed envelope. Grounded
// on frame.go's length-prefix codec, generalized to a 4-byte length so a
// chat line or file-offer payload isn't squeezed into the rendezvous
// control channel's 256-byte cap.
package transfer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// maxEnvelope bounds a single control envelope's payload (well above any
// real file name or chat line; file bytes themselves are never wrapped in
// an envelope).
const maxEnvelope = 1 << 20

// ErrEnvelopeTooLong is returned when a peer's declared envelope length
// exceeds maxEnvelope.
var ErrEnvelopeTooLong = errors.New("transfer: envelope exceeds maximum length")

const (
	tagFileOffer = 0x01
	tagAccept    = 0x02
	tagReject    = 0x03
	tagChatLine  = 0x04
	tagDone      = 0x05
)

// FileOffer announces one file the sender wants to transfer.
type FileOffer struct {
	Name string
	Size uint64
}

// ChatLine is one line of interactive chat text.
type ChatLine struct {
	Text string
}

// Accept signals the receiver wants the most recently offered file.
type Accept struct{}

// Reject signals the receiver wants to skip the most recently offered
// file; the sender must not write its bytes.
type Reject struct{}

// Done signals the sender has no more files (or the chat session ended).
type Done struct{}

// Message is implemented by every envelope payload type.
type Message interface {
	isMessage()
}

func (FileOffer) isMessage() {}
func (ChatLine) isMessage()  {}
func (Accept) isMessage()    {}
func (Reject) isMessage()    {}
func (Done) isMessage()      {}

// WriteMessage encodes and writes one envelope to w.
func WriteMessage(w io.Writer, m Message) error {
	var tag byte
	var payload []byte
	switch msg := m.(type) {
	case FileOffer:
		tag = tagFileOffer
		nameBytes := []byte(msg.Name)
		payload = make([]byte, 8+len(nameBytes))
		binary.BigEndian.PutUint64(payload[:8], msg.Size)
		copy(payload[8:], nameBytes)
	case ChatLine:
		tag = tagChatLine
		payload = []byte(msg.Text)
	case Accept:
		tag = tagAccept
	case Reject:
		tag = tagReject
	case Done:
		tag = tagDone
	default:
		return fmt.Errorf("transfer: unknown message type %T", m)
	}

	var header [5]byte
	header[0] = tag
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("transfer: write envelope header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("transfer: write envelope payload: %w", err)
		}
	}
	return nil
}

// ReadMessage reads and decodes one envelope from r.
func ReadMessage(r io.Reader) (Message, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("transfer: read envelope header: %w", err)
	}
	tag := header[0]
	length := binary.BigEndian.Uint32(header[1:])
	if length > maxEnvelope {
		return nil, ErrEnvelopeTooLong
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("transfer: read envelope payload: %w", err)
		}
	}

	switch tag {
	case tagFileOffer:
		if len(payload) < 8 {
			return nil, fmt.Errorf("transfer: file offer payload too short")
		}
		size := binary.BigEndian.Uint64(payload[:8])
		return FileOffer{Name: string(payload[8:]), Size: size}, nil
	case tagChatLine:
		return ChatLine{Text: string(payload)}, nil
	case tagAccept:
		return Accept{}, nil
	case tagReject:
		return Reject{}, nil
	case tagDone:
		return Done{}, nil
	default:
		return nil, fmt.Errorf("transfer: unknown envelope tag 0x%02x", tag)
	}
}

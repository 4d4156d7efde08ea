// Package rendezvous implements the control protocol, server, and client
// for a lightweight TLS-protected matchmaker that pairs two clients by a
// short room id and exchanges their address tuples.
package rendezvous

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/cvsouth/daphne/frame"
	"github.com/cvsouth/daphne/usercode"
)

// Contact is an optional IPv6 socket address plus an optional IPv4 socket
// address; at least one is expected to be present on the wire, though the
// codec itself does not enforce that (callers do).
type Contact struct {
	V6 *net.TCPAddr
	V4 *net.TCPAddr
}

// Empty reports whether neither address family is present.
func (c Contact) Empty() bool {
	return c.V6 == nil && c.V4 == nil
}

// FullContact pairs the address a client bound locally with whatever
// source address the server observed it arriving from.
type FullContact struct {
	Private Contact
	Public  Contact
}

const (
	addrFamilyNone = 0
	addrFamilyV4   = 4
	addrFamilyV6   = 6
)

func encodeAddr(buf *bytes.Buffer, a *net.TCPAddr) {
	if a == nil {
		buf.WriteByte(addrFamilyNone)
		return
	}
	if v4 := a.IP.To4(); v4 != nil {
		buf.WriteByte(addrFamilyV4)
		buf.Write(v4)
	} else {
		buf.WriteByte(addrFamilyV6)
		buf.Write(a.IP.To16())
	}
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], uint16(a.Port))
	buf.Write(portBuf[:])
}

func decodeAddr(r *bytes.Reader) (*net.TCPAddr, error) {
	family, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("rendezvous: read address family: %w", err)
	}
	var ipLen int
	switch family {
	case addrFamilyNone:
		return nil, nil
	case addrFamilyV4:
		ipLen = 4
	case addrFamilyV6:
		ipLen = 16
	default:
		return nil, fmt.Errorf("rendezvous: unknown address family %d", family)
	}
	ip := make([]byte, ipLen)
	if _, err := io.ReadFull(r, ip); err != nil {
		return nil, fmt.Errorf("rendezvous: read address bytes: %w", err)
	}
	var portBuf [2]byte
	if _, err := io.ReadFull(r, portBuf[:]); err != nil {
		return nil, fmt.Errorf("rendezvous: read address port: %w", err)
	}
	return &net.TCPAddr{IP: ip, Port: int(binary.BigEndian.Uint16(portBuf[:]))}, nil
}

func encodeContact(buf *bytes.Buffer, c Contact) {
	encodeAddr(buf, c.V6)
	encodeAddr(buf, c.V4)
}

func decodeContact(r *bytes.Reader) (Contact, error) {
	v6, err := decodeAddr(r)
	if err != nil {
		return Contact{}, err
	}
	v4, err := decodeAddr(r)
	if err != nil {
		return Contact{}, err
	}
	return Contact{V6: v6, V4: v4}, nil
}

func encodeFullContact(buf *bytes.Buffer, fc FullContact) {
	encodeContact(buf, fc.Private)
	encodeContact(buf, fc.Public)
}

func decodeFullContact(r *bytes.Reader) (FullContact, error) {
	priv, err := decodeContact(r)
	if err != nil {
		return FullContact{}, err
	}
	pub, err := decodeContact(r)
	if err != nil {
		return FullContact{}, err
	}
	return FullContact{Private: priv, Public: pub}, nil
}

// Client→server message tags.
const (
	tagCreateRoom   = 0x01
	tagSendContact  = 0x02
	tagDoneSending  = 0x03
)

// Server→client message tags.
const (
	tagRoomCreated        = 0x81
	tagSharePeerContacts  = 0x82
	tagErrorNoSuchRoomID  = 0x83
	tagSyntaxError        = 0x84
	tagErrorRoomTimedOut  = 0x85
)

// ClientMessage is implemented by every client→server message.
type ClientMessage interface {
	isClientMessage()
}

// ServerMessage is implemented by every server→client message.
type ServerMessage interface {
	isServerMessage()
}

// CreateRoom asks the server to allocate a fresh room and make this
// connection its creator slot.
type CreateRoom struct{}

func (CreateRoom) isClientMessage() {}

// SendContact reports this connection's locally-bound address (if any) for
// room_id, as the creator or joiner per IsCreator.
type SendContact struct {
	RoomID      usercode.RoomID
	IsCreator   bool
	PrivateAddr *net.TCPAddr
}

func (SendContact) isClientMessage() {}

// DoneSending arms this slot's completion handle: once both slots of a room
// have sent DoneSending, the server delivers SharePeerContacts to both.
type DoneSending struct {
	RoomID    usercode.RoomID
	IsCreator bool
}

func (DoneSending) isClientMessage() {}

// RoomCreated tells the creator its new room id.
type RoomCreated struct {
	RoomID usercode.RoomID
}

func (RoomCreated) isServerMessage() {}

// SharePeerContacts is delivered to both slots of a room once both have
// sent DoneSending: ClientPublic is the address the server observed this
// connection arriving from, and Peer is the other slot's FullContact.
type SharePeerContacts struct {
	ClientPublic Contact
	Peer         FullContact
}

func (SharePeerContacts) isServerMessage() {}

// ErrorNoSuchRoomID is sent when a SendContact/DoneSending names a room id
// the server has no record of (never existed, already paired, or expired).
type ErrorNoSuchRoomID struct{}

func (ErrorNoSuchRoomID) isServerMessage() {}

// SyntaxError reports a framing or schema failure. Detail is a short
// human-readable description of what was wrong.
type SyntaxError struct {
	Detail string
}

func (SyntaxError) isServerMessage() {}

// ErrorRoomTimedOut is delivered to a waiting slot whose room was not
// paired within the 10-minute lifetime.
type ErrorRoomTimedOut struct{}

func (ErrorRoomTimedOut) isServerMessage() {}

// EncodeClientMessage serializes a ClientMessage to its wire form
// (excluding the frame length prefix).
func EncodeClientMessage(m ClientMessage) ([]byte, error) {
	var buf bytes.Buffer
	switch msg := m.(type) {
	case CreateRoom:
		buf.WriteByte(tagCreateRoom)
	case SendContact:
		buf.WriteByte(tagSendContact)
		var roomBuf [4]byte
		binary.BigEndian.PutUint32(roomBuf[:], uint32(msg.RoomID))
		buf.Write(roomBuf[:])
		buf.WriteByte(boolByte(msg.IsCreator))
		encodeAddr(&buf, msg.PrivateAddr)
	case DoneSending:
		buf.WriteByte(tagDoneSending)
		var roomBuf [4]byte
		binary.BigEndian.PutUint32(roomBuf[:], uint32(msg.RoomID))
		buf.Write(roomBuf[:])
		buf.WriteByte(boolByte(msg.IsCreator))
	default:
		return nil, fmt.Errorf("rendezvous: unknown client message type %T", m)
	}
	return buf.Bytes(), nil
}

// DecodeClientMessage parses the wire form of a ClientMessage.
func DecodeClientMessage(raw []byte) (ClientMessage, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("rendezvous: empty client message")
	}
	r := bytes.NewReader(raw[1:])
	switch raw[0] {
	case tagCreateRoom:
		return CreateRoom{}, nil
	case tagSendContact:
		roomID, err := readRoomID(r)
		if err != nil {
			return nil, err
		}
		isCreator, err := readBool(r)
		if err != nil {
			return nil, err
		}
		addr, err := decodeAddr(r)
		if err != nil {
			return nil, err
		}
		return SendContact{RoomID: roomID, IsCreator: isCreator, PrivateAddr: addr}, nil
	case tagDoneSending:
		roomID, err := readRoomID(r)
		if err != nil {
			return nil, err
		}
		isCreator, err := readBool(r)
		if err != nil {
			return nil, err
		}
		return DoneSending{RoomID: roomID, IsCreator: isCreator}, nil
	default:
		return nil, fmt.Errorf("rendezvous: unknown client message tag 0x%02x", raw[0])
	}
}

// EncodeServerMessage serializes a ServerMessage to its wire form
// (excluding the frame length prefix).
func EncodeServerMessage(m ServerMessage) ([]byte, error) {
	var buf bytes.Buffer
	switch msg := m.(type) {
	case RoomCreated:
		buf.WriteByte(tagRoomCreated)
		var roomBuf [4]byte
		binary.BigEndian.PutUint32(roomBuf[:], uint32(msg.RoomID))
		buf.Write(roomBuf[:])
	case SharePeerContacts:
		buf.WriteByte(tagSharePeerContacts)
		encodeContact(&buf, msg.ClientPublic)
		encodeFullContact(&buf, msg.Peer)
	case ErrorNoSuchRoomID:
		buf.WriteByte(tagErrorNoSuchRoomID)
	case SyntaxError:
		buf.WriteByte(tagSyntaxError)
		detail := []byte(msg.Detail)
		if len(detail) > 255 {
			detail = detail[:255]
		}
		buf.WriteByte(byte(len(detail)))
		buf.Write(detail)
	case ErrorRoomTimedOut:
		buf.WriteByte(tagErrorRoomTimedOut)
	default:
		return nil, fmt.Errorf("rendezvous: unknown server message type %T", m)
	}
	return buf.Bytes(), nil
}

// DecodeServerMessage parses the wire form of a ServerMessage.
func DecodeServerMessage(raw []byte) (ServerMessage, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("rendezvous: empty server message")
	}
	r := bytes.NewReader(raw[1:])
	switch raw[0] {
	case tagRoomCreated:
		roomID, err := readRoomID(r)
		if err != nil {
			return nil, err
		}
		return RoomCreated{RoomID: roomID}, nil
	case tagSharePeerContacts:
		clientPublic, err := decodeContact(r)
		if err != nil {
			return nil, err
		}
		peer, err := decodeFullContact(r)
		if err != nil {
			return nil, err
		}
		return SharePeerContacts{ClientPublic: clientPublic, Peer: peer}, nil
	case tagErrorNoSuchRoomID:
		return ErrorNoSuchRoomID{}, nil
	case tagSyntaxError:
		n, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("rendezvous: read syntax error length: %w", err)
		}
		detail := make([]byte, n)
		if n > 0 {
			if _, err := io.ReadFull(r, detail); err != nil {
				return nil, fmt.Errorf("rendezvous: read syntax error detail: %w", err)
			}
		}
		return SyntaxError{Detail: string(detail)}, nil
	case tagErrorRoomTimedOut:
		return ErrorRoomTimedOut{}, nil
	default:
		return nil, fmt.Errorf("rendezvous: unknown server message tag 0x%02x", raw[0])
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, fmt.Errorf("rendezvous: read bool: %w", err)
	}
	return b != 0, nil
}

func readRoomID(r *bytes.Reader) (usercode.RoomID, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("rendezvous: read room id: %w", err)
	}
	return usercode.RoomID(binary.BigEndian.Uint32(buf[:])), nil
}

// WriteClientMessage frames and writes a client message to w.
func WriteClientMessage(w io.Writer, m ClientMessage) error {
	payload, err := EncodeClientMessage(m)
	if err != nil {
		return err
	}
	return frame.Write(w, payload)
}

// ReadClientMessage reads and decodes one framed client message from r.
func ReadClientMessage(r io.Reader) (ClientMessage, error) {
	payload, err := frame.Read(r)
	if err != nil {
		return nil, err
	}
	return DecodeClientMessage(payload)
}

// WriteServerMessage frames and writes a server message to w.
func WriteServerMessage(w io.Writer, m ServerMessage) error {
	payload, err := EncodeServerMessage(m)
	if err != nil {
		return err
	}
	return frame.Write(w, payload)
}

// ReadServerMessage reads and decodes one framed server message from r.
func ReadServerMessage(r io.Reader) (ServerMessage, error) {
	payload, err := frame.Read(r)
	if err != nil {
		return nil, err
	}
	return DecodeServerMessage(payload)
}

package rendezvous

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/libp2p/go-reuseport"

	"github.com/cvsouth/daphne/usercode"
)

// ErrNoSuchRoom is returned when the server has no record of a room id —
// it never existed, already paired, or has expired.
var ErrNoSuchRoom = errors.New("rendezvous: no such room")

// Client dials the rendezvous server once per available address family,
// always from a caller-chosen local port bound with SO_REUSEADDR/
// SO_REUSEPORT so the hole-punch engine can later bind a listener (and
// dial out) from that exact same local 5-tuple half.
type Client struct {
	ServerAddr string // host:port of the rendezvous server
	TLSConfig  *tls.Config
	Logger     *slog.Logger
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// dial opens a TLS connection to the rendezvous server over network
// ("tcp4" or "tcp6"), bound locally to localPort (0 lets the OS choose,
// in which case the actual chosen port is returned so a later dial on the
// other family — or the hole-punch listener — can reuse it).
func (c *Client) dial(ctx context.Context, network string, localPort int) (*tls.Conn, int, error) {
	laddr := fmt.Sprintf(":%d", localPort)
	rawConn, err := reuseport.Dial(network, laddr, c.ServerAddr)
	if err != nil {
		return nil, 0, fmt.Errorf("rendezvous: dial %s: %w", network, err)
	}
	actualPort := 0
	if tcpAddr, ok := rawConn.LocalAddr().(*net.TCPAddr); ok {
		actualPort = tcpAddr.Port
	}

	tlsConn := tls.Client(rawConn, c.TLSConfig)
	if deadline, ok := ctx.Deadline(); ok {
		_ = tlsConn.SetDeadline(deadline)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = rawConn.Close()
		return nil, 0, fmt.Errorf("rendezvous: TLS handshake: %w", err)
	}
	return tlsConn, actualPort, nil
}

// CreateRoom allocates a new room on the server, returning its id and the
// local port the creator's first connection ended up bound to (pass this
// to FinishFamily/hole-punch for the matching family, and as localPort for
// any second-family FinishFamily call so every socket shares one port).
func (c *Client) CreateRoom(ctx context.Context, network string, localPort int) (usercode.RoomID, int, error) {
	conn, actualPort, err := c.dial(ctx, network, localPort)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = conn.Close() }()

	if err := WriteClientMessage(conn, CreateRoom{}); err != nil {
		return 0, 0, fmt.Errorf("rendezvous: send CreateRoom: %w", err)
	}
	msg, err := ReadServerMessage(conn)
	if err != nil {
		return 0, 0, fmt.Errorf("rendezvous: read RoomCreated: %w", err)
	}
	created, ok := msg.(RoomCreated)
	if !ok {
		return 0, 0, fmt.Errorf("rendezvous: expected RoomCreated, got %T", msg)
	}
	return created.RoomID, actualPort, nil
}

// FinishFamily opens one connection over network, reports this client's
// locally-bound address for that family (nil if this family has no usable
// local address), signals DoneSending, and blocks until the rendezvous
// server has paired both sides of the room — returning the peer's full
// contact info.
func (c *Client) FinishFamily(ctx context.Context, network string, roomID usercode.RoomID, isCreator bool, localPort int, privateAddr *net.TCPAddr) (FullContact, error) {
	conn, _, err := c.dial(ctx, network, localPort)
	if err != nil {
		return FullContact{}, err
	}
	defer func() { _ = conn.Close() }()

	if err := WriteClientMessage(conn, SendContact{RoomID: roomID, IsCreator: isCreator, PrivateAddr: privateAddr}); err != nil {
		return FullContact{}, fmt.Errorf("rendezvous: send SendContact: %w", err)
	}
	if err := WriteClientMessage(conn, DoneSending{RoomID: roomID, IsCreator: isCreator}); err != nil {
		return FullContact{}, fmt.Errorf("rendezvous: send DoneSending: %w", err)
	}

	msg, err := ReadServerMessage(conn)
	if err != nil {
		return FullContact{}, fmt.Errorf("rendezvous: read pairing result: %w", err)
	}
	switch m := msg.(type) {
	case SharePeerContacts:
		return m.Peer, nil
	case ErrorNoSuchRoomID:
		return FullContact{}, ErrNoSuchRoom
	case ErrorRoomTimedOut:
		return FullContact{}, ErrRoomExpired
	case SyntaxError:
		return FullContact{}, fmt.Errorf("rendezvous: server rejected dialogue: %s", m.Detail)
	default:
		return FullContact{}, fmt.Errorf("rendezvous: unexpected reply %T", msg)
	}
}

package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/cvsouth/daphne/usercode"
)

// sessionState tracks where one connection is in the control dialogue.
// Fresh connections may send CreateRoom (creator, no room id yet) or
// SendContact (joiner, or a creator reusing a separate connection for its
// second address family — either way room id and is_creator travel on the
// message itself). Once a room is associated the session is Joined, and
// it becomes Terminal the moment it has sent DoneSending and received its
// answer (or an error), at which point the connection is done.
type sessionState int

const (
	stateFresh sessionState = iota
	stateJoined
	stateTerminal
)

// session drives one accepted connection through the rendezvous dialogue.
type session struct {
	server *Server
	conn   net.Conn
	logger *slog.Logger

	state     sessionState
	room      *Room
	roomID    usercode.RoomID
	isCreator bool
}

func (sess *session) run(ctx context.Context) {
	for sess.state != stateTerminal {
		if err := sess.conn.SetReadDeadline(time.Now().Add(connDeadline)); err != nil {
			return
		}
		msg, err := ReadClientMessage(sess.conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				sess.logger.Debug("rendezvous: connection ended", "error", err)
			}
			return
		}
		if err := sess.handle(ctx, msg); err != nil {
			sess.logger.Debug("rendezvous: session error", "error", err)
			return
		}
	}
}

func (sess *session) handle(ctx context.Context, msg ClientMessage) error {
	switch m := msg.(type) {
	case CreateRoom:
		return sess.handleCreateRoom()
	case SendContact:
		return sess.handleSendContact(m)
	case DoneSending:
		return sess.handleDoneSending(ctx, m)
	default:
		return sess.sendSyntaxError(fmt.Sprintf("unexpected message %T", m))
	}
}

func (sess *session) handleCreateRoom() error {
	if sess.state != stateFresh {
		return sess.sendSyntaxError("CreateRoom sent after the connection already joined a room")
	}
	room, err := sess.server.createRoom()
	if err != nil {
		return sess.sendSyntaxError(err.Error())
	}
	sess.room = room
	sess.roomID = room.ID
	sess.isCreator = true
	sess.state = stateJoined
	return WriteServerMessage(sess.conn, RoomCreated{RoomID: room.ID})
}

func (sess *session) handleSendContact(m SendContact) error {
	room, ok := sess.server.lookupRoom(m.RoomID)
	if !ok {
		return WriteServerMessage(sess.conn, ErrorNoSuchRoomID{})
	}
	if sess.state == stateJoined && (sess.room != room || sess.isCreator != m.IsCreator) {
		return sess.sendSyntaxError("SendContact room/role does not match this connection's prior message")
	}
	sess.room = room
	sess.roomID = m.RoomID
	sess.isCreator = m.IsCreator
	sess.state = stateJoined

	pub, _ := sess.conn.RemoteAddr().(*net.TCPAddr)
	room.RecordContact(m.IsCreator, m.PrivateAddr, pub)
	return nil
}

func (sess *session) handleDoneSending(ctx context.Context, m DoneSending) error {
	room, ok := sess.server.lookupRoom(m.RoomID)
	if !ok {
		sess.state = stateTerminal
		return WriteServerMessage(sess.conn, ErrorNoSuchRoomID{})
	}
	if sess.state == stateJoined && (sess.room != room || sess.isCreator != m.IsCreator) {
		sess.state = stateTerminal
		return sess.sendSyntaxError("DoneSending room/role does not match this connection's prior message")
	}
	sess.room = room
	sess.roomID = m.RoomID
	sess.isCreator = m.IsCreator
	sess.state = stateTerminal

	pub, _ := sess.conn.RemoteAddr().(*net.TCPAddr)
	var clientPublic Contact
	mergeAddr(&clientPublic, pub)

	// The wait for the peer may run for up to the room's full lifetime;
	// clear the per-message read deadline while it's in flight.
	_ = sess.conn.SetReadDeadline(time.Time{})
	peer, err := room.AwaitPeer(ctx, m.IsCreator, clientPublic)
	if err != nil {
		if errors.Is(err, ErrRoomExpired) {
			return WriteServerMessage(sess.conn, ErrorRoomTimedOut{})
		}
		return err
	}
	sess.server.deleteRoom(m.RoomID)
	return WriteServerMessage(sess.conn, SharePeerContacts{ClientPublic: clientPublic, Peer: peer})
}

func (sess *session) sendSyntaxError(detail string) error {
	_ = WriteServerMessage(sess.conn, SyntaxError{Detail: detail})
	return fmt.Errorf("rendezvous: %s", detail)
}

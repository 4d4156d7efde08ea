package rendezvous

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/cvsouth/daphne/usercode"
)

// roomLifetime is how long an unpaired room is kept before it is dropped
// and any connection still waiting on it is sent ErrorRoomTimedOut.
const roomLifetime = 10 * time.Minute

// ErrRoomExpired is delivered to AwaitPeer callers still waiting when a
// room's lifetime elapses without both slots finishing.
var ErrRoomExpired = errors.New("rendezvous: room timed out")

// Room tracks the two slots (creator and joiner) of one pairing in
// progress. Both slots may accumulate contact info across more than one
// connection (a client dials once per address family it has), and either
// slot may have more than one connection blocked in AwaitPeer at a time.
type Room struct {
	ID usercode.RoomID

	mu    sync.Mutex
	slot  [2]roomSlot
	timer *time.Timer
}

type roomSlot struct {
	contact FullContact
	done    bool
	pending []*waiter
}

type waiter struct {
	clientPublic Contact
	resultCh     chan waitOutcome
}

type waitOutcome struct {
	peer FullContact
	err  error
}

func slotIndex(isCreator bool) int {
	if isCreator {
		return 0
	}
	return 1
}

// newRoom constructs a Room and arms its expiry timer. onExpire fires
// exactly once, roomLifetime after construction, unless the room is paired
// or explicitly stopped first.
func newRoom(id usercode.RoomID, onExpire func()) *Room {
	r := &Room{ID: id}
	r.timer = time.AfterFunc(roomLifetime, onExpire)
	return r
}

// stopTimer cancels the expiry timer; callers do this once a room is fully
// paired or explicitly torn down, so a stale AfterFunc can't fire later.
func (r *Room) stopTimer() {
	r.timer.Stop()
}

// RecordContact merges a connection's locally-bound address (priv) and the
// address the server observed it arrive from (pub) into the given slot's
// accumulated FullContact. Either may be nil.
func (r *Room) RecordContact(isCreator bool, priv, pub *net.TCPAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &r.slot[slotIndex(isCreator)]
	mergeAddr(&s.contact.Private, priv)
	mergeAddr(&s.contact.Public, pub)
}

func mergeAddr(c *Contact, addr *net.TCPAddr) {
	if addr == nil {
		return
	}
	if addr.IP.To4() != nil {
		c.V4 = addr
	} else {
		c.V6 = addr
	}
}

// AwaitPeer marks this connection's slot as done and blocks until the
// other slot is also done, at which point it returns the other slot's
// accumulated FullContact alongside the clientPublic address the caller
// supplied (the address observed on this specific connection). It returns
// ErrRoomExpired if the room times out first, or ctx.Err() if ctx is
// cancelled first.
func (r *Room) AwaitPeer(ctx context.Context, isCreator bool, clientPublic Contact) (FullContact, error) {
	r.mu.Lock()
	idx := slotIndex(isCreator)
	other := 1 - idx
	r.slot[idx].done = true

	if r.slot[other].done {
		peer := r.slot[other].contact
		r.flushLocked()
		r.mu.Unlock()
		return peer, nil
	}

	w := &waiter{clientPublic: clientPublic, resultCh: make(chan waitOutcome, 1)}
	r.slot[idx].pending = append(r.slot[idx].pending, w)
	r.mu.Unlock()

	select {
	case out := <-w.resultCh:
		return out.peer, out.err
	case <-ctx.Done():
		return FullContact{}, ctx.Err()
	}
}

// flushLocked wakes every waiter on a slot whose counterpart slot is also
// done. Callers must hold r.mu.
func (r *Room) flushLocked() {
	for i := range r.slot {
		s := &r.slot[i]
		other := 1 - i
		if !s.done || !r.slot[other].done || len(s.pending) == 0 {
			continue
		}
		peer := r.slot[other].contact
		for _, w := range s.pending {
			w.resultCh <- waitOutcome{peer: peer}
		}
		s.pending = nil
	}
}

// expire wakes every waiter still pending on either slot with
// ErrRoomExpired. Called once, when the room's lifetime elapses.
func (r *Room) expire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slot {
		s := &r.slot[i]
		for _, w := range s.pending {
			w.resultCh <- waitOutcome{err: ErrRoomExpired}
		}
		s.pending = nil
	}
}

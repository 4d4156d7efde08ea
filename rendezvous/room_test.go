package rendezvous

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestAwaitPeerResolvesOnceBothDone(t *testing.T) {
	r := newRoom(1, func() {})
	defer r.stopTimer()

	creatorPriv := &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1000}
	joinerPriv := &net.TCPAddr{IP: net.ParseIP("10.0.0.2"), Port: 2000}
	r.RecordContact(true, creatorPriv, nil)
	r.RecordContact(false, joinerPriv, nil)

	type result struct {
		peer FullContact
		err  error
	}
	creatorCh := make(chan result, 1)
	go func() {
		peer, err := r.AwaitPeer(context.Background(), true, Contact{})
		creatorCh <- result{peer, err}
	}()

	// Give the creator a moment to register as a waiter before the joiner
	// finishes, exercising the pending-waiter path rather than the
	// immediate-resolve path.
	time.Sleep(20 * time.Millisecond)

	joinerPeer, err := r.AwaitPeer(context.Background(), false, Contact{})
	if err != nil {
		t.Fatalf("joiner AwaitPeer: %v", err)
	}
	if joinerPeer.Private.V4 == nil || !joinerPeer.Private.V4.IP.Equal(creatorPriv.IP) {
		t.Fatalf("joiner got wrong peer contact: %+v", joinerPeer)
	}

	select {
	case got := <-creatorCh:
		if got.err != nil {
			t.Fatalf("creator AwaitPeer: %v", got.err)
		}
		if got.peer.Private.V4 == nil || !got.peer.Private.V4.IP.Equal(joinerPriv.IP) {
			t.Fatalf("creator got wrong peer contact: %+v", got.peer)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("creator AwaitPeer never resolved")
	}
}

func TestAwaitPeerImmediateResolveWhenAlreadyDone(t *testing.T) {
	r := newRoom(2, func() {})
	defer r.stopTimer()

	joinerPriv := &net.TCPAddr{IP: net.ParseIP("10.0.0.9"), Port: 9}
	r.RecordContact(false, joinerPriv, nil)
	if _, err := r.AwaitPeer(context.Background(), false, Contact{}); err != nil {
		t.Fatalf("joiner AwaitPeer: %v", err)
	}

	creatorPriv := &net.TCPAddr{IP: net.ParseIP("10.0.0.8"), Port: 8}
	r.RecordContact(true, creatorPriv, nil)
	peer, err := r.AwaitPeer(context.Background(), true, Contact{})
	if err != nil {
		t.Fatalf("creator AwaitPeer: %v", err)
	}
	if peer.Private.V4 == nil || !peer.Private.V4.IP.Equal(joinerPriv.IP) {
		t.Fatalf("got wrong peer contact: %+v", peer)
	}
}

func TestAwaitPeerExpires(t *testing.T) {
	r := &Room{ID: 3}
	r.timer = time.AfterFunc(time.Hour, func() {})
	defer r.stopTimer()

	done := make(chan error, 1)
	go func() {
		_, err := r.AwaitPeer(context.Background(), true, Contact{})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	r.expire()

	select {
	case err := <-done:
		if err != ErrRoomExpired {
			t.Fatalf("got %v, want ErrRoomExpired", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitPeer never returned after expire")
	}
}

func TestAwaitPeerContextCancel(t *testing.T) {
	r := newRoom(4, func() {})
	defer r.stopTimer()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.AwaitPeer(ctx, true, Contact{})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected context cancellation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitPeer never returned after cancel")
	}
}

func TestMergeAddrPicksFamily(t *testing.T) {
	var c Contact
	mergeAddr(&c, &net.TCPAddr{IP: net.ParseIP("1.2.3.4"), Port: 1})
	mergeAddr(&c, &net.TCPAddr{IP: net.ParseIP("2001:db8::1"), Port: 2})
	if c.V4 == nil || c.V6 == nil {
		t.Fatalf("expected both families set: %+v", c)
	}
}

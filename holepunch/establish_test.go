package holepunch

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/cvsouth/daphne/usercode"
)

// TestEstablishBothSidesAgreeOnKey exercises a full loopback pairing: two
// Establish calls, one per side, over the same candidate pair and secret,
// must land on the same session key.
func TestEstablishBothSidesAgreeOnKey(t *testing.T) {
	portA := freePort(t)
	portB := freePort(t)

	secret, err := usercode.NewPeerSecret()
	if err != nil {
		t.Fatalf("NewPeerSecret: %v", err)
	}

	candForA := Candidate{Network: "tcp4", Addr: "127.0.0.1:" + strconv.Itoa(portB)}
	candForB := Candidate{Network: "tcp4", Addr: "127.0.0.1:" + strconv.Itoa(portA)}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		conn net.Conn
		key  [32]byte
		err  error
	}
	resultsA := make(chan result, 1)
	resultsB := make(chan result, 1)

	go func() {
		conn, key, err := Establish(ctx, portA, []Candidate{candForA}, secret, true, slog.Default())
		resultsA <- result{conn, key, err}
	}()
	go func() {
		conn, key, err := Establish(ctx, portB, []Candidate{candForB}, secret, false, slog.Default())
		resultsB <- result{conn, key, err}
	}()

	ra := <-resultsA
	rb := <-resultsB
	if ra.err != nil {
		t.Fatalf("creator Establish: %v", ra.err)
	}
	if rb.err != nil {
		t.Fatalf("joiner Establish: %v", rb.err)
	}
	defer func() { _ = ra.conn.Close() }()
	defer func() { _ = rb.conn.Close() }()

	if ra.key != rb.key {
		t.Fatalf("session keys differ: %x vs %x", ra.key, rb.key)
	}
}

// TestEstablishFailsOnSecretMismatch ensures a socket that connects but
// cannot authenticate does not get treated as a win: with a single,
// mismatched-secret candidate on each side, both calls must fail rather
// than returning an unauthenticated connection.
func TestEstablishFailsOnSecretMismatch(t *testing.T) {
	portA := freePort(t)
	portB := freePort(t)

	secretA, err := usercode.NewPeerSecret()
	if err != nil {
		t.Fatalf("NewPeerSecret: %v", err)
	}
	var secretB usercode.PeerSecret
	for {
		secretB, err = usercode.NewPeerSecret()
		if err != nil {
			t.Fatalf("NewPeerSecret: %v", err)
		}
		if secretB != secretA {
			break
		}
	}

	candForA := Candidate{Network: "tcp4", Addr: "127.0.0.1:" + strconv.Itoa(portB)}
	candForB := Candidate{Network: "tcp4", Addr: "127.0.0.1:" + strconv.Itoa(portA)}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		conn net.Conn
		err  error
	}
	resultsA := make(chan result, 1)
	resultsB := make(chan result, 1)

	go func() {
		conn, _, err := Establish(ctx, portA, []Candidate{candForA}, secretA, true, slog.Default())
		resultsA <- result{conn, err}
	}()
	go func() {
		conn, _, err := Establish(ctx, portB, []Candidate{candForB}, secretB, false, slog.Default())
		resultsB <- result{conn, err}
	}()

	ra := <-resultsA
	rb := <-resultsB
	if ra.err == nil {
		_ = ra.conn.Close()
		t.Fatal("creator Establish unexpectedly succeeded with mismatched secrets")
	}
	if rb.err == nil {
		_ = rb.conn.Close()
		t.Fatal("joiner Establish unexpectedly succeeded with mismatched secrets")
	}
}


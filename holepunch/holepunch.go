// Package holepunch implements a dual-stack simultaneous-open engine: for
// each candidate peer address, race a connect attempt against an accept
// attempt sharing the same local 5-tuple (via SO_REUSEADDR/SO_REUSEPORT),
// across every candidate concurrently. Connect keeps whichever raw socket
// completes first; Establish goes further and folds SPAKE2 authentication
// into each candidate's own attempt, so only a socket that authenticates
// as the expected peer wins the race.
package holepunch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/libp2p/go-reuseport"
	"golang.org/x/sync/errgroup"
)

// retryInterval is how often a losing connect attempt redials while its
// sibling accept attempt is still listening.
const retryInterval = 200 * time.Millisecond

// ErrPeerConnectFailed is returned when no candidate address yielded a
// connection, whether by connect or by accept.
var ErrPeerConnectFailed = errors.New("holepunch: failed to establish a connection to the peer")

// Candidate is one address worth racing a connect/accept pair against.
// Network is "tcp4" or "tcp6"; Addr is the peer's host:port for that
// family.
type Candidate struct {
	Network string
	Addr    string
}

// Connect races a connect-or-accept attempt against every candidate,
// sharing localPort across all of them (each candidate's listener and
// dialer bind there via SO_REUSEPORT), and returns the first socket that
// completes — either side winning is treated identically. All other
// attempts are cancelled and their sockets closed once a winner is found.
// Connect performs no authentication of its own; callers that need the
// result to actually be the intended peer, not just some TCP connection,
// should use Establish instead.
func Connect(ctx context.Context, localPort int, candidates []Candidate, logger *slog.Logger) (net.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidate addresses", ErrPeerConnectFailed)
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	var winner net.Conn

	g, gctx := errgroup.WithContext(raceCtx)
	for _, cand := range candidates {
		cand := cand
		g.Go(func() error {
			conn, err := raceOne(gctx, cand, localPort, logger)
			if err != nil {
				logger.Debug("holepunch: candidate failed", "network", cand.Network, "addr", cand.Addr, "error", err)
				return nil
			}
			mu.Lock()
			if winner == nil {
				winner = conn
				cancel()
			} else {
				_ = conn.Close()
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if winner == nil {
		return nil, ErrPeerConnectFailed
	}
	tuneKeepAlive(winner, logger)
	return winner, nil
}

// raceOne runs one candidate's connect attempt against an accept attempt
// sharing localPort, returning whichever completes first.
func raceOne(parent context.Context, cand Candidate, localPort int, logger *slog.Logger) (net.Conn, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	type attempt struct {
		conn net.Conn
		err  error
	}
	results := make(chan attempt, 2)

	go func() {
		conn, err := acceptOnce(ctx, cand.Network, localPort)
		results <- attempt{conn, err}
	}()
	go func() {
		conn, err := connectUntil(ctx, cand.Network, localPort, cand.Addr)
		results <- attempt{conn, err}
	}()

	var winner net.Conn
	var firstErr error
	for i := 0; i < 2; i++ {
		r := <-results
		switch {
		case r.err == nil && winner == nil:
			winner = r.conn
			cancel()
		case r.err == nil:
			_ = r.conn.Close()
		case firstErr == nil:
			firstErr = r.err
		}
	}
	if winner == nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("holepunch: %s %s: no connection established", cand.Network, cand.Addr)
		}
		return nil, firstErr
	}
	logger.Debug("holepunch: candidate connected", "network", cand.Network, "addr", cand.Addr)
	return winner, nil
}

// acceptOnce listens on localPort for network and returns the first
// inbound connection, or ctx.Err() if ctx is cancelled first.
func acceptOnce(ctx context.Context, network string, localPort int) (net.Conn, error) {
	ln, err := reuseport.Listen(network, fmt.Sprintf(":%d", localPort))
	if err != nil {
		return nil, fmt.Errorf("holepunch: listen %s:%d: %w", network, localPort, err)
	}
	closed := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-closed:
		}
	}()
	conn, err := ln.Accept()
	close(closed)
	_ = ln.Close()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("holepunch: accept %s:%d: %w", network, localPort, err)
	}
	return conn, nil
}

// connectUntil repeatedly dials addr from localPort until it succeeds or
// ctx is cancelled.
func connectUntil(ctx context.Context, network string, localPort int, addr string) (net.Conn, error) {
	laddr := fmt.Sprintf(":%d", localPort)
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		conn, err := reuseport.Dial(network, laddr, addr)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

package holepunch

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cvsouth/daphne/pake"
	"github.com/cvsouth/daphne/usercode"
	"golang.org/x/sync/errgroup"
)

// Establish races every candidate address, but unlike Connect a socket
// does not win the race merely by completing a raw connect/accept: SPAKE2
// exchange and mutual key confirmation run on each candidate's socket as
// part of its own attempt, and only a socket that authenticates as the
// peer holding secret is kept. A socket that connects but fails
// authentication is closed and the race continues among the remaining
// candidates rather than failing the whole exchange; ErrPeerConnectFailed
// is returned only once every candidate has either failed to connect or
// failed to authenticate.
func Establish(ctx context.Context, localPort int, candidates []Candidate, secret usercode.PeerSecret, isCreator bool, logger *slog.Logger) (net.Conn, [32]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(candidates) == 0 {
		return nil, [32]byte{}, fmt.Errorf("%w: no candidate addresses", ErrPeerConnectFailed)
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	var winner net.Conn
	var winnerKey [32]byte

	g, gctx := errgroup.WithContext(raceCtx)
	for _, cand := range candidates {
		cand := cand
		g.Go(func() error {
			conn, key, ok := connectAndAuthenticate(gctx, cand, localPort, secret, isCreator, logger)
			if !ok {
				return nil
			}
			mu.Lock()
			if winner == nil {
				winner = conn
				winnerKey = key
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
		return nil, [32]byte{}, ErrPeerConnectFailed
	}
	tuneKeepAlive(winner, logger)
	logger.Info("holepunch: peer connection established and authenticated")
	return winner, winnerKey, nil
}

// connectAndAuthenticate runs one candidate's connect/accept race, then
// SPAKE2 exchange and key confirmation over the winning raw socket. A
// raw connect with no subsequent authentication is not a win: the socket
// is closed and ok is false so the caller tries the next candidate.
func connectAndAuthenticate(ctx context.Context, cand Candidate, localPort int, secret usercode.PeerSecret, isCreator bool, logger *slog.Logger) (net.Conn, [32]byte, bool) {
	conn, err := raceOne(ctx, cand, localPort, logger)
	if err != nil {
		logger.Debug("holepunch: candidate failed to connect", "network", cand.Network, "addr", cand.Addr, "error", err)
		return nil, [32]byte{}, false
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	key, err := pake.Exchange(conn, secret)
	if err == nil {
		err = pake.ConfirmAndAuthenticate(conn, key, isCreator)
	}
	if err != nil {
		logger.Debug("holepunch: candidate failed authentication", "network", cand.Network, "addr", cand.Addr, "error", err)
		_ = conn.Close()
		return nil, [32]byte{}, false
	}

	_ = conn.SetDeadline(time.Time{})
	return conn, key, true
}

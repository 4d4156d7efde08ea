//go:build linux

package holepunch

import (
	"log/slog"
	"net"

	"golang.org/x/sys/unix"
)

// keepaliveIdle, keepaliveInterval, and keepaliveCount tune how quickly a
// silently-dead peer connection (NAT rebinding, a dropped mobile link) is
// detected: the kernel starts probing after keepaliveIdle of inactivity,
// every keepaliveInterval thereafter, and gives up after keepaliveCount
// unanswered probes.
const (
	keepaliveIdle     = 10
	keepaliveInterval = 1
	keepaliveCount    = 10
)

// tuneKeepAlive enables TCP keepalive with aggressive timing on conn, when
// conn is backed by a raw TCP socket. It logs and otherwise ignores
// failures: a punched connection without tuned keepalive still works, it
// just takes longer to notice a dead peer.
func tuneKeepAlive(conn net.Conn, logger *slog.Logger) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tc.SetKeepAlive(true); err != nil {
		logger.Debug("holepunch: enable keepalive failed", "error", err)
		return
	}
	rawConn, err := tc.SyscallConn()
	if err != nil {
		logger.Debug("holepunch: SyscallConn failed", "error", err)
		return
	}
	var sockErr error
	err = rawConn.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, keepaliveIdle); e != nil {
			sockErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, keepaliveInterval); e != nil {
			sockErr = e
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, keepaliveCount)
	})
	if err == nil {
		err = sockErr
	}
	if err != nil {
		logger.Debug("holepunch: tune keepalive failed", "error", err)
	}
}

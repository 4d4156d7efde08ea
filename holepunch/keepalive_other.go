//go:build !linux

package holepunch

import (
	"log/slog"
	"net"
	"time"
)

// keepalivePeriod is the portable approximation of the Linux build's
// per-probe tuning: Go's net package only exposes a single period, not
// independent idle/interval/count knobs.
const keepalivePeriod = 1 * time.Second

// tuneKeepAlive enables TCP keepalive with a short period on conn, when
// conn is backed by a raw TCP socket.
func tuneKeepAlive(conn net.Conn, logger *slog.Logger) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tc.SetKeepAlive(true); err != nil {
		logger.Debug("holepunch: enable keepalive failed", "error", err)
		return
	}
	if err := tc.SetKeepAlivePeriod(keepalivePeriod); err != nil {
		logger.Debug("holepunch: set keepalive period failed", "error", err)
	}
}

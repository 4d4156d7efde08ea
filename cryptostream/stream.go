// Package cryptostream implements the authenticated, ordered, encrypted
// duplex byte stream that the hole-punch engine's winning socket is wrapped
// in: an 8-byte clear nonce prefix followed by a sequence of
// u32-BE-length-prefixed ChaCha20-Poly1305 records, each sealing at most
// MaxChunk plaintext bytes. Each direction owns its own AEAD instance and
// ring buffers; the two directions share nothing beyond the immutable
// 32-byte session key, matching circuit.Circuit's rmu/wmu independent-lock-
// per-direction discipline, generalized here to two fully independent
// halves of a split net.Conn.
package cryptostream

import (
	"errors"
	"net"
	"sync"
)

// MaxChunk is the largest plaintext chunk a single record may carry.
const MaxChunk = 8192

// Overhead is the ChaCha20-Poly1305 authentication tag size.
const Overhead = 16

// maxPlain is the largest amount of plaintext the writer collects before
// sealing: MaxChunk minus the tag, so that sealed records top out at
// exactly MaxChunk bytes (comfortably under the MaxChunk+16 wire bound).
const maxPlain = MaxChunk - Overhead

// noncePrefixLen is the length of the clear nonce each direction writes
// once at stream start.
const noncePrefixLen = 8

// nonceLen is the full ChaCha20-Poly1305 nonce length: the 8-byte prefix
// plus a 4-byte little-endian 31-bit chunk counter (the top bit is
// reserved and always zero).
const nonceLen = 12

// ErrAEAD is surfaced when a record fails to decrypt. It is sticky: once a
// Reader observes it, every subsequent Read returns it and no further
// plaintext is ever returned.
var ErrAEAD = errors.New("cryptostream: AEAD decryption failed")

// ErrRecordTooLong is returned when an incoming record's declared length
// exceeds what any valid sender could have produced.
var ErrRecordTooLong = errors.New("cryptostream: record exceeds maximum chunk size")

func buildNonce(prefix [noncePrefixLen]byte, counter uint32) [nonceLen]byte {
	var n [nonceLen]byte
	copy(n[:noncePrefixLen], prefix[:])
	c := counter & 0x7fffffff
	n[noncePrefixLen+0] = byte(c)
	n[noncePrefixLen+1] = byte(c >> 8)
	n[noncePrefixLen+2] = byte(c >> 16)
	n[noncePrefixLen+3] = byte(c >> 24)
	return n
}

// sharedConn lets a ReadHalf and a WriteHalf independently close their side
// of one underlying net.Conn: a half-close (CloseRead/CloseWrite) when the
// conn supports it, otherwise a guarded full close the second closer is a
// no-op for.
type sharedConn struct {
	net.Conn
	mu     sync.Mutex
	closed bool
}

func (s *sharedConn) fallbackClose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.Conn.Close()
}

// ReadHalf is the read-only, independently-closeable half of a split
// net.Conn.
type ReadHalf struct {
	shared *sharedConn
}

func (h *ReadHalf) Read(p []byte) (int, error) { return h.shared.Conn.Read(p) }

// Close closes this half only. If the underlying connection supports
// half-close (e.g. *net.TCPConn) only the read side is shut down and the
// peer can still finish writing; otherwise the whole connection is closed
// the first time either half is closed.
func (h *ReadHalf) Close() error {
	if tc, ok := h.shared.Conn.(interface{ CloseRead() error }); ok {
		return tc.CloseRead()
	}
	return h.shared.fallbackClose()
}

// WriteHalf is the write-only, independently-closeable half of a split
// net.Conn.
type WriteHalf struct {
	shared *sharedConn
}

func (h *WriteHalf) Write(p []byte) (int, error) { return h.shared.Conn.Write(p) }

// Close closes this half only (see ReadHalf.Close).
func (h *WriteHalf) Close() error {
	if tc, ok := h.shared.Conn.(interface{ CloseWrite() error }); ok {
		return tc.CloseWrite()
	}
	return h.shared.fallbackClose()
}

// Split divides conn into independently-owned read and write halves: the
// encrypted stream's Reader takes the ReadHalf, its Writer takes the
// WriteHalf, and either can be closed without disturbing the other so long
// as the transport supports half-close.
func Split(conn net.Conn) (*ReadHalf, *WriteHalf) {
	s := &sharedConn{Conn: conn}
	return &ReadHalf{shared: s}, &WriteHalf{shared: s}
}

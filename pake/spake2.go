// Package pake implements the symmetric SPAKE2 password-authenticated key
// exchange used to turn a raw, unauthenticated TCP socket plus a 3-character
// PeerSecret into a confirmed 32-byte session key. Point and scalar
// arithmetic is done with filippo.io/edwards25519, the same group-arithmetic
// library used elsewhere in this module for Ed25519 key blinding.
package pake

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"filippo.io/edwards25519"

	"github.com/cvsouth/daphne/usercode"
)

// ElementLen is the wire size of a SPAKE2 protocol element: a one-byte
// format tag followed by a 32-byte compressed Edwards25519 point.
const ElementLen = 33

const elementTag = 0x01

// ErrConfirmationMismatch is returned by ConfirmAndAuthenticate when the
// peer's confirmation code does not match the expected value — the two
// sides used different PeerSecrets, or the socket is being tampered with.
var ErrConfirmationMismatch = errors.New("pake: key confirmation mismatch")

// sGenerator is the symmetric variant's single nothing-up-my-sleeve blinding
// point (both sides use the same point; there is no separate M/N for
// creator vs. joiner since symmetric SPAKE2 has no asymmetric roles at the
// PAKE layer — role asymmetry is introduced only during confirmation).
var sGenerator = deriveGenerator("daphne spake2 symmetric generator v1")

func deriveGenerator(label string) *edwards25519.Point {
	h := sha512.Sum512([]byte(label))
	s, err := edwards25519.NewScalar().SetUniformBytes(h[:])
	if err != nil {
		panic("pake: failed to derive generator: " + err.Error())
	}
	return new(edwards25519.Point).ScalarBaseMult(s)
}

// passwordScalar hashes a PeerSecret down to a scalar in the group's
// scalar field.
func passwordScalar(secret usercode.PeerSecret) (*edwards25519.Scalar, error) {
	h := sha512.Sum512([]byte("daphne spake2 password:" + string(secret)))
	return edwards25519.NewScalar().SetUniformBytes(h[:])
}

// Handshake holds one side's ephemeral SPAKE2 state. It must be closed to
// zero its ephemeral scalar once the exchange is complete or abandoned.
type Handshake struct {
	x *edwards25519.Scalar // ephemeral secret
	X *edwards25519.Point  // x*B
	w *edwards25519.Scalar // password scalar
}

// NewHandshake creates a fresh ephemeral SPAKE2 state keyed on secret.
func NewHandshake(secret usercode.PeerSecret) (*Handshake, error) {
	var xBytes [64]byte
	if _, err := rand.Read(xBytes[:]); err != nil {
		return nil, fmt.Errorf("pake: generate ephemeral scalar: %w", err)
	}
	x, err := edwards25519.NewScalar().SetUniformBytes(xBytes[:])
	if err != nil {
		return nil, fmt.Errorf("pake: reduce ephemeral scalar: %w", err)
	}
	w, err := passwordScalar(secret)
	if err != nil {
		return nil, fmt.Errorf("pake: derive password scalar: %w", err)
	}
	X := new(edwards25519.Point).ScalarBaseMult(x)
	return &Handshake{x: x, X: X, w: w}, nil
}

// Close zeroes the ephemeral private scalar. Safe to call multiple times.
func (h *Handshake) Close() {
	if h.x != nil {
		h.x = edwards25519.NewScalar()
	}
}

// element computes this side's outgoing protocol element T = X + w*S.
func (h *Handshake) element() [ElementLen]byte {
	wS := new(edwards25519.Point).ScalarMult(h.w, sGenerator)
	T := new(edwards25519.Point).Add(h.X, wS)
	var out [ElementLen]byte
	out[0] = elementTag
	copy(out[1:], T.Bytes())
	return out
}

// finish consumes the peer's element, derives the shared point K = x*(T' -
// w*S), and mixes it with both sides' elements (in a canonical, role-
// independent order) into the 32-byte session key.
func (h *Handshake) finish(peerElement [ElementLen]byte) ([32]byte, error) {
	if peerElement[0] != elementTag {
		return [32]byte{}, fmt.Errorf("pake: unrecognised element tag %d", peerElement[0])
	}
	Tpeer, err := new(edwards25519.Point).SetBytes(peerElement[1:])
	if err != nil {
		return [32]byte{}, fmt.Errorf("pake: decode peer element: %w", err)
	}

	wS := new(edwards25519.Point).ScalarMult(h.w, sGenerator)
	negWS := new(edwards25519.Point).Negate(wS)
	peerX := new(edwards25519.Point).Add(Tpeer, negWS)

	K := new(edwards25519.Point).ScalarMult(h.x, peerX)

	mine := h.element()
	a, b := mine, peerElement
	if lexLess(b[:], a[:]) {
		a, b = b, a
	}

	mac := sha256.New()
	mac.Write(K.Bytes())
	mac.Write(a[:])
	mac.Write(b[:])
	var key [32]byte
	copy(key[:], mac.Sum(nil))
	return key, nil
}

func lexLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Exchange runs the full SPAKE2 element exchange over rw: it writes this
// side's element, reads the peer's, and returns the derived 32-byte session
// key. It does not by itself authenticate anything — callers must follow up
// with ConfirmAndAuthenticate.
func Exchange(rw io.ReadWriter, secret usercode.PeerSecret) ([32]byte, error) {
	h, err := NewHandshake(secret)
	if err != nil {
		return [32]byte{}, err
	}
	defer h.Close()

	mine := h.element()
	if _, err := rw.Write(mine[:]); err != nil {
		return [32]byte{}, fmt.Errorf("pake: send element: %w", err)
	}

	var peerElement [ElementLen]byte
	if _, err := io.ReadFull(rw, peerElement[:]); err != nil {
		return [32]byte{}, fmt.Errorf("pake: read peer element: %w", err)
	}

	return h.finish(peerElement)
}

// roleByte returns the confirmation role byte: 1 for the creator, 0 for the
// joiner. The role byte exists only so one forwarded confirmation message
// cannot trivially satisfy both sides of a man-in-the-middle relay.
func roleByte(isCreator bool) byte {
	if isCreator {
		return 1
	}
	return 0
}

func confirmationCode(key [32]byte, role byte) [32]byte {
	h := sha256.New()
	h.Write(key[:])
	h.Write([]byte{role})
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ConfirmAndAuthenticate performs the mutual key-confirmation exchange that
// upgrades a SPAKE2-derived key from "both sides plugged in the same
// password" to "this specific socket is authenticated": each side sends
// SHA-256(key ∥ role_byte) and compares the peer's reply to its own expected
// value. A mismatch, short read, or transport error fails this socket only —
// callers (holepunch) simply try the next candidate.
func ConfirmAndAuthenticate(rw io.ReadWriter, key [32]byte, isCreator bool) error {
	my := confirmationCode(key, roleByte(isCreator))
	peerExpected := confirmationCode(key, roleByte(!isCreator))

	if _, err := rw.Write(my[:]); err != nil {
		return fmt.Errorf("pake: send confirmation: %w", err)
	}

	var got [32]byte
	if _, err := io.ReadFull(rw, got[:]); err != nil {
		return fmt.Errorf("pake: read confirmation: %w", err)
	}

	if got != peerExpected {
		return ErrConfirmationMismatch
	}
	return nil
}

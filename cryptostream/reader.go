package cryptostream

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/cvsouth/daphne/ringbuffer"
)

// Reader decrypts the record stream produced by a peer Writer. It keeps a
// ciphertext ring (capacity 2*MaxChunk, so a record can straddle a prior
// partial read) and a plaintext ring (capacity MaxChunk) that callers drain
// via Read. A decryption failure is sticky: once observed, every later Read
// returns ErrAEAD and no further plaintext is ever produced, even if bytes
// are already sitting decrypted in the plaintext ring.
type Reader struct {
	r       io.Reader
	aead    cipher.AEAD
	prefix  [noncePrefixLen]byte
	counter uint32

	cipherRing *ringbuffer.Buffer
	plainRing  *ringbuffer.Buffer

	readNonce bool
	failed    bool
	failErr   error
}

// NewReader constructs a Reader over r, keyed by key. Like NewWriter, it
// defers reading the clear nonce prefix until the first Read/Peek call.
func NewReader(r io.Reader, key [32]byte) (*Reader, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("cryptostream: init AEAD: %w", err)
	}
	return &Reader{
		r:          r,
		aead:       aead,
		cipherRing: ringbuffer.New(2 * MaxChunk),
		plainRing:  ringbuffer.New(MaxChunk),
	}, nil
}

func (rd *Reader) ensureNonceRead() error {
	if rd.readNonce {
		return nil
	}
	if _, err := io.ReadFull(rd.r, rd.prefix[:]); err != nil {
		return fmt.Errorf("cryptostream: read nonce prefix: %w", err)
	}
	rd.readNonce = true
	return nil
}

// Read implements io.Reader. It returns decrypted plaintext bytes in order;
// a tampered or otherwise invalid record surfaces as ErrAEAD, never as
// truncated or altered plaintext. EOF of the underlying transport with no
// buffered plaintext is reported as io.EOF.
func (rd *Reader) Read(p []byte) (int, error) {
	if rd.failed {
		return 0, rd.failErr
	}
	if err := rd.ensureNonceRead(); err != nil {
		return 0, err
	}

	for len(rd.plainRing.Data()) == 0 {
		if err := rd.fill(); err != nil {
			return 0, err
		}
	}

	n := copy(p, rd.plainRing.Data())
	rd.plainRing.AdvanceCursor(n)
	return n, nil
}

// Peek returns the current contiguous span of unconsumed cleartext,
// reading and decrypting more if none is buffered. Callers that want to
// line-buffer can inspect the span without copying, then call Consume.
func (rd *Reader) Peek() ([]byte, error) {
	if rd.failed {
		return nil, rd.failErr
	}
	if err := rd.ensureNonceRead(); err != nil {
		return nil, err
	}
	for len(rd.plainRing.Data()) == 0 {
		if err := rd.fill(); err != nil {
			return nil, err
		}
	}
	return rd.plainRing.Data(), nil
}

// Consume advances past n bytes of the span last returned by Peek.
func (rd *Reader) Consume(n int) {
	rd.plainRing.AdvanceCursor(n)
}

// fill decodes as many complete records as currently available, then — if
// none were available — performs one underlying read and retries. It
// returns once at least one byte of new plaintext is available, or a
// terminal error (io.EOF, ErrAEAD, transport error).
func (rd *Reader) fill() error {
	decodedAny := false
	for {
		ok, err := rd.decodeOne()
		if err != nil {
			rd.failed = true
			rd.failErr = err
			return err
		}
		if !ok {
			break
		}
		decodedAny = true
	}
	if decodedAny {
		return nil
	}

	if rd.cipherRing.SpareCapacityLen() == 0 {
		rd.cipherRing.Wrap()
	}
	if rd.cipherRing.SpareCapacityLen() == 0 {
		err := fmt.Errorf("cryptostream: incoming record exceeds ciphertext buffer")
		rd.failed = true
		rd.failErr = err
		return err
	}

	n, err := rd.r.Read(rd.cipherRing.Spare())
	if n > 0 {
		rd.cipherRing.Grow(n)
	}
	if n == 0 && err != nil {
		if err == io.EOF && len(rd.plainRing.Data()) > 0 {
			return nil
		}
		return err
	}
	return nil
}

// decodeOne attempts to decrypt one complete record sitting at the front of
// the ciphertext ring. It returns (true, nil) if a record was decoded and
// appended to the plaintext ring, (false, nil) if there isn't a complete
// record yet (or the plaintext ring has no room for it right now), or
// (false, err) on a fatal decode error.
func (rd *Reader) decodeOne() (bool, error) {
	data := rd.cipherRing.Data()
	if len(data) < 4 {
		return false, nil
	}
	recordLen := binary.BigEndian.Uint32(data[:4])
	if recordLen > MaxChunk+Overhead {
		return false, ErrRecordTooLong
	}
	if uint32(len(data)-4) < recordLen {
		return false, nil
	}
	plainLen := int(recordLen) - Overhead
	if plainLen < 0 {
		return false, fmt.Errorf("cryptostream: record shorter than AEAD tag")
	}
	if rd.plainRing.SpareCapacityLen() < plainLen {
		return false, nil
	}

	ciphertext := data[4 : 4+recordLen]
	nonce := buildNonce(rd.prefix, rd.counter)

	dst := rd.plainRing.Spare()[:0]
	out, err := rd.aead.Open(dst, nonce[:], ciphertext, nil)
	if err != nil {
		return false, ErrAEAD
	}
	rd.plainRing.Grow(len(out))
	rd.cipherRing.AdvanceCursor(4 + int(recordLen))
	rd.counter++
	return true, nil
}

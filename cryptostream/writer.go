package cryptostream

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// Writer collects plaintext into a chunk of up to maxPlain bytes, then
// seals and flushes it as one length-prefixed record. At most one unflushed
// plaintext chunk exists at a time; Write never buffers more than that, so
// the sequence of sealed records corresponds 1-to-1 with the AEAD's chunk
// counter.
type Writer struct {
	w       io.Writer
	aead    cipher.AEAD
	prefix  [noncePrefixLen]byte
	counter uint32
	plain   []byte
	wroteNonce bool
}

// NewWriter constructs a Writer over w, keyed by key. It does not write the
// clear nonce prefix until the first Write/Flush call, so constructing a
// Writer never blocks on I/O.
func NewWriter(w io.Writer, key [32]byte) (*Writer, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("cryptostream: init AEAD: %w", err)
	}
	var prefix [noncePrefixLen]byte
	if _, err := rand.Read(prefix[:]); err != nil {
		return nil, fmt.Errorf("cryptostream: generate nonce prefix: %w", err)
	}
	return &Writer{
		w:      w,
		aead:   aead,
		prefix: prefix,
		plain:  make([]byte, 0, maxPlain),
	}, nil
}

func (wr *Writer) ensureNonceWritten() error {
	if wr.wroteNonce {
		return nil
	}
	if _, err := wr.w.Write(wr.prefix[:]); err != nil {
		return fmt.Errorf("cryptostream: write nonce prefix: %w", err)
	}
	wr.wroteNonce = true
	return nil
}

// Write copies as much of p as fits into the current plaintext chunk,
// sealing and flushing a record each time the chunk fills, and returns the
// number of bytes accepted (always len(p): a Writer accepts arbitrarily
// large single writes, flushing as many full records as needed).
func (wr *Writer) Write(p []byte) (int, error) {
	if err := wr.ensureNonceWritten(); err != nil {
		return 0, err
	}
	total := 0
	for len(p) > 0 {
		n := maxPlain - len(wr.plain)
		if n > len(p) {
			n = len(p)
		}
		wr.plain = append(wr.plain, p[:n]...)
		p = p[n:]
		total += n
		if len(wr.plain) == maxPlain {
			if err := wr.flushChunk(); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func (wr *Writer) flushChunk() error {
	if len(wr.plain) == 0 {
		return nil
	}
	nonce := buildNonce(wr.prefix, wr.counter)
	ciphertext := wr.aead.Seal(nil, nonce[:], wr.plain, nil)
	wr.plain = wr.plain[:0]

	record := make([]byte, 4+len(ciphertext))
	binary.BigEndian.PutUint32(record[:4], uint32(len(ciphertext)))
	copy(record[4:], ciphertext)
	if _, err := wr.w.Write(record); err != nil {
		return fmt.Errorf("cryptostream: write record: %w", err)
	}
	wr.counter++
	return nil
}

// Flush seals and sends any partially-collected plaintext as one (possibly
// short) record, then flushes the underlying transport if it exposes a
// Flush method.
func (wr *Writer) Flush() error {
	if err := wr.ensureNonceWritten(); err != nil {
		return err
	}
	if err := wr.flushChunk(); err != nil {
		return err
	}
	if f, ok := wr.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Close flushes any buffered plaintext, then closes the underlying
// transport if it is an io.Closer.
func (wr *Writer) Close() error {
	err := wr.Flush()
	if c, ok := wr.w.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

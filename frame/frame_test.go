package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		[]byte("hello"),
		bytes.Repeat([]byte{0xAB}, MaxLen),
	}
	for _, payload := range cases {
		var buf bytes.Buffer
		if err := Write(&buf, payload); err != nil {
			t.Fatalf("Write: %v", err)
		}
		got, err := Read(&buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("round-trip mismatch: got %x want %x", got, payload)
		}
	}
}

func TestWriteRejectsOverLong(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, bytes.Repeat([]byte{0}, MaxLen+1))
	if err == nil {
		t.Fatal("expected error for over-long payload")
	}
}

func TestReadRejectsOverLongLength(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	// Claim a length far beyond MaxLen without supplying the bytes.
	lenBuf[0], lenBuf[1], lenBuf[2], lenBuf[3] = 0, 1, 0, 0
	buf.Write(lenBuf[:])
	_, err := Read(&buf)
	if !errors.Is(err, ErrFrameTooLong) {
		t.Fatalf("expected ErrFrameTooLong, got %v", err)
	}
}

func TestReadShortConnection(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 5}) // claims 5 bytes payload
	buf.Write([]byte("ab"))       // only 2 supplied
	_, err := Read(&buf)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

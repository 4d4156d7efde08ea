package ringbuffer

import (
	"bytes"
	"testing"
)

func invariant(t *testing.T, b *Buffer) {
	t.Helper()
	if !(0 <= b.cursor && b.cursor <= b.length && b.length <= b.Cap()) {
		t.Fatalf("invariant violated: cursor=%d length=%d cap=%d", b.cursor, b.length, b.Cap())
	}
}

func TestAppendConsumeWrap(t *testing.T) {
	b := New(16)
	invariant(t, b)

	n := b.Append([]byte("hello"))
	if n != 5 {
		t.Fatalf("Append returned %d, want 5", n)
	}
	invariant(t, b)
	if !bytes.Equal(b.Data(), []byte("hello")) {
		t.Fatalf("Data() = %q", b.Data())
	}

	b.AdvanceCursor(3)
	invariant(t, b)
	if !bytes.Equal(b.Data(), []byte("lo")) {
		t.Fatalf("Data() after advance = %q", b.Data())
	}

	b.Wrap()
	invariant(t, b)
	if !bytes.Equal(b.Data(), []byte("lo")) {
		t.Fatalf("Data() after wrap = %q", b.Data())
	}
	if b.SpareCapacityLen() != 14 {
		t.Fatalf("SpareCapacityLen() = %d, want 14", b.SpareCapacityLen())
	}
}

func TestAdvanceCursorToEndResets(t *testing.T) {
	b := New(8)
	b.Append([]byte("ab"))
	b.AdvanceCursor(2)
	invariant(t, b)
	if b.cursor != 0 || b.length != 0 {
		t.Fatalf("expected reset to 0,0, got cursor=%d length=%d", b.cursor, b.length)
	}
}

func TestFillToCapacity(t *testing.T) {
	b := New(4)
	n := b.Append([]byte("abcd"))
	if n != 4 {
		t.Fatalf("Append returned %d, want 4", n)
	}
	invariant(t, b)
	if b.SpareCapacityLen() != 0 {
		t.Fatalf("expected 0 spare, got %d", b.SpareCapacityLen())
	}
}

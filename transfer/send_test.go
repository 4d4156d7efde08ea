package transfer

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestSendFilesOfferAcceptWritesBodyThenDone(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	body := []byte("this is the file body")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	var toPeer, fromPeer bytes.Buffer
	if err := WriteMessage(&fromPeer, Accept{}); err != nil {
		t.Fatalf("WriteMessage accept: %v", err)
	}

	var progressCalls int
	err := SendFiles(&toPeer, &fromPeer, []string{path}, func(name string, sent, total int64) {
		progressCalls++
	})
	if err != nil {
		t.Fatalf("SendFiles: %v", err)
	}

	offerMsg, err := ReadMessage(&toPeer)
	if err != nil {
		t.Fatalf("ReadMessage offer: %v", err)
	}
	offer, ok := offerMsg.(FileOffer)
	if !ok {
		t.Fatalf("got %T, want FileOffer", offerMsg)
	}
	if offer.Name != "note.txt" || offer.Size != uint64(len(body)) {
		t.Fatalf("offer = %+v, want name=note.txt size=%d", offer, len(body))
	}

	got := make([]byte, len(body))
	if _, err := toPeer.Read(got); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("got body %q, want %q", got, body)
	}

	doneMsg, err := ReadMessage(&toPeer)
	if err != nil {
		t.Fatalf("ReadMessage done: %v", err)
	}
	if _, ok := doneMsg.(Done); !ok {
		t.Fatalf("got %T, want Done", doneMsg)
	}
}

func TestSendFilesSkipsRejectedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skip.txt")
	if err := os.WriteFile(path, []byte("nope"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	var toPeer, fromPeer bytes.Buffer
	if err := WriteMessage(&fromPeer, Reject{}); err != nil {
		t.Fatalf("WriteMessage reject: %v", err)
	}

	if err := SendFiles(&toPeer, &fromPeer, []string{path}, nil); err != nil {
		t.Fatalf("SendFiles: %v", err)
	}

	offerMsg, err := ReadMessage(&toPeer)
	if err != nil {
		t.Fatalf("ReadMessage offer: %v", err)
	}
	if _, ok := offerMsg.(FileOffer); !ok {
		t.Fatalf("got %T, want FileOffer", offerMsg)
	}

	doneMsg, err := ReadMessage(&toPeer)
	if err != nil {
		t.Fatalf("ReadMessage done: %v", err)
	}
	if _, ok := doneMsg.(Done); !ok {
		t.Fatalf("got %T, want Done (no body should have been sent after a reject)", doneMsg)
	}
}

func TestSendFilesErrorsOnMissingPath(t *testing.T) {
	var toPeer, fromPeer bytes.Buffer
	err := SendFiles(&toPeer, &fromPeer, []string{filepath.Join(t.TempDir(), "missing.txt")}, nil)
	if err == nil {
		t.Fatalf("expected error for missing file, got nil")
	}
}

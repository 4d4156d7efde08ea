package transfer

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestReceiveFilesAcceptsAndWritesBody(t *testing.T) {
	dir := t.TempDir()
	var toReceiver, toSender bytes.Buffer

	body := []byte("hello from the sender")
	if err := WriteMessage(&toReceiver, FileOffer{Name: "greeting.txt", Size: uint64(len(body))}); err != nil {
		t.Fatalf("WriteMessage offer: %v", err)
	}
	toReceiver.Write(body)
	if err := WriteMessage(&toReceiver, Done{}); err != nil {
		t.Fatalf("WriteMessage done: %v", err)
	}

	var progressCalls int
	err := ReceiveFiles(&toSender, &toReceiver, dir, func(FileOffer) bool { return true }, func(name string, sent, total int64) {
		progressCalls++
	})
	if err != nil {
		t.Fatalf("ReceiveFiles: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "greeting.txt"))
	if err != nil {
		t.Fatalf("read written file: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("got body %q, want %q", got, body)
	}

	reply, err := ReadMessage(&toSender)
	if err != nil {
		t.Fatalf("ReadMessage reply: %v", err)
	}
	if _, ok := reply.(Accept); !ok {
		t.Fatalf("got reply %T, want Accept", reply)
	}
}

func TestReceiveFilesRejectsWhenAcceptFuncDeclines(t *testing.T) {
	dir := t.TempDir()
	var toReceiver, toSender bytes.Buffer

	if err := WriteMessage(&toReceiver, FileOffer{Name: "skip.txt", Size: 4}); err != nil {
		t.Fatalf("WriteMessage offer: %v", err)
	}
	if err := WriteMessage(&toReceiver, Done{}); err != nil {
		t.Fatalf("WriteMessage done: %v", err)
	}

	err := ReceiveFiles(&toSender, &toReceiver, dir, func(FileOffer) bool { return false }, nil)
	if err != nil {
		t.Fatalf("ReceiveFiles: %v", err)
	}

	reply, err := ReadMessage(&toSender)
	if err != nil {
		t.Fatalf("ReadMessage reply: %v", err)
	}
	if _, ok := reply.(Reject); !ok {
		t.Fatalf("got reply %T, want Reject", reply)
	}

	if _, err := os.Stat(filepath.Join(dir, "skip.txt")); !os.IsNotExist(err) {
		t.Fatalf("rejected file should not have been written, stat err = %v", err)
	}
}

func TestReceiveFilesRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	var toReceiver, toSender bytes.Buffer

	if err := WriteMessage(&toReceiver, FileOffer{Name: "../../etc/passwd", Size: 4}); err != nil {
		t.Fatalf("WriteMessage offer: %v", err)
	}
	if err := WriteMessage(&toReceiver, Done{}); err != nil {
		t.Fatalf("WriteMessage done: %v", err)
	}

	err := ReceiveFiles(&toSender, &toReceiver, dir, func(FileOffer) bool { return true }, nil)
	if err != nil {
		t.Fatalf("ReceiveFiles: %v", err)
	}

	reply, err := ReadMessage(&toSender)
	if err != nil {
		t.Fatalf("ReadMessage reply: %v", err)
	}
	if _, ok := reply.(Accept); !ok {
		t.Fatalf("got reply %T, want Accept", reply)
	}
	if _, err := os.Stat(filepath.Join(dir, "passwd")); err != nil {
		t.Fatalf("expected passwd written inside dir, stat err = %v", err)
	}
}

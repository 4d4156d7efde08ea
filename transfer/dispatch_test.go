package transfer

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunReceiverPrintsChatAndDownloadsFile(t *testing.T) {
	dir := t.TempDir()
	var toUs, fromUs, out bytes.Buffer

	if err := WriteMessage(&toUs, ChatLine{Text: "hello"}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	body := []byte("file contents")
	if err := WriteMessage(&toUs, FileOffer{Name: "a.txt", Size: uint64(len(body))}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	toUs.Write(body)
	if err := WriteMessage(&toUs, Done{}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	in := strings.NewReader("")
	err := RunReceiver(&fromUs, &toUs, in, &out, dir, func(FileOffer) bool { return true }, nil, "peer> ")
	if err != nil {
		t.Fatalf("RunReceiver: %v", err)
	}

	if !strings.Contains(out.String(), "peer> hello\n") {
		t.Fatalf("output %q missing chat line", out.String())
	}
	got, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("got %q, want %q", got, body)
	}
}

package transfer

import (
	"bytes"
	"strings"
	"testing"
)

func TestChatRelaysLocalLinesAndPrintsIncoming(t *testing.T) {
	var toPeer bytes.Buffer   // lines this side sends, captured here
	var fromPeer bytes.Buffer // lines the peer "sends" us
	var out bytes.Buffer

	if err := WriteMessage(&fromPeer, ChatLine{Text: "hi there"}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if err := WriteMessage(&fromPeer, Done{}); err != nil {
		t.Fatalf("WriteMessage done: %v", err)
	}

	in := strings.NewReader("") // no local input, EOF immediately
	if err := Chat(&toPeer, &fromPeer, in, &out, "peer> "); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if !strings.Contains(out.String(), "peer> hi there\n") {
		t.Fatalf("output %q missing expected line", out.String())
	}
}

func TestChatSendsLocalLinesThenDone(t *testing.T) {
	var toPeer bytes.Buffer
	var fromPeer bytes.Buffer
	var out bytes.Buffer

	if err := WriteMessage(&fromPeer, Done{}); err != nil {
		t.Fatalf("WriteMessage done: %v", err)
	}

	in := strings.NewReader("first line\nsecond line\n")
	if err := Chat(&toPeer, &fromPeer, in, &out, "me> "); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	first, err := ReadMessage(&toPeer)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if cl, ok := first.(ChatLine); !ok || cl.Text != "first line" {
		t.Fatalf("got %+v, want ChatLine{first line}", first)
	}
	second, err := ReadMessage(&toPeer)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if cl, ok := second.(ChatLine); !ok || cl.Text != "second line" {
		t.Fatalf("got %+v, want ChatLine{second line}", second)
	}
	done, err := ReadMessage(&toPeer)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if _, ok := done.(Done); !ok {
		t.Fatalf("got %+v, want Done", done)
	}
}

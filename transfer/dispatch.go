package transfer

import (
	"bufio"
	"fmt"
	"io"
)

// RunReceiver drives the joining side of a session: any incoming FileOffer
// is downloaded into destDir (subject to accept), any incoming ChatLine is
// printed to out with prefix, and lines typed into in are relayed back to
// the peer as chat — all on the same duplex, until the peer sends Done.
func RunReceiver(w io.Writer, r io.Reader, in io.Reader, out io.Writer, destDir string, accept AcceptFunc, progress ProgressFunc, prefix string) error {
	done := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case <-done:
				return
			default:
			}
			if err := WriteMessage(w, ChatLine{Text: scanner.Text()}); err != nil {
				return
			}
		}
	}()
	defer close(done)

	for {
		msg, err := ReadMessage(r)
		if err != nil {
			return fmt.Errorf("transfer: read message: %w", err)
		}
		switch m := msg.(type) {
		case Done:
			return nil
		case ChatLine:
			if _, err := fmt.Fprintf(out, "%s%s\n", prefix, m.Text); err != nil {
				return fmt.Errorf("transfer: write chat line: %w", err)
			}
		case FileOffer:
			if err := receiveOne(w, r, destDir, m, accept, progress); err != nil {
				return err
			}
		default:
			return fmt.Errorf("transfer: unexpected message %T", msg)
		}
	}
}

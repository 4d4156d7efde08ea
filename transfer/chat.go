package transfer

import (
	"bufio"
	"fmt"
	"io"
	"sync"
)

// Chat runs an interactive line-based chat over w/r: lines read from in are
// sent as ChatLine envelopes, and ChatLine envelopes received from r are
// written to out prefixed with prefix. It returns once either direction
// ends: the peer sends Done, in reaches EOF, or an error occurs.
func Chat(w io.Writer, r io.Reader, in io.Reader, out io.Writer, prefix string) error {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		readErr error
		sendErr error
	)
	wg.Add(2)

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			if err := WriteMessage(w, ChatLine{Text: scanner.Text()}); err != nil {
				mu.Lock()
				sendErr = fmt.Errorf("transfer: send chat line: %w", err)
				mu.Unlock()
				return
			}
		}
		_ = WriteMessage(w, Done{})
	}()

	go func() {
		defer wg.Done()
		for {
			msg, err := ReadMessage(r)
			if err != nil {
				mu.Lock()
				readErr = fmt.Errorf("transfer: read chat line: %w", err)
				mu.Unlock()
				return
			}
			switch m := msg.(type) {
			case Done:
				return
			case ChatLine:
				if _, err := fmt.Fprintf(out, "%s%s\n", prefix, m.Text); err != nil {
					mu.Lock()
					readErr = fmt.Errorf("transfer: write chat line: %w", err)
					mu.Unlock()
					return
				}
			default:
				mu.Lock()
				readErr = fmt.Errorf("transfer: unexpected message %T during chat", msg)
				mu.Unlock()
				return
			}
		}
	}()

	wg.Wait()
	if readErr != nil {
		return readErr
	}
	return sendErr
}

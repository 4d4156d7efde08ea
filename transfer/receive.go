package transfer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// AcceptFunc is consulted for each incoming FileOffer; returning false
// rejects the file and the sender skips its body.
type AcceptFunc func(offer FileOffer) bool

// ReceiveFiles reads offers from r until a Done envelope arrives, writing
// each accepted file's bytes into destDir and replying Accept/Reject on w.
// progress may be nil.
func ReceiveFiles(w io.Writer, r io.Reader, destDir string, accept AcceptFunc, progress ProgressFunc) error {
	for {
		msg, err := ReadMessage(r)
		if err != nil {
			return fmt.Errorf("transfer: read offer: %w", err)
		}
		switch m := msg.(type) {
		case Done:
			return nil
		case FileOffer:
			if err := receiveOne(w, r, destDir, m, accept, progress); err != nil {
				return err
			}
		default:
			return fmt.Errorf("transfer: unexpected message %T while expecting a file offer", msg)
		}
	}
}

func receiveOne(w io.Writer, r io.Reader, destDir string, offer FileOffer, accept AcceptFunc, progress ProgressFunc) error {
	if accept != nil && !accept(offer) {
		return WriteMessage(w, Reject{})
	}

	name := filepath.Base(offer.Name)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return WriteMessage(w, Reject{})
	}
	destPath := filepath.Join(destDir, name)

	f, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("transfer: create %s: %w", destPath, err)
	}
	defer func() { _ = f.Close() }()

	if err := WriteMessage(w, Accept{}); err != nil {
		return fmt.Errorf("transfer: accept %s: %w", name, err)
	}

	counter := &countingReader{r: io.LimitReader(r, int64(offer.Size))}
	done := make(chan struct{})
	if progress != nil {
		go reportProgress(counter, int64(offer.Size), name, progress, done)
	}
	_, err = io.Copy(f, counter)
	if progress != nil {
		close(done)
	}
	if err != nil {
		return fmt.Errorf("transfer: receive body of %s: %w", name, err)
	}
	return nil
}

package transfer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// progressInterval is how often SendFiles polls a file's transfer
// progress while its body is being copied.
const progressInterval = 200 * time.Millisecond

// ProgressFunc is called after each chunk of a file has been written, with
// the cumulative bytes sent for that file.
type ProgressFunc func(name string, sent, total int64)

// SendFiles offers each path in turn over w/r, skipping any the peer
// rejects, and signals Done once all have been offered. progress may be
// nil.
func SendFiles(w io.Writer, r io.Reader, paths []string, progress ProgressFunc) error {
	for _, path := range paths {
		if err := sendOne(w, r, path, progress); err != nil {
			return err
		}
	}
	return WriteMessage(w, Done{})
}

func sendOne(w io.Writer, r io.Reader, path string, progress ProgressFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("transfer: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("transfer: stat %s: %w", path, err)
	}
	name := filepath.Base(path)

	if err := WriteMessage(w, FileOffer{Name: name, Size: uint64(info.Size())}); err != nil {
		return fmt.Errorf("transfer: offer %s: %w", name, err)
	}
	reply, err := ReadMessage(r)
	if err != nil {
		return fmt.Errorf("transfer: read reply for %s: %w", name, err)
	}
	if _, rejected := reply.(Reject); rejected {
		return nil
	}
	if _, accepted := reply.(Accept); !accepted {
		return fmt.Errorf("transfer: unexpected reply %T for %s", reply, name)
	}

	counter := &countingReader{r: f}
	done := make(chan struct{})
	if progress != nil {
		go reportProgress(counter, info.Size(), name, progress, done)
	}
	_, err = io.Copy(w, counter)
	if progress != nil {
		close(done)
	}
	if err != nil {
		return fmt.Errorf("transfer: send body of %s: %w", name, err)
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

func reportProgress(c *countingReader, total int64, name string, progress ProgressFunc, done <-chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			progress(name, c.n.Load(), total)
			return
		case <-ticker.C:
			progress(name, c.n.Load(), total)
		}
	}
}

package aow

import (
	"context"
	"io"
	"os"
)

// AppendString is a convenience wrapper over Append for string data.
func (w *Writer) AppendString(ctx context.Context, s string) error {
	return w.Append(ctx, []byte(s))
}

// AppendFrom reads r to completion, appending each chunk as it is
// read, and returns the total number of bytes appended. It buffers in
// FlushIntervalBytes-sized chunks so a large io.Reader never holds more
// than one extra buffer's worth of memory on top of what Append itself
// retains.
func (w *Writer) AppendFrom(ctx context.Context, r io.Reader) (int64, error) {
	w.mu.Lock()
	chunkSize := w.flushIntervalBytes
	w.mu.Unlock()

	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if werr := w.Append(ctx, buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// AppendFile opens path and streams its contents through AppendFrom.
func (w *Writer) AppendFile(ctx context.Context, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return w.AppendFrom(ctx, f)
}

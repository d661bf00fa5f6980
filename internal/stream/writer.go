package stream

import (
	"errors"
	"io"
	"net/http"
	"sync"
)

// ErrStreamClosed is returned by writes after the output stream is closed.
// The heartbeat loop and the invoker treat it as "client gone": not reportable.
var ErrStreamClosed = errors.New("output stream closed")

// writer serializes all writes to one client connection and tolerates writes
// after close. The single mutex is what keeps heartbeat frames and terminal
// frames from interleaving bytes: every Write delivers one complete frame
// (or one passthrough chunk) and flushes before the next writer runs.
type writer struct {
	mu      sync.Mutex
	dst     io.Writer
	flusher http.Flusher
	closed  bool
}

func newWriter(dst io.Writer, flusher http.Flusher) *writer {
	return &writer{dst: dst, flusher: flusher}
}

// Write sends p to the client and flushes. After Close it returns
// ErrStreamClosed without touching the underlying ResponseWriter, which must
// not be used once the handler has returned.
func (w *writer) Write(p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrStreamClosed
	}
	return w.writeLocked(p)
}

// WriteUnless writes p unless the stream is closed or skip reports true.
// skip runs under the writer lock: a caller that flips its condition before
// taking the lock for its own write is guaranteed no later WriteUnless can
// slip a frame in behind it.
func (w *writer) WriteUnless(p []byte, skip func() bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || skip() {
		return ErrStreamClosed
	}
	return w.writeLocked(p)
}

func (w *writer) writeLocked(p []byte) error {
	if _, err := w.dst.Write(p); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// Close marks the stream closed. Writes in flight finish first; later writes
// fail with ErrStreamClosed. Closing twice is harmless.
func (w *writer) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

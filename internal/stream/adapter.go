package stream

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"gemini-proxy-go/internal/metrics"
)

// Adapter orchestrates one adapted request: it owns the output stream, the
// completion flag and the heartbeat timer. Its lifecycle is open → streaming
// → done; done is reached exactly once, on invoker completion or client
// cancellation, and no write is possible afterwards.
type Adapter struct {
	out      *writer
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// completed flips to true exactly once, before the first terminal frame
	// is written. The heartbeat loop re-checks it under the writer lock, so
	// no heartbeat frame can follow a terminal frame.
	completed     atomic.Bool
	stopHeartbeat chan struct{}
	finished      chan struct{}
}

// NewAdapter creates an Adapter writing SSE frames to dst. The metrics
// parameter is optional; pass nil to disable stream metrics recording.
func NewAdapter(dst io.Writer, flusher http.Flusher, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) *Adapter {
	return &Adapter{
		out:           newWriter(dst, flusher),
		interval:      interval,
		logger:        logger.With("component", "stream_adapter"),
		metrics:       m,
		stopHeartbeat: make(chan struct{}),
		finished:      make(chan struct{}),
	}
}

// Run arms the heartbeat, launches invoke concurrently and blocks until the
// invoker finishes or ctx (the client request context) is done. On return the
// output stream is closed; a still-running upstream call keeps going in the
// background and its result is discarded.
func (a *Adapter) Run(ctx context.Context, invoke func()) {
	go a.heartbeatLoop()

	go func() {
		defer close(a.finished)
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("stream invoker panic", "panic", r)
				a.Complete()
				_ = a.out.Write(internalErrorFrame)
				_ = a.out.Write(doneFrame)
			}
		}()
		invoke()
	}()

	select {
	case <-a.finished:
	case <-ctx.Done():
		// Client disconnected mid-stream: stop the heartbeat and forbid
		// further writes. The in-flight upstream call is not aborted.
		if a.Complete() && a.metrics != nil {
			a.metrics.StreamOutcomes.WithLabelValues(metrics.OutcomeCanceled).Inc()
		}
	}

	a.out.Close()
}

// Complete flips the completion flag and permanently stops the heartbeat.
// It reports whether this call was the one that completed the adapter;
// the flag is monotonic and later calls are no-ops.
func (a *Adapter) Complete() bool {
	if !a.completed.CompareAndSwap(false, true) {
		return false
	}
	close(a.stopHeartbeat)
	return true
}

// heartbeatLoop writes one heartbeat frame per tick until completion. A write
// failure means the client is gone or the stream is finalizing; it is not
// reportable and just ends the loop.
func (a *Adapter) heartbeatLoop() {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopHeartbeat:
			return
		case <-ticker.C:
			err := a.out.WriteUnless(heartbeatFrame, a.completed.Load)
			if err != nil {
				return
			}
			if a.metrics != nil {
				a.metrics.HeartbeatFrames.Inc()
			}
		}
	}
}

package stream

import (
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"gemini-proxy-go/internal/metrics"
	"gemini-proxy-go/internal/model"
	"gemini-proxy-go/internal/service"
)

// Invoker performs the single blocking upstream call for an adapted request
// and writes the terminal frames. A call is never retried.
type Invoker struct {
	svc     *service.ProxyService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewInvoker creates an Invoker. The metrics parameter is optional.
func NewInvoker(svc *service.ProxyService, logger *slog.Logger, m *metrics.Metrics) *Invoker {
	return &Invoker{
		svc:     svc,
		logger:  logger.With("component", "stream_invoker"),
		metrics: m,
	}
}

// Invoke executes the upstream call described by pr and relays its result
// onto the adapter's output stream. pr must carry the rewritten blocking
// path, a fully buffered body and a context detached from the client request.
// Regardless of outcome the stream receives exactly one error-or-payload
// sequence followed by one done marker.
func (inv *Invoker) Invoke(pr *model.ProxyRequest, a *Adapter) {
	resp, err := inv.svc.Call(pr)

	// The completion flag must flip before any terminal frame is written;
	// stopping the heartbeat here keeps it from interleaving with the payload.
	// When Complete returns false the adapter already finished the stream on
	// client cancellation and recorded its outcome.
	first := a.Complete()

	var outcome string
	if err != nil {
		inv.logger.Error("adapted upstream call failed", "err", err, "path", pr.Path)
		inv.writeFrame(a, internalErrorFrame)
		outcome = metrics.OutcomeInternalError
	} else {
		outcome = inv.relay(resp, a)
	}

	inv.writeFrame(a, doneFrame)

	if first && inv.metrics != nil {
		inv.metrics.StreamOutcomes.WithLabelValues(outcome).Inc()
	}
}

// relay classifies the upstream response and writes the payload or error
// terminal frame. It returns the outcome label for metrics.
func (inv *Invoker) relay(resp *model.ProxyResponse, a *Adapter) string {
	defer func() {
		if err := resp.Body.Close(); err != nil {
			inv.logger.Debug("close upstream body", "err", err)
		}
	}()

	switch {
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			inv.logger.Error("read upstream error body", "err", err, "status", resp.StatusCode)
			inv.writeFrame(a, internalErrorFrame)
			return metrics.OutcomeInternalError
		}
		inv.logger.Warn("upstream rejected request", "status", resp.StatusCode, "body_bytes", len(body))
		inv.writeFrame(a, errorFrame(resp.StatusCode, body))
		return metrics.OutcomeUpstreamError

	case isEventStream(resp.Header.Get("Content-Type")):
		return inv.passthrough(resp.Body, a)

	default:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			inv.logger.Error("read upstream body", "err", err)
			inv.writeFrame(a, internalErrorFrame)
			return metrics.OutcomeInternalError
		}
		if !gjson.ValidBytes(body) {
			inv.logger.Error("upstream returned malformed JSON", "body_bytes", len(body))
			inv.writeFrame(a, internalErrorFrame)
			return metrics.OutcomeInternalError
		}
		inv.writeFrame(a, payloadFrame(body))
		return metrics.OutcomeSuccess
	}
}

// passthrough relays an upstream event stream chunk by chunk, without
// re-framing, until end of body.
func (inv *Invoker) passthrough(body io.Reader, a *Adapter) string {
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if werr := a.out.Write(buf[:n]); werr != nil {
				// Client gone; drain no further.
				inv.logger.Debug("passthrough write failed", "err", werr)
				return metrics.OutcomeCanceled
			}
		}
		if err == io.EOF {
			return metrics.OutcomeSuccess
		}
		if err != nil {
			inv.logger.Error("read upstream event stream", "err", err)
			inv.writeFrame(a, internalErrorFrame)
			return metrics.OutcomeInternalError
		}
	}
}

// writeFrame writes a complete frame, swallowing closed-stream errors: once
// the client is gone nothing about the terminal sequence is reportable.
func (inv *Invoker) writeFrame(a *Adapter, frame []byte) {
	if err := a.out.Write(frame); err != nil && !errors.Is(err, ErrStreamClosed) {
		inv.logger.Debug("write frame", "err", err)
	}
}

func isEventStream(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/event-stream")
}

package handler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/tidwall/gjson"

	"gemini-proxy-go/internal/config"
	"gemini-proxy-go/internal/metrics"
	"gemini-proxy-go/internal/model"
	"gemini-proxy-go/internal/service"
	"gemini-proxy-go/internal/stream"
)

// previewLimit caps the prompt excerpt written to logs.
const previewLimit = 80

// StreamHandler serves streaming generation requests in keepalive mode: it
// commits an SSE response immediately, then lets the stream adapter emit
// heartbeats while the blocking upstream call runs.
type StreamHandler struct {
	invoker  *stream.Invoker
	settings *config.Settings
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewStreamHandler creates a StreamHandler. The metrics parameter is optional.
func NewStreamHandler(inv *stream.Invoker, settings *config.Settings, logger *slog.Logger, m *metrics.Metrics) *StreamHandler {
	return &StreamHandler{
		invoker:  inv,
		settings: settings,
		logger:   logger.With("component", "stream_handler"),
		metrics:  m,
	}
}

// Handle adapts one streaming request. The response headers are written and
// flushed before any upstream I/O starts, so the client sees an open stream
// immediately; Handle then blocks until the adapter reaches its terminal
// state or the client disconnects.
func (h *StreamHandler) Handle(c echo.Context) error {
	req := c.Request()

	// Buffer the body up front: the outbound request needs its own copy.
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}
	_ = req.Body.Close()

	h.logger.Info("adapting streaming request",
		"model", service.ModelFromPath(req.URL.Path),
		"prompt_preview", promptPreview(body),
		"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
	)

	res := c.Response()
	res.Header().Set("Content-Type", "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	if h.metrics != nil {
		h.metrics.StreamsInFlight.Inc()
		defer h.metrics.StreamsInFlight.Dec()
	}

	// The upstream call is deliberately detached from the request context:
	// a client disconnect stops the output stream but lets the call run to
	// completion, discarding its result.
	pr := &model.ProxyRequest{
		Ctx:    context.WithoutCancel(req.Context()),
		Method: req.Method,
		Path:   service.ToBlockingPath(req.URL.Path),
		Query:  req.URL.Query(),
		Header: req.Header.Clone(),
		Body:   io.NopCloser(bytes.NewReader(body)),
	}

	a := stream.NewAdapter(res, res, h.settings.HeartbeatInterval(), h.logger, h.metrics)
	a.Run(req.Context(), func() { h.invoker.Invoke(pr, a) })

	return nil
}

// promptPreview extracts the first prompt text from a generation request body
// for logging. Returns empty string for bodies that do not parse.
func promptPreview(body []byte) string {
	text := gjson.GetBytes(body, "contents.0.parts.0.text").String()
	if len(text) > previewLimit {
		return text[:previewLimit] + "..."
	}
	return text
}

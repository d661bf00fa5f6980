package stream

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"gemini-proxy-go/internal/client"
	"gemini-proxy-go/internal/config"
	"gemini-proxy-go/internal/model"
	"gemini-proxy-go/internal/service"
)

func newTestInvoker(t *testing.T, upstreamURL string) *Invoker {
	t.Helper()
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL:         upstreamURL,
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
	}
	logger := testLogger()
	gc := client.NewGeminiClient(cfg, logger, nil)
	svc, err := service.NewProxyServiceForTest(gc, cfg, logger)
	if err != nil {
		t.Fatalf("NewProxyServiceForTest: %v", err)
	}
	return NewInvoker(svc, logger, nil)
}

func adaptedRequest(path, key, body string) *model.ProxyRequest {
	q := url.Values{}
	if key != "" {
		q.Set("key", key)
	}
	return &model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodPost,
		Path:   service.ToBlockingPath(path),
		Query:  q,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   io.NopCloser(bytes.NewReader([]byte(body))),
	}
}

func runAdapted(t *testing.T, inv *Invoker, pr *model.ProxyRequest, interval time.Duration) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	a := NewAdapter(rec, rec, interval, testLogger(), nil)
	a.Run(context.Background(), func() { inv.Invoke(pr, a) })
	return rec
}

func TestInvoke_JSONBodyWrappedAsStream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Path; strings.HasSuffix(got, service.StreamSuffix) {
			t.Errorf("upstream called with streaming path %q, want blocking rewrite", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"x":1}`))
	}))
	defer upstream.Close()

	inv := newTestInvoker(t, upstream.URL)
	pr := adaptedRequest("/v1beta/models/gemini-pro:streamGenerateContent", "k", `{"contents":[]}`)

	rec := runAdapted(t, inv, pr, time.Hour)

	frames := parseFrames(t, rec.Body.String())
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want payload + done: %q", len(frames), rec.Body.String())
	}
	if frames[0] != "data: {\"x\":1}\n\n" {
		t.Errorf("frame[0] = %q, want wrapped JSON payload", frames[0])
	}
	if frames[1] != string(doneFrame) {
		t.Errorf("frame[1] = %q, want done marker", frames[1])
	}
}

func TestInvoke_UpstreamRejection(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limited"))
	}))
	defer upstream.Close()

	inv := newTestInvoker(t, upstream.URL)
	pr := adaptedRequest("/v1beta/models/gemini-pro:streamGenerateContent", "k", `{}`)

	rec := runAdapted(t, inv, pr, time.Hour)

	frames := parseFrames(t, rec.Body.String())
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want error + done: %q", len(frames), rec.Body.String())
	}
	if !strings.Contains(frames[0], "429") || !strings.Contains(frames[0], "rate limited") {
		t.Errorf("error frame = %q, want upstream status and raw body", frames[0])
	}
	if frames[1] != string(doneFrame) {
		t.Errorf("frame[1] = %q, want done marker", frames[1])
	}
}

func TestInvoke_EventStreamPassthrough(t *testing.T) {
	const relayed = "data: {\"a\":1}\n\ndata: {\"b\":2}\n\n"

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(relayed))
	}))
	defer upstream.Close()

	inv := newTestInvoker(t, upstream.URL)
	pr := adaptedRequest("/v1beta/models/gemini-pro:streamGenerateContent", "k", `{}`)

	rec := runAdapted(t, inv, pr, time.Hour)

	want := relayed + string(doneFrame)
	if got := rec.Body.String(); got != want {
		t.Errorf("body = %q, want passthrough bytes + done marker: %q", got, want)
	}
}

func TestInvoke_TransportFailure(t *testing.T) {
	inv := newTestInvoker(t, "http://127.0.0.1:1")
	pr := adaptedRequest("/v1beta/models/gemini-pro:streamGenerateContent", "k", `{}`)

	rec := runAdapted(t, inv, pr, time.Hour)

	frames := parseFrames(t, rec.Body.String())
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want internal error + done: %q", len(frames), rec.Body.String())
	}
	if frames[0] != string(internalErrorFrame) {
		t.Errorf("frame[0] = %q, want internal error frame", frames[0])
	}
	if frames[1] != string(doneFrame) {
		t.Errorf("frame[1] = %q, want done marker", frames[1])
	}
}

func TestInvoke_MalformedUpstreamJSON(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("not json at all"))
	}))
	defer upstream.Close()

	inv := newTestInvoker(t, upstream.URL)
	pr := adaptedRequest("/v1beta/models/gemini-pro:streamGenerateContent", "k", `{}`)

	rec := runAdapted(t, inv, pr, time.Hour)

	frames := parseFrames(t, rec.Body.String())
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want internal error + done: %q", len(frames), rec.Body.String())
	}
	if frames[0] != string(internalErrorFrame) {
		t.Errorf("frame[0] = %q, want internal error frame", frames[0])
	}
}

func TestInvoke_SlowUpstreamYieldsHeartbeatsFirst(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(60 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"x":1}`))
	}))
	defer upstream.Close()

	inv := newTestInvoker(t, upstream.URL)
	pr := adaptedRequest("/v1beta/models/gemini-pro:streamGenerateContent", "k", `{}`)

	rec := runAdapted(t, inv, pr, 5*time.Millisecond)

	frames := parseFrames(t, rec.Body.String())
	if len(frames) < 3 {
		t.Fatalf("got %d frames, want heartbeats before payload + done: %q", len(frames), rec.Body.String())
	}
	if !isHeartbeat(frames[0]) {
		t.Errorf("frame[0] = %q, want heartbeat", frames[0])
	}

	// Heartbeats must form a strict prefix of the frame sequence.
	terminalSeen := false
	var dones int
	for _, f := range frames {
		if !isHeartbeat(f) {
			terminalSeen = true
		} else if terminalSeen {
			t.Errorf("heartbeat after terminal frame: %q", frames)
		}
		if f == string(doneFrame) {
			dones++
		}
	}
	if dones != 1 {
		t.Errorf("done markers = %d, want exactly 1", dones)
	}
	if frames[len(frames)-1] != string(doneFrame) {
		t.Errorf("last frame = %q, want done marker", frames[len(frames)-1])
	}
}

func TestInvoke_KeyRotationAppliedToUpstreamCall(t *testing.T) {
	var gotKey string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	inv := newTestInvoker(t, upstream.URL)
	pr := adaptedRequest("/v1beta/models/gemini-pro:streamGenerateContent", "k1,k2,k3", `{}`)

	runAdapted(t, inv, pr, time.Hour)

	if gotKey != "k1" && gotKey != "k2" && gotKey != "k3" {
		t.Errorf("upstream key = %q, want one of the rotated keys", gotKey)
	}
}

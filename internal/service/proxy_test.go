package service

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"testing"

	"gemini-proxy-go/internal/config"
)

func TestBuildUpstreamURL(t *testing.T) {
	baseURL, _ := url.Parse("https://generativelanguage.googleapis.com")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := &ProxyService{
		baseURL: baseURL,
		logger:  logger,
	}

	tests := []struct {
		name  string
		path  string
		query url.Values
		want  string
	}{
		{
			name:  "query params copied verbatim",
			path:  "/v1beta/models/gemini-pro:generateContent",
			query: url.Values{"alt": {"sse"}},
			want:  "alt=sse",
		},
		{
			name:  "no query params",
			path:  "/v1beta/models",
			query: url.Values{},
			want:  "",
		},
		{
			name:  "single key passed through",
			path:  "/v1beta/models/gemini-pro:generateContent",
			query: url.Values{"key": {"secret"}, "alt": {"sse"}},
			want:  "alt=sse&key=secret",
		},
		{
			name:  "missing key left absent",
			path:  "/v1beta/models/gemini-pro:generateContent",
			query: url.Values{"alt": {"sse"}},
			want:  "alt=sse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.buildUpstreamURL(tt.path, tt.query)
			u, err := url.Parse(got)
			if err != nil {
				t.Fatalf("parse URL: %v", err)
			}
			if u.RawQuery != tt.want {
				t.Errorf("query = %q, want %q", u.RawQuery, tt.want)
			}
			if u.Path != tt.path {
				t.Errorf("path = %q, want %q", u.Path, tt.path)
			}
			if u.Host != "generativelanguage.googleapis.com" {
				t.Errorf("host = %q, want upstream host", u.Host)
			}
		})
	}
}

func TestBuildUpstreamURL_KeyRotation(t *testing.T) {
	baseURL, _ := url.Parse("https://generativelanguage.googleapis.com")
	s := &ProxyService{baseURL: baseURL, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		got := s.buildUpstreamURL("/v1beta/models/gemini-pro:generateContent", url.Values{"key": {"k1, k2 ,k3"}})
		u, err := url.Parse(got)
		if err != nil {
			t.Fatalf("parse URL: %v", err)
		}
		key := u.Query().Get("key")
		switch key {
		case "k1", "k2", "k3":
			seen[key] = true
		default:
			t.Fatalf("unexpected key %q in %q", key, got)
		}
	}

	for _, k := range []string{"k1", "k2", "k3"} {
		if !seen[k] {
			t.Errorf("key %q never selected in 200 trials", k)
		}
	}
}

func TestFilterRequestHeaders(t *testing.T) {
	s := &ProxyService{}
	src := http.Header{
		"Accept":              {"application/json"},
		"Content-Type":        {"application/json"},
		"Authorization":       {"Bearer secret"},
		"Connection":          {"keep-alive"},
		"X-Goog-Api-Client":   {"genai-js/1.0"},
		"X-Goog-User-Project": {"my-project"},
		"X-Custom-Header":     {"should-be-dropped"},
		"X-Real-Ip":           {"1.2.3.4"},
		"X-Forwarded-For":     {"1.2.3.4, 5.6.7.8"},
	}

	dst := s.filterRequestHeaders(src)

	tests := []struct {
		name    string
		key     string
		wantLen int
	}{
		{"Accept forwarded", "Accept", 1},
		{"Content-Type forwarded", "Content-Type", 1},
		{"X-Goog-Api-Client forwarded", "X-Goog-Api-Client", 1},
		{"X-Goog-User-Project forwarded", "X-Goog-User-Project", 1},
		{"Authorization stripped", "Authorization", 0},
		{"Connection stripped", "Connection", 0},
		{"X-Custom-Header stripped", "X-Custom-Header", 0},
		{"X-Real-Ip stripped", "X-Real-Ip", 0},
		{"X-Forwarded-For stripped", "X-Forwarded-For", 0},
		{"User-Agent injected", "User-Agent", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := len(dst.Values(tt.key))
			if got != tt.wantLen {
				t.Errorf("header %q: got %d values, want %d", tt.key, got, tt.wantLen)
			}
		})
	}

	if ua := dst.Get("User-Agent"); ua != userAgent {
		t.Errorf("User-Agent = %q, want %q", ua, userAgent)
	}
}

func TestFilterResponseHeaders(t *testing.T) {
	s := &ProxyService{}
	src := http.Header{
		"Content-Type":           {"application/json"},
		"Content-Length":         {"42"},
		"Transfer-Encoding":      {"chunked"},
		"Set-Cookie":             {"session=abc"},
		"X-Content-Type-Options": {"nosniff"},
		"Date":                   {"Mon, 01 Jan 2025 00:00:00 GMT"},
	}

	dst := s.filterResponseHeaders(src)

	tests := []struct {
		name    string
		key     string
		wantLen int
	}{
		{"Content-Type forwarded", "Content-Type", 1},
		{"Content-Length forwarded", "Content-Length", 1},
		{"Date forwarded", "Date", 1},
		{"Set-Cookie stripped", "Set-Cookie", 0},
		{"X-Content-Type-Options stripped", "X-Content-Type-Options", 0},
		{"Transfer-Encoding stripped (hop-by-hop)", "Transfer-Encoding", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := len(dst.Values(tt.key))
			if got != tt.wantLen {
				t.Errorf("header %q: got %d values, want %d", tt.key, got, tt.wantLen)
			}
		})
	}
}

func TestNewProxyService_RejectsUnknownHost(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{BaseURL: "https://example.com"},
	}

	if _, err := NewProxyService(nil, cfg, logger); err == nil {
		t.Fatal("NewProxyService() expected allowlist error, got nil")
	}
}

package service

import "strings"

// Gemini path action suffixes. The streaming operation is adapted by calling
// its blocking counterpart and synthesizing the stream locally.
const (
	StreamSuffix   = ":streamGenerateContent"
	blockingSuffix = ":generateContent"
)

// IsStreamingPath reports whether path names the streaming generation operation.
func IsStreamingPath(path string) bool {
	// The suffix may be followed by nothing only; query strings are already
	// split off by the router.
	return strings.HasSuffix(path, StreamSuffix)
}

// ToBlockingPath rewrites the streaming operation suffix to its blocking
// counterpart. Non-streaming paths are returned unchanged.
func ToBlockingPath(path string) string {
	if !IsStreamingPath(path) {
		return path
	}
	return strings.TrimSuffix(path, StreamSuffix) + blockingSuffix
}

// ModelFromPath extracts the model segment from a generation path such as
// /v1beta/models/gemini-2.5-flash:streamGenerateContent. Used for logging
// only; returns empty string when the path has no action suffix.
func ModelFromPath(path string) string {
	i := strings.LastIndexByte(path, ':')
	if i < 0 {
		return ""
	}
	j := strings.LastIndexByte(path[:i], '/')
	return path[j+1 : i]
}

// Package stream implements the keepalive streaming adaptation layer: it
// opens an SSE response immediately, emits synthetic heartbeat frames while
// a single blocking upstream call is in flight, then relays the real result
// and terminates the stream exactly once.
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// doneFrame is the fixed stream terminator, deliberately not JSON.
var doneFrame = []byte("data: [DONE]\n\n")

// Gemini response envelope, reproduced for the synthetic heartbeat payload.
type envelope struct {
	Candidates    []candidate `json:"candidates"`
	UsageMetadata *usage      `json:"usageMetadata,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
	Index        int     `json:"index"`
}

type content struct {
	Parts []part `json:"parts"`
	Role  string `json:"role,omitempty"`
}

type part struct {
	Text string `json:"text"`
}

type usage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// heartbeatFrame mimics a normal success envelope with empty text content,
// a stop reason and zero usage counters, so clients that parse every event
// see a well-formed chunk that contributes nothing.
var heartbeatFrame = mustFrame(envelope{
	Candidates: []candidate{{
		Content:      content{Parts: []part{{Text: ""}}, Role: "model"},
		FinishReason: "STOP",
	}},
	UsageMetadata: &usage{},
})

type errorPayload struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// internalErrorFrame is the generic frame for failures inside the adapter
// itself (transport errors, malformed upstream bodies, write failures).
var internalErrorFrame = mustFrame(errorPayload{
	Error: errorDetail{
		Code:    http.StatusInternalServerError,
		Status:  http.StatusText(http.StatusInternalServerError),
		Message: "upstream call failed",
	},
})

// payloadFrame wraps a raw JSON payload in the SSE event envelope.
func payloadFrame(payload []byte) []byte {
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, "\n\n"...)
	return frame
}

// errorFrame builds the terminal frame for an upstream non-2xx response,
// carrying the upstream status and raw error body.
func errorFrame(statusCode int, body []byte) []byte {
	payload, err := json.Marshal(errorPayload{
		Error: errorDetail{
			Code:    statusCode,
			Status:  fmt.Sprintf("%d %s", statusCode, http.StatusText(statusCode)),
			Message: string(body),
		},
	})
	if err != nil {
		// Marshaling a struct of ints and strings cannot fail.
		return internalErrorFrame
	}
	return payloadFrame(payload)
}

func mustFrame(v any) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return payloadFrame(payload)
}

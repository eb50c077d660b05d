package gatewayhttp

import (
	"net/http"

	"github.com/amux/gateway/internal/adapter"
)

// Pre-allocated byte slices for SSE formatting, to avoid an allocation on
// every frame written in the streaming hot path.
var (
	sseEventPrefix = []byte("event: ")
	sseDataPrefix  = []byte("data: ")
	sseNewline     = []byte("\n\n")
	sseLineFeed    = []byte("\n")
	sseDone        = []byte("data: [DONE]\n\n")
)

// Pre-allocated header value slices, avoiding the []string{v} alloc
// Header.Set would otherwise create per response.
var (
	sseContentType  = []string{"text/event-stream"}
	sseCacheControl = []string{"no-cache"}
	sseConnection   = []string{"keep-alive"}
	sseAccelBuf     = []string{"no"}
)

// writeSSEHeaders sets the response headers for a streaming response and
// the request id.
func writeSSEHeaders(w http.ResponseWriter, requestID string) {
	h := w.Header()
	h["Content-Type"] = sseContentType
	h["Cache-Control"] = sseCacheControl
	h["Connection"] = sseConnection
	h["X-Accel-Buffering"] = sseAccelBuf
	if requestID != "" {
		h.Set("X-Request-ID", requestID)
	}
	w.WriteHeader(http.StatusOK)
}

// writeFrame writes one adapter.Frame in SSE wire form: an "event:" line
// when Event is set, followed by the "data:" line.
func writeFrame(w http.ResponseWriter, f adapter.Frame) {
	if f.Event != "" {
		w.Write(sseEventPrefix)
		w.Write([]byte(f.Event))
		w.Write(sseLineFeed)
	}
	w.Write(sseDataPrefix)
	w.Write(f.Data)
	w.Write(sseNewline)
	if fl, ok := w.(http.Flusher); ok {
		fl.Flush()
	}
}

// writeTerminator writes the dialect's stream-end sentinel, if it has one.
// OpenAI Chat Completions and the OpenAI-compatible dialects (deepseek,
// moonshot, qwen, zhipu) write a terminal "data: [DONE]\n\n"; Anthropic,
// OpenAI-Responses, and Google write
// nothing beyond their own frames.
func writeTerminator(w http.ResponseWriter, a adapter.Adapter) {
	if _, ok := a.Terminator(); !ok {
		return
	}
	w.Write(sseDone)
	if fl, ok := w.(http.Flusher); ok {
		fl.Flush()
	}
}

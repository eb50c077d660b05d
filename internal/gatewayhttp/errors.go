package gatewayhttp

import (
	"encoding/json"
	"net/http"

	"github.com/amux/gateway/internal/adapter"
	"github.com/amux/gateway/internal/gwerr"
)

// writeError renders err as the error envelope the inbound dialect expects
// and writes it with the matching HTTP status.
func (e *Engine) writeError(w http.ResponseWriter, inbound adapter.Type, err error, requestID string) {
	gwErr, ok := gwerr.As(err)
	if !ok {
		gwErr = gwerr.Wrap(gwerr.InternalError, err, "unclassified error")
	}
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(gwErr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(errorEnvelope(inbound, gwErr))
}

// errorEnvelope builds the dialect-specific error body: Anthropic uses a
// {type, error:{type, message}} shape; every other dialect uses the
// OpenAI-family {error:{message, type, code}} shape.
func errorEnvelope(inbound adapter.Type, gwErr *gwerr.Error) map[string]any {
	if inbound == adapter.Anthropic {
		return map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    string(gwErr.Code),
				"message": gwErr.Message,
			},
		}
	}
	return map[string]any{
		"error": map[string]any{
			"message": gwErr.Message,
			"type":    "api_error",
			"code":    string(gwErr.Code),
		},
	}
}

// sseErrorFrame renders a mid-stream failure as a dialect-framed SSE event:
// an "event: error" line for Anthropic, a bare {error:...} data payload
// for every other dialect.
func sseErrorFrame(inbound adapter.Type, gwErr *gwerr.Error) adapter.Frame {
	body := errorEnvelope(inbound, gwErr)
	data, _ := json.Marshal(body)
	if inbound == adapter.Anthropic {
		return adapter.Frame{Event: "error", Data: data}
	}
	return adapter.Frame{Data: data}
}

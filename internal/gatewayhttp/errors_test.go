package gatewayhttp

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amux/gateway/internal/adapter"
	"github.com/amux/gateway/internal/gwerr"
)

func TestErrorEnvelope_AnthropicShape(t *testing.T) {
	gwErr := gwerr.New(gwerr.ModelMappingRequired, "no mapping for model")
	env := errorEnvelope(adapter.Anthropic, gwErr)

	assert.Equal(t, "error", env["type"])
	inner, ok := env["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(gwerr.ModelMappingRequired), inner["type"])
	assert.Equal(t, "no mapping for model", inner["message"])
}

func TestErrorEnvelope_OpenAIFamilyShape(t *testing.T) {
	for _, dialect := range []adapter.Type{adapter.OpenAI, adapter.OpenAIResponses, adapter.Google, adapter.DeepSeek} {
		gwErr := gwerr.New(gwerr.ProviderUnreachable, "upstream down")
		env := errorEnvelope(dialect, gwErr)

		_, hasType := env["type"]
		assert.False(t, hasType, "dialect %s should not carry a top-level type key", dialect)

		inner, ok := env["error"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "upstream down", inner["message"])
		assert.Equal(t, "api_error", inner["type"])
		assert.Equal(t, string(gwerr.ProviderUnreachable), inner["code"])
	}
}

func TestSSEErrorFrame_AnthropicCarriesEventName(t *testing.T) {
	gwErr := gwerr.New(gwerr.AdapterError, "boom")
	f := sseErrorFrame(adapter.Anthropic, gwErr)
	assert.Equal(t, "error", f.Event)

	var body map[string]any
	require.NoError(t, json.Unmarshal(f.Data, &body))
	assert.Equal(t, "error", body["type"])
}

func TestSSEErrorFrame_OpenAIFamilyHasNoEventName(t *testing.T) {
	gwErr := gwerr.New(gwerr.AdapterError, "boom")
	f := sseErrorFrame(adapter.OpenAI, gwErr)
	assert.Empty(t, f.Event)

	var body map[string]any
	require.NoError(t, json.Unmarshal(f.Data, &body))
	_, hasError := body["error"]
	assert.True(t, hasError)
}

func TestWriteError_SetsStatusAndRequestID(t *testing.T) {
	e := &Engine{}
	w := httptest.NewRecorder()
	gwErr := gwerr.New(gwerr.ProxyNotFound, "proxy missing")
	e.writeError(w, adapter.OpenAI, gwErr, "req-42")

	assert.Equal(t, 404, w.Code)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	inner := body["error"].(map[string]any)
	assert.Equal(t, "proxy missing", inner["message"])
}

func TestWriteError_WrapsUnclassifiedError(t *testing.T) {
	e := &Engine{}
	w := httptest.NewRecorder()
	e.writeError(w, adapter.Anthropic, assertPlainError("raw failure"), "")

	assert.Equal(t, 500, w.Code)
}

type plainError string

func (p plainError) Error() string { return string(p) }

func assertPlainError(msg string) error { return plainError(msg) }

package adapter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amux/gateway/internal/ir"
)

func TestOpenAI_ParseRequest_LiftsSystemMessage(t *testing.T) {
	a := NewOpenAI()
	wire := []byte(`{"model":"gpt-4o","messages":[
		{"role":"system","content":"be terse"},
		{"role":"user","content":"hi"}
	]}`)
	req, err := a.ParseRequest(wire)
	require.NoError(t, err)
	assert.Equal(t, "be terse", req.System)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, ir.RoleUser, req.Messages[0].Role)
}

func TestOpenAI_ParseRequest_MissingModelFails(t *testing.T) {
	a := NewOpenAI()
	_, err := a.ParseRequest([]byte(`{"messages":[]}`))
	assert.Error(t, err)
}

func TestOpenAI_ParseRequest_ToolCallMessage(t *testing.T) {
	a := NewOpenAI()
	wire := []byte(`{"model":"gpt-4o","messages":[
		{"role":"assistant","tool_calls":[{"id":"c1","type":"function","function":{"name":"search","arguments":"{\"q\":\"go\"}"}}]}
	]}`)
	req, err := a.ParseRequest(wire)
	require.NoError(t, err)
	require.Len(t, req.Messages[0].Parts, 1)
	assert.Equal(t, ir.PartToolUse, req.Messages[0].Parts[0].Type)
	assert.Equal(t, "search", req.Messages[0].Parts[0].ToolName)
}

func TestOpenAI_ParseRequest_ToolResultMessage(t *testing.T) {
	a := NewOpenAI()
	wire := []byte(`{"model":"gpt-4o","messages":[
		{"role":"tool","tool_call_id":"c1","content":"42"}
	]}`)
	req, err := a.ParseRequest(wire)
	require.NoError(t, err)
	require.Len(t, req.Messages[0].Parts, 1)
	assert.Equal(t, ir.PartToolResult, req.Messages[0].Parts[0].Type)
	assert.Equal(t, "c1", req.Messages[0].Parts[0].ToolResultForID)
}

func TestOpenAI_BuildRequest_EmitsSystemAsFirstMessage(t *testing.T) {
	a := NewOpenAI()
	req := &ir.Request{Model: "gpt-4o", System: "be terse", Messages: []ir.Message{{Role: ir.RoleUser, Text: "hi"}}}
	wire, err := a.BuildRequest(req)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(wire, &out))
	msgs := out["messages"].([]any)
	require.Len(t, msgs, 2)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
}

func TestOpenAI_ParseResponse_DecodesChoicesAndUsage(t *testing.T) {
	a := NewOpenAI()
	wire := []byte(`{
		"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o",
		"choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],
		"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}
	}`)
	resp, err := a.ParseResponse(wire)
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Choices[0].Message.Content)
	assert.Equal(t, ir.FinishStop, resp.Choices[0].FinishReason)
	assert.Equal(t, 3, resp.Usage.TotalTokens)
}

func TestOpenAI_BuildResponse_RoundTrips(t *testing.T) {
	a := NewOpenAI()
	resp := &ir.Response{
		ID: "chatcmpl-2", Model: "gpt-4o",
		Choices: []ir.Choice{{Message: ir.ResponseMessage{Role: ir.RoleAssistant, Content: "hi"}, FinishReason: ir.FinishStop}},
		Usage:   ir.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
	}
	wire, err := a.BuildResponse(resp)
	require.NoError(t, err)
	reparsed, err := a.ParseResponse(wire)
	require.NoError(t, err)
	assert.Equal(t, "hi", reparsed.Choices[0].Message.Content)
}

func TestOpenAI_ParseStreamChunk_ContentDelta(t *testing.T) {
	a := NewOpenAI()
	events, err := a.ParseStreamChunk([]byte(`{"id":"c1","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"hi"}}]}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ir.StreamContent, events[0].Type)
	assert.Equal(t, "hi", events[0].Delta)
}

func TestOpenAI_ParseStreamChunk_FinishReasonEmitsEnd(t *testing.T) {
	a := NewOpenAI()
	events, err := a.ParseStreamChunk([]byte(`{"id":"c1","model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"total_tokens":5}}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ir.StreamEnd, events[0].Type)
	require.NotNil(t, events[0].Usage)
	assert.Equal(t, 5, events[0].Usage.TotalTokens)
}

func TestOpenAI_ParseStreamChunk_NoChoicesIsSkipped(t *testing.T) {
	a := NewOpenAI()
	events, err := a.ParseStreamChunk([]byte(`{"id":"c1","choices":[]}`))
	require.NoError(t, err)
	assert.Nil(t, events)
}

func TestOpenAI_Terminator_IsDone(t *testing.T) {
	a := NewOpenAI()
	sentinel, ok := a.Terminator()
	assert.True(t, ok)
	assert.Equal(t, "[DONE]", sentinel)
}

func TestOpenAI_ParseError_KnownCode(t *testing.T) {
	a := NewOpenAI()
	irErr := a.ParseError(401, []byte(`{"error":{"message":"bad key","type":"authentication_error","code":"invalid_api_key"}}`))
	assert.Equal(t, ir.ErrAuthentication, irErr.Category)
}

func TestOpenAI_ParseError_StatusFallback(t *testing.T) {
	a := NewOpenAI()
	irErr := a.ParseError(429, []byte(`{"error":{"message":"slow down"}}`))
	assert.Equal(t, ir.ErrRateLimit, irErr.Category)
}

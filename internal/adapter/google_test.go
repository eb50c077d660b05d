package adapter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amux/gateway/internal/ir"
)

func TestGoogle_ParseRequest_SystemInstructionAndRoleMapping(t *testing.T) {
	a := NewGoogle()
	wire := []byte(`{
		"systemInstruction":{"parts":[{"text":"be terse"}]},
		"contents":[
			{"role":"user","parts":[{"text":"hi"}]},
			{"role":"model","parts":[{"text":"hello"}]}
		],
		"generationConfig":{"maxOutputTokens":128}
	}`)
	req, err := a.ParseRequest(wire)
	require.NoError(t, err)
	assert.Equal(t, "be terse", req.System)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, ir.RoleUser, req.Messages[0].Role)
	assert.Equal(t, ir.RoleAssistant, req.Messages[1].Role)
	require.NotNil(t, req.Generation.MaxTokens)
	assert.Equal(t, 128, *req.Generation.MaxTokens)
}

func TestGoogle_ParseRequest_FunctionCallPart(t *testing.T) {
	a := NewGoogle()
	wire := []byte(`{"contents":[
		{"role":"model","parts":[{"functionCall":{"name":"search","args":{"q":"go"}}}]}
	]}`)
	req, err := a.ParseRequest(wire)
	require.NoError(t, err)
	require.Len(t, req.Messages[0].Parts, 1)
	assert.Equal(t, ir.PartToolUse, req.Messages[0].Parts[0].Type)
	assert.Equal(t, "search", req.Messages[0].Parts[0].ToolName)
}

func TestGoogle_BuildRequest_LiftsSystemAndMapsToolChoice(t *testing.T) {
	a := NewGoogle()
	req := &ir.Request{
		Model:      "gemini-1.5-pro",
		System:     "be brief",
		Messages:   []ir.Message{{Role: ir.RoleUser, Text: "hi"}},
		ToolChoice: &ir.ToolChoice{Mode: ir.ToolChoiceRequired},
	}
	wire, err := a.BuildRequest(req)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(wire, &out))
	sysInstr := out["systemInstruction"].(map[string]any)
	parts := sysInstr["parts"].([]any)
	assert.Equal(t, "be brief", parts[0].(map[string]any)["text"])

	toolConfig := out["toolConfig"].(map[string]any)
	fcc := toolConfig["functionCallingConfig"].(map[string]any)
	assert.Equal(t, "ANY", fcc["mode"])
}

func TestGoogle_ParseResponse_DecodesCandidatesAndUsage(t *testing.T) {
	a := NewGoogle()
	wire := []byte(`{
		"candidates":[{"content":{"role":"model","parts":[{"text":"hi"}]},"finishReason":"STOP","index":0}],
		"usageMetadata":{"promptTokenCount":2,"candidatesTokenCount":3,"totalTokenCount":5},
		"modelVersion":"gemini-1.5-pro"
	}`)
	resp, err := a.ParseResponse(wire)
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Choices[0].Message.Content)
	assert.Equal(t, ir.FinishStop, resp.Choices[0].FinishReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestGoogle_ParseResponse_NoCandidatesFails(t *testing.T) {
	a := NewGoogle()
	_, err := a.ParseResponse([]byte(`{"candidates":[]}`))
	assert.Error(t, err)
}

func TestGoogle_BuildResponse_RoundTrips(t *testing.T) {
	a := NewGoogle()
	resp := &ir.Response{
		Model:   "gemini-1.5-pro",
		Choices: []ir.Choice{{Message: ir.ResponseMessage{Content: "hi"}, FinishReason: ir.FinishStop}},
		Usage:   ir.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3},
	}
	wire, err := a.BuildResponse(resp)
	require.NoError(t, err)

	reparsed, err := a.ParseResponse(wire)
	require.NoError(t, err)
	assert.Equal(t, "hi", reparsed.Choices[0].Message.Content)
	assert.Equal(t, ir.FinishStop, reparsed.Choices[0].FinishReason)
}

func TestGoogle_BuildResponse_NoChoicesFails(t *testing.T) {
	a := NewGoogle()
	_, err := a.BuildResponse(&ir.Response{})
	assert.Error(t, err)
}

func TestGoogle_ParseStreamChunk_ContentAndFinish(t *testing.T) {
	a := NewGoogle()

	events, err := a.ParseStreamChunk([]byte(`{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ir.StreamContent, events[0].Type)
	assert.Equal(t, "hi", events[0].Delta)

	events, err = a.ParseStreamChunk([]byte(`{"candidates":[{"content":{},"finishReason":"STOP"}],"usageMetadata":{"totalTokenCount":9}}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ir.StreamEnd, events[0].Type)
	require.NotNil(t, events[0].Usage)
	assert.Equal(t, 9, events[0].Usage.TotalTokens)
}

func TestGoogle_ParseStreamChunk_NoCandidatesIsSkipped(t *testing.T) {
	a := NewGoogle()
	events, err := a.ParseStreamChunk([]byte(`{"candidates":[]}`))
	require.NoError(t, err)
	assert.Nil(t, events)
}

func TestGoogle_StreamBuilder_FramesHaveNoEventName(t *testing.T) {
	a := NewGoogle()
	b := a.NewStreamBuilder()

	frames, err := b.Build(ir.StreamEvent{Type: ir.StreamContent, Delta: "hi"})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Empty(t, frames[0].Event)

	var body map[string]any
	require.NoError(t, json.Unmarshal(frames[0].Data, &body))
	candidates := body["candidates"].([]any)
	content := candidates[0].(map[string]any)["content"].(map[string]any)
	parts := content["parts"].([]any)
	assert.Equal(t, "hi", parts[0].(map[string]any)["text"])
}

func TestGoogle_StreamBuilder_EndCarriesUsage(t *testing.T) {
	a := NewGoogle()
	b := a.NewStreamBuilder()
	frames, err := b.Build(ir.StreamEvent{Type: ir.StreamEnd, FinishReason: ir.FinishStop, Usage: &ir.Usage{TotalTokens: 4}})
	require.NoError(t, err)
	require.Len(t, frames, 1)

	var body map[string]any
	require.NoError(t, json.Unmarshal(frames[0].Data, &body))
	usage := body["usageMetadata"].(map[string]any)
	assert.Equal(t, float64(4), usage["totalTokenCount"])
}

func TestGoogle_ParseError_KnownStatus(t *testing.T) {
	a := NewGoogle()
	irErr := a.ParseError(429, []byte(`{"error":{"code":429,"message":"slow down","status":"RESOURCE_EXHAUSTED"}}`))
	assert.Equal(t, ir.ErrRateLimit, irErr.Category)
	assert.Equal(t, "slow down", irErr.Message)
}

func TestGoogle_ParseError_UnknownBodyFallsBack(t *testing.T) {
	a := NewGoogle()
	irErr := a.ParseError(500, []byte(`not json`))
	assert.Equal(t, ir.ErrUnknown, irErr.Category)
}

func TestGoogle_DefaultPathsAndTerminator(t *testing.T) {
	a := NewGoogle()
	assert.Equal(t, "/models/{model}:generateContent", a.DefaultChatPath())
	assert.Equal(t, "/models", a.DefaultModelsPath())
	_, ok := a.Terminator()
	assert.False(t, ok)
}

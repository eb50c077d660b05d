package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/amux/gateway/internal/ir"
)

// openaiAdapter implements the OpenAI Chat Completions dialect. It is also
// embedded by the OpenAI-compatible dialects (DeepSeek, Moonshot, Qwen,
// Zhipu), which reuse its wire shapes and layer dialect-private extensions
// on top — see openai_compat.go.
type openaiAdapter struct {
	name string
	typ  Type
}

// NewOpenAI returns the OpenAI Chat Completions adapter.
func NewOpenAI() Adapter { return &openaiAdapter{name: "openai", typ: OpenAI} }

func (a *openaiAdapter) Name() string    { return a.name }
func (a *openaiAdapter) Version() string { return "2024-08-06" }
func (a *openaiAdapter) Type() Type      { return a.typ }

func (a *openaiAdapter) Capabilities() Capabilities {
	return Capabilities{
		Streaming: true, Tools: true, Vision: true, Multimodal: true,
		SystemPrompt: true, ToolChoice: true, JSONMode: true, Logprobs: true,
		Seed: true,
	}
}

func (a *openaiAdapter) DefaultChatPath() string   { return "/v1/chat/completions" }
func (a *openaiAdapter) DefaultModelsPath() string { return "/v1/models" }
func (a *openaiAdapter) Terminator() (string, bool) { return "[DONE]", true }

// --- wire types ---

type oaiMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCalls  []oaiToolCall   `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type oaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaiContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type oaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

type oaiToolChoice struct {
	asString string
	asObject *struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
}

func (t *oaiToolChoice) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		t.asString = s
		return nil
	}
	var obj struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	t.asObject = &obj
	return nil
}

func (t oaiToolChoice) MarshalJSON() ([]byte, error) {
	if t.asObject != nil {
		return json.Marshal(t.asObject)
	}
	return json.Marshal(t.asString)
}

type oaiRequest struct {
	Model            string          `json:"model"`
	Messages         []oaiMessage    `json:"messages"`
	Stream           bool            `json:"stream,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	Stop             []string        `json:"stop,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	Seed             *int64          `json:"seed,omitempty"`
	ResponseFormat   map[string]any  `json:"response_format,omitempty"`
	Tools            []oaiTool       `json:"tools,omitempty"`
	ToolChoice       *oaiToolChoice  `json:"tool_choice,omitempty"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type oaiChoice struct {
	Index        int         `json:"index"`
	Message      oaiMessage  `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type oaiResponse struct {
	ID                string      `json:"id"`
	Object            string      `json:"object"`
	Created           int64       `json:"created"`
	Model             string      `json:"model"`
	SystemFingerprint string      `json:"system_fingerprint,omitempty"`
	Choices           []oaiChoice `json:"choices"`
	Usage             *oaiUsage   `json:"usage,omitempty"`
}

type oaiStreamDelta struct {
	Role      string        `json:"role,omitempty"`
	Content   string        `json:"content,omitempty"`
	ToolCalls []oaiToolCall `json:"tool_calls,omitempty"`
}

type oaiStreamChoice struct {
	Index        int            `json:"index"`
	Delta        oaiStreamDelta `json:"delta"`
	FinishReason *string        `json:"finish_reason"`
}

type oaiStreamChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []oaiStreamChoice `json:"choices"`
	Usage   *oaiUsage         `json:"usage,omitempty"`
}

type oaiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// --- finish reason mapping ---

var oaiFinishIn = map[string]ir.FinishReason{
	"stop":           ir.FinishStop,
	"length":         ir.FinishLength,
	"tool_calls":     ir.FinishToolCalls,
	"content_filter": ir.FinishContentFilter,
}

var oaiFinishOut = map[ir.FinishReason]string{
	ir.FinishStop:          "stop",
	ir.FinishLength:        "length",
	ir.FinishToolCalls:     "tool_calls",
	ir.FinishContentFilter: "content_filter",
}

func oaiFinishReasonIn(s string) ir.FinishReason {
	r, ok := oaiFinishIn[s]
	return collapseFinishReason(ok, r)
}

func oaiFinishReasonOut(r ir.FinishReason) string {
	if s, ok := oaiFinishOut[r]; ok {
		return s
	}
	return "stop"
}

// --- content (de)serialization ---

func parseMessageContent(raw json.RawMessage) (text string, parts []ir.Part, err error) {
	if len(raw) == 0 {
		return "", nil, nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil, nil
	}
	var asParts []oaiContentPart
	if err := json.Unmarshal(raw, &asParts); err != nil {
		return "", nil, fmt.Errorf("invalid message content: %w", err)
	}
	for _, p := range asParts {
		switch p.Type {
		case "text":
			parts = append(parts, ir.Part{Type: ir.PartText, Text: p.Text})
		case "image_url":
			url := ""
			if p.ImageURL != nil {
				url = p.ImageURL.URL
			}
			src := parseImageURL(url)
			parts = append(parts, ir.Part{Type: ir.PartImage, Image: &src})
		}
	}
	return "", parts, nil
}

func buildMessageContent(m ir.Message) json.RawMessage {
	if !m.IsMultipart() {
		b, _ := json.Marshal(m.Text)
		return b
	}
	var parts []oaiContentPart
	for _, p := range m.Parts {
		switch p.Type {
		case ir.PartText:
			parts = append(parts, oaiContentPart{Type: "text", Text: p.Text})
		case ir.PartImage:
			url := ""
			if p.Image != nil {
				url = imageURLString(*p.Image)
			}
			parts = append(parts, oaiContentPart{Type: "image_url", ImageURL: &struct {
				URL string `json:"url"`
			}{URL: url}})
		default:
			flat := serializeUnrepresentable(p)
			parts = append(parts, oaiContentPart{Type: "text", Text: flat.Text})
		}
	}
	b, _ := json.Marshal(parts)
	return b
}

// --- inbound ---

func (a *openaiAdapter) ParseRequest(wire []byte) (*ir.Request, error) {
	var req oaiRequest
	if err := json.Unmarshal(wire, &req); err != nil {
		return nil, fmt.Errorf("openai: invalid request: %w", err)
	}
	if req.Model == "" {
		return nil, fmt.Errorf("openai: missing required field model")
	}

	var msgs []ir.Message
	for _, m := range req.Messages {
		text, parts, err := parseMessageContent(m.Content)
		if err != nil {
			return nil, err
		}
		msg := ir.Message{Role: ir.Role(m.Role), Text: text, Parts: parts}
		if len(m.ToolCalls) > 0 {
			// Tool-call-bearing assistant messages carry no text content;
			// represent the calls as tool_use parts so round-tripping
			// through buildRequest is lossless.
			var tcParts []ir.Part
			for _, tc := range m.ToolCalls {
				var input map[string]any
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
				tcParts = append(tcParts, ir.Part{
					Type: ir.PartToolUse, ToolUseID: tc.ID, ToolName: tc.Function.Name, ToolInput: input,
				})
			}
			msg.Parts = append(msg.Parts, tcParts...)
		}
		if m.Role == "tool" {
			msg.Parts = append(msg.Parts, ir.Part{
				Type: ir.PartToolResult, ToolResultForID: m.ToolCallID, ToolResultText: text,
			})
		}
		msgs = append(msgs, msg)
	}

	rest, system := liftSystemMessages(msgs)

	var tools []ir.Tool
	for _, t := range req.Tools {
		tools = append(tools, ir.Tool{
			Name: t.Function.Name, Description: t.Function.Description, Parameters: t.Function.Parameters,
		})
	}

	var tc *ir.ToolChoice
	if req.ToolChoice != nil {
		switch {
		case req.ToolChoice.asObject != nil:
			tc = &ir.ToolChoice{Mode: ir.ToolChoiceFunction, FunctionName: req.ToolChoice.asObject.Function.Name}
		case req.ToolChoice.asString == "required":
			tc = &ir.ToolChoice{Mode: ir.ToolChoiceRequired}
		case req.ToolChoice.asString == "none":
			tc = &ir.ToolChoice{Mode: ir.ToolChoiceNone}
		default:
			tc = &ir.ToolChoice{Mode: ir.ToolChoiceAuto}
		}
	}

	var rf *ir.ResponseFormat
	if req.ResponseFormat != nil {
		t, _ := req.ResponseFormat["type"].(string)
		rf = &ir.ResponseFormat{Type: t}
		if js, ok := req.ResponseFormat["json_schema"].(map[string]any); ok {
			rf.JSONSchema = js
		}
	}

	gen := ir.Generation{
		Temperature: req.Temperature, TopP: req.TopP, MaxTokens: req.MaxTokens,
		StopSequences: req.Stop, PresencePenalty: req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty, Seed: req.Seed, ResponseFormat: rf,
	}

	var raw map[string]any
	_ = json.Unmarshal(wire, &raw)

	return &ir.Request{
		Model: req.Model, Messages: rest, System: system, Tools: tools,
		ToolChoice: tc, Stream: req.Stream, Generation: gen, Raw: raw,
	}, nil
}

func (a *openaiAdapter) ParseResponse(wire []byte) (*ir.Response, error) {
	var resp oaiResponse
	if err := json.Unmarshal(wire, &resp); err != nil {
		return nil, fmt.Errorf("openai: invalid response: %w", err)
	}
	var choices []ir.Choice
	for _, c := range resp.Choices {
		text, parts, _ := parseMessageContent(c.Message.Content)
		_ = parts
		var calls []ir.ToolCall
		for _, tc := range c.Message.ToolCalls {
			calls = append(calls, ir.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
		}
		choices = append(choices, ir.Choice{
			Index: c.Index,
			Message: ir.ResponseMessage{
				Role: ir.Role(c.Message.Role), Content: text, ToolCalls: calls,
			},
			FinishReason: oaiFinishReasonIn(c.FinishReason),
		})
	}
	out := &ir.Response{
		ID: resp.ID, Model: resp.Model, Created: resp.Created,
		SystemFingerprint: resp.SystemFingerprint, Choices: choices,
	}
	if resp.Usage != nil {
		out.Usage = usageFromOAI(*resp.Usage)
	}
	return out, nil
}

func usageFromOAI(u oaiUsage) ir.Usage {
	return ir.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
}

func usageToOAI(u ir.Usage) oaiUsage {
	return oaiUsage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
}

func (a *openaiAdapter) ParseStreamChunk(chunk []byte) ([]ir.StreamEvent, error) {
	var c oaiStreamChunk
	if err := json.Unmarshal(chunk, &c); err != nil {
		return nil, fmt.Errorf("openai: invalid stream chunk: %w", err)
	}
	var events []ir.StreamEvent
	if len(c.Choices) == 0 {
		return nil, nil
	}
	ch := c.Choices[0]
	if ch.Delta.Content != "" {
		events = append(events, ir.StreamEvent{Type: ir.StreamContent, Delta: ch.Delta.Content, Index: ch.Index, ID: c.ID, Model: c.Model})
	}
	for _, tc := range ch.Delta.ToolCalls {
		events = append(events, ir.StreamEvent{
			Type: ir.StreamToolCall, Index: ch.Index, ToolCallID: tc.ID,
			ToolCallName: tc.Function.Name, ToolCallArgDelta: tc.Function.Arguments,
		})
	}
	if ch.FinishReason != nil && *ch.FinishReason != "" {
		ev := ir.StreamEvent{Type: ir.StreamEnd, FinishReason: oaiFinishReasonIn(*ch.FinishReason), ID: c.ID, Model: c.Model}
		if c.Usage != nil {
			u := usageFromOAI(*c.Usage)
			ev.Usage = &u
		}
		events = append(events, ev)
	}
	return events, nil
}

func (a *openaiAdapter) ParseError(status int, body []byte) *ir.Error {
	var e oaiErrorBody
	if err := json.Unmarshal(body, &e); err != nil || e.Error.Message == "" {
		return &ir.Error{Category: ir.ErrUnknown, Message: string(body)}
	}
	return &ir.Error{
		Category: classifyOAIError(e.Error.Code, e.Error.Type, status),
		Message:  e.Error.Message,
		Code:     e.Error.Code,
	}
}

func classifyOAIError(code, typ string, status int) ir.ErrorCategory {
	// Two-step lookup: error code first, then error type.
	switch code {
	case "invalid_api_key":
		return ir.ErrAuthentication
	case "rate_limit_exceeded":
		return ir.ErrRateLimit
	case "model_not_found":
		return ir.ErrNotFound
	}
	switch typ {
	case "invalid_request_error":
		return ir.ErrValidation
	case "authentication_error":
		return ir.ErrAuthentication
	case "permission_error":
		return ir.ErrPermission
	case "not_found_error":
		return ir.ErrNotFound
	case "rate_limit_error":
		return ir.ErrRateLimit
	case "api_error":
		return ir.ErrAPI
	case "server_error":
		return ir.ErrServer
	}
	switch {
	case status == 401:
		return ir.ErrAuthentication
	case status == 403:
		return ir.ErrPermission
	case status == 404:
		return ir.ErrNotFound
	case status == 429:
		return ir.ErrRateLimit
	case status >= 500:
		return ir.ErrServer
	case status >= 400:
		return ir.ErrValidation
	}
	return ir.ErrUnknown
}

// --- outbound ---

func (a *openaiAdapter) BuildRequest(req *ir.Request) ([]byte, error) {
	var msgs []oaiMessage
	if req.System != "" {
		b, _ := json.Marshal(req.System)
		msgs = append(msgs, oaiMessage{Role: "system", Content: b})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, buildOAIMessage(m))
	}

	var tools []oaiTool
	for _, t := range req.Tools {
		var ot oaiTool
		ot.Type = "function"
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.Parameters
		tools = append(tools, ot)
	}

	var tc *oaiToolChoice
	if req.ToolChoice != nil {
		tc = &oaiToolChoice{}
		switch req.ToolChoice.Mode {
		case ir.ToolChoiceFunction:
			tc.asObject = &struct {
				Type     string `json:"type"`
				Function struct {
					Name string `json:"name"`
				} `json:"function"`
			}{Type: "function"}
			tc.asObject.Function.Name = req.ToolChoice.FunctionName
		case ir.ToolChoiceNone:
			tc.asString = "none"
		case ir.ToolChoiceRequired:
			tc.asString = "required"
		default:
			tc.asString = "auto"
		}
	}

	var rf map[string]any
	if req.Generation.ResponseFormat != nil {
		rf = map[string]any{"type": req.Generation.ResponseFormat.Type}
		if req.Generation.ResponseFormat.JSONSchema != nil {
			rf["json_schema"] = req.Generation.ResponseFormat.JSONSchema
		}
	}

	out := oaiRequest{
		Model: req.Model, Messages: msgs, Stream: req.Stream,
		Temperature: req.Generation.Temperature, TopP: req.Generation.TopP,
		MaxTokens: req.Generation.MaxTokens, Stop: req.Generation.StopSequences,
		PresencePenalty: req.Generation.PresencePenalty, FrequencyPenalty: req.Generation.FrequencyPenalty,
		Seed: req.Generation.Seed, ResponseFormat: rf, Tools: tools, ToolChoice: tc,
	}
	return json.Marshal(out)
}

func buildOAIMessage(m ir.Message) oaiMessage {
	// A message made entirely of tool_use/tool_result parts has no plain
	// content; render it as the matching OpenAI shape instead.
	var toolUses []ir.Part
	var toolResult *ir.Part
	var contentParts []ir.Part
	for i := range m.Parts {
		switch m.Parts[i].Type {
		case ir.PartToolUse:
			toolUses = append(toolUses, m.Parts[i])
		case ir.PartToolResult:
			p := m.Parts[i]
			toolResult = &p
		default:
			contentParts = append(contentParts, m.Parts[i])
		}
	}
	if toolResult != nil {
		return oaiMessage{Role: "tool", ToolCallID: toolResult.ToolResultForID, Content: mustJSON(toolResult.ToolResultText)}
	}
	out := oaiMessage{Role: string(m.Role)}
	contentMsg := m
	contentMsg.Parts = contentParts
	if len(contentParts) > 0 || m.Text != "" {
		out.Content = buildMessageContent(contentMsg)
	}
	for _, tu := range toolUses {
		args, _ := json.Marshal(tu.ToolInput)
		tc := oaiToolCall{ID: tu.ToolUseID, Type: "function"}
		tc.Function.Name = tu.ToolName
		tc.Function.Arguments = string(args)
		out.ToolCalls = append(out.ToolCalls, tc)
	}
	return out
}

func mustJSON(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func (a *openaiAdapter) BuildResponse(resp *ir.Response) ([]byte, error) {
	var choices []oaiChoice
	for _, c := range resp.Choices {
		var calls []oaiToolCall
		for _, tc := range c.Message.ToolCalls {
			oc := oaiToolCall{ID: tc.ID, Type: "function"}
			oc.Function.Name = tc.Name
			oc.Function.Arguments = tc.Arguments
			calls = append(calls, oc)
		}
		msg := oaiMessage{Role: string(c.Message.Role), ToolCalls: calls}
		if c.Message.Content != "" {
			b, _ := json.Marshal(c.Message.Content)
			msg.Content = b
		}
		choices = append(choices, oaiChoice{
			Index: c.Index, Message: msg, FinishReason: oaiFinishReasonOut(c.FinishReason),
		})
	}
	usage := usageToOAI(resp.Usage)
	out := oaiResponse{
		ID: resp.ID, Object: "chat.completion", Created: resp.Created, Model: resp.Model,
		SystemFingerprint: resp.SystemFingerprint, Choices: choices, Usage: &usage,
	}
	return json.Marshal(out)
}

// --- outbound streaming ---

type openaiStreamBuilder struct {
	id    string
	model string
}

func (a *openaiAdapter) NewStreamBuilder() StreamBuilder { return &openaiStreamBuilder{} }

func (b *openaiStreamBuilder) Build(event ir.StreamEvent) ([]Frame, error) {
	switch event.Type {
	case ir.StreamStart:
		b.id, b.model = event.ID, event.Model
		return nil, nil
	case ir.StreamContent:
		return []Frame{b.frame(oaiStreamChoice{Index: event.Index, Delta: oaiStreamDelta{Content: event.Delta}}, nil)}, nil
	case ir.StreamToolCall:
		tc := oaiToolCall{ID: event.ToolCallID, Type: "function"}
		tc.Function.Name = event.ToolCallName
		tc.Function.Arguments = event.ToolCallArgDelta
		return []Frame{b.frame(oaiStreamChoice{Index: event.Index, Delta: oaiStreamDelta{ToolCalls: []oaiToolCall{tc}}}, nil)}, nil
	case ir.StreamEnd:
		reason := oaiFinishReasonOut(event.FinishReason)
		var usage *oaiUsage
		if event.Usage != nil {
			u := usageToOAI(*event.Usage)
			usage = &u
		}
		return []Frame{b.frameWithUsage(oaiStreamChoice{Delta: oaiStreamDelta{}, FinishReason: &reason}, usage)}, nil
	case ir.StreamError:
		return nil, event.Err
	}
	return nil, nil
}

func (b *openaiStreamBuilder) frame(choice oaiStreamChoice, usage *oaiUsage) Frame {
	return b.frameWithUsage(choice, usage)
}

func (b *openaiStreamBuilder) frameWithUsage(choice oaiStreamChoice, usage *oaiUsage) Frame {
	chunk := oaiStreamChunk{
		ID: b.id, Object: "chat.completion.chunk", Model: b.model,
		Choices: []oaiStreamChoice{choice}, Usage: usage,
	}
	data, _ := json.Marshal(chunk)
	return Frame{Data: data}
}

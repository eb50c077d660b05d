package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/amux/gateway/internal/ir"
)

// anthropicAdapter implements the Anthropic Messages dialect. Its wire shape
// differs from OpenAI's in three ways: system prompt is a top-level string
// field rather than a message role, max_tokens is required (defaulted when
// the caller omits it), and streaming uses named SSE events instead of a
// single repeated JSON shape.
type anthropicAdapter struct{}

func NewAnthropic() Adapter { return &anthropicAdapter{} }

// anthropicDefaultMaxTokens is used when a request specifies no max tokens;
// Anthropic rejects requests that omit max_tokens entirely.
const anthropicDefaultMaxTokens = 1024

const anthropicAPIVersion = "2023-06-01"

func (a *anthropicAdapter) Name() string    { return "anthropic" }
func (a *anthropicAdapter) Version() string { return anthropicAPIVersion }
func (a *anthropicAdapter) Type() Type      { return Anthropic }

func (a *anthropicAdapter) Capabilities() Capabilities {
	return Capabilities{Streaming: true, Tools: true, Vision: true, Multimodal: true, SystemPrompt: true, ToolChoice: true, Reasoning: true}
}

func (a *anthropicAdapter) DefaultChatPath() string    { return "/v1/messages" }
func (a *anthropicAdapter) DefaultModelsPath() string  { return "/v1/models" }
func (a *anthropicAdapter) Terminator() (string, bool) { return "", false }

// --- wire types ---

type anthContentBlock struct {
	Type string `json:"type"` // text, image, tool_use, tool_result

	Text string `json:"text,omitempty"`

	Source *anthImageSource `json:"source,omitempty"` // image

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type anthImageSource struct {
	Type      string `json:"type"` // base64, url
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type anthMessage struct {
	Role string `json:"role"`
	// Content is either a plain string or a []anthContentBlock; captured raw
	// and dispatched in parseAnthMessageContent.
	Content json.RawMessage `json:"content"`
}

type anthTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

type anthToolChoice struct {
	Type string `json:"type"` // auto, any, tool, none
	Name string `json:"name,omitempty"`
}

type anthRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Messages    []anthMessage   `json:"messages"`
	Stream      bool            `json:"stream,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	StopSequences []string      `json:"stop_sequences,omitempty"`
	Tools       []anthTool      `json:"tools,omitempty"`
	ToolChoice  *anthToolChoice `json:"tool_choice,omitempty"`
}

type anthUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Model      string             `json:"model"`
	Content    []anthContentBlock `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      anthUsage          `json:"usage"`
}

type anthErrorBody struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- streaming event shapes, one struct holding every named event's
// possibly-populated fields.

type anthStreamEvent struct {
	Type         string                  `json:"type"`
	Message      *anthEventMessage       `json:"message,omitempty"`
	Index        int                     `json:"index"`
	ContentBlock *anthContentBlock       `json:"content_block,omitempty"`
	Delta        *anthEventDelta         `json:"delta,omitempty"`
	Usage        *anthUsage              `json:"usage,omitempty"`
	ErrorBody    *anthStreamErrorPayload `json:"error,omitempty"`
}

type anthEventMessage struct {
	ID    string    `json:"id"`
	Model string    `json:"model"`
	Usage anthUsage `json:"usage"`
}

type anthEventDelta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`         // text_delta
	PartialJSON string `json:"partial_json,omitempty"` // input_json_delta
	StopReason  string `json:"stop_reason,omitempty"`
}

type anthStreamErrorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

var anthFinishIn = map[string]ir.FinishReason{
	"end_turn":      ir.FinishStop,
	"stop_sequence":  ir.FinishStop,
	"max_tokens":    ir.FinishLength,
	"tool_use":      ir.FinishToolCalls,
}

func anthFinishReasonIn(reason string) ir.FinishReason {
	if r, ok := anthFinishIn[reason]; ok {
		return r
	}
	return collapseFinishReason(false, "")
}

var anthFinishOut = map[ir.FinishReason]string{
	ir.FinishStop:          "end_turn",
	ir.FinishLength:        "max_tokens",
	ir.FinishToolCalls:     "tool_use",
	ir.FinishContentFilter: "end_turn",
}

func anthFinishReasonOut(r ir.FinishReason) string {
	if v, ok := anthFinishOut[r]; ok {
		return v
	}
	return "end_turn"
}

func parseAnthMessageContent(raw json.RawMessage) (text string, parts []ir.Part, err error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil, nil
	}
	var blocks []anthContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", nil, fmt.Errorf("anthropic: invalid message content: %w", err)
	}
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, ir.Part{Type: ir.PartText, Text: b.Text})
		case "image":
			src := ir.ImageSource{}
			if b.Source != nil {
				if b.Source.Type == "url" {
					src = ir.ImageSource{Kind: ir.ImageSourceURL, URL: b.Source.URL}
				} else {
					src = ir.ImageSource{Kind: ir.ImageSourceBase64, MediaType: b.Source.MediaType, Data: b.Source.Data}
				}
			}
			parts = append(parts, ir.Part{Type: ir.PartImage, Image: &src})
		case "tool_use":
			parts = append(parts, ir.Part{Type: ir.PartToolUse, ToolUseID: b.ID, ToolName: b.Name, ToolInput: b.Input})
		case "tool_result":
			parts = append(parts, ir.Part{Type: ir.PartToolResult, ToolResultForID: b.ToolUseID, ToolResultText: b.Content, ToolResultError: b.IsError})
		}
	}
	return "", parts, nil
}

func buildAnthContent(m ir.Message) json.RawMessage {
	if !m.IsMultipart() {
		raw, _ := json.Marshal(m.Text)
		return raw
	}
	var blocks []anthContentBlock
	for _, p := range m.Parts {
		switch p.Type {
		case ir.PartText:
			blocks = append(blocks, anthContentBlock{Type: "text", Text: p.Text})
		case ir.PartImage:
			if p.Image == nil {
				continue
			}
			src := &anthImageSource{}
			if p.Image.Kind == ir.ImageSourceURL {
				src.Type, src.URL = "url", p.Image.URL
			} else {
				src.Type, src.MediaType, src.Data = "base64", p.Image.MediaType, p.Image.Data
			}
			blocks = append(blocks, anthContentBlock{Type: "image", Source: src})
		case ir.PartToolUse:
			blocks = append(blocks, anthContentBlock{Type: "tool_use", ID: p.ToolUseID, Name: p.ToolName, Input: p.ToolInput})
		case ir.PartToolResult:
			blocks = append(blocks, anthContentBlock{Type: "tool_result", ToolUseID: p.ToolResultForID, Content: p.ToolResultText, IsError: p.ToolResultError})
		default:
			flat := serializeUnrepresentable(p)
			blocks = append(blocks, anthContentBlock{Type: "text", Text: flat.Text})
		}
	}
	raw, _ := json.Marshal(blocks)
	return raw
}

func (a *anthropicAdapter) ParseRequest(wire []byte) (*ir.Request, error) {
	var req anthRequest
	if err := json.Unmarshal(wire, &req); err != nil {
		return nil, fmt.Errorf("anthropic: invalid request: %w", err)
	}
	if req.Model == "" {
		return nil, fmt.Errorf("anthropic: missing required field model")
	}

	var msgs []ir.Message
	for _, m := range req.Messages {
		text, parts, err := parseAnthMessageContent(m.Content)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, ir.Message{Role: ir.Role(m.Role), Text: text, Parts: parts})
	}

	var tools []ir.Tool
	for _, t := range req.Tools {
		tools = append(tools, ir.Tool{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
	}

	var toolChoice *ir.ToolChoice
	if req.ToolChoice != nil {
		switch req.ToolChoice.Type {
		case "auto":
			toolChoice = &ir.ToolChoice{Mode: ir.ToolChoiceAuto}
		case "any":
			toolChoice = &ir.ToolChoice{Mode: ir.ToolChoiceRequired}
		case "none":
			toolChoice = &ir.ToolChoice{Mode: ir.ToolChoiceNone}
		case "tool":
			toolChoice = &ir.ToolChoice{Mode: ir.ToolChoiceFunction, FunctionName: req.ToolChoice.Name}
		}
	}

	maxTokens := req.MaxTokens
	out := &ir.Request{
		Model: req.Model, Messages: msgs, System: req.System, Tools: tools, ToolChoice: toolChoice,
		Stream: req.Stream,
		Generation: ir.Generation{
			MaxTokens: &maxTokens, Temperature: req.Temperature, TopP: req.TopP, StopSequences: req.StopSequences,
		},
	}
	_ = json.Unmarshal(wire, &out.Raw)
	return out, nil
}

func (a *anthropicAdapter) ParseResponse(wire []byte) (*ir.Response, error) {
	var resp anthResponse
	if err := json.Unmarshal(wire, &resp); err != nil {
		return nil, fmt.Errorf("anthropic: invalid response: %w", err)
	}
	msg := ir.ResponseMessage{Role: ir.RoleAssistant}
	var calls []ir.ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			msg.Content += block.Text
		case "tool_use":
			argBytes, _ := json.Marshal(block.Input)
			calls = append(calls, ir.ToolCall{ID: block.ID, Name: block.Name, Arguments: string(argBytes)})
		}
	}
	msg.ToolCalls = calls
	return &ir.Response{
		ID: resp.ID, Model: resp.Model,
		Choices: []ir.Choice{{Index: 0, Message: msg, FinishReason: anthFinishReasonIn(resp.StopReason)}},
		Usage: ir.Usage{
			PromptTokens: resp.Usage.InputTokens, CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens: resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

// ParseStreamChunk switches over event.Type. Each call maps one event on its
// own and keeps no state between calls, and the bridge does not merge fields
// across events either: the input token count that message_start reports is
// not carried into the usage of the final message_delta event.
func (a *anthropicAdapter) ParseStreamChunk(chunk []byte) ([]ir.StreamEvent, error) {
	var ev anthStreamEvent
	if err := json.Unmarshal(chunk, &ev); err != nil {
		return nil, fmt.Errorf("anthropic: invalid stream event: %w", err)
	}
	switch ev.Type {
	case "message_start":
		if ev.Message == nil {
			return nil, nil
		}
		return []ir.StreamEvent{{Type: ir.StreamStart, ID: ev.Message.ID, Model: ev.Message.Model}}, nil
	case "content_block_start":
		if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
			return []ir.StreamEvent{{Type: ir.StreamToolCall, Index: ev.Index, ToolCallID: ev.ContentBlock.ID, ToolCallName: ev.ContentBlock.Name}}, nil
		}
		return nil, nil
	case "content_block_delta":
		if ev.Delta == nil {
			return nil, nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			return []ir.StreamEvent{{Type: ir.StreamContent, Index: ev.Index, Delta: ev.Delta.Text}}, nil
		case "input_json_delta":
			return []ir.StreamEvent{{Type: ir.StreamToolCall, Index: ev.Index, ToolCallArgDelta: ev.Delta.PartialJSON}}, nil
		case "thinking_delta":
			return []ir.StreamEvent{{Type: ir.StreamReasoning, Index: ev.Index, Delta: ev.Delta.Text}}, nil
		}
		return nil, nil
	case "message_delta":
		var usage *ir.Usage
		if ev.Usage != nil {
			u := ir.Usage{CompletionTokens: ev.Usage.OutputTokens}
			usage = &u
		}
		finish := ir.FinishStop
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			finish = anthFinishReasonIn(ev.Delta.StopReason)
		}
		return []ir.StreamEvent{{Type: ir.StreamEnd, FinishReason: finish, Usage: usage}}, nil
	case "message_stop":
		return nil, nil
	case "error":
		msg := "anthropic stream error"
		if ev.ErrorBody != nil {
			msg = ev.ErrorBody.Message
		}
		return []ir.StreamEvent{{Type: ir.StreamError, Err: fmt.Errorf("%s", msg)}}, nil
	}
	// content_block_stop, ping — no data this IR needs.
	return nil, nil
}

func (a *anthropicAdapter) ParseError(status int, body []byte) *ir.Error {
	var e anthErrorBody
	if err := json.Unmarshal(body, &e); err != nil || e.Error.Message == "" {
		return &ir.Error{Category: ir.ErrUnknown, Message: string(body)}
	}
	return &ir.Error{Category: classifyAnthError(e.Error.Type, status), Message: e.Error.Message, Code: e.Error.Type}
}

func classifyAnthError(typ string, status int) ir.ErrorCategory {
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
	case "api_error", "overloaded_error":
		return ir.ErrServer
	}
	switch status {
	case 400:
		return ir.ErrValidation
	case 401:
		return ir.ErrAuthentication
	case 403:
		return ir.ErrPermission
	case 404:
		return ir.ErrNotFound
	case 429:
		return ir.ErrRateLimit
	}
	if status >= 500 {
		return ir.ErrServer
	}
	return ir.ErrUnknown
}

func (a *anthropicAdapter) BuildRequest(req *ir.Request) ([]byte, error) {
	rest, system := liftSystemMessages(req.Messages)
	if req.System != "" {
		if system != "" {
			system = req.System + "\n" + system
		} else {
			system = req.System
		}
	}

	var msgs []anthMessage
	for _, m := range rest {
		msgs = append(msgs, anthMessage{Role: string(m.Role), Content: buildAnthContent(m)})
	}

	maxTokens := anthropicDefaultMaxTokens
	if req.Generation.MaxTokens != nil && *req.Generation.MaxTokens > 0 {
		maxTokens = *req.Generation.MaxTokens
	}

	var tools []anthTool
	for _, t := range req.Tools {
		tools = append(tools, anthTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}

	var toolChoice *anthToolChoice
	if req.ToolChoice != nil {
		switch req.ToolChoice.Mode {
		case ir.ToolChoiceAuto:
			toolChoice = &anthToolChoice{Type: "auto"}
		case ir.ToolChoiceRequired:
			toolChoice = &anthToolChoice{Type: "any"}
		case ir.ToolChoiceNone:
			toolChoice = &anthToolChoice{Type: "none"}
		case ir.ToolChoiceFunction:
			toolChoice = &anthToolChoice{Type: "tool", Name: req.ToolChoice.FunctionName}
		}
	}

	out := anthRequest{
		Model: req.Model, MaxTokens: maxTokens, System: system, Messages: msgs, Stream: req.Stream,
		Temperature: req.Generation.Temperature, TopP: req.Generation.TopP, StopSequences: req.Generation.StopSequences,
		Tools: tools, ToolChoice: toolChoice,
	}
	return json.Marshal(out)
}

func (a *anthropicAdapter) BuildResponse(resp *ir.Response) ([]byte, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anthropic: response has no choices")
	}
	c := resp.Choices[0]
	var blocks []anthContentBlock
	if c.Message.Content != "" {
		blocks = append(blocks, anthContentBlock{Type: "text", Text: c.Message.Content})
	}
	for _, tc := range c.Message.ToolCalls {
		var input map[string]any
		_ = json.Unmarshal([]byte(tc.Arguments), &input)
		blocks = append(blocks, anthContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
	}
	out := anthResponse{
		ID: resp.ID, Type: "message", Role: "assistant", Model: resp.Model, Content: blocks,
		StopReason: anthFinishReasonOut(c.FinishReason),
		Usage:      anthUsage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens},
	}
	return json.Marshal(out)
}

type anthropicStreamBuilder struct {
	id, model  string
	blockIndex int
	toolOpen   bool
}

func (a *anthropicAdapter) NewStreamBuilder() StreamBuilder { return &anthropicStreamBuilder{} }

func (b *anthropicStreamBuilder) Build(event ir.StreamEvent) ([]Frame, error) {
	switch event.Type {
	case ir.StreamStart:
		b.id, b.model = event.ID, event.Model
		data, _ := json.Marshal(anthStreamEvent{
			Type:    "message_start",
			Message: &anthEventMessage{ID: b.id, Model: b.model},
		})
		return []Frame{{Event: "message_start", Data: data}}, nil
	case ir.StreamContent:
		data, _ := json.Marshal(anthStreamEvent{
			Type: "content_block_delta", Index: event.Index,
			Delta: &anthEventDelta{Type: "text_delta", Text: event.Delta},
		})
		return []Frame{{Event: "content_block_delta", Data: data}}, nil
	case ir.StreamReasoning:
		data, _ := json.Marshal(anthStreamEvent{
			Type: "content_block_delta", Index: event.Index,
			Delta: &anthEventDelta{Type: "thinking_delta", Text: event.Delta},
		})
		return []Frame{{Event: "content_block_delta", Data: data}}, nil
	case ir.StreamToolCall:
		if event.ToolCallName != "" {
			data, _ := json.Marshal(anthStreamEvent{
				Type: "content_block_start", Index: event.Index,
				ContentBlock: &anthContentBlock{Type: "tool_use", ID: event.ToolCallID, Name: event.ToolCallName},
			})
			return []Frame{{Event: "content_block_start", Data: data}}, nil
		}
		data, _ := json.Marshal(anthStreamEvent{
			Type: "content_block_delta", Index: event.Index,
			Delta: &anthEventDelta{Type: "input_json_delta", PartialJSON: event.ToolCallArgDelta},
		})
		return []Frame{{Event: "content_block_delta", Data: data}}, nil
	case ir.StreamEnd:
		stopData, _ := json.Marshal(anthStreamEvent{Type: "content_block_stop", Index: b.blockIndex})
		deltaData, _ := json.Marshal(anthStreamEvent{
			Type:  "message_delta",
			Delta: &anthEventDelta{StopReason: anthFinishReasonOut(event.FinishReason)},
			Usage: usageToAnth(event.Usage),
		})
		stopEventData, _ := json.Marshal(anthStreamEvent{Type: "message_stop"})
		return []Frame{
			{Event: "content_block_stop", Data: stopData},
			{Event: "message_delta", Data: deltaData},
			{Event: "message_stop", Data: stopEventData},
		}, nil
	case ir.StreamError:
		data, _ := json.Marshal(anthStreamEvent{Type: "error", ErrorBody: &anthStreamErrorPayload{Type: "api_error", Message: event.Err.Error()}})
		return []Frame{{Event: "error", Data: data}}, nil
	}
	return nil, nil
}

func usageToAnth(u *ir.Usage) *anthUsage {
	if u == nil {
		return &anthUsage{}
	}
	return &anthUsage{InputTokens: u.PromptTokens, OutputTokens: u.CompletionTokens}
}

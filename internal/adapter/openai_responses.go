package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/amux/gateway/internal/ir"
)

// responsesAdapter implements the OpenAI Responses API dialect. Its wire
// shape trades "messages" for "input" items and carries "instructions" as
// a top-level system string; its streaming format is named-event SSE like
// Anthropic's, with no [DONE] terminator.
type responsesAdapter struct{}

func NewOpenAIResponses() Adapter { return &responsesAdapter{} }

func (a *responsesAdapter) Name() string    { return "openai-responses" }
func (a *responsesAdapter) Version() string { return "2024-12-17" }
func (a *responsesAdapter) Type() Type      { return OpenAIResponses }

func (a *responsesAdapter) Capabilities() Capabilities {
	return Capabilities{Streaming: true, Tools: true, Vision: true, Multimodal: true, SystemPrompt: true, ToolChoice: true, JSONMode: true}
}

func (a *responsesAdapter) DefaultChatPath() string    { return "/v1/responses" }
func (a *responsesAdapter) DefaultModelsPath() string  { return "/v1/models" }
func (a *responsesAdapter) Terminator() (string, bool) { return "", false }

// --- wire types ---

type respInputContent struct {
	Type string `json:"type"` // input_text, input_image
	Text string `json:"text,omitempty"`
	// input_image
	ImageURL string `json:"image_url,omitempty"`
}

type respInputItem struct {
	Role    string             `json:"role"`
	Content []respInputContent `json:"content"`
}

type respToolDef struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type respRequest struct {
	Model           string          `json:"model"`
	Input           []respInputItem `json:"input"`
	Instructions    string          `json:"instructions,omitempty"`
	Stream          bool            `json:"stream,omitempty"`
	MaxOutputTokens *int            `json:"max_output_tokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"top_p,omitempty"`
	Tools           []respToolDef   `json:"tools,omitempty"`
	ToolChoice      any             `json:"tool_choice,omitempty"`
}

type respOutputContent struct {
	Type string `json:"type"` // output_text
	Text string `json:"text,omitempty"`
}

type respFunctionCall struct {
	Type      string `json:"type"` // function_call
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type respOutputItem struct {
	Type    string              `json:"type"` // message, function_call
	Role    string              `json:"role,omitempty"`
	Content []respOutputContent `json:"content,omitempty"`

	// function_call fields, flattened alongside message fields since the
	// Responses API discriminates purely on Type.
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type respUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type respResponse struct {
	ID        string           `json:"id"`
	Object    string           `json:"object"`
	CreatedAt int64            `json:"created_at"`
	Model     string           `json:"model"`
	Output    []respOutputItem `json:"output"`
	Usage     *respUsage       `json:"usage,omitempty"`
	Status    string           `json:"status"`
}

type respErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// stream event envelopes: the Responses API names the event in the JSON
// body's own "type" field, mirrored on the SSE "event:" line.
type respStreamEvent struct {
	Type     string            `json:"type"`
	Response *respResponse     `json:"response,omitempty"`
	Delta    string            `json:"delta,omitempty"`
	ItemID   string            `json:"item_id,omitempty"`
	CallID   string            `json:"call_id,omitempty"`
	Name     string            `json:"name,omitempty"`
	Item     *respOutputItem   `json:"item,omitempty"`
}

func (a *responsesAdapter) ParseRequest(wire []byte) (*ir.Request, error) {
	var req respRequest
	if err := json.Unmarshal(wire, &req); err != nil {
		return nil, fmt.Errorf("openai-responses: invalid request: %w", err)
	}
	if req.Model == "" {
		return nil, fmt.Errorf("openai-responses: missing required field model")
	}
	var msgs []ir.Message
	for _, item := range req.Input {
		var parts []ir.Part
		var text string
		for _, c := range item.Content {
			switch c.Type {
			case "input_text":
				if len(item.Content) == 1 {
					text = c.Text
				} else {
					parts = append(parts, ir.Part{Type: ir.PartText, Text: c.Text})
				}
			case "input_image":
				src := parseImageURL(c.ImageURL)
				parts = append(parts, ir.Part{Type: ir.PartImage, Image: &src})
			}
		}
		msgs = append(msgs, ir.Message{Role: ir.Role(item.Role), Text: text, Parts: parts})
	}

	var tools []ir.Tool
	for _, t := range req.Tools {
		tools = append(tools, ir.Tool{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}

	var raw map[string]any
	_ = json.Unmarshal(wire, &raw)

	return &ir.Request{
		Model: req.Model, Messages: msgs, System: req.Instructions, Tools: tools,
		Stream: req.Stream,
		Generation: ir.Generation{
			MaxTokens: req.MaxOutputTokens, Temperature: req.Temperature, TopP: req.TopP,
		},
		Raw: raw,
	}, nil
}

func (a *responsesAdapter) ParseResponse(wire []byte) (*ir.Response, error) {
	var resp respResponse
	if err := json.Unmarshal(wire, &resp); err != nil {
		return nil, fmt.Errorf("openai-responses: invalid response: %w", err)
	}
	msg := ir.ResponseMessage{Role: ir.RoleAssistant}
	var calls []ir.ToolCall
	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				if c.Type == "output_text" {
					msg.Content += c.Text
				}
			}
		case "function_call":
			calls = append(calls, ir.ToolCall{ID: item.CallID, Name: item.Name, Arguments: item.Arguments})
		}
	}
	msg.ToolCalls = calls
	finish := ir.FinishStop
	if len(calls) > 0 {
		finish = ir.FinishToolCalls
	}
	out := &ir.Response{
		ID: resp.ID, Model: resp.Model, Created: resp.CreatedAt,
		Choices: []ir.Choice{{Index: 0, Message: msg, FinishReason: finish}},
	}
	if resp.Usage != nil {
		out.Usage = ir.Usage{PromptTokens: resp.Usage.InputTokens, CompletionTokens: resp.Usage.OutputTokens, TotalTokens: resp.Usage.TotalTokens}
	}
	return out, nil
}

func (a *responsesAdapter) ParseStreamChunk(chunk []byte) ([]ir.StreamEvent, error) {
	var ev respStreamEvent
	if err := json.Unmarshal(chunk, &ev); err != nil {
		return nil, fmt.Errorf("openai-responses: invalid stream event: %w", err)
	}
	switch ev.Type {
	case "response.created":
		id, model := "", ""
		if ev.Response != nil {
			id, model = ev.Response.ID, ev.Response.Model
		}
		return []ir.StreamEvent{{Type: ir.StreamStart, ID: id, Model: model}}, nil
	case "response.output_text.delta":
		return []ir.StreamEvent{{Type: ir.StreamContent, Delta: ev.Delta}}, nil
	case "response.function_call_arguments.delta":
		return []ir.StreamEvent{{Type: ir.StreamToolCall, ToolCallID: ev.CallID, ToolCallArgDelta: ev.Delta}}, nil
	case "response.output_item.added":
		if ev.Item != nil && ev.Item.Type == "function_call" {
			return []ir.StreamEvent{{Type: ir.StreamToolCall, ToolCallID: ev.Item.CallID, ToolCallName: ev.Item.Name}}, nil
		}
		return nil, nil
	case "response.completed":
		finish := ir.FinishStop
		var usage *ir.Usage
		if ev.Response != nil {
			if ev.Response.Usage != nil {
				u := ir.Usage{PromptTokens: ev.Response.Usage.InputTokens, CompletionTokens: ev.Response.Usage.OutputTokens, TotalTokens: ev.Response.Usage.TotalTokens}
				usage = &u
			}
			for _, item := range ev.Response.Output {
				if item.Type == "function_call" {
					finish = ir.FinishToolCalls
				}
			}
		}
		return []ir.StreamEvent{{Type: ir.StreamEnd, FinishReason: finish, Usage: usage}}, nil
	case "error":
		return []ir.StreamEvent{{Type: ir.StreamError, Err: fmt.Errorf("%s", ev.Delta)}}, nil
	}
	// Unrecognized event types (response.in_progress, response.output_item.done,
	// etc.) carry no data this IR needs — skip, per parseStream's "return
	// null to skip noise" contract.
	return nil, nil
}

func (a *responsesAdapter) ParseError(status int, body []byte) *ir.Error {
	var e respErrorBody
	if err := json.Unmarshal(body, &e); err != nil || e.Error.Message == "" {
		return &ir.Error{Category: ir.ErrUnknown, Message: string(body)}
	}
	return &ir.Error{Category: classifyOAIError(e.Error.Code, e.Error.Type, status), Message: e.Error.Message, Code: e.Error.Code}
}

func (a *responsesAdapter) BuildRequest(req *ir.Request) ([]byte, error) {
	var input []respInputItem
	for _, m := range req.Messages {
		item := respInputItem{Role: string(m.Role)}
		if m.IsMultipart() {
			for _, p := range m.Parts {
				switch p.Type {
				case ir.PartText:
					item.Content = append(item.Content, respInputContent{Type: "input_text", Text: p.Text})
				case ir.PartImage:
					url := ""
					if p.Image != nil {
						url = imageURLString(*p.Image)
					}
					item.Content = append(item.Content, respInputContent{Type: "input_image", ImageURL: url})
				default:
					flat := serializeUnrepresentable(p)
					item.Content = append(item.Content, respInputContent{Type: "input_text", Text: flat.Text})
				}
			}
		} else {
			item.Content = []respInputContent{{Type: "input_text", Text: m.Text}}
		}
		input = append(input, item)
	}

	var tools []respToolDef
	for _, t := range req.Tools {
		tools = append(tools, respToolDef{Type: "function", Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}

	out := respRequest{
		Model: req.Model, Input: input, Instructions: req.System, Stream: req.Stream,
		MaxOutputTokens: req.Generation.MaxTokens, Temperature: req.Generation.Temperature,
		TopP: req.Generation.TopP, Tools: tools,
	}
	return json.Marshal(out)
}

func (a *responsesAdapter) BuildResponse(resp *ir.Response) ([]byte, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai-responses: response has no choices")
	}
	c := resp.Choices[0]
	var output []respOutputItem
	if c.Message.Content != "" {
		output = append(output, respOutputItem{Type: "message", Role: "assistant", Content: []respOutputContent{{Type: "output_text", Text: c.Message.Content}}})
	}
	for _, tc := range c.Message.ToolCalls {
		output = append(output, respOutputItem{Type: "function_call", CallID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	}
	out := respResponse{
		ID: resp.ID, Object: "response", CreatedAt: resp.Created, Model: resp.Model,
		Output: output, Status: "completed",
		Usage: &respUsage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens, TotalTokens: resp.Usage.TotalTokens},
	}
	return json.Marshal(out)
}

type responsesStreamBuilder struct {
	id, model string
}

func (a *responsesAdapter) NewStreamBuilder() StreamBuilder { return &responsesStreamBuilder{} }

func (b *responsesStreamBuilder) Build(event ir.StreamEvent) ([]Frame, error) {
	switch event.Type {
	case ir.StreamStart:
		b.id, b.model = event.ID, event.Model
		data, _ := json.Marshal(respStreamEvent{Type: "response.created", Response: &respResponse{ID: b.id, Model: b.model, Object: "response", Status: "in_progress"}})
		return []Frame{{Event: "response.created", Data: data}}, nil
	case ir.StreamContent:
		data, _ := json.Marshal(respStreamEvent{Type: "response.output_text.delta", Delta: event.Delta})
		return []Frame{{Event: "response.output_text.delta", Data: data}}, nil
	case ir.StreamToolCall:
		data, _ := json.Marshal(respStreamEvent{Type: "response.function_call_arguments.delta", CallID: event.ToolCallID, Delta: event.ToolCallArgDelta})
		return []Frame{{Event: "response.function_call_arguments.delta", Data: data}}, nil
	case ir.StreamEnd:
		var usage *respUsage
		if event.Usage != nil {
			usage = &respUsage{InputTokens: event.Usage.PromptTokens, OutputTokens: event.Usage.CompletionTokens, TotalTokens: event.Usage.TotalTokens}
		}
		resp := &respResponse{ID: b.id, Model: b.model, Object: "response", Status: "completed", Usage: usage}
		data, _ := json.Marshal(respStreamEvent{Type: "response.completed", Response: resp})
		return []Frame{{Event: "response.completed", Data: data}}, nil
	case ir.StreamError:
		data, _ := json.Marshal(respStreamEvent{Type: "error", Delta: event.Err.Error()})
		return []Frame{{Event: "error", Data: data}}, nil
	}
	return nil, nil
}

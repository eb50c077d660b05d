package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/amux/gateway/internal/ir"
)

// googleAdapter implements the Gemini generateContent/streamGenerateContent
// dialect. Three shape differences drive this file: messages are called
// "contents" and the assistant role is spelled "model", system prompt lives
// in a separate systemInstruction field, and every streamed chunk repeats
// the full response shape rather than using named SSE events.
type googleAdapter struct{}

func NewGoogle() Adapter { return &googleAdapter{} }

func (a *googleAdapter) Name() string    { return "google" }
func (a *googleAdapter) Version() string { return "v1beta" }
func (a *googleAdapter) Type() Type      { return Google }

func (a *googleAdapter) Capabilities() Capabilities {
	return Capabilities{Streaming: true, Tools: true, Vision: true, Multimodal: true, SystemPrompt: true, ToolChoice: true}
}

// DefaultChatPath is a template; the model name is embedded in the path,
// so callers substitute {model} before use.
func (a *googleAdapter) DefaultChatPath() string    { return "/models/{model}:generateContent" }
func (a *googleAdapter) DefaultModelsPath() string  { return "/models" }
func (a *googleAdapter) Terminator() (string, bool) { return "", false }

// --- wire types ---

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	InlineData       *geminiInlineData       `json:"inlineData,omitempty"`
	FileData         *geminiFileData         `json:"fileData,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations,omitempty"`
}

type geminiToolConfig struct {
	FunctionCallingConfig struct {
		Mode                 string   `json:"mode"` // AUTO, ANY, NONE
		AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
	} `json:"functionCallingConfig"`
}

type geminiGenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	StopSequences    []string `json:"stopSequences,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	ToolConfig        *geminiToolConfig       `json:"toolConfig,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
	Index        int           `json:"index"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata"`
	ModelVersion  string               `json:"modelVersion"`
}

type geminiErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type geminiErrorBody struct {
	Error geminiErrorDetail `json:"error"`
}

var geminiFinishIn = map[string]ir.FinishReason{
	"STOP":          ir.FinishStop,
	"MAX_TOKENS":    ir.FinishLength,
	"SAFETY":        ir.FinishContentFilter,
	"RECITATION":    ir.FinishContentFilter,
	"OTHER":         ir.FinishStop,
}

func geminiFinishReasonIn(r string) ir.FinishReason {
	if v, ok := geminiFinishIn[r]; ok {
		return v
	}
	return collapseFinishReason(false, "")
}

var geminiFinishOut = map[ir.FinishReason]string{
	ir.FinishStop:          "STOP",
	ir.FinishLength:        "MAX_TOKENS",
	ir.FinishToolCalls:     "STOP",
	ir.FinishContentFilter: "SAFETY",
}

func geminiFinishReasonOut(r ir.FinishReason) string {
	if v, ok := geminiFinishOut[r]; ok {
		return v
	}
	return "STOP"
}

func geminiRoleIn(role string) ir.Role {
	if role == "model" {
		return ir.RoleAssistant
	}
	return ir.Role(role)
}

func geminiRoleOut(role ir.Role) string {
	if role == ir.RoleAssistant {
		return "model"
	}
	return string(role)
}

func partsFromGemini(parts []geminiPart) (text string, out []ir.Part) {
	if len(parts) == 1 && parts[0].Text != "" && parts[0].InlineData == nil && parts[0].FunctionCall == nil && parts[0].FunctionResponse == nil {
		return parts[0].Text, nil
	}
	for _, p := range parts {
		switch {
		case p.FunctionCall != nil:
			input := p.FunctionCall.Args
			out = append(out, ir.Part{Type: ir.PartToolUse, ToolName: p.FunctionCall.Name, ToolInput: input})
		case p.FunctionResponse != nil:
			respBytes, _ := json.Marshal(p.FunctionResponse.Response)
			out = append(out, ir.Part{Type: ir.PartToolResult, ToolResultForID: p.FunctionResponse.Name, ToolResultText: string(respBytes)})
		case p.InlineData != nil:
			src := ir.ImageSource{Kind: ir.ImageSourceBase64, MediaType: p.InlineData.MimeType, Data: p.InlineData.Data}
			out = append(out, ir.Part{Type: ir.PartImage, Image: &src})
		case p.FileData != nil:
			src := ir.ImageSource{Kind: ir.ImageSourceURL, URL: p.FileData.FileURI}
			out = append(out, ir.Part{Type: ir.PartImage, Image: &src})
		case p.Text != "":
			out = append(out, ir.Part{Type: ir.PartText, Text: p.Text})
		}
	}
	return "", out
}

func partsToGemini(m ir.Message) []geminiPart {
	if !m.IsMultipart() {
		return []geminiPart{{Text: m.Text}}
	}
	var parts []geminiPart
	for _, p := range m.Parts {
		switch p.Type {
		case ir.PartText:
			parts = append(parts, geminiPart{Text: p.Text})
		case ir.PartImage:
			if p.Image == nil {
				continue
			}
			if p.Image.Kind == ir.ImageSourceURL {
				parts = append(parts, geminiPart{FileData: &geminiFileData{FileURI: p.Image.URL}})
			} else {
				parts = append(parts, geminiPart{InlineData: &geminiInlineData{MimeType: p.Image.MediaType, Data: p.Image.Data}})
			}
		case ir.PartToolUse:
			parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{Name: p.ToolName, Args: p.ToolInput}})
		case ir.PartToolResult:
			var resp map[string]any
			_ = json.Unmarshal([]byte(p.ToolResultText), &resp)
			if resp == nil {
				resp = map[string]any{"result": p.ToolResultText}
			}
			parts = append(parts, geminiPart{FunctionResponse: &geminiFunctionResponse{Name: p.ToolResultForID, Response: resp}})
		default:
			flat := serializeUnrepresentable(p)
			parts = append(parts, geminiPart{Text: flat.Text})
		}
	}
	return parts
}

func (a *googleAdapter) ParseRequest(wire []byte) (*ir.Request, error) {
	var req geminiRequest
	if err := json.Unmarshal(wire, &req); err != nil {
		return nil, fmt.Errorf("google: invalid request: %w", err)
	}

	var msgs []ir.Message
	for _, c := range req.Contents {
		text, parts := partsFromGemini(c.Parts)
		msgs = append(msgs, ir.Message{Role: geminiRoleIn(c.Role), Text: text, Parts: parts})
	}

	var system string
	if req.SystemInstruction != nil {
		t, _ := partsFromGemini(req.SystemInstruction.Parts)
		system = t
	}

	var tools []ir.Tool
	for _, t := range req.Tools {
		for _, fd := range t.FunctionDeclarations {
			tools = append(tools, ir.Tool{Name: fd.Name, Description: fd.Description, Parameters: fd.Parameters})
		}
	}

	var toolChoice *ir.ToolChoice
	if req.ToolConfig != nil {
		switch req.ToolConfig.FunctionCallingConfig.Mode {
		case "AUTO":
			toolChoice = &ir.ToolChoice{Mode: ir.ToolChoiceAuto}
		case "ANY":
			toolChoice = &ir.ToolChoice{Mode: ir.ToolChoiceRequired}
		case "NONE":
			toolChoice = &ir.ToolChoice{Mode: ir.ToolChoiceNone}
		}
	}

	gen := ir.Generation{}
	if req.GenerationConfig != nil {
		gen.Temperature = req.GenerationConfig.Temperature
		gen.TopP = req.GenerationConfig.TopP
		gen.StopSequences = req.GenerationConfig.StopSequences
		if req.GenerationConfig.MaxOutputTokens > 0 {
			mt := req.GenerationConfig.MaxOutputTokens
			gen.MaxTokens = &mt
		}
		if req.GenerationConfig.ResponseMimeType == "application/json" {
			gen.ResponseFormat = &ir.ResponseFormat{Type: "json_object"}
		}
	}

	out := &ir.Request{Messages: msgs, System: system, Tools: tools, ToolChoice: toolChoice, Generation: gen}
	_ = json.Unmarshal(wire, &out.Raw)
	return out, nil
}

func (a *googleAdapter) ParseResponse(wire []byte) (*ir.Response, error) {
	var resp geminiResponse
	if err := json.Unmarshal(wire, &resp); err != nil {
		return nil, fmt.Errorf("google: invalid response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("google: response has no candidates")
	}
	var choices []ir.Choice
	for i, c := range resp.Candidates {
		text, parts := partsFromGemini(c.Content.Parts)
		msg := ir.ResponseMessage{Role: ir.RoleAssistant, Content: text}
		for _, p := range parts {
			if p.Type == ir.PartToolUse {
				argBytes, _ := json.Marshal(p.ToolInput)
				msg.ToolCalls = append(msg.ToolCalls, ir.ToolCall{Name: p.ToolName, Arguments: string(argBytes)})
			} else if p.Type == ir.PartText {
				msg.Content += p.Text
			}
		}
		finish := geminiFinishReasonIn(c.FinishReason)
		if len(msg.ToolCalls) > 0 {
			finish = ir.FinishToolCalls
		}
		choices = append(choices, ir.Choice{Index: i, Message: msg, FinishReason: finish})
	}
	out := &ir.Response{Model: resp.ModelVersion, Choices: choices}
	if resp.UsageMetadata != nil {
		out.Usage = ir.Usage{
			PromptTokens: resp.UsageMetadata.PromptTokenCount, CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens: resp.UsageMetadata.TotalTokenCount,
		}
	}
	return out, nil
}

// ParseStreamChunk inspects each chunk independently: every chunk repeats
// the full geminiResponse shape, so each call here produces a Content
// event (and, once a finishReason appears, an End event) rather than
// consuming named SSE events like Anthropic's adapter does.
func (a *googleAdapter) ParseStreamChunk(chunk []byte) ([]ir.StreamEvent, error) {
	var resp geminiResponse
	if err := json.Unmarshal(chunk, &resp); err != nil {
		return nil, fmt.Errorf("google: invalid stream chunk: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, nil
	}
	c := resp.Candidates[0]
	var events []ir.StreamEvent
	text, parts := partsFromGemini(c.Content.Parts)
	if text != "" {
		events = append(events, ir.StreamEvent{Type: ir.StreamContent, Delta: text})
	}
	for _, p := range parts {
		switch p.Type {
		case ir.PartText:
			events = append(events, ir.StreamEvent{Type: ir.StreamContent, Delta: p.Text})
		case ir.PartToolUse:
			argBytes, _ := json.Marshal(p.ToolInput)
			events = append(events, ir.StreamEvent{Type: ir.StreamToolCall, ToolCallName: p.ToolName, ToolCallArgDelta: string(argBytes)})
		}
	}
	if c.FinishReason != "" {
		var usage *ir.Usage
		if resp.UsageMetadata != nil {
			u := ir.Usage{
				PromptTokens: resp.UsageMetadata.PromptTokenCount, CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
				TotalTokens: resp.UsageMetadata.TotalTokenCount,
			}
			usage = &u
		}
		events = append(events, ir.StreamEvent{Type: ir.StreamEnd, FinishReason: geminiFinishReasonIn(c.FinishReason), Usage: usage})
	}
	return events, nil
}

func (a *googleAdapter) ParseError(status int, body []byte) *ir.Error {
	var e geminiErrorBody
	if err := json.Unmarshal(body, &e); err != nil || e.Error.Message == "" {
		return &ir.Error{Category: ir.ErrUnknown, Message: string(body)}
	}
	return &ir.Error{Category: classifyGeminiError(e.Error.Status, status), Message: e.Error.Message, Code: e.Error.Status}
}

func classifyGeminiError(status string, httpStatus int) ir.ErrorCategory {
	switch status {
	case "INVALID_ARGUMENT", "FAILED_PRECONDITION":
		return ir.ErrValidation
	case "UNAUTHENTICATED":
		return ir.ErrAuthentication
	case "PERMISSION_DENIED":
		return ir.ErrPermission
	case "NOT_FOUND":
		return ir.ErrNotFound
	case "RESOURCE_EXHAUSTED":
		return ir.ErrRateLimit
	case "INTERNAL", "UNAVAILABLE":
		return ir.ErrServer
	}
	switch httpStatus {
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
	if httpStatus >= 500 {
		return ir.ErrServer
	}
	return ir.ErrUnknown
}

func (a *googleAdapter) BuildRequest(req *ir.Request) ([]byte, error) {
	rest, liftedSystem := liftSystemMessages(req.Messages)
	system := req.System
	if system == "" {
		system = liftedSystem
	}

	var contents []geminiContent
	for _, m := range rest {
		contents = append(contents, geminiContent{Role: geminiRoleOut(m.Role), Parts: partsToGemini(m)})
	}

	var sysInstruction *geminiContent
	if system != "" {
		sysInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}

	var tools []geminiTool
	if len(req.Tools) > 0 {
		var decls []geminiFunctionDecl
		for _, t := range req.Tools {
			decls = append(decls, geminiFunctionDecl{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
		}
		tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	var toolConfig *geminiToolConfig
	if req.ToolChoice != nil {
		tc := &geminiToolConfig{}
		switch req.ToolChoice.Mode {
		case ir.ToolChoiceAuto:
			tc.FunctionCallingConfig.Mode = "AUTO"
		case ir.ToolChoiceRequired:
			tc.FunctionCallingConfig.Mode = "ANY"
		case ir.ToolChoiceNone:
			tc.FunctionCallingConfig.Mode = "NONE"
		case ir.ToolChoiceFunction:
			tc.FunctionCallingConfig.Mode = "ANY"
			tc.FunctionCallingConfig.AllowedFunctionNames = []string{req.ToolChoice.FunctionName}
		}
		toolConfig = tc
	}

	genConfig := &geminiGenerationConfig{
		Temperature: req.Generation.Temperature, TopP: req.Generation.TopP, StopSequences: req.Generation.StopSequences,
	}
	if req.Generation.MaxTokens != nil {
		genConfig.MaxOutputTokens = *req.Generation.MaxTokens
	}
	if req.Generation.ResponseFormat != nil && req.Generation.ResponseFormat.Type == "json_object" {
		genConfig.ResponseMimeType = "application/json"
	}

	out := geminiRequest{
		Contents: contents, SystemInstruction: sysInstruction, Tools: tools, ToolConfig: toolConfig,
		GenerationConfig: genConfig,
	}
	return json.Marshal(out)
}

func (a *googleAdapter) BuildResponse(resp *ir.Response) ([]byte, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("google: response has no choices")
	}
	var candidates []geminiCandidate
	for _, c := range resp.Choices {
		var parts []geminiPart
		if c.Message.Content != "" {
			parts = append(parts, geminiPart{Text: c.Message.Content})
		}
		for _, tc := range c.Message.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal([]byte(tc.Arguments), &args)
			parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{Name: tc.Name, Args: args}})
		}
		candidates = append(candidates, geminiCandidate{
			Content:      geminiContent{Role: "model", Parts: parts},
			FinishReason: geminiFinishReasonOut(c.FinishReason),
			Index:        c.Index,
		})
	}
	out := geminiResponse{
		Candidates:   candidates,
		ModelVersion: resp.Model,
		UsageMetadata: &geminiUsageMetadata{
			PromptTokenCount: resp.Usage.PromptTokens, CandidatesTokenCount: resp.Usage.CompletionTokens,
			TotalTokenCount: resp.Usage.TotalTokens,
		},
	}
	return json.Marshal(out)
}

type googleStreamBuilder struct{}

func (a *googleAdapter) NewStreamBuilder() StreamBuilder { return &googleStreamBuilder{} }

func (b *googleStreamBuilder) Build(event ir.StreamEvent) ([]Frame, error) {
	switch event.Type {
	case ir.StreamStart:
		return nil, nil
	case ir.StreamContent:
		resp := geminiResponse{Candidates: []geminiCandidate{{Content: geminiContent{Role: "model", Parts: []geminiPart{{Text: event.Delta}}}}}}
		data, _ := json.Marshal(resp)
		return []Frame{{Data: data}}, nil
	case ir.StreamToolCall:
		var args map[string]any
		_ = json.Unmarshal([]byte(event.ToolCallArgDelta), &args)
		resp := geminiResponse{Candidates: []geminiCandidate{{Content: geminiContent{Role: "model", Parts: []geminiPart{{FunctionCall: &geminiFunctionCall{Name: event.ToolCallName, Args: args}}}}}}}
		data, _ := json.Marshal(resp)
		return []Frame{{Data: data}}, nil
	case ir.StreamEnd:
		var usage *geminiUsageMetadata
		if event.Usage != nil {
			usage = &geminiUsageMetadata{
				PromptTokenCount: event.Usage.PromptTokens, CandidatesTokenCount: event.Usage.CompletionTokens,
				TotalTokenCount: event.Usage.TotalTokens,
			}
		}
		resp := geminiResponse{
			Candidates:    []geminiCandidate{{Content: geminiContent{Role: "model"}, FinishReason: geminiFinishReasonOut(event.FinishReason)}},
			UsageMetadata: usage,
		}
		data, _ := json.Marshal(resp)
		return []Frame{{Data: data}}, nil
	case ir.StreamError:
		data, _ := json.Marshal(geminiErrorBody{Error: geminiErrorDetail{Code: 500, Message: event.Err.Error(), Status: "INTERNAL"}})
		return []Frame{{Data: data}}, nil
	}
	return nil, nil
}

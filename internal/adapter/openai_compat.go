package adapter

import (
	"encoding/json"

	"github.com/amux/gateway/internal/ir"
	"github.com/tidwall/gjson"
)

// compatAdapter wraps the OpenAI dialect for the four OpenAI-wire-
// compatible providers (DeepSeek, Moonshot, Qwen, Zhipu). Each provider
// layers a small set of dialect-private extension fields on top of the
// otherwise-identical wire shape; rather than redeclaring the whole
// request/response struct family per dialect, compatAdapter parses with
// gjson for the extension fields only, and delegates everything else to
// the embedded OpenAI implementation.
type compatAdapter struct {
	openaiAdapter
	extensionFields []string // top-level request fields pulled into Extensions
}

func newCompat(name string, typ Type, extensionFields ...string) *compatAdapter {
	return &compatAdapter{
		openaiAdapter:   openaiAdapter{name: name, typ: typ},
		extensionFields: extensionFields,
	}
}

func (a *compatAdapter) ParseRequest(wire []byte) (*ir.Request, error) {
	req, err := a.openaiAdapter.ParseRequest(wire)
	if err != nil {
		return nil, err
	}
	if len(a.extensionFields) == 0 {
		return req, nil
	}
	parsed := gjson.ParseBytes(wire)
	for _, field := range a.extensionFields {
		if v := parsed.Get(field); v.Exists() {
			if req.Extensions == nil {
				req.Extensions = make(map[string]any)
			}
			req.Extensions[field] = v.Value()
		}
	}
	return req, nil
}

func (a *compatAdapter) BuildRequest(req *ir.Request) ([]byte, error) {
	wire, err := a.openaiAdapter.BuildRequest(req)
	if err != nil {
		return nil, err
	}
	if len(req.Extensions) == 0 {
		return wire, nil
	}
	var m map[string]any
	if err := json.Unmarshal(wire, &m); err != nil {
		return wire, nil
	}
	for _, field := range a.extensionFields {
		if v, ok := req.Extensions[field]; ok {
			m[field] = v
		}
	}
	return json.Marshal(m)
}

// ParseResponse additionally lifts a dialect's reasoning_content extension
// (DeepSeek) into the canonical ReasoningContent slot when present.
func (a *compatAdapter) ParseResponse(wire []byte) (*ir.Response, error) {
	resp, err := a.openaiAdapter.ParseResponse(wire)
	if err != nil {
		return nil, err
	}
	parsed := gjson.ParseBytes(wire)
	choices := parsed.Get("choices")
	choices.ForEach(func(_, choice gjson.Result) bool {
		idx := int(choice.Get("index").Int())
		rc := choice.Get("message.reasoning_content")
		if rc.Exists() && idx < len(resp.Choices) {
			resp.Choices[idx].Message.ReasoningContent = rc.String()
		}
		return true
	})
	return resp, nil
}

func (a *compatAdapter) ParseStreamChunk(chunk []byte) ([]ir.StreamEvent, error) {
	events, err := a.openaiAdapter.ParseStreamChunk(chunk)
	if err != nil {
		return nil, err
	}
	rc := gjson.GetBytes(chunk, "choices.0.delta.reasoning_content")
	if rc.Exists() && rc.String() != "" {
		events = append([]ir.StreamEvent{{Type: ir.StreamReasoning, Delta: rc.String()}}, events...)
	}
	return events, nil
}

// NewDeepSeek returns the DeepSeek adapter: OpenAI-compatible plus a
// reasoning_content extension surfaced on both messages and stream deltas.
func NewDeepSeek() Adapter {
	a := newCompat("deepseek", DeepSeek)
	return a
}

// NewMoonshot returns the Moonshot (Kimi) adapter: OpenAI-compatible plus a
// partial_mode request extension.
func NewMoonshot() Adapter {
	return newCompat("moonshot", Moonshot, "partial_mode")
}

// NewQwen returns the Qwen (DashScope compatible-mode) adapter:
// OpenAI-compatible; audio/video content parts have no IR representation
// and are flattened via serializeUnrepresentable when crossing dialects.
func NewQwen() Adapter {
	return newCompat("qwen", Qwen)
}

// NewZhipu returns the Zhipu (GLM) adapter: OpenAI-compatible plus a
// tool_stream capability flag and a web_search request extension.
func NewZhipu() Adapter {
	a := newCompat("zhipu", Zhipu, "web_search", "tool_stream")
	return a
}

func (a *compatAdapter) Capabilities() Capabilities {
	c := a.openaiAdapter.Capabilities()
	switch a.typ {
	case DeepSeek:
		c.Reasoning = true
	case Zhipu:
		c.WebSearch = true
	}
	return c
}

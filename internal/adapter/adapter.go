// Package adapter implements the eight wire dialects the gateway
// translates between: parsing inbound wire requests/responses/stream
// chunks into the canonical IR, and building outbound wire requests/
// responses/stream frames from it.
package adapter

import "github.com/amux/gateway/internal/ir"

// Type identifies one of the eight supported wire dialects.
type Type string

const (
	OpenAI          Type = "openai"
	OpenAIResponses Type = "openai-responses"
	Anthropic       Type = "anthropic"
	Google          Type = "google"
	DeepSeek        Type = "deepseek"
	Moonshot        Type = "moonshot"
	Qwen            Type = "qwen"
	Zhipu           Type = "zhipu"
)

// Capabilities is an advisory boolean record of what a dialect supports.
// It is used to fail fast when a caller requests an unsupported
// combination; it is never consulted on the hot path.
type Capabilities struct {
	Streaming     bool
	Tools         bool
	Vision        bool
	Multimodal    bool
	SystemPrompt  bool
	ToolChoice    bool
	Reasoning     bool
	WebSearch     bool
	JSONMode      bool
	Logprobs      bool
	Seed          bool
}

// Frame is one wire frame an outbound stream builder emits. Event is the
// SSE "event:" line value; when empty, only a "data:" line is written.
type Frame struct {
	Event string
	Data  []byte
}

// StreamBuilder is the incremental state machine an outbound adapter
// creates once per streaming request. It accepts IR stream events in
// arrival order and emits zero or more wire frames per event.
type StreamBuilder interface {
	// Build translates one IR stream event into the wire frames it
	// produces for this dialect. Most events produce exactly one frame;
	// some (e.g. a final content+finish merge) may produce two, and some
	// (e.g. Google's ping/ack-only chunks) may produce none.
	Build(event ir.StreamEvent) ([]Frame, error)
}

// Adapter is a dialect module: value-typed, side-effect-free outside the
// StreamBuilder it hands back.
type Adapter interface {
	Name() string
	Version() string
	Type() Type
	Capabilities() Capabilities

	// Inbound operations.
	ParseRequest(wire []byte) (*ir.Request, error)
	ParseResponse(wire []byte) (*ir.Response, error)
	// ParseStreamChunk parses one raw upstream chunk (already split from
	// its transport framing) into zero, one, or many IR stream events.
	// A nil, nil return means "skip this chunk" (e.g. an SSE comment or
	// keep-alive line).
	ParseStreamChunk(chunk []byte) ([]ir.StreamEvent, error)
	// ParseError never throws: it always returns a populated *ir.Error,
	// falling back to ErrUnknown when the body doesn't match a known
	// shape.
	ParseError(status int, body []byte) *ir.Error

	// Outbound operations.
	BuildRequest(req *ir.Request) ([]byte, error)
	BuildResponse(resp *ir.Response) ([]byte, error)
	NewStreamBuilder() StreamBuilder

	// DefaultChatPath is the inbound dialect endpoint default used when
	// mounting conversion-proxy routes.
	DefaultChatPath() string
	DefaultModelsPath() string

	// Terminator reports the dialect's stream termination sentinel, if
	// any. ok is false for Anthropic, OpenAI-Responses, and Google, which
	// write no terminator frame.
	Terminator() (sentinel string, ok bool)
}

// Registry is a table of adapters keyed by dialect type, built once at
// startup rather than through a deep inheritance hierarchy.
type Registry struct {
	adapters map[Type]Adapter
}

// NewRegistry builds and registers all eight dialects.
func NewRegistry() *Registry {
	r := &Registry{adapters: make(map[Type]Adapter, 8)}
	r.register(NewOpenAI())
	r.register(NewOpenAIResponses())
	r.register(NewAnthropic())
	r.register(NewGoogle())
	r.register(NewDeepSeek())
	r.register(NewMoonshot())
	r.register(NewQwen())
	r.register(NewZhipu())
	return r
}

func (r *Registry) register(a Adapter) { r.adapters[a.Type()] = a }

// Get returns the adapter for a dialect, or (nil, false) if unknown.
func (r *Registry) Get(t Type) (Adapter, bool) {
	a, ok := r.adapters[t]
	return a, ok
}

// All returns every registered adapter for enumeration (e.g. route mounting).
func (r *Registry) All() map[Type]Adapter {
	out := make(map[Type]Adapter, len(r.adapters))
	for k, v := range r.adapters {
		out[k] = v
	}
	return out
}

// Package tokencount estimates prompt/completion token counts locally
// when an upstream response omits usage accounting, using tiktoken-go's
// BPE tables as a stand-in cost model.
package tokencount

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/amux/gateway/internal/ir"
)

// defaultEncoding is the encoding used for estimation across every
// dialect; exact tokenization differs per model family, but the spec only
// requires a fallback estimate, not a model-exact count.
const defaultEncoding = "cl100k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding(defaultEncoding)
	})
	return enc, encErr
}

// countTokens returns the BPE token count for s, or a conservative
// whitespace-split estimate if the encoder failed to load.
func countTokens(s string) int {
	if s == "" {
		return 0
	}
	e, err := encoding()
	if err != nil {
		return len(strings.Fields(s))
	}
	return len(e.Encode(s, nil, nil))
}

func messageText(m ir.Message) string {
	if !m.IsMultipart() {
		return m.Text
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == ir.PartText {
			b.WriteString(p.Text)
			b.WriteString(" ")
		}
	}
	return b.String()
}

// EstimatePrompt counts tokens across a request's system prompt and
// messages.
func EstimatePrompt(req *ir.Request) int {
	total := countTokens(req.System)
	for _, m := range req.Messages {
		total += countTokens(messageText(m))
	}
	return total
}

// EstimateCompletion counts tokens across a response's generated content.
func EstimateCompletion(resp *ir.Response) int {
	total := 0
	for _, c := range resp.Choices {
		total += countTokens(c.Message.Content)
		total += countTokens(c.Message.ReasoningContent)
		for _, tc := range c.Message.ToolCalls {
			total += countTokens(tc.Arguments)
		}
	}
	return total
}

// EstimateResponse builds a full Usage triple from a request/response pair
// when the upstream provided none. It never overrides a real upstream
// value — callers only invoke this when resp.Usage is empty.
func EstimateResponse(req *ir.Request, resp *ir.Response) ir.Usage {
	prompt := EstimatePrompt(req)
	completion := EstimateCompletion(resp)
	return ir.Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
}

// Package bridge composes one inbound adapter with one outbound adapter
// around a single request, carrying lifecycle hooks used to extract usage
// data independent of dialect.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/amux/gateway/internal/adapter"
	"github.com/amux/gateway/internal/gwerr"
	"github.com/amux/gateway/internal/ir"
	"github.com/amux/gateway/internal/tokencount"
)

// DefaultTimeout is the per-request upstream deadline when none is
// configured.
const DefaultTimeout = 60 * time.Second

// Config is the per-Bridge connection configuration: the upstream
// credential, base URL, chat path, and timeout.
type Config struct {
	APIKey   string
	BaseURL  string
	ChatPath string
	Timeout  time.Duration
}

// UsageCapture is the explicit out-parameter a caller passes into Chat/
// ChatStream to receive the usage observed for this request. This
// replaces the spec's "stash usage on the instance" pattern — see
// DESIGN.md's hook/usage contract deviation note — because a cached
// Bridge is shared by concurrent in-flight requests and a mutable scalar
// slot on the Bridge would race.
type UsageCapture struct {
	Usage   ir.Usage
	Present bool
}

// Set records usage observed from an upstream response or terminal stream
// event. It is a no-op if called more than once; the first observation
// wins.
func (u *UsageCapture) Set(usage ir.Usage) {
	if u == nil || u.Present {
		return
	}
	u.Usage = usage
	u.Present = true
}

// Bridge is the composed inbound+outbound pipeline for one (proxy,
// provider) pair, or for a single pass-through request.
type Bridge struct {
	Inbound  adapter.Adapter
	Outbound adapter.Adapter
	Config   Config

	httpClient *http.Client
}

// New builds a Bridge. client may be nil, in which case http.DefaultClient
// is used.
func New(inbound, outbound adapter.Adapter, cfg Config, client *http.Client) *Bridge {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Bridge{Inbound: inbound, Outbound: outbound, Config: cfg, httpClient: client}
}

// Chat runs the non-streaming pipeline: parseRequest -> buildRequest ->
// upstream call -> parseResponse -> buildResponse.
func (b *Bridge) Chat(ctx context.Context, wireRequest []byte, usage *UsageCapture) ([]byte, error) {
	req, err := b.Inbound.ParseRequest(wireRequest)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.InvalidRequest, err, "parsing inbound request")
	}
	req.Stream = false

	outWire, err := b.Outbound.BuildRequest(req)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.InternalError, err, "building outbound request")
	}

	ctx, cancel := context.WithTimeout(ctx, b.Config.Timeout)
	defer cancel()

	httpResp, err := b.doUpstream(ctx, outWire, false)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.ProviderUnreachable, err, "reading upstream response")
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, adapterErrorFromUpstream(b.Outbound, httpResp.StatusCode, body)
	}

	resp, err := b.Outbound.ParseResponse(body)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.AdapterError, err, "parsing upstream response")
	}

	if resp.Usage.TotalTokens == 0 && resp.Usage.PromptTokens == 0 {
		resp.Usage = tokencount.EstimateResponse(req, resp)
	}
	usage.Set(resp.Usage)

	wireResp, err := b.Inbound.BuildResponse(resp)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.InternalError, err, "building inbound response")
	}
	return wireResp, nil
}

// ChatStream runs the streaming pipeline: parseRequest -> buildRequest
// (stream=true) -> read upstream SSE -> parseStream per chunk ->
// outbound stream builder -> frames written to out via emit.
//
// Backpressure: emit is called synchronously for every frame before the
// next upstream chunk is read, tying upstream consumption to client
// consumption — there is no internal queue.
func (b *Bridge) ChatStream(ctx context.Context, wireRequest []byte, usage *UsageCapture, emit func(adapter.Frame) error) error {
	req, err := b.Inbound.ParseRequest(wireRequest)
	if err != nil {
		return gwerr.Wrap(gwerr.InvalidRequest, err, "parsing inbound request")
	}
	req.Stream = true

	outWire, err := b.Outbound.BuildRequest(req)
	if err != nil {
		return gwerr.Wrap(gwerr.InternalError, err, "building outbound request")
	}

	ctx, cancel := context.WithTimeout(ctx, b.Config.Timeout)
	defer cancel()

	httpResp, err := b.doUpstream(ctx, outWire, true)
	if err != nil {
		return classifyTransportError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(httpResp.Body)
		return adapterErrorFromUpstream(b.Outbound, httpResp.StatusCode, body)
	}

	builder := b.Inbound.NewStreamBuilder()
	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		data, ok := sseData(line)
		if !ok {
			continue
		}
		if string(data) == "[DONE]" {
			break
		}

		events, err := b.Outbound.ParseStreamChunk(data)
		if err != nil {
			return gwerr.Wrap(gwerr.AdapterError, err, "parsing upstream stream chunk")
		}
		for _, event := range events {
			if event.Type == ir.StreamEnd && event.Usage != nil {
				usage.Set(*event.Usage)
			}
			frames, err := builder.Build(event)
			if err != nil {
				return gwerr.Wrap(gwerr.InternalError, err, "building outbound stream frame")
			}
			for _, f := range frames {
				if err := emit(f); err != nil {
					return err
				}
			}
			if event.Type == ir.StreamError {
				return gwerr.Newf(gwerr.AdapterError, "upstream stream error: %v", event.Err)
			}
		}
		select {
		case <-ctx.Done():
			return classifyTransportError(ctx.Err())
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		return gwerr.Wrap(gwerr.ProviderUnreachable, err, "reading upstream stream")
	}
	return nil
}

func sseData(line []byte) ([]byte, bool) {
	const prefix = "data: "
	if len(line) < len(prefix) || string(line[:len(prefix)]) != prefix {
		return nil, false
	}
	return line[len(prefix):], true
}

func (b *Bridge) doUpstream(ctx context.Context, body []byte, stream bool) (*http.Response, error) {
	url := b.Config.BaseURL + b.Config.ChatPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.Config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.Config.APIKey)
	}
	return b.httpClient.Do(httpReq)
}

func classifyTransportError(err error) *gwerr.Error {
	if err == nil {
		return nil
	}
	if err == context.DeadlineExceeded {
		return gwerr.Wrap(gwerr.ConnectionTimeout, err, "upstream call timed out")
	}
	return gwerr.Wrap(gwerr.ProviderUnreachable, err, "upstream call failed")
}

func adapterErrorFromUpstream(outbound adapter.Adapter, status int, body []byte) *gwerr.Error {
	irErr := outbound.ParseError(status, body)
	code := gwerr.AdapterError
	if status == http.StatusTooManyRequests {
		code = gwerr.RateLimited
	}
	e := gwerr.New(code, irErr.Message).WithStatus(status)
	if code == gwerr.AdapterError {
		e.WithRetryable(status >= 500)
	}
	return e
}

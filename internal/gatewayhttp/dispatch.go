package gatewayhttp

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/amux/gateway/internal/adapter"
	"github.com/amux/gateway/internal/auth"
	"github.com/amux/gateway/internal/bridge"
	"github.com/amux/gateway/internal/bridgecache"
	"github.com/amux/gateway/internal/gwerr"
	"github.com/amux/gateway/internal/ir"
	"github.com/amux/gateway/internal/logsink"
	"github.com/amux/gateway/internal/store"
)

const (
	cliClaudeCode = "claudecode"
	cliCodex      = "codex"
)

// handleCodeSwitch serves POST /code/{cliType}/v1/messages.
func (e *Engine) handleCodeSwitch(w http.ResponseWriter, r *http.Request) {
	cliType := chi.URLParam(r, "cliType")
	reqID := uuid.NewString()
	start := time.Now()
	source := auth.DetectSource(r)

	inbound, _ := e.deps.Adapters.Get(adapter.Anthropic)

	if cliType != cliClaudeCode && cliType != cliCodex {
		e.failNoRecord(w, inbound.Type(), gwerr.Newf(gwerr.InvalidRequest, "unknown cli type %q", cliType), reqID)
		return
	}

	authResult, err := e.deps.Auth.Authenticate(r)
	if err != nil {
		e.failAndRecord(w, inbound.Type(), err, logsink.Record{PassthroughPath: "/code/" + cliType, Source: string(source), Timestamp: start}, reqID, start)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		e.failAndRecord(w, inbound.Type(), gwerr.Wrap(gwerr.InvalidRequest, err, "reading request body"), logsink.Record{PassthroughPath: "/code/" + cliType, Source: string(source), Timestamp: start}, reqID, start)
		return
	}

	req, err := inbound.ParseRequest(body)
	if err != nil {
		e.failAndRecord(w, inbound.Type(), gwerr.Wrap(gwerr.InvalidRequest, err, "parsing request"), logsink.Record{PassthroughPath: "/code/" + cliType, Source: string(source), Timestamp: start}, reqID, start)
		return
	}
	sourceModel := req.Model

	rec := logsink.Record{PassthroughPath: "/code/" + cliType, SourceModel: sourceModel, Source: string(source), Timestamp: start}
	if e.deps.Store.Settings().LogsSaveRequestBody {
		rec.RequestBody = string(body)
	}

	providerID, targetModel, matched := e.resolveCodeSwitchTarget(cliType, req)
	if !matched {
		e.failAndRecord(w, inbound.Type(), gwerr.Newf(gwerr.ModelMappingRequired,
			"model %q has no active Code-Switch mapping for %q; use the \"<providerAdapterType>/<model>\" naming scheme to bypass mapping", sourceModel, cliType),
			rec, reqID, start)
		return
	}

	provider, ok := e.deps.Store.Provider(providerID)
	if !ok {
		e.failAndRecord(w, inbound.Type(), gwerr.Newf(gwerr.ProviderNotFound, "provider %q not found", providerID), rec, reqID, start)
		return
	}
	if !provider.Enabled {
		e.failAndRecord(w, inbound.Type(), gwerr.Newf(gwerr.ProviderDisabled, "provider %q disabled", providerID), rec, reqID, start)
		return
	}
	outbound, ok := e.deps.Adapters.Get(adapter.Type(provider.Adapter))
	if !ok {
		e.failAndRecord(w, inbound.Type(), gwerr.Newf(gwerr.InternalError, "unknown adapter type %q", provider.Adapter), rec, reqID, start)
		return
	}

	req.Model = targetModel
	rec.TargetModel = targetModel
	wireBody, err := inbound.BuildRequest(req)
	if err != nil {
		e.failAndRecord(w, inbound.Type(), gwerr.Wrap(gwerr.InternalError, err, "re-building request after mapping"), rec, reqID, start)
		return
	}

	cfg := bridge.Config{
		APIKey:   e.resolveCredential(provider, authResult),
		BaseURL:  provider.BaseURL,
		ChatPath: chatPathFor(provider, outbound, targetModel),
		Timeout:  e.deps.Store.Settings().ProxyTimeout,
	}
	br := bridge.New(inbound, outbound, cfg, e.deps.HTTPClient)

	e.deps.Metrics.IncActiveConn("", provider.ID)
	defer e.deps.Metrics.DecActiveConn("", provider.ID)

	e.dispatch(w, r, br, wireBody, reqID, rec, start, provider.ID)
}

// resolveCodeSwitchTarget implements the Code-Switch addressing rules: a
// "<providerAdapterType>/<model>" identifier selects a provider by adapter
// type directly, bypassing the mapping table; anything else goes through
// the layered Code-Switch resolution.
func (e *Engine) resolveCodeSwitchTarget(cliType string, req *ir.Request) (providerID, targetModel string, matched bool) {
	if idx := strings.Index(req.Model, "/"); idx > 0 {
		adapterTypeStr, modelName := req.Model[:idx], req.Model[idx+1:]
		for _, p := range e.deps.Store.Providers() {
			if p.Enabled && string(p.Adapter) == adapterTypeStr {
				return p.ID, modelName, true
			}
		}
		return "", "", false
	}
	return e.deps.Mapping.ResolveCodeSwitch(cliType, req.Model, req.Generation.Reasoning)
}

// handlePassthrough serves a passthrough provider route. The request is
// tunneled through the provider's own dialect: inbound == outbound == the
// provider's adapter, and the upstream URL is built from the literal
// incoming path and query rather than reconstructed from a template, so
// Google-style "{model}:<action>?alt=sse" endpoints forward unchanged.
func (e *Engine) handlePassthrough(w http.ResponseWriter, r *http.Request, p store.Provider, a adapter.Adapter, mountBase string) {
	reqID := uuid.NewString()
	start := time.Now()
	source := auth.DetectSource(r)

	authResult, err := e.deps.Auth.Authenticate(r)
	if err != nil {
		e.failAndRecord(w, a.Type(), err, logsink.Record{PassthroughPath: r.URL.Path, Source: string(source), Timestamp: start}, reqID, start)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		e.failAndRecord(w, a.Type(), gwerr.Wrap(gwerr.InvalidRequest, err, "reading request body"), logsink.Record{PassthroughPath: r.URL.Path, Source: string(source), Timestamp: start}, reqID, start)
		return
	}

	if model := capturedModel(r); model != "" {
		body = injectModelViaAdapter(a, body, model)
	}

	rec := logsink.Record{PassthroughPath: r.URL.Path, Source: string(source), Timestamp: start}
	if e.deps.Store.Settings().LogsSaveRequestBody {
		rec.RequestBody = string(body)
	}

	upstreamPath := strings.TrimPrefix(r.URL.Path, mountBase)
	if r.URL.RawQuery != "" {
		upstreamPath += "?" + r.URL.RawQuery
	}

	cfg := bridge.Config{
		APIKey:   e.resolveCredential(p, authResult),
		BaseURL:  p.BaseURL,
		ChatPath: upstreamPath,
		Timeout:  e.deps.Store.Settings().ProxyTimeout,
	}
	br := bridge.New(a, a, cfg, e.deps.HTTPClient)

	e.deps.Metrics.IncActiveConn("", p.ID)
	defer e.deps.Metrics.DecActiveConn("", p.ID)

	e.dispatch(w, r, br, body, reqID, rec, start, p.ID)
}

// handleConversion serves a conversion-proxy route.
func (e *Engine) handleConversion(w http.ResponseWriter, r *http.Request, px store.Proxy, inbound adapter.Adapter) {
	reqID := uuid.NewString()
	start := time.Now()
	source := auth.DetectSource(r)

	authResult, err := e.deps.Auth.Authenticate(r)
	if err != nil {
		e.failAndRecord(w, inbound.Type(), err, logsink.Record{ProxyID: px.ID, Source: string(source), Timestamp: start}, reqID, start)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		e.failAndRecord(w, inbound.Type(), gwerr.Wrap(gwerr.InvalidRequest, err, "reading request body"), logsink.Record{ProxyID: px.ID, Source: string(source), Timestamp: start}, reqID, start)
		return
	}

	req, err := inbound.ParseRequest(body)
	if err != nil {
		e.failAndRecord(w, inbound.Type(), gwerr.Wrap(gwerr.InvalidRequest, err, "parsing request"), logsink.Record{ProxyID: px.ID, Source: string(source), Timestamp: start}, reqID, start)
		return
	}
	sourceModel := req.Model

	rec := logsink.Record{ProxyID: px.ID, SourceModel: sourceModel, Source: string(source), Timestamp: start}
	if e.deps.Store.Settings().LogsSaveRequestBody {
		rec.RequestBody = string(body)
	}

	_, provider, err := e.deps.Resolver.ResolveProxyChain(px.ID)
	if err != nil {
		e.failAndRecord(w, inbound.Type(), err, rec, reqID, start)
		return
	}

	targetModel := e.deps.Mapping.ResolveConversion(px.ID, sourceModel)
	req.Model = targetModel
	rec.TargetModel = targetModel

	outbound, ok := e.deps.Adapters.Get(adapter.Type(provider.Adapter))
	if !ok {
		e.failAndRecord(w, inbound.Type(), gwerr.Newf(gwerr.InternalError, "unknown adapter type %q", provider.Adapter), rec, reqID, start)
		return
	}

	wireBody, err := inbound.BuildRequest(req)
	if err != nil {
		e.failAndRecord(w, inbound.Type(), gwerr.Wrap(gwerr.InternalError, err, "re-building request after mapping"), rec, reqID, start)
		return
	}

	chatPath := chatPathFor(provider, outbound, targetModel)
	variablePath := strings.Contains(provider.ChatPath, "{model}") ||
		(provider.ChatPath == "" && strings.Contains(outbound.DefaultChatPath(), "{model}"))

	cfg := bridge.Config{
		APIKey:   e.resolveCredential(provider, authResult),
		BaseURL:  provider.BaseURL,
		ChatPath: chatPath,
		Timeout:  e.deps.Store.Settings().ProxyTimeout,
	}

	// Pass-through-keyed requests and requests against a provider whose
	// chat path varies per model bypass the cache: a cached Bridge's
	// ChatPath would otherwise pin the first request's resolved model into
	// every later cache hit.
	var br *bridge.Bridge
	cacheable := authResult.Mode != auth.ModePassThrough && !variablePath
	key := bridgecache.Key{ProxyID: px.ID, ProviderID: provider.ID}
	if cacheable {
		if cached, ok := e.deps.BridgeCache.Get(key); ok {
			br = cached.(*bridge.Bridge)
		}
	}
	if br == nil {
		br = bridge.New(inbound, outbound, cfg, e.deps.HTTPClient)
		if cacheable {
			e.deps.BridgeCache.Put(key, br)
		}
	}

	e.deps.Metrics.IncActiveConn(px.ID, provider.ID)
	defer e.deps.Metrics.DecActiveConn(px.ID, provider.ID)

	e.dispatch(w, r, br, wireBody, reqID, rec, start, provider.ID)
}

// chatPathFor resolves the outbound adapter's chat path, substituting a
// literal {model} placeholder (Google's path-embedded model convention)
// with the resolved target model.
func chatPathFor(p store.Provider, a adapter.Adapter, model string) string {
	cp := p.ChatPath
	if cp == "" {
		cp = a.DefaultChatPath()
	}
	if strings.Contains(cp, "{model}") {
		cp = strings.ReplaceAll(cp, "{model}", model)
	}
	return cp
}

// capturedModel extracts a model name captured from the URL: either a
// named chi "model" path parameter, or the segment before the first ":"
// in a wildcard-mounted Google-style route.
func capturedModel(r *http.Request) string {
	if m := chi.URLParam(r, "model"); m != "" {
		return m
	}
	if wild := chi.URLParam(r, "*"); wild != "" {
		if idx := strings.Index(wild, ":"); idx > 0 {
			return wild[:idx]
		}
		return wild
	}
	return ""
}

// injectModelViaAdapter round-trips body through the adapter that is both
// the inbound and outbound dialect for a passthrough route, with req.Model
// set to model, when the parsed request carries no model. The result is the
// adapter's rebuild of the body, so only fields its wire struct knows are
// kept. The model reaches the rebuilt body only where that wire struct has
// a model field; Google's has none, so a Google body still carries no model
// and the model stays in the URL path alone. A body the adapter cannot
// parse is returned unchanged: the OpenAI, OpenAI-compatible, Responses and
// Anthropic parsers reject a body without a model, so for those dialects
// such a body is forwarded as it came.
func injectModelViaAdapter(a adapter.Adapter, body []byte, model string) []byte {
	req, err := a.ParseRequest(body)
	if err != nil || req.Model != "" {
		return body
	}
	req.Model = model
	rebuilt, err := a.BuildRequest(req)
	if err != nil {
		return body
	}
	return rebuilt
}

// resolveCredential picks the outbound credential: a pass-through key is
// used verbatim; otherwise the provider's stored credential is decrypted.
func (e *Engine) resolveCredential(p store.Provider, authResult auth.Result) string {
	if authResult.Mode == auth.ModePassThrough {
		return authResult.Key
	}
	plain, err := e.deps.Secrets.Decrypt(p.Credential)
	if err != nil {
		return p.Credential
	}
	return plain
}

// dispatch runs the common forward-and-record tail shared by all three
// pipelines: decide streaming, forward the request, and emit the log and
// metric records.
func (e *Engine) dispatch(w http.ResponseWriter, r *http.Request, br *bridge.Bridge, wireBody []byte, reqID string, rec logsink.Record, start time.Time, providerID string) {
	streaming := wantsStream(r, wireBody, br.Inbound.Type())

	var usage bridge.UsageCapture
	inboundType := br.Inbound.Type()

	if streaming {
		writeSSEHeaders(w, reqID)
		streamErr := br.ChatStream(r.Context(), wireBody, &usage, func(f adapter.Frame) error {
			writeFrame(w, f)
			return nil
		})
		status := http.StatusOK
		if streamErr != nil {
			gwErr, ok := gwerr.As(streamErr)
			if !ok {
				gwErr = gwerr.Wrap(gwerr.InternalError, streamErr, "stream forwarding failed")
			}
			writeFrame(w, sseErrorFrame(inboundType, gwErr))
			status = 500
			rec.Error = gwErr.Error()
		} else {
			writeTerminator(w, br.Inbound)
		}
		rec.Status = status
		e.finish(rec, usage, start, providerID)
		return
	}

	wireResp, err := br.Chat(r.Context(), wireBody, &usage)
	if err != nil {
		gwErr, ok := gwerr.As(err)
		if !ok {
			gwErr = gwerr.Wrap(gwerr.InternalError, err, "request failed")
		}
		rec.Error = gwErr.Error()
		rec.Status = gwErr.HTTPStatus()
		e.finish(rec, usage, start, providerID)
		w.Header().Set("X-Request-ID", reqID)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(gwErr.HTTPStatus())
		_ = json.NewEncoder(w).Encode(errorEnvelope(inboundType, gwErr))
		return
	}

	rec.Status = http.StatusOK
	if e.deps.Store.Settings().LogsSaveResponseBody {
		rec.ResponseBody = string(wireResp)
	}
	e.finish(rec, usage, start, providerID)

	w.Header().Set("X-Request-ID", reqID)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(wireResp)
}

// wantsStream reports whether the caller asked for a streamed response:
// the body opts in with "stream":true, or the URL is a Google endpoint
// carrying alt=sse or the literal substring "stream".
func wantsStream(r *http.Request, wireBody []byte, inbound adapter.Type) bool {
	var probe struct {
		Stream bool `json:"stream"`
	}
	if json.Unmarshal(wireBody, &probe) == nil && probe.Stream {
		return true
	}
	if inbound != adapter.Google {
		return false
	}
	if r.URL.Query().Get("alt") == "sse" {
		return true
	}
	return strings.Contains(r.URL.Path, "stream")
}

// finish records the log and metric outcome of one request.
func (e *Engine) finish(rec logsink.Record, usage bridge.UsageCapture, start time.Time, providerID string) {
	rec.LatencyMs = time.Since(start).Milliseconds()
	if usage.Present {
		rec.InputTokens = usage.Usage.PromptTokens
		rec.OutputTokens = usage.Usage.CompletionTokens
	}
	e.deps.Logs.Append(rec)
	e.deps.Metrics.Record(rec.ProxyID, providerID, rec.Status < 300 && rec.Status != 0, rec.LatencyMs, rec.InputTokens, rec.OutputTokens)
}

// failAndRecord writes a dialect-framed error response and records a
// failed-request log/metric entry.
func (e *Engine) failAndRecord(w http.ResponseWriter, inboundType adapter.Type, err error, rec logsink.Record, reqID string, start time.Time) {
	gwErr, ok := gwerr.As(err)
	if !ok {
		gwErr = gwerr.Wrap(gwerr.InternalError, err, "request failed")
	}
	rec.Status = gwErr.HTTPStatus()
	rec.Error = gwErr.Error()
	rec.LatencyMs = time.Since(start).Milliseconds()
	e.deps.Logs.Append(rec)
	e.deps.Metrics.Record(rec.ProxyID, "", false, rec.LatencyMs, 0, 0)
	e.writeError(w, inboundType, gwErr, reqID)
}

// failNoRecord writes an error response without a provider/proxy context
// to attribute a log entry to (e.g. an unknown cliType segment).
func (e *Engine) failNoRecord(w http.ResponseWriter, inboundType adapter.Type, err error, reqID string) {
	e.writeError(w, inboundType, err, reqID)
}

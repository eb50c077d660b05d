// Package gatewayhttp is the route engine: it mounts the Code-Switch,
// passthrough-provider, and conversion-proxy HTTP paths from configuration
// and runs the shared request lifecycle across all three.
package gatewayhttp

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/amux/gateway/internal/adapter"
	"github.com/amux/gateway/internal/auth"
	"github.com/amux/gateway/internal/bridgecache"
	"github.com/amux/gateway/internal/logsink"
	"github.com/amux/gateway/internal/mapping"
	"github.com/amux/gateway/internal/metrics"
	"github.com/amux/gateway/internal/resolver"
	"github.com/amux/gateway/internal/secret"
	"github.com/amux/gateway/internal/store"
)

// Deps is everything the route engine needs from the rest of the gateway.
type Deps struct {
	Store       store.Store
	Adapters    *adapter.Registry
	BridgeCache *bridgecache.Cache
	Resolver    *resolver.Resolver
	Mapping     *mapping.Engine
	Auth        *auth.Gate
	Metrics     *metrics.Sink
	Logs        *logsink.Sink
	Secrets     secret.Decryptor
	HTTPClient  *http.Client

	// StartedAt is used by the health handler to report uptime.
	StartedAt time.Time
}

// Engine mounts routes over Deps and serves HTTP.
type Engine struct {
	deps   Deps
	router chi.Router
}

// NewEngine builds an Engine and mounts every route that configuration
// asks for. Routes MUST be installed before the listener accepts
// connections — callers that expose Engine through a listener should only
// do so after this constructor returns.
func NewEngine(deps Deps) *Engine {
	if deps.HTTPClient == nil {
		deps.HTTPClient = http.DefaultClient
	}
	if deps.Secrets == nil {
		deps.Secrets = secret.NoOp{}
	}
	e := &Engine{deps: deps}
	e.mountRoutes()
	return e
}

// ServeHTTP makes Engine an http.Handler.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.router.ServeHTTP(w, r)
}

func (e *Engine) mountRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(e.corsMiddleware())

	r.Get("/", e.handleStatus)
	r.Get("/health", e.handleHealth)
	r.Get("/v1/proxies", e.handleListProxies)

	r.Post("/code/{cliType}/v1/messages", e.handleCodeSwitch)

	for _, p := range e.deps.Store.Providers() {
		if !p.Enabled || !p.PassthroughProxy || p.LocalPath == "" {
			continue
		}
		e.mountPassthroughProvider(r, p)
	}
	for _, px := range e.deps.Store.Proxies() {
		if !px.Enabled {
			continue
		}
		e.mountConversionProxy(r, px)
	}

	e.router = r
}

func (e *Engine) mountPassthroughProvider(r chi.Router, p store.Provider) {
	a, ok := e.deps.Adapters.Get(adapter.Type(p.Adapter))
	if !ok {
		return
	}
	chatPath := p.ChatPath
	if chatPath == "" {
		chatPath = a.DefaultChatPath()
	}
	base := "/providers/" + p.LocalPath

	mountChatPath(r, base, chatPath, func(w http.ResponseWriter, req *http.Request) {
		e.handlePassthrough(w, req, p, a, base)
	})

	modelsPath := p.ModelsPath
	if modelsPath == "" {
		modelsPath = a.DefaultModelsPath()
	}
	r.Get(base+modelsPath, func(w http.ResponseWriter, req *http.Request) {
		writeModelsList(w, p.Models)
	})
}

func (e *Engine) mountConversionProxy(r chi.Router, px store.Proxy) {
	inbound, ok := e.deps.Adapters.Get(adapter.Type(px.InboundAdapter))
	if !ok {
		return
	}
	base := "/proxies/" + px.LocalPath
	chatPath := inbound.DefaultChatPath()

	mountChatPath(r, base, chatPath, func(w http.ResponseWriter, req *http.Request) {
		e.handleConversion(w, req, px, inbound)
	})

	r.Get(base+"/v1/models", func(w http.ResponseWriter, req *http.Request) {
		e.handleProxyModels(w, req, px)
	})
}

// mountChatPath installs handler at base+chatPath, handling three shapes:
// a Google-style "{model}:<action>" suffix (mounted as a wildcard so the
// handler can split the action out of the remainder), a standalone
// "{model}" path parameter (chi matches this
// natively even with surrounding literal text in the same segment), or a
// fixed path.
func mountChatPath(r chi.Router, base, chatPath string, handler http.HandlerFunc) {
	if idx := strings.Index(chatPath, "{model}:"); idx >= 0 {
		r.Post(base+chatPath[:idx]+"*", handler)
		return
	}
	r.Post(base+chatPath, handler)
}

func (e *Engine) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"service": "amux-gateway",
	})
}

func (e *Engine) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Duration(0)
	if !e.deps.StartedAt.IsZero() {
		uptime = time.Since(e.deps.StartedAt)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"uptime":  uptime.String(),
		"metrics": e.deps.Metrics.Global(),
	})
}

func (e *Engine) handleListProxies(w http.ResponseWriter, r *http.Request) {
	type proxyInfo struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		LocalPath string `json:"localPath"`
	}
	var out []proxyInfo
	for _, px := range e.deps.Store.Proxies() {
		if !px.Enabled {
			continue
		}
		out = append(out, proxyInfo{ID: px.ID, Name: px.Name, LocalPath: px.LocalPath})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (e *Engine) handleProxyModels(w http.ResponseWriter, r *http.Request, px store.Proxy) {
	_, provider, err := e.deps.Resolver.ResolveProxyChain(px.ID)
	if err != nil {
		e.writeError(w, adapter.Anthropic, err, "")
		return
	}
	writeModelsList(w, provider.Models)
}

func writeModelsList(w http.ResponseWriter, models []string) {
	type modelRow struct {
		ID     string `json:"id"`
		Object string `json:"object"`
	}
	rows := make([]modelRow, 0, len(models))
	for _, m := range models {
		rows = append(rows, modelRow{ID: m, Object: "model"})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": rows})
}

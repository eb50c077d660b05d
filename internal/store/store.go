// Package store defines the configuration-store collaborator: the
// read-only entity accessors the core consumes (Provider, Proxy,
// ModelMapping, PlatformKey, Code-Switch rows, Settings), plus an
// in-memory reference implementation (memstore) so the gateway is
// runnable end-to-end without an external CRUD backend.
package store

import "time"

// AdapterType mirrors adapter.Type as a plain string so this package has no
// import-cycle dependency on internal/adapter.
type AdapterType string

const (
	AdapterOpenAI          AdapterType = "openai"
	AdapterOpenAIResponses AdapterType = "openai-responses"
	AdapterAnthropic       AdapterType = "anthropic"
	AdapterGoogle          AdapterType = "google"
	AdapterDeepSeek        AdapterType = "deepseek"
	AdapterMoonshot        AdapterType = "moonshot"
	AdapterQwen            AdapterType = "qwen"
	AdapterZhipu           AdapterType = "zhipu"
)

// OAuthPool carries the opaque OAuth-pool metadata the core peeks at when
// deciding whether a Bridge may be cached.
type OAuthPool struct {
	IsPool           bool
	OAuthProviderType string
}

// Provider is persistent configuration for one upstream LLM endpoint.
type Provider struct {
	ID      string
	Name    string
	Adapter AdapterType

	BaseURL   string // overrides adapter default when non-empty
	ChatPath  string // may contain a literal {model} placeholder
	ModelsPath string

	Credential string // opaque, decrypted on demand via secret.Decryptor

	Models []string

	Enabled bool

	PassthroughProxy bool
	LocalPath        string // non-empty and unique when PassthroughProxy is set

	OAuthPool OAuthPool
}

// OutboundKind names what a Proxy's outbound side points at.
type OutboundKind string

const (
	OutboundProvider OutboundKind = "provider"
	OutboundProxy    OutboundKind = "proxy"
)

// Proxy is a conversion bridge: an inbound dialect mapped to an outbound
// target that is itself either a Provider or another Proxy.
type Proxy struct {
	ID   string
	Name string

	InboundAdapter AdapterType
	OutboundKind   OutboundKind
	OutboundID     string

	LocalPath string
	Enabled   bool
}

// MappingType distinguishes the four Code-Switch resolution strategies.
type MappingType string

const (
	MappingExact     MappingType = "exact"
	MappingFamily    MappingType = "family"
	MappingReasoning MappingType = "reasoning"
	MappingDefault   MappingType = "default"
)

// ModelMapping covers both conversion-proxy rows (ProxyID set, CLIType/
// ProviderID empty) and Code-Switch rows (CLIType+ProviderID set).
type ModelMapping struct {
	// Conversion-proxy identity.
	ProxyID string

	// Code-Switch identity.
	CLIType    string
	ProviderID string

	SourceModel string
	TargetModel string

	MappingType MappingType // only meaningful for Code-Switch rows
	Priority    int         // family rows: ascending, lower = higher precedence

	IsDefault bool // conversion-proxy rows
	IsActive  bool // Code-Switch rows
}

// PlatformKey is a credential issued and tracked by this gateway.
type PlatformKey struct {
	ID         string
	Key        string // string form, prefixed "sk-amux."
	Enabled    bool
	LastUsedAt time.Time
}

// Settings holds the gateway's runtime-tunable configuration.
type Settings struct {
	ProxyPort    int
	ProxyHost    string
	ProxyTimeout time.Duration

	CORSEnabled bool
	CORSOrigins []string

	UnifiedAPIKeyEnabled bool

	LogsEnabled         bool
	LogsSaveRequestBody bool
	LogsSaveResponseBody bool
	LogsMaxBodySize     int
	LogsRetentionDays   int
	LogsMaxEntries      int
}

// DefaultSettings returns the documented default Settings values.
func DefaultSettings() Settings {
	return Settings{
		ProxyPort: 9527, ProxyHost: "127.0.0.1", ProxyTimeout: 60 * time.Second,
		CORSEnabled: true, CORSOrigins: []string{"*"},
		UnifiedAPIKeyEnabled: false,
		LogsEnabled:          true,
		LogsMaxBodySize:      10240, LogsRetentionDays: 30, LogsMaxEntries: 10000,
	}
}

// InvalidateFunc is the callback a store invokes after a mutation that
// should evict cached derived state (a Bridge-cache entry, a mapping TTL
// cache entry) scoped to the changed proxy or provider.
type InvalidateFunc func(proxyID, providerID string)

// Store is the read-only collaborator interface the core consumes.
// Implementations own writes; the core never mutates through this
// interface.
type Store interface {
	Provider(id string) (Provider, bool)
	Providers() []Provider

	Proxy(id string) (Proxy, bool)
	Proxies() []Proxy

	// ConversionMapping returns the active (sourceModel -> targetModel) row
	// for a conversion proxy, if one exists.
	ConversionMapping(proxyID, sourceModel string) (ModelMapping, bool)

	// CodeSwitchMappings returns every active Code-Switch row for a CLI type.
	CodeSwitchMappings(cliType string) []ModelMapping

	PlatformKey(key string) (PlatformKey, bool)
	TouchPlatformKey(id string)

	Settings() Settings

	// OnInvalidate registers a callback fired after a store mutation that
	// should invalidate cached derived state. Implementations may support
	// multiple registered callbacks.
	OnInvalidate(fn InvalidateFunc)
}

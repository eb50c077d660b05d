// Package config handles loading and validating gateway configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/amux/gateway/internal/store"
)

// Config is the top-level configuration for the gateway.
type Config struct {
	Proxy    ProxyConfig    `koanf:"proxy"`
	Security SecurityConfig `koanf:"security"`
	Logs     LogsConfig     `koanf:"logs"`

	Providers map[string]ProviderConfig   `koanf:"providers"`
	Proxies   map[string]ProxyRouteConfig `koanf:"proxies"`

	ModelMappings    []ModelMappingConfig `koanf:"modelMappings"`
	CodeSwitchRoutes []CodeSwitchConfig   `koanf:"codeSwitch"`
	PlatformKeys     []PlatformKeyConfig  `koanf:"platformKeys"`
}

// ProxyConfig holds the HTTP listener settings.
type ProxyConfig struct {
	Port    int           `koanf:"port"`
	Host    string        `koanf:"host"`
	Timeout time.Duration `koanf:"timeout"`
	CORS    CORSConfig    `koanf:"cors"`
}

// CORSConfig holds proxy.cors.* keys.
type CORSConfig struct {
	Enabled bool     `koanf:"enabled"`
	Origins []string `koanf:"origins"`
}

// SecurityConfig holds security.* keys.
type SecurityConfig struct {
	UnifiedAPIKey UnifiedAPIKeyConfig `koanf:"unifiedApiKey"`
}

// UnifiedAPIKeyConfig holds security.unifiedApiKey.* keys.
type UnifiedAPIKeyConfig struct {
	Enabled bool `koanf:"enabled"`
}

// LogsConfig holds logs.* keys.
type LogsConfig struct {
	Enabled          bool `koanf:"enabled"`
	SaveRequestBody  bool `koanf:"saveRequestBody"`
	SaveResponseBody bool `koanf:"saveResponseBody"`
	MaxBodySize      int  `koanf:"maxBodySize"`
	RetentionDays    int  `koanf:"retentionDays"`
	MaxEntries       int  `koanf:"maxEntries"`
}

// ProviderConfig holds the settings for a single LLM provider.
type ProviderConfig struct {
	Adapter    string   `koanf:"adapter"`
	BaseURL    string   `koanf:"baseUrl"`
	ChatPath   string   `koanf:"chatPath"`
	ModelsPath string   `koanf:"modelsPath"`
	APIKey     string   `koanf:"apiKey"`
	Models     []string `koanf:"models"`
	Enabled    bool     `koanf:"enabled"`

	PassthroughProxy bool   `koanf:"passthroughProxy"`
	LocalPath        string `koanf:"localPath"`

	OAuthPool         bool   `koanf:"oauthPool"`
	OAuthProviderType string `koanf:"oauthProviderType"`
}

// ProxyRouteConfig holds the settings for a single conversion proxy.
type ProxyRouteConfig struct {
	Name           string `koanf:"name"`
	InboundAdapter string `koanf:"inboundAdapter"`
	OutboundKind   string `koanf:"outboundKind"` // "provider" | "proxy"
	OutboundID     string `koanf:"outboundId"`
	LocalPath      string `koanf:"localPath"`
	Enabled        bool   `koanf:"enabled"`
}

// ModelMappingConfig holds a conversion-proxy model mapping row.
type ModelMappingConfig struct {
	ProxyID     string `koanf:"proxyId"`
	SourceModel string `koanf:"sourceModel"`
	TargetModel string `koanf:"targetModel"`
	IsDefault   bool   `koanf:"isDefault"`
}

// CodeSwitchConfig holds a Code-Switch routing row.
type CodeSwitchConfig struct {
	CLIType     string `koanf:"cliType"`
	ProviderID  string `koanf:"providerId"`
	MappingType string `koanf:"mappingType"` // exact|family|reasoning|default
	SourceModel string `koanf:"sourceModel"`
	TargetModel string `koanf:"targetModel"`
	Priority    int    `koanf:"priority"`
	IsActive    bool   `koanf:"isActive"`
}

// PlatformKeyConfig holds one issued platform key.
type PlatformKeyConfig struct {
	ID      string `koanf:"id"`
	Key     string `koanf:"key"`
	Enabled bool   `koanf:"enabled"`
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, and returns a fully populated Config.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	// Any env var starting with "AMUX_" can override a config value:
	//   AMUX_PROXY_PORT -> proxy.port
	if err := k.Load(env.Provider("AMUX_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "AMUX_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := Config{Proxy: defaultProxyConfig(), Logs: defaultLogsConfig()}
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	expandSecretRefs(&cfg)

	return &cfg, nil
}

func defaultProxyConfig() ProxyConfig {
	d := store.DefaultSettings()
	return ProxyConfig{
		Port: d.ProxyPort, Host: d.ProxyHost, Timeout: d.ProxyTimeout,
		CORS: CORSConfig{Enabled: d.CORSEnabled, Origins: d.CORSOrigins},
	}
}

func defaultLogsConfig() LogsConfig {
	d := store.DefaultSettings()
	return LogsConfig{
		Enabled: d.LogsEnabled, MaxBodySize: d.LogsMaxBodySize,
		RetentionDays: d.LogsRetentionDays, MaxEntries: d.LogsMaxEntries,
	}
}

// expandSecretRefs resolves ${VAR_NAME} placeholders in provider API keys
// and platform keys against the process environment. koanf doesn't do this
// automatically, so it's handled explicitly here.
func expandSecretRefs(cfg *Config) {
	for name, p := range cfg.Providers {
		p.APIKey = expandRef(p.APIKey)
		cfg.Providers[name] = p
	}
	for i, k := range cfg.PlatformKeys {
		cfg.PlatformKeys[i].Key = expandRef(k.Key)
	}
}

func expandRef(v string) string {
	var b strings.Builder
	for {
		start := strings.Index(v, "${")
		if start < 0 {
			break
		}
		end := strings.Index(v[start:], "}")
		if end < 0 {
			break
		}
		b.WriteString(v[:start])
		b.WriteString(os.Getenv(v[start+2 : start+end]))
		v = v[start+end+1:]
	}
	b.WriteString(v)
	return b.String()
}

// Settings projects the loaded proxy/security/logs sections into
// store.Settings.
func (c *Config) Settings() store.Settings {
	return store.Settings{
		ProxyPort: c.Proxy.Port, ProxyHost: c.Proxy.Host, ProxyTimeout: c.Proxy.Timeout,
		CORSEnabled: c.Proxy.CORS.Enabled, CORSOrigins: c.Proxy.CORS.Origins,
		UnifiedAPIKeyEnabled: c.Security.UnifiedAPIKey.Enabled,
		LogsEnabled:          c.Logs.Enabled,
		LogsSaveRequestBody:  c.Logs.SaveRequestBody,
		LogsSaveResponseBody: c.Logs.SaveResponseBody,
		LogsMaxBodySize:      c.Logs.MaxBodySize,
		LogsRetentionDays:    c.Logs.RetentionDays,
		LogsMaxEntries:       c.Logs.MaxEntries,
	}
}

// StoreProviders projects the loaded provider map into store.Provider rows.
func (c *Config) StoreProviders() []store.Provider {
	out := make([]store.Provider, 0, len(c.Providers))
	for id, p := range c.Providers {
		out = append(out, store.Provider{
			ID: id, Name: id, Adapter: store.AdapterType(p.Adapter),
			BaseURL: p.BaseURL, ChatPath: p.ChatPath, ModelsPath: p.ModelsPath,
			Credential: p.APIKey, Models: p.Models, Enabled: p.Enabled,
			PassthroughProxy: p.PassthroughProxy, LocalPath: p.LocalPath,
			OAuthPool: store.OAuthPool{IsPool: p.OAuthPool, OAuthProviderType: p.OAuthProviderType},
		})
	}
	return out
}

// StoreProxies projects the loaded proxy map into store.Proxy rows.
func (c *Config) StoreProxies() []store.Proxy {
	out := make([]store.Proxy, 0, len(c.Proxies))
	for id, p := range c.Proxies {
		out = append(out, store.Proxy{
			ID: id, Name: p.Name, InboundAdapter: store.AdapterType(p.InboundAdapter),
			OutboundKind: store.OutboundKind(p.OutboundKind), OutboundID: p.OutboundID,
			LocalPath: p.LocalPath, Enabled: p.Enabled,
		})
	}
	return out
}

// StoreConversionMappings projects conversion-proxy model mappings.
func (c *Config) StoreConversionMappings() []store.ModelMapping {
	out := make([]store.ModelMapping, 0, len(c.ModelMappings))
	for _, m := range c.ModelMappings {
		out = append(out, store.ModelMapping{
			ProxyID: m.ProxyID, SourceModel: m.SourceModel, TargetModel: m.TargetModel,
			IsDefault: m.IsDefault,
		})
	}
	return out
}

// StoreCodeSwitchMappings projects Code-Switch routing rows.
func (c *Config) StoreCodeSwitchMappings() []store.ModelMapping {
	out := make([]store.ModelMapping, 0, len(c.CodeSwitchRoutes))
	for _, m := range c.CodeSwitchRoutes {
		out = append(out, store.ModelMapping{
			CLIType: m.CLIType, ProviderID: m.ProviderID,
			MappingType: store.MappingType(m.MappingType),
			SourceModel: m.SourceModel, TargetModel: m.TargetModel,
			Priority: m.Priority, IsActive: m.IsActive,
		})
	}
	return out
}

// StorePlatformKeys projects the loaded platform-key list.
func (c *Config) StorePlatformKeys() []store.PlatformKey {
	out := make([]store.PlatformKey, 0, len(c.PlatformKeys))
	for _, k := range c.PlatformKeys {
		out = append(out, store.PlatformKey{ID: k.ID, Key: k.Key, Enabled: k.Enabled})
	}
	return out
}

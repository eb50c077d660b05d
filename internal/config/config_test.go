package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Create a temporary YAML config file with known values.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
proxy:
  port: 9090
  host: 0.0.0.0
  timeout: 10s
  cors:
    enabled: true
    origins:
      - https://example.com

security:
  unifiedApiKey:
    enabled: true

logs:
  enabled: true
  maxBodySize: 2048

providers:
  google:
    adapter: google
    apiKey: ${TEST_API_KEY}
    baseUrl: https://example.com/v1
    models:
      - model-a
      - model-b
    enabled: true

proxies:
  claude-relay:
    name: Claude Relay
    inboundAdapter: anthropic
    outboundKind: provider
    outboundId: google
    localPath: claude-relay
    enabled: true

modelMappings:
  - proxyId: claude-relay
    sourceModel: claude-3-sonnet
    targetModel: gemini-1.5-pro

codeSwitch:
  - cliType: claudecode
    providerId: google
    mappingType: exact
    sourceModel: claude-3-sonnet
    targetModel: gemini-1.5-pro
    isActive: true

platformKeys:
  - id: pk-1
    key: sk-amux.${TEST_PLATFORM_KEY}
    enabled: true
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	t.Setenv("TEST_API_KEY", "my-secret-key")
	t.Setenv("TEST_PLATFORM_KEY", "issued-123")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Proxy.Port)
	assert.Equal(t, "0.0.0.0", cfg.Proxy.Host)
	assert.Equal(t, 10*time.Second, cfg.Proxy.Timeout)
	assert.True(t, cfg.Proxy.CORS.Enabled)
	assert.Equal(t, []string{"https://example.com"}, cfg.Proxy.CORS.Origins)
	assert.True(t, cfg.Security.UnifiedAPIKey.Enabled)

	google, ok := cfg.Providers["google"]
	assert.True(t, ok, "google provider should exist")
	assert.Equal(t, "my-secret-key", google.APIKey)
	assert.Equal(t, "https://example.com/v1", google.BaseURL)
	assert.Equal(t, []string{"model-a", "model-b"}, google.Models)

	proxy, ok := cfg.Proxies["claude-relay"]
	assert.True(t, ok, "claude-relay proxy should exist")
	assert.Equal(t, "anthropic", proxy.InboundAdapter)
	assert.Equal(t, "provider", proxy.OutboundKind)

	require.Len(t, cfg.ModelMappings, 1)
	assert.Equal(t, "gemini-1.5-pro", cfg.ModelMappings[0].TargetModel)

	require.Len(t, cfg.CodeSwitchRoutes, 1)
	assert.Equal(t, "claudecode", cfg.CodeSwitchRoutes[0].CLIType)

	require.Len(t, cfg.PlatformKeys, 1)
	assert.Equal(t, "sk-amux.issued-123", cfg.PlatformKeys[0].Key)
}

func TestLoadEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
proxy:
  port: 8080
  timeout: 30s
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	// This should override proxy.port from 8080 to 3000.
	t.Setenv("AMUX_PROXY_PORT", "3000")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Proxy.Port)
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("providers: {}\n"), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9527, cfg.Proxy.Port)
	assert.Equal(t, "127.0.0.1", cfg.Proxy.Host)
	assert.True(t, cfg.Proxy.CORS.Enabled)
	assert.Equal(t, []string{"*"}, cfg.Proxy.CORS.Origins)
	assert.False(t, cfg.Security.UnifiedAPIKey.Enabled)
	assert.True(t, cfg.Logs.Enabled)
}

func TestSettingsProjection(t *testing.T) {
	cfg := &Config{
		Proxy: ProxyConfig{Port: 1234, Host: "h", Timeout: 5 * time.Second, CORS: CORSConfig{Enabled: true, Origins: []string{"*"}}},
		Logs:  LogsConfig{Enabled: true, MaxBodySize: 999, RetentionDays: 7, MaxEntries: 50},
	}
	s := cfg.Settings()
	assert.Equal(t, 1234, s.ProxyPort)
	assert.Equal(t, 999, s.LogsMaxBodySize)
	assert.Equal(t, 7, s.LogsRetentionDays)
}

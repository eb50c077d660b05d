package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amux/gateway/internal/store"
)

type fakeStore struct {
	conversion map[string]map[string]store.ModelMapping
	codeSwitch map[string][]store.ModelMapping
	invalidate store.InvalidateFunc
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversion: make(map[string]map[string]store.ModelMapping),
		codeSwitch: make(map[string][]store.ModelMapping),
	}
}

func (s *fakeStore) Provider(string) (store.Provider, bool) { return store.Provider{}, false }
func (s *fakeStore) Providers() []store.Provider             { return nil }
func (s *fakeStore) Proxy(string) (store.Proxy, bool)        { return store.Proxy{}, false }
func (s *fakeStore) Proxies() []store.Proxy                  { return nil }

func (s *fakeStore) ConversionMapping(proxyID, sourceModel string) (store.ModelMapping, bool) {
	bucket, ok := s.conversion[proxyID]
	if !ok {
		return store.ModelMapping{}, false
	}
	m, ok := bucket[sourceModel]
	return m, ok
}

func (s *fakeStore) CodeSwitchMappings(cliType string) []store.ModelMapping {
	return s.codeSwitch[cliType]
}

func (s *fakeStore) PlatformKey(string) (store.PlatformKey, bool) { return store.PlatformKey{}, false }
func (s *fakeStore) TouchPlatformKey(string)                      {}
func (s *fakeStore) Settings() store.Settings                     { return store.DefaultSettings() }
func (s *fakeStore) OnInvalidate(fn store.InvalidateFunc)         { s.invalidate = fn }

func TestResolveConversion_Hit(t *testing.T) {
	s := newFakeStore()
	s.conversion["proxy-1"] = map[string]store.ModelMapping{
		"claude-3-sonnet": {ProxyID: "proxy-1", SourceModel: "claude-3-sonnet", TargetModel: "gemini-1.5-pro"},
	}
	e := New(s)
	assert.Equal(t, "gemini-1.5-pro", e.ResolveConversion("proxy-1", "claude-3-sonnet"))
}

func TestResolveConversion_MissPassesThrough(t *testing.T) {
	s := newFakeStore()
	e := New(s)
	assert.Equal(t, "claude-3-opus", e.ResolveConversion("proxy-1", "claude-3-opus"))
}

func TestResolveCodeSwitch_ExactBeatsFamily(t *testing.T) {
	s := newFakeStore()
	s.codeSwitch["claudecode"] = []store.ModelMapping{
		{CLIType: "claudecode", ProviderID: "prov-family", MappingType: store.MappingFamily, SourceModel: "claude", TargetModel: "family-target", Priority: 1, IsActive: true},
		{CLIType: "claudecode", ProviderID: "prov-exact", MappingType: store.MappingExact, SourceModel: "claude-3-sonnet", TargetModel: "exact-target", IsActive: true},
	}
	e := New(s)

	providerID, model, matched := e.ResolveCodeSwitch("claudecode", "claude-3-sonnet", false)
	require.True(t, matched)
	assert.Equal(t, "prov-exact", providerID)
	assert.Equal(t, "exact-target", model)
}

func TestResolveCodeSwitch_ReasoningRequiresOptIn(t *testing.T) {
	s := newFakeStore()
	s.codeSwitch["codex"] = []store.ModelMapping{
		{CLIType: "codex", ProviderID: "prov-r", MappingType: store.MappingReasoning, TargetModel: "reasoning-target", IsActive: true},
		{CLIType: "codex", ProviderID: "prov-d", MappingType: store.MappingDefault, TargetModel: "default-target", IsActive: true},
	}
	e := New(s)

	providerID, model, matched := e.ResolveCodeSwitch("codex", "o3", false)
	require.True(t, matched)
	assert.Equal(t, "prov-d", providerID)
	assert.Equal(t, "default-target", model)

	providerID, model, matched = e.ResolveCodeSwitch("codex", "o3", true)
	require.True(t, matched)
	assert.Equal(t, "prov-r", providerID)
	assert.Equal(t, "reasoning-target", model)
}

func TestResolveCodeSwitch_FamilyOrderedByPriority(t *testing.T) {
	s := newFakeStore()
	s.codeSwitch["claudecode"] = []store.ModelMapping{
		{CLIType: "claudecode", ProviderID: "prov-b", MappingType: store.MappingFamily, SourceModel: "opus", TargetModel: "b", Priority: 5, IsActive: true},
		{CLIType: "claudecode", ProviderID: "prov-a", MappingType: store.MappingFamily, SourceModel: "claude", TargetModel: "a", Priority: 1, IsActive: true},
	}
	e := New(s)

	// "claude-3-opus" matches both family keywords; lower priority wins.
	providerID, model, matched := e.ResolveCodeSwitch("claudecode", "claude-3-opus", false)
	require.True(t, matched)
	assert.Equal(t, "prov-a", providerID)
	assert.Equal(t, "a", model)
}

func TestResolveCodeSwitch_NoMatchPassesThrough(t *testing.T) {
	s := newFakeStore()
	e := New(s)
	providerID, model, matched := e.ResolveCodeSwitch("claudecode", "unmapped-model", false)
	assert.False(t, matched)
	assert.Equal(t, "", providerID)
	assert.Equal(t, "unmapped-model", model)
}

func TestHasMapping(t *testing.T) {
	s := newFakeStore()
	s.codeSwitch["codex"] = []store.ModelMapping{
		{CLIType: "codex", ProviderID: "p1", MappingType: store.MappingExact, SourceModel: "gpt-5", TargetModel: "mapped", IsActive: true},
	}
	e := New(s)
	assert.True(t, e.HasMapping("codex", "gpt-5", false))
	assert.False(t, e.HasMapping("codex", "gpt-6", false))
}

func TestInvalidate_ForcesRecompile(t *testing.T) {
	s := newFakeStore()
	s.codeSwitch["claudecode"] = []store.ModelMapping{
		{CLIType: "claudecode", ProviderID: "p1", MappingType: store.MappingExact, SourceModel: "m", TargetModel: "v1", IsActive: true},
	}
	e := New(s)

	_, model, _ := e.ResolveCodeSwitch("claudecode", "m", false)
	assert.Equal(t, "v1", model)

	s.codeSwitch["claudecode"] = []store.ModelMapping{
		{CLIType: "claudecode", ProviderID: "p1", MappingType: store.MappingExact, SourceModel: "m", TargetModel: "v2", IsActive: true},
	}
	e.Invalidate("claudecode")

	_, model, _ = e.ResolveCodeSwitch("claudecode", "m", false)
	assert.Equal(t, "v2", model)
}

func TestOnInvalidate_RegisteredCallback(t *testing.T) {
	s := newFakeStore()
	New(s)
	require.NotNil(t, s.invalidate)
	s.invalidate("proxy-x", "provider-y") // should not panic
}

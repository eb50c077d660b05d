package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amux/gateway/internal/gwerr"
	"github.com/amux/gateway/internal/store"
)

type fakeStore struct {
	providers map[string]store.Provider
	proxies   map[string]store.Proxy
}

func newFakeStore() *fakeStore {
	return &fakeStore{providers: map[string]store.Provider{}, proxies: map[string]store.Proxy{}}
}

func (s *fakeStore) Provider(id string) (store.Provider, bool) { p, ok := s.providers[id]; return p, ok }
func (s *fakeStore) Providers() []store.Provider                { return nil }
func (s *fakeStore) Proxy(id string) (store.Proxy, bool)        { p, ok := s.proxies[id]; return p, ok }
func (s *fakeStore) Proxies() []store.Proxy                      { return nil }
func (s *fakeStore) ConversionMapping(string, string) (store.ModelMapping, bool) {
	return store.ModelMapping{}, false
}
func (s *fakeStore) CodeSwitchMappings(string) []store.ModelMapping { return nil }
func (s *fakeStore) PlatformKey(string) (store.PlatformKey, bool)   { return store.PlatformKey{}, false }
func (s *fakeStore) TouchPlatformKey(string)                        {}
func (s *fakeStore) Settings() store.Settings                       { return store.DefaultSettings() }
func (s *fakeStore) OnInvalidate(store.InvalidateFunc)               {}

func TestResolveProxyChain_DirectToProvider(t *testing.T) {
	s := newFakeStore()
	s.proxies["p1"] = store.Proxy{ID: "p1", Enabled: true, OutboundKind: store.OutboundProvider, OutboundID: "prov1"}
	s.providers["prov1"] = store.Provider{ID: "prov1", Enabled: true}

	r := New(s)
	chain, provider, err := r.ResolveProxyChain("p1")
	require.NoError(t, err)
	assert.Equal(t, "prov1", provider.ID)
	assert.Equal(t, Chain{"p1"}, chain)
}

func TestResolveProxyChain_WalksMultipleHops(t *testing.T) {
	s := newFakeStore()
	s.proxies["p1"] = store.Proxy{ID: "p1", Enabled: true, OutboundKind: store.OutboundProxy, OutboundID: "p2"}
	s.proxies["p2"] = store.Proxy{ID: "p2", Enabled: true, OutboundKind: store.OutboundProvider, OutboundID: "prov1"}
	s.providers["prov1"] = store.Provider{ID: "prov1", Enabled: true}

	r := New(s)
	chain, provider, err := r.ResolveProxyChain("p1")
	require.NoError(t, err)
	assert.Equal(t, "prov1", provider.ID)
	assert.Equal(t, Chain{"p1", "p2"}, chain)
}

func TestResolveProxyChain_DetectsCycle(t *testing.T) {
	s := newFakeStore()
	s.proxies["p1"] = store.Proxy{ID: "p1", Enabled: true, OutboundKind: store.OutboundProxy, OutboundID: "p2"}
	s.proxies["p2"] = store.Proxy{ID: "p2", Enabled: true, OutboundKind: store.OutboundProxy, OutboundID: "p1"}

	r := New(s)
	chain, _, err := r.ResolveProxyChain("p1")
	gwErr, ok := gwerr.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerr.CircularProxy, gwErr.Code)
	assert.Equal(t, 2, VisitedCount(chain))
}

func TestResolveProxyChain_ProxyNotFound(t *testing.T) {
	s := newFakeStore()
	r := New(s)
	_, _, err := r.ResolveProxyChain("missing")
	gwErr, ok := gwerr.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerr.ProxyNotFound, gwErr.Code)
}

func TestResolveProxyChain_ProxyDisabled(t *testing.T) {
	s := newFakeStore()
	s.proxies["p1"] = store.Proxy{ID: "p1", Enabled: false}
	r := New(s)
	_, _, err := r.ResolveProxyChain("p1")
	gwErr, ok := gwerr.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerr.ProxyDisabled, gwErr.Code)
}

func TestResolveProxyChain_ProviderDisabled(t *testing.T) {
	s := newFakeStore()
	s.proxies["p1"] = store.Proxy{ID: "p1", Enabled: true, OutboundKind: store.OutboundProvider, OutboundID: "prov1"}
	s.providers["prov1"] = store.Provider{ID: "prov1", Enabled: false}
	r := New(s)
	_, _, err := r.ResolveProxyChain("p1")
	gwErr, ok := gwerr.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerr.ProviderDisabled, gwErr.Code)
}

func TestResolveProxyChain_ProviderNotFound(t *testing.T) {
	s := newFakeStore()
	s.proxies["p1"] = store.Proxy{ID: "p1", Enabled: true, OutboundKind: store.OutboundProvider, OutboundID: "missing"}
	r := New(s)
	_, _, err := r.ResolveProxyChain("p1")
	gwErr, ok := gwerr.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerr.ProviderNotFound, gwErr.Code)
}

func TestFindBottomProvider(t *testing.T) {
	s := newFakeStore()
	s.proxies["p1"] = store.Proxy{ID: "p1", Enabled: true, OutboundKind: store.OutboundProxy, OutboundID: "p2"}
	s.proxies["p2"] = store.Proxy{ID: "p2", Enabled: true, OutboundKind: store.OutboundProvider, OutboundID: "prov1"}
	s.providers["prov1"] = store.Provider{ID: "prov1", Enabled: true}

	r := New(s)
	providerID, chainLen, err := r.FindBottomProvider("p1")
	require.NoError(t, err)
	assert.Equal(t, "prov1", providerID)
	assert.Equal(t, 2, chainLen)
}

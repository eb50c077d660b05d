package gatewayhttp

import "github.com/amux/gateway/internal/store"

// fakeStore is a minimal in-memory store.Store for route-engine tests.
type fakeStore struct {
	settings      store.Settings
	providers     map[string]store.Provider
	proxies       map[string]store.Proxy
	conversions   map[string]store.ModelMapping
	codeSwitch    map[string][]store.ModelMapping
	platformKeys  map[string]store.PlatformKey
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		settings:     store.DefaultSettings(),
		providers:    map[string]store.Provider{},
		proxies:      map[string]store.Proxy{},
		conversions:  map[string]store.ModelMapping{},
		codeSwitch:   map[string][]store.ModelMapping{},
		platformKeys: map[string]store.PlatformKey{},
	}
}

func (s *fakeStore) Provider(id string) (store.Provider, bool) { p, ok := s.providers[id]; return p, ok }

func (s *fakeStore) Providers() []store.Provider {
	out := make([]store.Provider, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, p)
	}
	return out
}

func (s *fakeStore) Proxy(id string) (store.Proxy, bool) { p, ok := s.proxies[id]; return p, ok }

func (s *fakeStore) Proxies() []store.Proxy {
	out := make([]store.Proxy, 0, len(s.proxies))
	for _, p := range s.proxies {
		out = append(out, p)
	}
	return out
}

func (s *fakeStore) ConversionMapping(proxyID, sourceModel string) (store.ModelMapping, bool) {
	m, ok := s.conversions[proxyID+"|"+sourceModel]
	return m, ok
}

func (s *fakeStore) CodeSwitchMappings(cliType string) []store.ModelMapping {
	return s.codeSwitch[cliType]
}

func (s *fakeStore) PlatformKey(key string) (store.PlatformKey, bool) {
	pk, ok := s.platformKeys[key]
	return pk, ok
}

func (s *fakeStore) TouchPlatformKey(string) {}

func (s *fakeStore) Settings() store.Settings { return s.settings }

func (s *fakeStore) OnInvalidate(store.InvalidateFunc) {}

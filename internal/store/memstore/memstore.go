// Package memstore is an in-memory implementation of store.Store, built
// directly from loaded configuration. It is a reference collaborator —
// the spec treats the real CRUD store as external — but the gateway needs
// one to be runnable end-to-end.
package memstore

import (
	"sync"
	"time"

	"github.com/amux/gateway/internal/store"
)

// Store is a mutex-guarded in-memory store.Store. Mutations (used by an
// administrative surface outside this core's scope) call the registered
// invalidation callbacks after each map mutation.
type Store struct {
	mu sync.RWMutex

	providers map[string]store.Provider
	proxies   map[string]store.Proxy

	// conversionMappings is keyed by proxyID; within a proxy, by
	// sourceModel.
	conversionMappings map[string]map[string]store.ModelMapping

	// codeSwitch is keyed by CLI type.
	codeSwitch map[string][]store.ModelMapping

	platformKeys map[string]store.PlatformKey

	settings store.Settings

	invalidators []store.InvalidateFunc
}

// New builds an empty Store seeded with the given settings.
func New(settings store.Settings) *Store {
	return &Store{
		providers:          make(map[string]store.Provider),
		proxies:            make(map[string]store.Proxy),
		conversionMappings: make(map[string]map[string]store.ModelMapping),
		codeSwitch:         make(map[string][]store.ModelMapping),
		platformKeys:       make(map[string]store.PlatformKey),
		settings:           settings,
	}
}

// LoadProviders adds the given providers, replacing any row with the same
// ID and keeping the others; used at startup.
func (s *Store) LoadProviders(providers []store.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range providers {
		s.providers[p.ID] = p
	}
}

// LoadProxies adds the given proxies, replacing any row with the same ID
// and keeping the others; used at startup.
func (s *Store) LoadProxies(proxies []store.Proxy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range proxies {
		s.proxies[p.ID] = p
	}
}

// LoadConversionMappings seeds conversion-proxy model mappings.
func (s *Store) LoadConversionMappings(mappings []store.ModelMapping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range mappings {
		if !m.IsDefault && m.TargetModel == "" {
			continue
		}
		bucket, ok := s.conversionMappings[m.ProxyID]
		if !ok {
			bucket = make(map[string]store.ModelMapping)
			s.conversionMappings[m.ProxyID] = bucket
		}
		bucket[m.SourceModel] = m
	}
}

// LoadCodeSwitchMappings seeds Code-Switch rows, grouped by CLI type.
func (s *Store) LoadCodeSwitchMappings(mappings []store.ModelMapping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range mappings {
		if !m.IsActive {
			continue
		}
		s.codeSwitch[m.CLIType] = append(s.codeSwitch[m.CLIType], m)
	}
}

// LoadPlatformKeys seeds the platform-key table.
func (s *Store) LoadPlatformKeys(keys []store.PlatformKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.platformKeys[k.Key] = k
	}
}

func (s *Store) Provider(id string) (store.Provider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	return p, ok
}

func (s *Store) Providers() []store.Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Provider, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, p)
	}
	return out
}

func (s *Store) Proxy(id string) (store.Proxy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proxies[id]
	return p, ok
}

func (s *Store) Proxies() []store.Proxy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Proxy, 0, len(s.proxies))
	for _, p := range s.proxies {
		out = append(out, p)
	}
	return out
}

func (s *Store) ConversionMapping(proxyID, sourceModel string) (store.ModelMapping, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.conversionMappings[proxyID]
	if !ok {
		return store.ModelMapping{}, false
	}
	m, ok := bucket[sourceModel]
	return m, ok
}

func (s *Store) CodeSwitchMappings(cliType string) []store.ModelMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.codeSwitch[cliType]
	out := make([]store.ModelMapping, len(rows))
	copy(out, rows)
	return out
}

func (s *Store) PlatformKey(key string) (store.PlatformKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.platformKeys[key]
	return k, ok
}

func (s *Store) TouchPlatformKey(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.platformKeys {
		if v.ID == id {
			v.LastUsedAt = time.Now()
			s.platformKeys[k] = v
			return
		}
	}
}

func (s *Store) Settings() store.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *Store) OnInvalidate(fn store.InvalidateFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidators = append(s.invalidators, fn)
}

// UpdateProvider replaces a provider row and fires registered invalidation
// callbacks scoped to it.
func (s *Store) UpdateProvider(p store.Provider) {
	s.mu.Lock()
	s.providers[p.ID] = p
	fns := append([]store.InvalidateFunc(nil), s.invalidators...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn("", p.ID)
	}
}

// UpdateProxy replaces a proxy row and fires registered invalidation
// callbacks scoped to it.
func (s *Store) UpdateProxy(p store.Proxy) {
	s.mu.Lock()
	s.proxies[p.ID] = p
	fns := append([]store.InvalidateFunc(nil), s.invalidators...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(p.ID, "")
	}
}

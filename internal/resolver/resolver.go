// Package resolver walks a proxy's outbound chain to its terminal
// Provider, detecting cycles and disabled/missing nodes along the way.
package resolver

import (
	"github.com/amux/gateway/internal/gwerr"
	"github.com/amux/gateway/internal/store"
)

// Resolver walks chains against a read-only config store.
type Resolver struct {
	store store.Store
}

// New builds a Resolver over the given store.
func New(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// Chain is the ordered sequence of proxy ids walked to reach the terminal
// provider, not including the provider itself.
type Chain []string

// ResolveProxyChain walks outbound pointers from id until it reaches a
// Provider, maintaining a visited set to reject cycles.
func (r *Resolver) ResolveProxyChain(id string) (Chain, store.Provider, error) {
	var chain Chain
	visited := make(map[string]bool)
	current := id

	for {
		if visited[current] {
			return chain, store.Provider{}, gwerr.Newf(gwerr.CircularProxy, "proxy chain revisits %q", current)
		}
		visited[current] = true

		proxy, ok := r.store.Proxy(current)
		if !ok {
			return chain, store.Provider{}, gwerr.Newf(gwerr.ProxyNotFound, "proxy %q not found", current)
		}
		if !proxy.Enabled {
			return chain, store.Provider{}, gwerr.Newf(gwerr.ProxyDisabled, "proxy %q disabled", current)
		}
		chain = append(chain, proxy.ID)

		switch proxy.OutboundKind {
		case store.OutboundProvider:
			provider, ok := r.store.Provider(proxy.OutboundID)
			if !ok {
				return chain, store.Provider{}, gwerr.Newf(gwerr.ProviderNotFound, "provider %q not found", proxy.OutboundID)
			}
			if !provider.Enabled {
				return chain, store.Provider{}, gwerr.Newf(gwerr.ProviderDisabled, "provider %q disabled", provider.ID)
			}
			return chain, provider, nil
		case store.OutboundProxy:
			current = proxy.OutboundID
		default:
			return chain, store.Provider{}, gwerr.Newf(gwerr.ProviderNotFound, "proxy %q has no outbound target", current)
		}
	}
}

// FindBottomProvider performs the same walk but returns only the terminal
// provider id and the chain length, for use by self-test pipelines.
func (r *Resolver) FindBottomProvider(id string) (providerID string, chainLen int, err error) {
	chain, provider, err := r.ResolveProxyChain(id)
	if err != nil {
		return "", len(chain), err
	}
	return provider.ID, len(chain), nil
}

// VisitedCount reports how many nodes had been visited when resolution
// failed.
func VisitedCount(chain Chain) int { return len(chain) }

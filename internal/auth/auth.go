// Package auth implements the auth gate: extracting and validating a
// caller's credential, and selecting between platform, pass-through, and
// provider-owned keys.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"

	"github.com/amux/gateway/internal/gwerr"
	"github.com/amux/gateway/internal/store"
)

// PlatformKeyPrefix marks a credential as a platform key issued by this
// gateway, rather than a pass-through or provider-owned key.
const PlatformKeyPrefix = "sk-amux."

// cacheTTL bounds how long a resolved platform key is trusted before the
// store is consulted again, so a revoked key stops working promptly.
const cacheTTL = 30 * time.Second

// Mode classifies how a request's credential was established.
type Mode string

const (
	ModePlatform    Mode = "platform"
	ModePassThrough Mode = "passThrough"
	ModeInternal    Mode = "internal"
	ModeDisabled    Mode = "disabled" // auth is off; provider's stored key is used
)

// Result is the outcome of authenticating one request.
type Result struct {
	Mode Mode
	// Key is the credential to use on the outbound call for ModePassThrough;
	// empty otherwise (ModePlatform/ModeInternal/ModeDisabled use the
	// provider's stored credential).
	Key string
	// PlatformKeyID is set when Mode == ModePlatform, for TouchPlatformKey.
	PlatformKeyID string
}

// Gate authenticates inbound requests against a config store.
type Gate struct {
	store store.Store
	cache *otter.Cache[string, store.PlatformKey]
}

// New builds a Gate backed by the given store.
func New(s store.Store) *Gate {
	cache, err := otter.New[string, store.PlatformKey](&otter.Options[string, store.PlatformKey]{
		MaximumSize:      10_000,
		ExpiryCalculator: otter.ExpiryWriting[string, store.PlatformKey](cacheTTL),
	})
	if err != nil {
		panic("auth: building platform key cache: " + err.Error())
	}
	g := &Gate{store: s, cache: cache}
	s.OnInvalidate(func(proxyID, providerID string) {
		// Platform-key rows aren't scoped by proxy/provider id, so there is
		// nothing to selectively evict here; the cache's own TTL is the
		// revocation path.
	})
	return g
}

// extractKey tries, in order, "Authorization: Bearer <k>", plain
// "Authorization: <k>", and "x-api-key: <k>".
func extractKey(r *http.Request) (key string, present bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer "), true
		}
		return auth, true
	}
	if k := r.Header.Get("x-api-key"); k != "" {
		return k, true
	}
	return "", false
}

// Source classifies a request's origin: a Cloudflare header marks it
// "tunnel", otherwise "local".
type Source string

const (
	SourceLocal  Source = "local"
	SourceTunnel Source = "tunnel"
)

// DetectSource inspects well-known Cloudflare headers.
func DetectSource(r *http.Request) Source {
	if r.Header.Get("cf-ray") != "" || r.Header.Get("cf-connecting-ip") != "" || r.Header.Get("cf-visitor") != "" {
		return SourceTunnel
	}
	return SourceLocal
}

// Authenticate runs the auth gate for one request.
func (g *Gate) Authenticate(r *http.Request) (Result, error) {
	key, present := extractKey(r)
	source := DetectSource(r)

	if source == SourceLocal && !present {
		return Result{Mode: ModeInternal}, nil
	}

	settings := g.store.Settings()
	if !settings.UnifiedAPIKeyEnabled {
		return Result{Mode: ModeDisabled}, nil
	}

	if !present {
		return Result{}, gwerr.New(gwerr.MissingAPIKey, "no credential presented")
	}

	if strings.HasPrefix(key, PlatformKeyPrefix) {
		pk, ok := g.lookupPlatformKey(key)
		if !ok || !pk.Enabled {
			return Result{}, gwerr.New(gwerr.InvalidAPIKey, "platform key not recognized or disabled")
		}
		g.store.TouchPlatformKey(pk.ID)
		return Result{Mode: ModePlatform, PlatformKeyID: pk.ID}, nil
	}

	return Result{Mode: ModePassThrough, Key: key}, nil
}

func (g *Gate) lookupPlatformKey(key string) (store.PlatformKey, bool) {
	if pk, ok := g.cache.GetIfPresent(key); ok {
		return matchKey(pk, key)
	}
	pk, ok := g.store.PlatformKey(key)
	if !ok {
		return store.PlatformKey{}, false
	}
	g.cache.Set(key, pk)
	return matchKey(pk, key)
}

// matchKey re-verifies the looked-up key in constant time, guarding
// against a hypothetical lookup-key mismatch surviving the store/cache
// layer.
func matchKey(pk store.PlatformKey, presented string) (store.PlatformKey, bool) {
	if subtle.ConstantTimeCompare([]byte(pk.Key), []byte(presented)) != 1 {
		return store.PlatformKey{}, false
	}
	return pk, true
}

// Package mapping implements the model-mapping engine: a simple
// dictionary lookup for conversion proxies, and a layered exact/
// reasoning/family/default resolution for Code-Switch routes, backed by a
// TTL cache.
package mapping

import (
	"strings"
	"time"

	"github.com/maypok86/otter/v2"

	"github.com/amux/gateway/internal/store"
)

// codeSwitchTTL is the fixed TTL for compiled Code-Switch rule sets.
const codeSwitchTTL = 5 * time.Minute

// target pairs a resolved model name with the provider id that should
// serve it, since a Code-Switch row names both (store.ModelMapping's
// ProviderID + TargetModel).
type target struct {
	providerID string
	model      string
}

// compiled is the cached Code-Switch config: a resolved rule set for one
// CLI type.
type compiled struct {
	exactMap   map[string]target
	familyList []familyRule
	reasoning  target
	hasReason  bool
	defaultTo  target
	hasDefault bool
}

type familyRule struct {
	family   string
	target   target
	priority int
}

// Engine resolves model names for both conversion proxies and Code-Switch
// routes.
type Engine struct {
	store store.Store
	cache *otter.Cache[string, *compiled]
}

// New builds an Engine backed by the given store.
func New(s store.Store) *Engine {
	cache, err := otter.New[string, *compiled](&otter.Options[string, *compiled]{
		MaximumSize:      256,
		ExpiryCalculator: otter.ExpiryWriting[string, *compiled](codeSwitchTTL),
	})
	if err != nil {
		panic("mapping: building code-switch cache: " + err.Error())
	}
	e := &Engine{store: s, cache: cache}
	s.OnInvalidate(func(proxyID, providerID string) {
		// Code-Switch invalidation is by CLI type only; since a
		// provider/proxy change can affect any CLI type's
		// compiled rule set, the simplest correct response is to drop
		// the whole cache rather than track a CLI-type reverse index.
		e.cache.InvalidateAll()
	})
	return e
}

// ResolveConversion applies the simple conversion-proxy mapping: a direct
// dictionary lookup on sourceModel, passing the model through unchanged on
// a miss.
func (e *Engine) ResolveConversion(proxyID, sourceModel string) string {
	m, ok := e.store.ConversionMapping(proxyID, sourceModel)
	if !ok || m.TargetModel == "" {
		return sourceModel
	}
	return m.TargetModel
}

// ResolveCodeSwitch applies the layered Code-Switch resolution: exact,
// then reasoning (iff the caller opted into reasoning mode), then family
// (first case-insensitive substring match in ascending priority order),
// then default, stopping at the first hit. matched is false when none of
// the rules applied, in which case providerID is empty and targetModel
// equals requestModel (passthrough).
func (e *Engine) ResolveCodeSwitch(cliType, requestModel string, reasoning bool) (providerID, targetModel string, matched bool) {
	rules := e.compiledFor(cliType)

	if t, ok := rules.exactMap[requestModel]; ok {
		return t.providerID, t.model, true
	}
	if reasoning && rules.hasReason {
		return rules.reasoning.providerID, rules.reasoning.model, true
	}
	lower := strings.ToLower(requestModel)
	for _, f := range rules.familyList {
		if strings.Contains(lower, strings.ToLower(f.family)) {
			return f.target.providerID, f.target.model, true
		}
	}
	if rules.hasDefault {
		return rules.defaultTo.providerID, rules.defaultTo.model, true
	}
	return "", requestModel, false
}

// HasMapping reports whether requestModel resolves under the Code-Switch
// rules for cliType — used to enforce Codex's "default models must be
// mapped" rule.
func (e *Engine) HasMapping(cliType, requestModel string, reasoning bool) bool {
	_, _, matched := e.ResolveCodeSwitch(cliType, requestModel, reasoning)
	return matched
}

func (e *Engine) compiledFor(cliType string) *compiled {
	if v, ok := e.cache.GetIfPresent(cliType); ok {
		return v
	}
	c := e.compile(cliType)
	e.cache.Set(cliType, c)
	return c
}

func (e *Engine) compile(cliType string) *compiled {
	rows := e.store.CodeSwitchMappings(cliType)
	c := &compiled{exactMap: make(map[string]target)}
	for _, row := range rows {
		t := target{providerID: row.ProviderID, model: row.TargetModel}
		switch row.MappingType {
		case store.MappingExact:
			c.exactMap[row.SourceModel] = t
		case store.MappingReasoning:
			c.reasoning, c.hasReason = t, true
		case store.MappingFamily:
			c.familyList = append(c.familyList, familyRule{family: row.SourceModel, target: t, priority: row.Priority})
		case store.MappingDefault:
			c.defaultTo, c.hasDefault = t, true
		}
	}
	sortFamilyAsc(c.familyList)
	return c
}

func sortFamilyAsc(rules []familyRule) {
	for i := 1; i < len(rules); i++ {
		j := i
		for j > 0 && rules[j-1].priority > rules[j].priority {
			rules[j-1], rules[j] = rules[j], rules[j-1]
			j--
		}
	}
}

// Invalidate forces cliType's compiled rule set to be recomputed on next
// use.
func (e *Engine) Invalidate(cliType string) {
	e.cache.Invalidate(cliType)
}

package registry

import (
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/kestrel-ai/bridge/pkg/bridge/bridgeerr"
	"github.com/kestrel-ai/bridge/pkg/bridge/provider"
)

// pluginKey is the composite (id, version) key a [Providers] registry is
// keyed by.
type pluginKey struct {
	id      string
	version string
}

// Providers is the provider-plugin registry, keyed by composite (id,
// semver) with standard semver precedence for "latest".
type Providers struct {
	mu   sync.RWMutex
	byID map[pluginKey]provider.Plugin
}

// NewProviders constructs an empty provider registry.
func NewProviders() *Providers {
	return &Providers{byID: make(map[pluginKey]provider.Plugin)}
}

func key(id string, v *semver.Version) pluginKey {
	return pluginKey{id: id, version: v.String()}
}

// Register validates plugin's shape is non-nil and stores it, overwriting
// any previous entry with the same (id, version).
func (p *Providers) Register(plugin provider.Plugin) error {
	if plugin == nil || plugin.ID() == "" || plugin.Version() == nil {
		return &bridgeerr.ValidationError{Field: "plugin", Message: "plugin must have a non-empty id and a version"}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID[key(plugin.ID(), plugin.Version())] = plugin
	return nil
}

// Get returns the exact (id, version) match if version is non-nil,
// otherwise the latest registered version of id.
func (p *Providers) Get(id string, version *semver.Version) (provider.Plugin, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if version != nil {
		pl, ok := p.byID[key(id, version)]
		return pl, ok
	}
	return p.latestLocked(id)
}

// GetLatest returns the highest-semver plugin registered for id.
func (p *Providers) GetLatest(id string) (provider.Plugin, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latestLocked(id)
}

func (p *Providers) latestLocked(id string) (provider.Plugin, bool) {
	var best provider.Plugin
	var bestVer *semver.Version
	for k, pl := range p.byID {
		if k.id != id {
			continue
		}
		v, err := semver.NewVersion(k.version)
		if err != nil {
			continue
		}
		if bestVer == nil || v.GreaterThan(bestVer) {
			bestVer = v
			best = pl
		}
	}
	return best, best != nil
}

// List returns every registered plugin, or all versions of one id when
// idFilter is non-empty.
func (p *Providers) List(idFilter string) []provider.Plugin {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]provider.Plugin, 0, len(p.byID))
	for k, pl := range p.byID {
		if idFilter != "" && k.id != idFilter {
			continue
		}
		out = append(out, pl)
	}
	return out
}

// Has reports whether id (optionally at an exact version) is registered.
func (p *Providers) Has(id string, version *semver.Version) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if version != nil {
		_, ok := p.byID[key(id, version)]
		return ok
	}
	for k := range p.byID {
		if k.id == id {
			return true
		}
	}
	return false
}

// Unregister removes the exact (id, version) key, or every version of id
// when version is nil. Returns whether anything was removed.
func (p *Providers) Unregister(id string, version *semver.Version) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if version != nil {
		k := key(id, version)
		if _, ok := p.byID[k]; !ok {
			return false
		}
		delete(p.byID, k)
		return true
	}
	removed := false
	for k := range p.byID {
		if k.id == id {
			delete(p.byID, k)
			removed = true
		}
	}
	return removed
}

// GetVersions returns every version string registered for id, in
// descending semver order.
func (p *Providers) GetVersions(id string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var versions []*semver.Version
	for k := range p.byID {
		if k.id != id {
			continue
		}
		if v, err := semver.NewVersion(k.version); err == nil {
			versions = append(versions, v)
		}
	}
	sort.Sort(sort.Reverse(semver.Collection(versions)))
	out := make([]string, len(versions))
	for i, v := range versions {
		out[i] = v.String()
	}
	return out
}

// PluginDescriptor is the durable snapshot of one registered plugin's
// identity, used by Snapshot below. It does not capture behavior, and
// Providers has no Restore: a concrete Plugin must still be registered at
// process start; this only records which (id, version) pairs were known,
// persisting identity separately from runtime behavior.
type PluginDescriptor struct {
	ID      string
	Version string
}

// Snapshot lists every registered plugin's identity for persistence.
func (p *Providers) Snapshot() []PluginDescriptor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PluginDescriptor, 0, len(p.byID))
	for k := range p.byID {
		out = append(out, PluginDescriptor{ID: k.id, Version: k.version})
	}
	return out
}

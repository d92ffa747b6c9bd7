// Package registry implements the model registry and provider-plugin
// registry: concurrent-safe in-memory catalogues guarded by a mutex over a
// plain map.
package registry

import (
	"sync"

	"github.com/kestrel-ai/bridge/pkg/bridge/bridgeerr"
	"github.com/kestrel-ai/bridge/pkg/bridge/types"
)

// Models is the in-memory `modelId -> descriptor` registry.
type Models struct {
	mu   sync.RWMutex
	byID map[string]types.ModelDescriptor
}

// NewModels constructs an empty model registry.
func NewModels() *Models {
	return &Models{byID: make(map[string]types.ModelDescriptor)}
}

// Register validates desc, rewrites desc.ID to equal id, and stores it,
// overwriting any previous entry for id.
func (m *Models) Register(id string, desc types.ModelDescriptor) error {
	if id == "" {
		return &bridgeerr.ValidationError{Field: "id", Message: "model id must not be empty"}
	}
	if desc.Provider == "" {
		return &bridgeerr.ValidationError{Field: "provider", Message: "model descriptor must name a provider"}
	}
	if desc.Capabilities.MaxTokens != nil && *desc.Capabilities.MaxTokens <= 0 {
		return &bridgeerr.ValidationError{Field: "capabilities.maxTokens", Message: "maxTokens must be greater than zero when set"}
	}
	desc.ID = id

	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id] = desc
	return nil
}

// Get returns the descriptor for id, or false if absent.
func (m *Models) Get(id string) (types.ModelDescriptor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	desc, ok := m.byID[id]
	return desc, ok
}

// List returns every descriptor, optionally filtered to a single provider.
func (m *Models) List(providerFilter string) []types.ModelDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.ModelDescriptor, 0, len(m.byID))
	for _, desc := range m.byID {
		if providerFilter != "" && desc.Provider != providerFilter {
			continue
		}
		out = append(out, desc)
	}
	return out
}

// Has reports whether id is registered.
func (m *Models) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byID[id]
	return ok
}

// Capability names a field of [types.ModelCapabilities] queryable via
// GetByCapability.
type Capability string

const (
	CapabilityStreaming     Capability = "streaming"
	CapabilityToolCalls     Capability = "toolCalls"
	CapabilityImages        Capability = "images"
	CapabilityDocuments     Capability = "documents"
	CapabilityTemperature   Capability = "temperature"
	CapabilityPromptCaching Capability = "promptCaching"
	CapabilityMaxTokens     Capability = "maxTokens"
)

// GetByCapability returns every descriptor where cap is true (for boolean
// capabilities) or present (for the optional numeric ones).
func (m *Models) GetByCapability(cap Capability) []types.ModelDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.ModelDescriptor
	for _, desc := range m.byID {
		if hasCapability(desc.Capabilities, cap) {
			out = append(out, desc)
		}
	}
	return out
}

func hasCapability(c types.ModelCapabilities, cap Capability) bool {
	switch cap {
	case CapabilityStreaming:
		return c.Streaming
	case CapabilityToolCalls:
		return c.ToolCalls
	case CapabilityImages:
		return c.Images
	case CapabilityDocuments:
		return c.Documents
	case CapabilityPromptCaching:
		return c.PromptCaching
	case CapabilityTemperature:
		return c.Temperature != nil
	case CapabilityMaxTokens:
		return c.MaxTokens != nil
	default:
		return false
	}
}

// Unregister removes id, reporting whether an entry was actually removed.
func (m *Models) Unregister(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return false
	}
	delete(m.byID, id)
	return true
}

// Snapshot returns every registered descriptor for durable persistence, so
// registrations survive a process restart when paired with a store (see
// internal/store/postgres).
func (m *Models) Snapshot() []types.ModelDescriptor {
	return m.List("")
}

// Restore replaces the registry's contents with descs, as read back from a
// durable store. Existing entries not present in descs are dropped.
func (m *Models) Restore(descs []types.ModelDescriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID = make(map[string]types.ModelDescriptor, len(descs))
	for _, desc := range descs {
		m.byID[desc.ID] = desc
	}
}

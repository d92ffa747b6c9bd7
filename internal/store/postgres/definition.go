package postgres

import (
	"time"

	"github.com/kestrel-ai/bridge/pkg/bridge/registry"
	"github.com/kestrel-ai/bridge/pkg/bridge/types"
)

// ModelRow is the durable row shape for one model descriptor, mirroring
// [types.ModelDescriptor] plus the bookkeeping timestamps the store adds.
type ModelRow struct {
	ID           string
	Name         string
	Provider     string
	Capabilities types.ModelCapabilities
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PluginRow is the durable row shape for one registered plugin identity,
// mirroring [registry.PluginDescriptor] plus the bookkeeping timestamps.
type PluginRow struct {
	ID        string
	Version   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ToDescriptor converts a ModelRow into the [types.ModelDescriptor] shape
// the bridge's model registry expects.
func (r ModelRow) ToDescriptor() types.ModelDescriptor {
	return types.ModelDescriptor{
		ID:           r.ID,
		Name:         r.Name,
		Provider:     r.Provider,
		Capabilities: r.Capabilities,
	}
}

// ModelRowFromDescriptor builds a ModelRow from a registry descriptor, for
// persistence via [Store.UpsertModel].
func ModelRowFromDescriptor(desc types.ModelDescriptor) ModelRow {
	return ModelRow{ID: desc.ID, Name: desc.Name, Provider: desc.Provider, Capabilities: desc.Capabilities}
}

// PluginRowFromDescriptor builds a PluginRow from a registry plugin
// identity, for persistence via [Store.UpsertPlugin].
func PluginRowFromDescriptor(desc registry.PluginDescriptor) PluginRow {
	return PluginRow{ID: desc.ID, Version: desc.Version}
}

package config

import "slices"

// ConfigDiff describes what changed between two configs. Only fields that
// are safe to hot-reload without restarting the process are tracked.
type ConfigDiff struct {
	ModelsChanged   bool
	ModelChanges    []ModelDiff // per-model-id diffs, keyed by the full "provider:model" id
	LogLevelChanged bool
	NewLogLevel     string
}

// ModelDiff describes what changed for a single model id between two
// configs.
type ModelDiff struct {
	ModelID        string
	CapabilityDiff bool
	Added          bool
	Removed        bool
}

// Diff compares old and new configs and returns what changed. Only tracks
// changes that are safe to apply without restart — a provider's APIKey or
// BaseURL changing is not tracked here since that requires reconstructing
// the plugin itself, not just the registry entries.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldModels := make(map[string]ModelConfig)
	for _, p := range old.Providers {
		for _, m := range p.Models {
			oldModels[modelKey(p, m)] = m
		}
	}
	newModels := make(map[string]ModelConfig)
	for _, p := range new.Providers {
		for _, m := range p.Models {
			newModels[modelKey(p, m)] = m
		}
	}

	for id, oldModel := range oldModels {
		newModel, exists := newModels[id]
		if !exists {
			d.ModelChanges = append(d.ModelChanges, ModelDiff{ModelID: id, Removed: true})
			d.ModelsChanged = true
			continue
		}
		if !modelConfigsEqual(oldModel, newModel) {
			d.ModelChanges = append(d.ModelChanges, ModelDiff{ModelID: id, CapabilityDiff: true})
			d.ModelsChanged = true
		}
	}
	for id := range newModels {
		if _, exists := oldModels[id]; !exists {
			d.ModelChanges = append(d.ModelChanges, ModelDiff{ModelID: id, Added: true})
			d.ModelsChanged = true
		}
	}

	return d
}

func modelKey(p ProviderConfig, m ModelConfig) string {
	pluginID := p.ID
	if m.ProviderPlugin != "" {
		pluginID = m.ProviderPlugin
	}
	return pluginID + ":" + m.ID
}

// modelConfigsEqual compares every field ModelConfig declares. A plain ==
// doesn't work here since SupportedContentTypes is a slice.
func modelConfigsEqual(a, b ModelConfig) bool {
	if a.ID != b.ID || a.Name != b.Name || a.ContextLength != b.ContextLength ||
		a.ProviderPlugin != b.ProviderPlugin || a.Streaming != b.Streaming ||
		a.ToolCalls != b.ToolCalls || a.Images != b.Images || a.Documents != b.Documents ||
		a.Thinking != b.Thinking || a.PromptCaching != b.PromptCaching {
		return false
	}
	if (a.Temperature == nil) != (b.Temperature == nil) {
		return false
	}
	if a.Temperature != nil && *a.Temperature != *b.Temperature {
		return false
	}
	return slices.Equal(a.SupportedContentTypes, b.SupportedContentTypes)
}

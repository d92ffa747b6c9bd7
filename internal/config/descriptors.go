package config

import "github.com/kestrel-ai/bridge/pkg/bridge/types"

// ModelDescriptors flattens every provider's model list into the
// [types.ModelDescriptor] slice the bridge's model registry is seeded
// with at startup.
func (c *Config) ModelDescriptors() []types.ModelDescriptor {
	var out []types.ModelDescriptor
	for _, p := range c.Providers {
		providerID := p.ID
		for _, m := range p.Models {
			pluginID := providerID
			if m.ProviderPlugin != "" {
				pluginID = m.ProviderPlugin
			}
			out = append(out, types.ModelDescriptor{
				ID:           types.CreateModelID(pluginID, m.ID),
				Name:         m.Name,
				Provider:     pluginID,
				Capabilities: m.capabilities(),
			})
		}
	}
	return out
}

// capabilities converts a ModelConfig into the registry's strict
// capabilities shape. contextLength and thinking have no dedicated
// ModelCapabilities field, so both are carried through Metadata rather than
// dropped; MaxTokens is left nil here since this schema does not name a
// separate per-request output cap distinct from contextLength.
func (m ModelConfig) capabilities() types.ModelCapabilities {
	metadata := map[string]any{"contextLength": m.ContextLength}
	if m.Thinking {
		metadata["thinking"] = true
	}
	return types.ModelCapabilities{
		Streaming:             m.Streaming,
		ToolCalls:             m.ToolCalls,
		Images:                m.Images,
		Documents:             m.Documents,
		Temperature:           m.Temperature,
		PromptCaching:         m.PromptCaching,
		SupportedContentTypes: m.SupportedContentTypes,
		Metadata:              metadata,
	}
}

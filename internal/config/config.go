// Package config provides the configuration schema, loader, and hot-reload
// watcher for the bridge's "Default-models JSON": the persisted
// provider/model metadata the bridge client's registries are seeded from
// at startup.
package config

// Config is the root configuration structure: one document describing
// every provider plugin to construct and the models each one serves.
type Config struct {
	SchemaVersion int              `json:"schemaVersion" yaml:"schemaVersion"`
	Server        ServerConfig     `json:"server" yaml:"server"`
	Providers     []ProviderConfig `json:"providers" yaml:"providers"`
}

// CurrentSchemaVersion is the only schemaVersion this loader accepts.
const CurrentSchemaVersion = 1

// ServerConfig holds process-wide settings unrelated to any one provider.
type ServerConfig struct {
	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel string `json:"logLevel" yaml:"logLevel"`
}

// ProviderConfig describes one provider plugin to construct and register,
// plus the models it serves.
type ProviderConfig struct {
	// ID is the provider's registry key, e.g. "openai", "anthropic",
	// "anyllm-ollama". Must match the plugin's own ID() once constructed.
	ID string `json:"id" yaml:"id"`

	// Name is a human-readable label, independent of ID.
	Name string `json:"name" yaml:"name"`

	// APIKey authenticates against the provider's API. May be empty for
	// backends that run unauthenticated (a local ollama/llamacpp server).
	APIKey string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`

	// BaseURL overrides the provider's default endpoint. Leave empty to use
	// the plugin's built-in default.
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	Models []ModelConfig `json:"models" yaml:"models"`
}

// ModelConfig describes one model offered by a provider, mirroring the
// Default-models JSON model entry field for field.
type ModelConfig struct {
	// ID is the model portion of the wire-level model id (not yet
	// namespaced with the provider prefix; [Config.ModelDescriptors]
	// joins them via [types.CreateModelID]).
	ID            string `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	ContextLength int    `json:"contextLength" yaml:"contextLength"`

	// ProviderPlugin overrides which registered plugin ID serves this
	// model when it differs from the owning ProviderConfig.ID (e.g. a
	// provider config grouping several anyllm-* backends under one
	// logical entry). Empty means "use the owning provider's ID".
	ProviderPlugin string `json:"providerPlugin,omitempty" yaml:"providerPlugin,omitempty"`

	Streaming             bool     `json:"streaming,omitempty" yaml:"streaming,omitempty"`
	ToolCalls             bool     `json:"toolCalls,omitempty" yaml:"toolCalls,omitempty"`
	Images                bool     `json:"images,omitempty" yaml:"images,omitempty"`
	Documents             bool     `json:"documents,omitempty" yaml:"documents,omitempty"`
	Temperature           *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	Thinking              bool     `json:"thinking,omitempty" yaml:"thinking,omitempty"`
	PromptCaching         bool     `json:"promptCaching,omitempty" yaml:"promptCaching,omitempty"`
	SupportedContentTypes []string `json:"supportedContentTypes,omitempty" yaml:"supportedContentTypes,omitempty"`
}

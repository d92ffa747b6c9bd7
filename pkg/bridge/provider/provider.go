// Package provider defines the provider-plugin contract: the polymorphism
// seam between the bridge dispatcher and concrete provider dialects
// (OpenAI, Anthropic, any-llm, ...).
package provider

import (
	"github.com/Masterminds/semver/v3"

	"github.com/kestrel-ai/bridge/pkg/bridge/bridgeerr"
	"github.com/kestrel-ai/bridge/pkg/bridge/types"
)

// HTTPRequestDescriptor is the deterministic, I/O-free output of
// Plugin.TranslateRequest: everything the runtime needs to issue the call.
type HTTPRequestDescriptor struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte
}

// Plugin is the contract every provider dialect implements.
type Plugin interface {
	// ID is the provider's registry key, e.g. "openai".
	ID() string
	// Version is this plugin build's semver, used for the provider
	// registry's composite (id, version) key.
	Version() *semver.Version
	// Name is a human-readable label for logs and error messages.
	Name() string

	// SupportsModel reports whether modelID (already validated to be
	// "provider:model" shaped) is one this plugin dialect can serve.
	SupportsModel(modelID string) bool

	// TranslateRequest converts a unified chat request into a concrete
	// HTTP request descriptor. Deterministic; must not perform I/O.
	TranslateRequest(req types.ChatRequest) (HTTPRequestDescriptor, error)

	// ParseResponse deserializes a complete non-streaming response body
	// into a unified message.
	ParseResponse(raw []byte) (types.Message, error)

	// ParseStreamDelta consumes one transport chunk and emits zero or one
	// typed delta. ok is false when the chunk carried no user-visible
	// delta (e.g. an SSE comment or keep-alive); the plugin may retain
	// internal buffering state across calls for one stream.
	ParseStreamDelta(chunk []byte) (delta types.StreamDelta, ok bool, err error)

	// NormalizeError maps any transport or deserialization failure into
	// the shared taxonomy.
	NormalizeError(cause error) *bridgeerr.ProviderError
}

// CachingPlugin is the optional prompt-caching capability. A Plugin that
// does not implement this interface is treated as not
// supporting caching; callers must type-assert rather than relying on a
// nil method set.
type CachingPlugin interface {
	SupportsCaching() bool
	GetCacheHeaders() map[string]string
	MarkForCaching(messages []types.Message) []types.Message
}

// MergeCacheHeaders merges a plugin's cache headers into req.Headers and
// applies MarkForCaching to messages, but only when p implements
// [CachingPlugin] AND SupportsCaching reports true — a single type
// assertion instead of three separate nil checks.
func MergeCacheHeaders(p Plugin, req *HTTPRequestDescriptor, messages []types.Message) []types.Message {
	cp, ok := p.(CachingPlugin)
	if !ok || !cp.SupportsCaching() {
		return messages
	}
	if req.Headers == nil {
		req.Headers = make(map[string]string)
	}
	for k, v := range cp.GetCacheHeaders() {
		req.Headers[k] = v
	}
	return cp.MarkForCaching(messages)
}

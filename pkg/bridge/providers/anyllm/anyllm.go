// Package anyllm is a reference [provider.Plugin] that covers any-llm-go's
// OpenAI-API-compatible backends (ollama, llamacpp, llamafile, groq,
// mistral, deepseek).
//
// any-llm-go's own Provider.CompletionStream/Completion perform the HTTP
// call internally, which does not fit provider.Plugin's contract of
// building a request deterministically with no I/O — there is no exported
// any-llm-go entry point that only builds a request without issuing it, so
// this package does not import any-llm-go itself. It reuses the
// OpenAI-compatible chat-completions wire shape (shared with
// pkg/bridge/providers/openai) for each backend's own default endpoint,
// since every covered backend exposes an OpenAI-compatible
// /chat/completions route.
package anyllm

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/kestrel-ai/bridge/pkg/bridge/bridgeerr"
	"github.com/kestrel-ai/bridge/pkg/bridge/provider"
	"github.com/kestrel-ai/bridge/pkg/bridge/providers/openai"
	"github.com/kestrel-ai/bridge/pkg/bridge/types"
)

// Backend names this plugin recognizes. "openai" and "anthropic" are
// excluded: those already have dedicated first-class plugins with their
// own native wire formats.
const (
	BackendOllama    = "ollama"
	BackendLlamaCpp  = "llamacpp"
	BackendLlamaFile = "llamafile"
	BackendGroq      = "groq"
	BackendMistral   = "mistral"
	BackendDeepSeek  = "deepseek"
)

// defaultBaseURLs holds each backend's conventional local or hosted
// endpoint (e.g. ollama serves its OpenAI-compatible API from
// http://localhost:11434/v1 by default), extended with the public API
// endpoints for the hosted backends.
var defaultBaseURLs = map[string]string{
	BackendOllama:    "http://localhost:11434/v1",
	BackendLlamaCpp:  "http://127.0.0.1:8080/v1",
	BackendLlamaFile: "http://127.0.0.1:8080/v1",
	BackendGroq:      "https://api.groq.com/openai/v1",
	BackendMistral:   "https://api.mistral.ai/v1",
	BackendDeepSeek:  "https://api.deepseek.com/v1",
}

// Plugin implements provider.Plugin for one any-llm-go OpenAI-compatible
// backend, identified by backendName (see the Backend* constants).
type Plugin struct {
	backendName string
	apiKey      string
	inner       *openai.Plugin
	version     *semver.Version
}

// New constructs a Plugin for the named backend. apiKey may be empty for
// backends that run unauthenticated (a local ollama/llamacpp/llamafile
// server).
func New(backendName, apiKey string) (*Plugin, error) {
	backendName = strings.ToLower(backendName)
	baseURL, ok := defaultBaseURLs[backendName]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q; supported: ollama, llamacpp, llamafile, groq, mistral, deepseek", backendName)
	}
	return &Plugin{
		backendName: backendName,
		apiKey:      apiKey,
		inner:       openai.New(apiKey).WithBaseURL(baseURL),
		version:     semver.MustParse("1.0.0"),
	}, nil
}

// WithBaseURL overrides the backend's endpoint, for self-hosted deployments
// that don't run on the default port any-llm-go assumes.
func (p *Plugin) WithBaseURL(url string) *Plugin {
	p.inner = p.inner.WithBaseURL(url)
	return p
}

func (p *Plugin) ID() string               { return "anyllm-" + p.backendName }
func (p *Plugin) Version() *semver.Version { return p.version }
func (p *Plugin) Name() string             { return "any-llm (" + p.backendName + ")" }

// SupportsModel accepts any model id namespaced under this plugin's id.
func (p *Plugin) SupportsModel(modelID string) bool {
	prov, _, err := types.ParseModelID(modelID)
	return err == nil && prov == p.ID()
}

// TranslateRequest delegates to the shared OpenAI-compatible wire builder,
// since every covered backend speaks the same chat-completions shape.
func (p *Plugin) TranslateRequest(req types.ChatRequest) (provider.HTTPRequestDescriptor, error) {
	return p.inner.TranslateRequest(req)
}

// ParseResponse delegates to the shared OpenAI-compatible decoder.
func (p *Plugin) ParseResponse(raw []byte) (types.Message, error) {
	return p.inner.ParseResponse(raw)
}

// ParseStreamDelta delegates to the shared OpenAI-compatible decoder.
func (p *Plugin) ParseStreamDelta(chunk []byte) (types.StreamDelta, bool, error) {
	return p.inner.ParseStreamDelta(chunk)
}

// NormalizeError implements provider.Plugin, re-tagging the wrapped
// OpenAI-shaped error with this backend's own provider id.
func (p *Plugin) NormalizeError(cause error) *bridgeerr.ProviderError {
	pe := p.inner.NormalizeError(cause)
	pe.ProviderID = p.ID()
	return pe
}

var _ provider.Plugin = (*Plugin)(nil)

// Package types defines the data model shared by every bridge package: the
// message/content-part model, the model descriptor, and the streaming delta
// shape. These are the cross-cutting structures that would otherwise force a
// circular import between the provider, registry, and root bridge packages.
package types

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/kestrel-ai/bridge/pkg/bridge/bridgeerr"
)

// modelIDPattern is the wire-level grammar for a model identifier: §3 of the
// specification.
var modelIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+:[A-Za-z0-9._-]+$`)

// ParseModelID validates and splits a "<provider>:<model>" identifier.
func ParseModelID(id string) (provider, model string, err error) {
	if len(id) < 3 || len(id) > 100 {
		return "", "", fmt.Errorf("types: model id %q must be 3-100 characters", id)
	}
	if !modelIDPattern.MatchString(id) {
		return "", "", fmt.Errorf("types: model id %q does not match provider:model grammar", id)
	}
	idx := -1
	for i, r := range id {
		if r == ':' {
			idx = i
			break
		}
	}
	return id[:idx], id[idx+1:], nil
}

// CreateModelID joins a provider and model name into a wire-level model id.
// Round-tripping through [ParseModelID] yields the same (provider, model)
// pair it was built from.
func CreateModelID(provider, model string) string {
	return provider + ":" + model
}

// Role identifies who authored a [Message].
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// contentPartKind is the wire discriminator for the sealed [ContentPart]
// union; every concrete type below marshals itself with a matching "type"
// field and the package's unmarshal helper dispatches on it.
type contentPartKind string

const (
	kindText       contentPartKind = "text"
	kindImage      contentPartKind = "image"
	kindDocument   contentPartKind = "document"
	kindToolCall   contentPartKind = "tool_call"
	kindToolResult contentPartKind = "tool_result"
)

// ContentPart is a tagged variant of message content. The unexported marker
// method seals the set of implementations to this package's concrete types,
// giving compile-time exhaustiveness in switch statements instead of runtime
// duck typing — the same discipline applies at the plugin level.
type ContentPart interface {
	isContentPart()
}

// TextPart is plain text content.
type TextPart struct {
	Text string `json:"text"`
}

func (TextPart) isContentPart() {}

func (p TextPart) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type contentPartKind `json:"type"`
		Text string          `json:"text"`
	}
	return json.Marshal(wire{Type: kindText, Text: p.Text})
}

// ImagePart is inline image content.
type ImagePart struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mimeType"`
}

func (ImagePart) isContentPart() {}

func (p ImagePart) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type     contentPartKind `json:"type"`
		Data     []byte          `json:"data"`
		MimeType string          `json:"mimeType"`
	}
	return json.Marshal(wire{Type: kindImage, Data: p.Data, MimeType: p.MimeType})
}

// DocumentPart is an inline document (e.g. PDF) attachment.
type DocumentPart struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mimeType"`
	Name     string `json:"name,omitempty"`
}

func (DocumentPart) isContentPart() {}

func (p DocumentPart) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type     contentPartKind `json:"type"`
		Data     []byte          `json:"data"`
		MimeType string          `json:"mimeType"`
		Name     string          `json:"name,omitempty"`
	}
	return json.Marshal(wire{Type: kindDocument, Data: p.Data, MimeType: p.MimeType, Name: p.Name})
}

// ToolCallPart represents one tool invocation requested by the assistant.
type ToolCallPart struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON-encoded
}

func (ToolCallPart) isContentPart() {}

func (p ToolCallPart) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type      contentPartKind `json:"type"`
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		Arguments string          `json:"arguments"`
	}
	return json.Marshal(wire{Type: kindToolCall, ID: p.ID, Name: p.Name, Arguments: p.Arguments})
}

// ToolResultPart carries the outcome of executing a tool call back into the
// conversation. Exactly one of Result/Error should be set.
type ToolResultPart struct {
	ID     string `json:"id"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (ToolResultPart) isContentPart() {}

func (p ToolResultPart) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type   contentPartKind `json:"type"`
		ID     string          `json:"id"`
		Result string          `json:"result,omitempty"`
		Error  string          `json:"error,omitempty"`
	}
	return json.Marshal(wire{Type: kindToolResult, ID: p.ID, Result: p.Result, Error: p.Error})
}

// unmarshalContentPart dispatches raw onto the concrete ContentPart variant
// its "type" discriminator names.
func unmarshalContentPart(raw json.RawMessage) (ContentPart, error) {
	var probe struct {
		Type contentPartKind `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("types: decoding content part discriminator: %w", err)
	}
	switch probe.Type {
	case kindText:
		var v struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return TextPart{Text: v.Text}, nil
	case kindImage:
		var v struct {
			Data     []byte `json:"data"`
			MimeType string `json:"mimeType"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return ImagePart{Data: v.Data, MimeType: v.MimeType}, nil
	case kindDocument:
		var v struct {
			Data     []byte `json:"data"`
			MimeType string `json:"mimeType"`
			Name     string `json:"name"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return DocumentPart{Data: v.Data, MimeType: v.MimeType, Name: v.Name}, nil
	case kindToolCall:
		var v struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return ToolCallPart{ID: v.ID, Name: v.Name, Arguments: v.Arguments}, nil
	case kindToolResult:
		var v struct {
			ID     string `json:"id"`
			Result string `json:"result"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return ToolResultPart{ID: v.ID, Result: v.Result, Error: v.Error}, nil
	default:
		return nil, fmt.Errorf("types: unknown content part type %q", probe.Type)
	}
}

func marshalContentParts(parts []ContentPart) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(parts))
	for i, p := range parts {
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		out[i] = raw
	}
	return out, nil
}

func unmarshalContentParts(raw []json.RawMessage) ([]ContentPart, error) {
	out := make([]ContentPart, len(raw))
	for i, r := range raw {
		p, err := unmarshalContentPart(r)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// Message is one turn in a conversation.
type Message struct {
	Role    Role
	Content []ContentPart
}

func (m Message) MarshalJSON() ([]byte, error) {
	content, err := marshalContentParts(m.Content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Role    Role              `json:"role"`
		Content []json.RawMessage `json:"content"`
	}{Role: m.Role, Content: content})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var wire struct {
		Role    Role              `json:"role"`
		Content []json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	content, err := unmarshalContentParts(wire.Content)
	if err != nil {
		return err
	}
	m.Role = wire.Role
	m.Content = content
	return nil
}

// ToolCall is a flattened view of a ToolCallPart, used where the full content
// part list would be unwieldy (streaming accumulation, provider plugin
// internals).
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDescriptor describes a tool offered to the model.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// ToolConnectionRef names which registered tool connection a tool call should
// be dispatched to; it is a lookup key into the caller-supplied connection
// map, not a connection itself.
type ToolConnectionRef string

// ChatRequest is the boundary shape accepted by the bridge client.
type ChatRequest struct {
	Model           string                        `json:"model"`
	Messages        []Message                     `json:"messages"`
	Tools           []ToolDescriptor               `json:"tools,omitempty"`
	ToolConnections map[string]ToolConnectionRef  `json:"toolConnections,omitempty"`
	Stream          bool                          `json:"stream,omitempty"`
	Temperature     *float64                      `json:"temperature,omitempty"`
	MaxTokens       *int                          `json:"maxTokens,omitempty"`
	Metadata        map[string]any                `json:"metadata,omitempty"`
}

// StreamDelta is one typed chunk of a streaming response.
type StreamDelta struct {
	ID       string    `json:"id"`
	Delta    DeltaBody `json:"delta"`
	Finished bool      `json:"finished,omitempty"`
}

// DeltaBody is the incremental content of one [StreamDelta].
type DeltaBody struct {
	Content   []ContentPart `json:"content,omitempty"`
	Role      Role          `json:"role,omitempty"`
	ToolCalls []ToolCall    `json:"toolCalls,omitempty"`
}

func (d DeltaBody) MarshalJSON() ([]byte, error) {
	content, err := marshalContentParts(d.Content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Content   []json.RawMessage `json:"content,omitempty"`
		Role      Role              `json:"role,omitempty"`
		ToolCalls []ToolCall        `json:"toolCalls,omitempty"`
	}{Content: content, Role: d.Role, ToolCalls: d.ToolCalls})
}

func (d *DeltaBody) UnmarshalJSON(data []byte) error {
	var wire struct {
		Content   []json.RawMessage `json:"content"`
		Role      Role              `json:"role"`
		ToolCalls []ToolCall        `json:"toolCalls"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	content, err := unmarshalContentParts(wire.Content)
	if err != nil {
		return err
	}
	d.Content = content
	d.Role = wire.Role
	d.ToolCalls = wire.ToolCalls
	return nil
}

// ModelCapabilities describes what a model supports. This follows a
// strict-required-booleans shape; PromptCaching defaults to false when not
// explicitly set.
type ModelCapabilities struct {
	Streaming             bool            `json:"streaming"`
	ToolCalls             bool            `json:"toolCalls"`
	Images                bool            `json:"images"`
	Documents             bool            `json:"documents"`
	Temperature           *float64        `json:"temperature,omitempty"`
	PromptCaching         bool            `json:"promptCaching"`
	MaxTokens             *int            `json:"maxTokens,omitempty"`
	SupportedContentTypes []string        `json:"supportedContentTypes,omitempty"`
	Metadata              map[string]any  `json:"metadata,omitempty"`
}

// ModelDescriptor is the record stored in the model registry.
type ModelDescriptor struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Provider     string            `json:"provider"`
	Capabilities ModelCapabilities `json:"capabilities"`
}

// MCPServerConfig describes one MCP tool server to connect to: a plain
// struct carrying both the url-shaped and command-shaped fields, since Go
// has no sum type to seal the choice at compile time. Exactly one of URL or
// Command must be set; [MCPServerConfig.Validate] enforces the XOR at the
// boundary instead.
type MCPServerConfig struct {
	Name    string   `json:"name"`
	URL     string   `json:"url,omitempty"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
}

// Validate enforces the url/command XOR: a config must name exactly one
// connection shape. Both absent, and both present, are validation errors.
func (c MCPServerConfig) Validate() error {
	if c.Name == "" {
		return &bridgeerr.ValidationError{Field: "name", Message: "MCP server config must have a name"}
	}
	hasURL := c.URL != ""
	hasCommand := c.Command != ""
	if hasURL == hasCommand {
		return &bridgeerr.ValidationError{
			Field:   "url/command",
			Message: "MCP server config must set exactly one of url or command",
		}
	}
	if hasURL && len(c.Args) > 0 {
		return &bridgeerr.ValidationError{Field: "args", Message: "args is only valid alongside command"}
	}
	return nil
}

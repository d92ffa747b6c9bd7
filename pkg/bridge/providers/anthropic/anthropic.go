// Package anthropic is a reference [provider.Plugin] backed by the
// Anthropic Messages API wire format, grounded on the SDK request-building
// pattern the pack's goa-ai Anthropic adapter uses (sdk.MessageNewParams,
// sdk.MessageParam, sdk.ContentBlockParamUnion). TranslateRequest never
// calls the SDK's own HTTP client; it only uses the SDK's types to build a
// request body deterministically, matching provider.Plugin's no-I/O
// contract.
package anthropic

import (
	"encoding/json"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/Masterminds/semver/v3"

	"github.com/kestrel-ai/bridge/pkg/bridge/bridgeerr"
	"github.com/kestrel-ai/bridge/pkg/bridge/provider"
	"github.com/kestrel-ai/bridge/pkg/bridge/types"
)

// DefaultBaseURL is Anthropic's public API endpoint.
const DefaultBaseURL = "https://api.anthropic.com/v1"

// APIVersion is sent as the anthropic-version header, pinned rather than
// negotiated so response shapes stay predictable for ParseResponse.
const APIVersion = "2023-06-01"

// DefaultMaxTokens is used when a request does not set MaxTokens; the
// Messages API requires the field and rejects its absence outright.
const DefaultMaxTokens = 4096

// Plugin implements provider.Plugin for the Anthropic Messages API.
type Plugin struct {
	apiKey  string
	baseURL string
	version *semver.Version
}

// New constructs a Plugin authenticated with apiKey against DefaultBaseURL.
func New(apiKey string) *Plugin {
	return &Plugin{apiKey: apiKey, baseURL: DefaultBaseURL, version: semver.MustParse("1.0.0")}
}

// WithBaseURL overrides the endpoint, for Anthropic-compatible gateways.
func (p *Plugin) WithBaseURL(url string) *Plugin {
	p.baseURL = url
	return p
}

func (p *Plugin) ID() string               { return "anthropic" }
func (p *Plugin) Version() *semver.Version { return p.version }
func (p *Plugin) Name() string             { return "Anthropic" }

// SupportsModel accepts any model id namespaced under this plugin's id.
func (p *Plugin) SupportsModel(modelID string) bool {
	prov, _, err := types.ParseModelID(modelID)
	return err == nil && prov == p.ID()
}

// TranslateRequest builds the Messages request body using the Anthropic
// SDK's own parameter types (pure data construction, no I/O).
func (p *Plugin) TranslateRequest(req types.ChatRequest) (provider.HTTPRequestDescriptor, error) {
	_, model, err := types.ParseModelID(req.Model)
	if err != nil {
		return provider.HTTPRequestDescriptor{}, &bridgeerr.ValidationError{Field: "model", Message: err.Error(), Err: err}
	}

	messages, system, err := encodeMessages(req.Messages)
	if err != nil {
		return provider.HTTPRequestDescriptor{}, &bridgeerr.ValidationError{Field: "messages", Message: err.Error(), Err: err}
	}
	if len(messages) == 0 {
		return provider.HTTPRequestDescriptor{}, &bridgeerr.ValidationError{Field: "messages", Message: "at least one user/assistant message is required"}
	}

	maxTokens := DefaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  messages,
		Model:     sdk.Model(model),
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	for _, td := range req.Tools {
		schema := sdk.ToolInputSchemaParam{}
		if td.Parameters != nil {
			schema.ExtraFields = td.Parameters
		}
		u := sdk.ToolUnionParamOfTool(schema, td.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(td.Description)
		}
		params.Tools = append(params.Tools, u)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return provider.HTTPRequestDescriptor{}, &bridgeerr.ProviderError{ProviderID: p.ID(), Message: "encoding request", Err: err}
	}
	if req.Stream {
		body, err = withStreamFlag(body)
		if err != nil {
			return provider.HTTPRequestDescriptor{}, &bridgeerr.ProviderError{ProviderID: p.ID(), Message: "setting stream flag", Err: err}
		}
	}

	return provider.HTTPRequestDescriptor{
		URL:    p.baseURL + "/messages",
		Method: "POST",
		Headers: map[string]string{
			"x-api-key":         p.apiKey,
			"anthropic-version": APIVersion,
			"Content-Type":      "application/json",
		},
		Body: body,
	}, nil
}

// withStreamFlag sets "stream": true on an already-marshaled request body,
// as a post-processing step so this plugin does not depend on whichever
// exact param field a given SDK version uses for the streaming switch.
func withStreamFlag(body []byte) ([]byte, error) {
	var asMap map[string]any
	if err := json.Unmarshal(body, &asMap); err != nil {
		return nil, err
	}
	asMap["stream"] = true
	return json.Marshal(asMap)
}

// encodeMessages separates system-role messages into Anthropic's dedicated
// System field and converts the remaining user/assistant/tool turns into
// sdk.MessageParam content blocks.
func encodeMessages(msgs []types.Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	var system []sdk.TextBlockParam

	for _, m := range msgs {
		if m.Role == types.RoleSystem {
			for _, part := range m.Content {
				if tp, ok := part.(types.TextPart); ok && tp.Text != "" {
					system = append(system, sdk.TextBlockParam{Text: tp.Text})
				}
			}
			continue
		}

		blocks, err := encodeBlocks(m.Content)
		if err != nil {
			return nil, nil, err
		}
		if len(blocks) == 0 {
			continue
		}

		switch m.Role {
		case types.RoleUser, types.RoleTool:
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case types.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	return conversation, system, nil
}

func encodeBlocks(parts []types.ContentPart) ([]sdk.ContentBlockParamUnion, error) {
	blocks := make([]sdk.ContentBlockParamUnion, 0, len(parts))
	for _, part := range parts {
		switch v := part.(type) {
		case types.TextPart:
			if v.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(v.Text))
			}
		case types.ToolCallPart:
			var input any
			if v.Arguments != "" {
				if err := json.Unmarshal([]byte(v.Arguments), &input); err != nil {
					return nil, fmt.Errorf("anthropic: tool_call %q has non-JSON arguments: %w", v.ID, err)
				}
			}
			blocks = append(blocks, sdk.NewToolUseBlock(v.ID, input, v.Name))
		case types.ToolResultPart:
			content := v.Result
			isErr := v.Error != ""
			if isErr {
				content = v.Error
			}
			blocks = append(blocks, sdk.NewToolResultBlock(v.ID, content, isErr))
		case types.ImagePart, types.DocumentPart:
			// Multimodal source blocks are provider-specific encodings; this
			// reference plugin covers the text/tool-call/tool-result path
			// only, matching the simplification documented for the OpenAI
			// reference plugin.
		}
	}
	return blocks, nil
}

type messagesResponse struct {
	Content []struct {
		Type  string `json:"type"`
		Text  string `json:"text"`
		ID    string `json:"id"`
		Name  string `json:"name"`
		Input any    `json:"input"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// ParseResponse implements provider.Plugin for a complete, non-streaming
// Messages response body.
func (p *Plugin) ParseResponse(raw []byte) (types.Message, error) {
	var resp messagesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return types.Message{}, &bridgeerr.ProviderError{ProviderID: p.ID(), Message: "decoding response", RawResponse: raw, Err: err}
	}
	if len(resp.Content) == 0 {
		return types.Message{}, &bridgeerr.ProviderError{ProviderID: p.ID(), Message: "response contained no content blocks", RawResponse: raw}
	}

	var content []types.ContentPart
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content = append(content, types.TextPart{Text: block.Text})
		case "tool_use":
			args, err := json.Marshal(block.Input)
			if err != nil {
				args = []byte("{}")
			}
			content = append(content, types.ToolCallPart{ID: block.ID, Name: block.Name, Arguments: string(args)})
		}
	}
	return types.Message{Role: types.RoleAssistant, Content: content}, nil
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
}

// ParseStreamDelta implements provider.Plugin for one SSE "data: ..." line
// of a streaming Messages response.
func (p *Plugin) ParseStreamDelta(chunk []byte) (types.StreamDelta, bool, error) {
	line := trimDataPrefix(chunk)
	if line == "" {
		return types.StreamDelta{}, false, nil
	}

	var ev streamEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return types.StreamDelta{}, false, &bridgeerr.ProviderError{ProviderID: p.ID(), Message: "decoding stream event", RawResponse: chunk, Err: err}
	}

	switch ev.Type {
	case "message_stop":
		return types.StreamDelta{Finished: true}, true, nil
	case "content_block_start":
		if ev.ContentBlock.Type == "tool_use" {
			body := types.DeltaBody{
				Role:      types.RoleAssistant,
				ToolCalls: []types.ToolCall{{ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name}},
			}
			return types.StreamDelta{Delta: body}, true, nil
		}
		return types.StreamDelta{}, false, nil
	case "content_block_delta":
		switch ev.Delta.Type {
		case "text_delta":
			body := types.DeltaBody{Role: types.RoleAssistant, Content: []types.ContentPart{types.TextPart{Text: ev.Delta.Text}}}
			return types.StreamDelta{Delta: body}, true, nil
		case "input_json_delta":
			body := types.DeltaBody{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{Arguments: ev.Delta.PartialJSON}}}
			return types.StreamDelta{Delta: body}, true, nil
		default:
			return types.StreamDelta{}, false, nil
		}
	default:
		return types.StreamDelta{}, false, nil
	}
}

func trimDataPrefix(chunk []byte) string {
	line := string(chunk)
	for len(line) > 0 && (line[0] == ' ' || line[0] == '\t' || line[0] == '\n' || line[0] == '\r') {
		line = line[1:]
	}
	const prefix = "data:"
	if len(line) >= len(prefix) && line[:len(prefix)] == prefix {
		line = line[len(prefix):]
	}
	for len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
		line = line[1:]
	}
	return line
}

// NormalizeError implements provider.Plugin.
func (p *Plugin) NormalizeError(cause error) *bridgeerr.ProviderError {
	if pe, ok := cause.(*bridgeerr.ProviderError); ok {
		return pe
	}
	return &bridgeerr.ProviderError{ProviderID: p.ID(), Message: cause.Error(), Err: cause}
}

var _ provider.Plugin = (*Plugin)(nil)

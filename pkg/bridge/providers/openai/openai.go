// Package openai is a reference [provider.Plugin] backed by the OpenAI
// chat-completions wire format. It exists to exercise provider.Plugin end
// to end against a real SDK's request-building types; concrete provider
// bodies are explicitly out of the core contract's scope.
package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/Masterminds/semver/v3"

	"github.com/kestrel-ai/bridge/pkg/bridge/bridgeerr"
	"github.com/kestrel-ai/bridge/pkg/bridge/provider"
	"github.com/kestrel-ai/bridge/pkg/bridge/types"
)

// DefaultBaseURL is OpenAI's public API endpoint.
const DefaultBaseURL = "https://api.openai.com/v1"

// Plugin implements provider.Plugin for OpenAI-shaped chat completions.
type Plugin struct {
	apiKey  string
	baseURL string
	version *semver.Version
}

// New constructs a Plugin authenticated with apiKey against DefaultBaseURL.
func New(apiKey string) *Plugin {
	return &Plugin{apiKey: apiKey, baseURL: DefaultBaseURL, version: semver.MustParse("1.0.0")}
}

// WithBaseURL overrides the endpoint, for OpenAI-compatible gateways.
func (p *Plugin) WithBaseURL(url string) *Plugin {
	p.baseURL = url
	return p
}

func (p *Plugin) ID() string              { return "openai" }
func (p *Plugin) Version() *semver.Version { return p.version }
func (p *Plugin) Name() string             { return "OpenAI" }

// SupportsModel accepts any model id namespaced under this plugin's id.
func (p *Plugin) SupportsModel(modelID string) bool {
	prov, _, err := types.ParseModelID(modelID)
	return err == nil && prov == p.ID()
}

// TranslateRequest builds the chat-completions request body using the
// OpenAI SDK's own parameter types (pure data construction, no I/O).
func (p *Plugin) TranslateRequest(req types.ChatRequest) (provider.HTTPRequestDescriptor, error) {
	_, model, err := types.ParseModelID(req.Model)
	if err != nil {
		return provider.HTTPRequestDescriptor{}, &bridgeerr.ValidationError{Field: "model", Message: err.Error(), Err: err}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return provider.HTTPRequestDescriptor{}, &bridgeerr.ValidationError{Field: "messages", Message: err.Error(), Err: err}
		}
		params.Messages = append(params.Messages, msg)
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}
	if req.MaxTokens != nil {
		params.MaxCompletionTokens = param.NewOpt(int64(*req.MaxTokens))
	}
	for _, td := range req.Tools {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(td.Parameters),
			},
		})
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
		URL:    p.baseURL + "/chat/completions",
		Method: "POST",
		Headers: map[string]string{
			"Authorization": "Bearer " + p.apiKey,
			"Content-Type":  "application/json",
		},
		Body: body,
	}, nil
}

// withStreamFlag sets "stream": true on an already-marshaled request body,
// done as a post-processing step rather than a SDK param field so this
// plugin does not depend on which exact field name a given SDK version
// uses for the chat-completions streaming switch.
func withStreamFlag(body []byte) ([]byte, error) {
	var asMap map[string]any
	if err := json.Unmarshal(body, &asMap); err != nil {
		return nil, err
	}
	asMap["stream"] = true
	return json.Marshal(asMap)
}

func convertMessage(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	text := flattenText(m.Content)
	switch m.Role {
	case types.RoleSystem:
		return oai.SystemMessage(text), nil
	case types.RoleUser:
		return oai.UserMessage(text), nil
	case types.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		if text != "" {
			asst.Content.OfString = param.NewOpt(text)
		}
		for _, part := range m.Content {
			tc, ok := part.(types.ToolCallPart)
			if !ok {
				continue
			}
			asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil
	case types.RoleTool:
		var toolCallID string
		for _, part := range m.Content {
			if tr, ok := part.(types.ToolResultPart); ok {
				toolCallID = tr.ID
				break
			}
		}
		return oai.ToolMessage(text, toolCallID), nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}

// flattenText joins every TextPart in parts and surfaces tool results as
// plain text, collapsing content blocks into a single string per message
// for the non-multimodal path.
func flattenText(parts []types.ContentPart) string {
	var b strings.Builder
	for _, part := range parts {
		switch v := part.(type) {
		case types.TextPart:
			b.WriteString(v.Text)
		case types.ToolResultPart:
			if v.Error != "" {
				b.WriteString(v.Error)
			} else {
				b.WriteString(v.Result)
			}
		}
	}
	return b.String()
}

type choiceMessage struct {
	Content   string `json:"content"`
	ToolCalls []struct {
		ID       string `json:"id"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      choiceMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
}

// ParseResponse implements provider.Plugin for a complete, non-streaming
// response body.
func (p *Plugin) ParseResponse(raw []byte) (types.Message, error) {
	var resp chatCompletionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return types.Message{}, &bridgeerr.ProviderError{ProviderID: p.ID(), Message: "decoding response", RawResponse: raw, Err: err}
	}
	if len(resp.Choices) == 0 {
		return types.Message{}, &bridgeerr.ProviderError{ProviderID: p.ID(), Message: "response contained no choices", RawResponse: raw}
	}
	return toMessage(resp.Choices[0].Message), nil
}

func toMessage(m choiceMessage) types.Message {
	var content []types.ContentPart
	if m.Content != "" {
		content = append(content, types.TextPart{Text: m.Content})
	}
	for _, tc := range m.ToolCalls {
		content = append(content, types.ToolCallPart{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return types.Message{Role: types.RoleAssistant, Content: content}
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// ParseStreamDelta implements provider.Plugin for one SSE "data: ..." line
// of a streaming chat-completions response.
func (p *Plugin) ParseStreamDelta(chunk []byte) (types.StreamDelta, bool, error) {
	line := strings.TrimSpace(string(chunk))
	line = strings.TrimPrefix(line, "data:")
	line = strings.TrimSpace(line)
	if line == "" {
		return types.StreamDelta{}, false, nil
	}
	if line == "[DONE]" {
		return types.StreamDelta{Finished: true}, true, nil
	}

	var sc streamChunk
	if err := json.Unmarshal([]byte(line), &sc); err != nil {
		return types.StreamDelta{}, false, &bridgeerr.ProviderError{ProviderID: p.ID(), Message: "decoding stream chunk", RawResponse: chunk, Err: err}
	}
	if len(sc.Choices) == 0 {
		return types.StreamDelta{}, false, nil
	}
	choice := sc.Choices[0]

	var body types.DeltaBody
	if choice.Delta.Content != "" {
		body.Content = append(body.Content, types.TextPart{Text: choice.Delta.Content})
		body.Role = types.RoleAssistant
	}
	for _, tc := range choice.Delta.ToolCalls {
		body.ToolCalls = append(body.ToolCalls, types.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}

	return types.StreamDelta{
		Delta:    body,
		Finished: choice.FinishReason != "",
	}, true, nil
}

// NormalizeError implements provider.Plugin.
func (p *Plugin) NormalizeError(cause error) *bridgeerr.ProviderError {
	if pe, ok := cause.(*bridgeerr.ProviderError); ok {
		return pe
	}
	return &bridgeerr.ProviderError{ProviderID: p.ID(), Message: cause.Error(), Err: cause}
}

var _ provider.Plugin = (*Plugin)(nil)

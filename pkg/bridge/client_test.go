package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/kestrel-ai/bridge/pkg/bridge/bridgeerr"
	"github.com/kestrel-ai/bridge/pkg/bridge/platform"
	"github.com/kestrel-ai/bridge/pkg/bridge/provider"
	"github.com/kestrel-ai/bridge/pkg/bridge/registry"
	"github.com/kestrel-ai/bridge/pkg/bridge/rpc"
	"github.com/kestrel-ai/bridge/pkg/bridge/types"
)

// stubPlugin is a scripted provider.Plugin; supports and parseStreamData
// fall back to a sane default when nil, while translate and parseResponse
// must be set by any test that reaches them.
type stubPlugin struct {
	id              string
	supports        func(string) bool
	translate       func(types.ChatRequest) (provider.HTTPRequestDescriptor, error)
	parseResponse   func([]byte) (types.Message, error)
	parseStreamData func([]byte) (types.StreamDelta, bool, error)
}

func (p *stubPlugin) ID() string               { return p.id }
func (p *stubPlugin) Version() *semver.Version { return semver.MustParse("1.0.0") }
func (p *stubPlugin) Name() string             { return p.id }

func (p *stubPlugin) SupportsModel(modelID string) bool {
	if p.supports != nil {
		return p.supports(modelID)
	}
	return true
}

func (p *stubPlugin) TranslateRequest(req types.ChatRequest) (provider.HTTPRequestDescriptor, error) {
	return p.translate(req)
}

func (p *stubPlugin) ParseResponse(raw []byte) (types.Message, error) {
	return p.parseResponse(raw)
}

func (p *stubPlugin) ParseStreamDelta(chunk []byte) (types.StreamDelta, bool, error) {
	if p.parseStreamData != nil {
		return p.parseStreamData(chunk)
	}
	return types.StreamDelta{}, false, nil
}

func (p *stubPlugin) NormalizeError(cause error) *bridgeerr.ProviderError {
	return &bridgeerr.ProviderError{ProviderID: p.id, Message: cause.Error(), Err: cause}
}

var _ provider.Plugin = (*stubPlugin)(nil)

// stubRuntime is a scripted platform.Runtime; Fetch/Stream are fixed by the
// closures a test sets, SetTimeout/SetInterval/file ops/CreateMcpConnection
// are never exercised by the bridge client and panic if called.
type stubRuntime struct {
	fetch  func(ctx context.Context, url string, opts platform.FetchOptions) (*platform.Response, error)
	stream func(ctx context.Context, url string, opts platform.FetchOptions) (*platform.StreamResponse, error)
}

func (r *stubRuntime) Capabilities() platform.Capabilities {
	return platform.Capabilities{Fetch: true, Stream: true}
}

func (r *stubRuntime) Fetch(ctx context.Context, url string, opts platform.FetchOptions) (*platform.Response, error) {
	return r.fetch(ctx, url, opts)
}

func (r *stubRuntime) Stream(ctx context.Context, url string, opts platform.FetchOptions) (*platform.StreamResponse, error) {
	return r.stream(ctx, url, opts)
}

func (r *stubRuntime) SetTimeout(d time.Duration, fn func()) platform.TimerHandle {
	panic("not exercised by the bridge client")
}

func (r *stubRuntime) SetInterval(d time.Duration, fn func()) platform.TimerHandle {
	panic("not exercised by the bridge client")
}

func (r *stubRuntime) ReadFile(path string) ([]byte, error)       { panic("not exercised") }
func (r *stubRuntime) WriteFile(path string, data []byte) error   { panic("not exercised") }
func (r *stubRuntime) FileExists(path string) (bool, error)       { panic("not exercised") }

func (r *stubRuntime) CreateMcpConnection(ctx context.Context, serverConfig types.MCPServerConfig, opts platform.ToolConnectionOptions) (rpc.Connection, error) {
	panic("not exercised")
}

var _ platform.Runtime = (*stubRuntime)(nil)

// stubConnection is a scripted rpc.Connection used to exercise the bridge
// client's tool-call dispatch without a real transport.
type stubConnection struct {
	call func(ctx context.Context, method string, params any) (any, error)
}

func (c *stubConnection) IsConnected() bool { return true }

func (c *stubConnection) Call(ctx context.Context, method string, params any) (any, error) {
	return c.call(ctx, method, params)
}

func (c *stubConnection) Notify(ctx context.Context, method string, params any) error { return nil }
func (c *stubConnection) Close() error                                               { return nil }

var _ rpc.Connection = (*stubConnection)(nil)

func newTestClient(t *testing.T, plugin provider.Plugin, rt platform.Runtime) *Client {
	t.Helper()
	providers := registry.NewProviders()
	if err := providers.Register(plugin); err != nil {
		t.Fatalf("registering plugin: %v", err)
	}
	models := registry.NewModels()
	return New(models, providers, WithRuntime(rt), WithBridgeTimeout(2*time.Second))
}

// Basic non-streaming chat end to end.
func TestChat_BasicNonStreaming(t *testing.T) {
	t.Parallel()

	plugin := &stubPlugin{
		id:       "acme",
		supports: func(m string) bool { return len(m) >= 5 && m[:5] == "acme:" },
		translate: func(req types.ChatRequest) (provider.HTTPRequestDescriptor, error) {
			return provider.HTTPRequestDescriptor{
				URL:    "https://api.acme/ch",
				Method: http.MethodPost,
				Body:   []byte("{}"),
			}, nil
		},
		parseResponse: func(raw []byte) (types.Message, error) {
			return types.Message{
				Role:    types.RoleAssistant,
				Content: []types.ContentPart{types.TextPart{Text: "hello"}},
			}, nil
		},
	}
	rt := &stubRuntime{
		fetch: func(ctx context.Context, url string, opts platform.FetchOptions) (*platform.Response, error) {
			if url != "https://api.acme/ch" || opts.Method != http.MethodPost {
				t.Fatalf("unexpected fetch call: url=%q opts=%+v", url, opts)
			}
			return &platform.Response{Status: 200, Body: []byte(`{"ignored":true}`)}, nil
		},
	}
	client := newTestClient(t, plugin, rt)

	msg, err := client.Chat(context.Background(), types.ChatRequest{
		Model:    "acme:x",
		Messages: []types.Message{{Role: types.RoleUser, Content: []types.ContentPart{types.TextPart{Text: "hi"}}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msg.Content) != 1 {
		t.Fatalf("got %+v", msg)
	}
	text, ok := msg.Content[0].(types.TextPart)
	if !ok || text.Text != "hello" {
		t.Fatalf("got content %+v", msg.Content[0])
	}
}

func TestChat_RejectsUnknownModelNamespace(t *testing.T) {
	t.Parallel()

	plugin := &stubPlugin{id: "acme"}
	client := newTestClient(t, plugin, &stubRuntime{})

	_, err := client.Chat(context.Background(), types.ChatRequest{
		Model:    "unknown:x",
		Messages: []types.Message{{Role: types.RoleUser, Content: []types.ContentPart{types.TextPart{Text: "hi"}}}},
	})
	var cfgErr *bridgeerr.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *bridgeerr.ConfigurationError, got %T (%v)", err, err)
	}
}

func TestChat_NormalizesUpstreamErrorStatus(t *testing.T) {
	t.Parallel()

	plugin := &stubPlugin{
		id: "acme",
		translate: func(req types.ChatRequest) (provider.HTTPRequestDescriptor, error) {
			return provider.HTTPRequestDescriptor{URL: "https://api.acme/ch", Method: http.MethodPost}, nil
		},
	}
	rt := &stubRuntime{
		fetch: func(ctx context.Context, url string, opts platform.FetchOptions) (*platform.Response, error) {
			return &platform.Response{Status: 500, Body: []byte(`{"error":"boom"}`)}, nil
		},
	}
	client := newTestClient(t, plugin, rt)

	_, err := client.Chat(context.Background(), types.ChatRequest{
		Model:    "acme:x",
		Messages: []types.Message{{Role: types.RoleUser, Content: []types.ContentPart{types.TextPart{Text: "hi"}}}},
	})
	var provErr *bridgeerr.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected *bridgeerr.ProviderError, got %T (%v)", err, err)
	}
	if provErr.StatusCode != 500 {
		t.Fatalf("StatusCode = %d, want 500", provErr.StatusCode)
	}
}

// TestStream_TerminatesOnFinishedDelta exercises the streaming branch
// without any tool calls: the sequence of deltas from a scripted byte
// stream should surface verbatim and stop at the finished delta.
func TestStream_TerminatesOnFinishedDelta(t *testing.T) {
	t.Parallel()

	chunks := [][]byte{[]byte("A"), []byte("B"), []byte("STOP")}

	plugin := &stubPlugin{
		id: "acme",
		translate: func(req types.ChatRequest) (provider.HTTPRequestDescriptor, error) {
			return provider.HTTPRequestDescriptor{URL: "https://api.acme/ch", Method: http.MethodPost}, nil
		},
		parseStreamData: func(chunk []byte) (types.StreamDelta, bool, error) {
			if string(chunk) == "STOP" {
				return types.StreamDelta{Finished: true}, true, nil
			}
			return types.StreamDelta{
				Delta: types.DeltaBody{Content: []types.ContentPart{types.TextPart{Text: string(chunk)}}},
			}, true, nil
		},
	}
	rt := &stubRuntime{
		stream: func(ctx context.Context, url string, opts platform.FetchOptions) (*platform.StreamResponse, error) {
			return &platform.StreamResponse{
				Status: 200,
				Chunks: func(yield func([]byte, error) bool) {
					for _, c := range chunks {
						if !yield(c, nil) {
							return
						}
					}
				},
			}, nil
		},
	}
	client := newTestClient(t, plugin, rt)

	seq, err := client.Stream(context.Background(), types.ChatRequest{
		Model:    "acme:x",
		Messages: []types.Message{{Role: types.RoleUser, Content: []types.ContentPart{types.TextPart{Text: "hi"}}}},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var texts []string
	for delta, derr := range seq {
		if derr != nil {
			t.Fatalf("unexpected delta error: %v", derr)
		}
		if len(delta.Delta.Content) == 1 {
			texts = append(texts, delta.Delta.Content[0].(types.TextPart).Text)
		}
		if delta.Finished {
			break
		}
	}
	if len(texts) != 2 || texts[0] != "A" || texts[1] != "B" {
		t.Fatalf("got texts %v", texts)
	}
}

// TestStream_DispatchesToolCallAndRestartsUpstream exercises step 8's tool
// loop: a first upstream stream yields one tool-call delta then finishes;
// the client must dispatch the call via the named connection, splice the
// result into the conversation, and issue a second upstream request.
func TestStream_DispatchesToolCallAndRestartsUpstream(t *testing.T) {
	t.Parallel()

	var translateCalls int
	plugin := &stubPlugin{
		id: "acme",
		translate: func(req types.ChatRequest) (provider.HTTPRequestDescriptor, error) {
			translateCalls++
			round := translateCalls
			return provider.HTTPRequestDescriptor{
				URL:    "https://api.acme/ch",
				Method: http.MethodPost,
				Headers: map[string]string{
					"X-Round": string(rune('0' + round)),
				},
			}, nil
		},
		parseStreamData: func(chunk []byte) (types.StreamDelta, bool, error) {
			switch string(chunk) {
			case "TOOLCALL":
				return types.StreamDelta{
					Delta: types.DeltaBody{ToolCalls: []types.ToolCall{{ID: "tc1", Name: "search", Arguments: `{"q":"go"}`}}},
				}, true, nil
			case "STOP1":
				return types.StreamDelta{Finished: true}, true, nil
			case "FINAL":
				return types.StreamDelta{
					Delta: types.DeltaBody{Content: []types.ContentPart{types.TextPart{Text: "done"}}},
				}, true, nil
			case "STOP2":
				return types.StreamDelta{Finished: true}, true, nil
			}
			return types.StreamDelta{}, false, nil
		},
	}

	rt := &stubRuntime{
		stream: func(ctx context.Context, url string, opts platform.FetchOptions) (*platform.StreamResponse, error) {
			round := opts.Headers["X-Round"]
			var seq [][]byte
			if round == "1" {
				seq = [][]byte{[]byte("TOOLCALL"), []byte("STOP1")}
			} else {
				seq = [][]byte{[]byte("FINAL"), []byte("STOP2")}
			}
			return &platform.StreamResponse{
				Status: 200,
				Chunks: func(yield func([]byte, error) bool) {
					for _, c := range seq {
						if !yield(c, nil) {
							return
						}
					}
				},
			}, nil
		},
	}

	var calledWith any
	conn := &stubConnection{
		call: func(ctx context.Context, method string, params any) (any, error) {
			calledWith = params
			return map[string]any{"answer": 42}, nil
		},
	}

	client := newTestClient(t, plugin, rt)

	req := types.ChatRequest{
		Model:           "acme:x",
		Messages:        []types.Message{{Role: types.RoleUser, Content: []types.ContentPart{types.TextPart{Text: "hi"}}}},
		Tools:           []types.ToolDescriptor{{Name: "search", Parameters: map[string]any{}}},
		ToolConnections: map[string]types.ToolConnectionRef{"search": "primary"},
	}
	seq, err := client.Stream(context.Background(), req, map[string]rpc.Connection{"primary": conn})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var finalText string
	for delta, derr := range seq {
		if derr != nil {
			t.Fatalf("unexpected delta error: %v", derr)
		}
		if len(delta.Delta.Content) == 1 {
			finalText = delta.Delta.Content[0].(types.TextPart).Text
		}
	}
	if finalText != "done" {
		t.Fatalf("finalText = %q, want %q", finalText, "done")
	}
	if translateCalls != 2 {
		t.Fatalf("translateCalls = %d, want 2 (initial + post-tool-call restart)", translateCalls)
	}

	argsJSON, _ := json.Marshal(calledWith)
	if string(argsJSON) != `{"q":"go"}` {
		t.Fatalf("tool call args = %s, want {\"q\":\"go\"}", argsJSON)
	}
}

func TestDispatchToolCalls_MissingConnectionBecomesResultError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &stubPlugin{id: "acme"}, &stubRuntime{})

	calls := []types.ToolCall{{ID: "tc1", Name: "search", Arguments: "{}"}}
	results, err := client.dispatchToolCalls(context.Background(), calls, map[string]types.ToolConnectionRef{"search": "primary"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	trp, ok := results[0].(types.ToolResultPart)
	if !ok || trp.Error == "" {
		t.Fatalf("expected a ToolResultPart carrying an error, got %+v", results[0])
	}
}

func TestDispatchToolCalls_PreservesOriginalOrder(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &stubPlugin{id: "acme"}, &stubRuntime{})

	calls := []types.ToolCall{
		{ID: "a", Name: "slow", Arguments: "{}"},
		{ID: "b", Name: "fast", Arguments: "{}"},
	}
	conns := map[string]rpc.Connection{
		"slow-conn": &stubConnection{call: func(ctx context.Context, method string, params any) (any, error) {
			time.Sleep(20 * time.Millisecond)
			return "slow-result", nil
		}},
		"fast-conn": &stubConnection{call: func(ctx context.Context, method string, params any) (any, error) {
			return "fast-result", nil
		}},
	}
	refs := map[string]types.ToolConnectionRef{"slow": "slow-conn", "fast": "fast-conn"}

	results, err := client.dispatchToolCalls(context.Background(), calls, refs, conns)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := results[0].(types.ToolResultPart)
	second := results[1].(types.ToolResultPart)
	if first.ID != "a" || first.Result != `"slow-result"` {
		t.Fatalf("results[0] = %+v", first)
	}
	if second.ID != "b" || second.Result != `"fast-result"` {
		t.Fatalf("results[1] = %+v", second)
	}
}

func TestGetModelCapabilities_UnregisteredModelIsConfigurationError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &stubPlugin{id: "acme"}, &stubRuntime{})

	_, err := client.GetModelCapabilities("acme:ghost")
	var cfgErr *bridgeerr.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *bridgeerr.ConfigurationError, got %T (%v)", err, err)
	}
}

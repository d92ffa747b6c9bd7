// Package bridge is the public entry point of the module: a provider-
// agnostic chat/stream client wired from the model registry, the provider
// registry, and the platform runtime, driving a ten-step dispatch
// algorithm from request validation through response parsing.
//
// The orchestration style here — functional options, a struct holding
// shared read-mostly collaborators, errors wrapped with a package-name
// prefix — matches the rest of the module's orchestration-layer packages.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kestrel-ai/bridge/pkg/bridge/bridgeerr"
	"github.com/kestrel-ai/bridge/pkg/bridge/cancel"
	"github.com/kestrel-ai/bridge/pkg/bridge/platform"
	"github.com/kestrel-ai/bridge/pkg/bridge/provider"
	"github.com/kestrel-ai/bridge/pkg/bridge/registry"
	"github.com/kestrel-ai/bridge/pkg/bridge/rpc"
	"github.com/kestrel-ai/bridge/pkg/bridge/streamctl"
	"github.com/kestrel-ai/bridge/pkg/bridge/types"
	"github.com/kestrel-ai/bridge/pkg/bridge/validate"
)

// DefaultBridgeTimeout bounds one Chat/Stream call end to end, independent
// of any per-JSON-RPC-call timeout a tool connection applies internally.
const DefaultBridgeTimeout = 60 * time.Second

// Client dispatches chat and stream requests against registered provider
// plugins. All exported methods are safe for concurrent use; the
// registries and runtime it wraps are themselves concurrency-safe.
type Client struct {
	models    *registry.Models
	providers *registry.Providers
	runtime   platform.Runtime

	bridgeTimeout time.Duration
	log           *slog.Logger
}

// Option configures a [Client] during construction.
type Option func(*Client)

// WithRuntime overrides the platform runtime. Defaults to [platform.NewNative].
func WithRuntime(rt platform.Runtime) Option {
	return func(c *Client) { c.runtime = rt }
}

// WithBridgeTimeout overrides the end-to-end call deadline. Defaults to
// [DefaultBridgeTimeout].
func WithBridgeTimeout(d time.Duration) Option {
	return func(c *Client) { c.bridgeTimeout = d }
}

// WithLogger overrides the client's logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New constructs a [Client] over the given registries.
func New(models *registry.Models, providers *registry.Providers, opts ...Option) *Client {
	c := &Client{
		models:        models,
		providers:     providers,
		runtime:       platform.NewNative(),
		bridgeTimeout: DefaultBridgeTimeout,
		log:           slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListAvailableProviders returns every registered provider plugin.
func (c *Client) ListAvailableProviders() []provider.Plugin {
	return c.providers.List("")
}

// ListAvailableModels returns every registered model descriptor, optionally
// filtered to one provider namespace.
func (c *Client) ListAvailableModels(providerFilter string) []types.ModelDescriptor {
	return c.models.List(providerFilter)
}

// GetModelCapabilities looks up modelID in the model registry. Unlike
// resolving a provider plugin, this is a hard lookup: the registry is the
// only source for capability metadata, so an unregistered model is a
// configuration error rather than silently advisory.
func (c *Client) GetModelCapabilities(modelID string) (types.ModelCapabilities, error) {
	desc, ok := c.models.Get(modelID)
	if !ok {
		return types.ModelCapabilities{}, &bridgeerr.ConfigurationError{Message: fmt.Sprintf("bridge: model %q is not registered", modelID)}
	}
	return desc.Capabilities, nil
}

// resolvePlugin runs steps 1-3 of the dispatch algorithm shared by Chat and
// Stream: schema validation, provider-plugin lookup, and the plugin's own
// capability check.
func (c *Client) resolvePlugin(req types.ChatRequest) (provider.Plugin, error) {
	if err := validate.ChatRequest(req); err != nil {
		return nil, err
	}
	providerID, _, err := types.ParseModelID(req.Model)
	if err != nil {
		return nil, &bridgeerr.ValidationError{Field: "model", Message: err.Error(), Err: err}
	}
	plugin, ok := c.providers.Get(providerID, nil)
	if !ok {
		return nil, &bridgeerr.ConfigurationError{Message: fmt.Sprintf("bridge: no provider plugin registered for %q", providerID)}
	}
	if !plugin.SupportsModel(req.Model) {
		return nil, &bridgeerr.ConfigurationError{Message: fmt.Sprintf("bridge: plugin %q does not support model %q", plugin.ID(), req.Model)}
	}
	return plugin, nil
}

// newManager seeds a cancellation manager with ctx and the client's bridge
// timeout and starts its periodic probe, per step 4 of the dispatch
// algorithm. The returned dispose func runs the manager's cleanup, disposes
// it and releases the timeout context; callers defer it.
func (c *Client) newManager(ctx context.Context) (mgr *cancel.Manager, dispose func()) {
	deadlineCtx, cancelDeadline := context.WithTimeout(ctx, c.bridgeTimeout)
	mgr = cancel.New(cancel.Options{External: deadlineCtx, CleanupOnCancel: true})
	mgr.SchedulePeriodicChecks()
	return mgr, func() {
		_ = mgr.PerformCleanup(bridgeerr.PhaseCleanup)
		mgr.Dispose()
		cancelDeadline()
	}
}

// Chat issues one non-streaming chat request: validation, plugin
// resolution, request translation, dispatch, and response parsing. Chat
// dispatches no tool calls: tool-call parts in the response are returned
// to the caller as they are.
func (c *Client) Chat(ctx context.Context, req types.ChatRequest) (types.Message, error) {
	plugin, err := c.resolvePlugin(req)
	if err != nil {
		return types.Message{}, err
	}

	mgr, dispose := c.newManager(ctx)
	defer dispose()

	descriptor, err := plugin.TranslateRequest(req)
	if err != nil {
		return types.Message{}, err
	}
	provider.MergeCacheHeaders(plugin, &descriptor, req.Messages)

	if reason := mgr.ThrowIfCancelled(bridgeerr.PhaseInitialization); reason != nil {
		return types.Message{}, reason
	}

	resp, err := c.runtime.Fetch(mgr.Context(), descriptor.URL, platform.FetchOptions{
		Method:  descriptor.Method,
		Headers: descriptor.Headers,
		Body:    descriptor.Body,
		Signal:  mgr.Context(),
	})
	if err != nil {
		return types.Message{}, plugin.NormalizeError(err)
	}
	if resp.Status >= 400 {
		return types.Message{}, &bridgeerr.ProviderError{
			ProviderID:  plugin.ID(),
			StatusCode:  resp.Status,
			Message:     "upstream returned an error status",
			RawResponse: resp.Body,
		}
	}

	if reason := mgr.ThrowIfCancelled(bridgeerr.PhaseExecution); reason != nil {
		return types.Message{}, reason
	}

	msg, err := plugin.ParseResponse(resp.Body)
	if err != nil {
		return types.Message{}, plugin.NormalizeError(err)
	}
	return msg, nil
}

// Stream issues a streaming chat request, including a tool-call loop: a
// delta carrying tool calls pauses the stream, dispatches each
// call concurrently to its resolved [rpc.Connection], splices the results
// back into the conversation in original call order, and restarts upstream
// with the extended conversation. The tool loop only engages when the
// request both declares tools and supplies a connection map; otherwise
// tool-call deltas pass through to the caller unexamined.
//
// The returned sequence performs all of its work, including disposing the
// cancellation manager, for as long as the caller keeps ranging over it;
// breaking out of the range early releases resources just as reaching a
// terminal delta does.
func (c *Client) Stream(ctx context.Context, req types.ChatRequest, connections map[string]rpc.Connection) (iter.Seq2[types.StreamDelta, error], error) {
	plugin, err := c.resolvePlugin(req)
	if err != nil {
		return nil, err
	}

	toolLoopEnabled := len(req.Tools) > 0 && len(req.ToolConnections) > 0

	return func(yield func(types.StreamDelta, error) bool) {
		mgr, dispose := c.newManager(ctx)
		defer dispose()

		handler := streamctl.New(mgr, cancel.DefaultCheckInterval)
		handler.StartStreamMonitoring()

		conversation := append([]types.Message(nil), req.Messages...)

		for {
			current := req
			current.Messages = conversation
			current.Stream = true

			descriptor, err := plugin.TranslateRequest(current)
			if err != nil {
				yield(types.StreamDelta{}, err)
				return
			}
			provider.MergeCacheHeaders(plugin, &descriptor, conversation)

			if reason := mgr.ThrowIfCancelled(bridgeerr.PhaseInitialization); reason != nil {
				yield(types.StreamDelta{}, reason)
				return
			}

			streamResp, err := c.runtime.Stream(mgr.Context(), descriptor.URL, platform.FetchOptions{
				Method:  descriptor.Method,
				Headers: descriptor.Headers,
				Body:    descriptor.Body,
				Signal:  mgr.Context(),
			})
			if err != nil {
				yield(types.StreamDelta{}, plugin.NormalizeError(err))
				return
			}

			var pendingToolCalls []types.ToolCall
			reachedTerminal := false
			keepGoing := true

			for delta, derr := range handler.Wrap(upstreamDeltas(plugin, streamResp)) {
				if derr != nil {
					yield(types.StreamDelta{}, derr)
					return
				}
				if toolLoopEnabled && len(delta.Delta.ToolCalls) > 0 {
					pendingToolCalls = append(pendingToolCalls, delta.Delta.ToolCalls...)
				}
				if !yield(delta, nil) {
					keepGoing = false
					break
				}
				if delta.Finished {
					reachedTerminal = true
					break
				}
			}
			if !keepGoing || !reachedTerminal {
				return
			}
			if !toolLoopEnabled || len(pendingToolCalls) == 0 {
				return
			}

			handler.Pause()
			results, err := c.dispatchToolCalls(mgr.Context(), pendingToolCalls, req.ToolConnections, connections)
			if err != nil {
				yield(types.StreamDelta{}, err)
				return
			}

			assistantParts := make([]types.ContentPart, len(pendingToolCalls))
			for i, tc := range pendingToolCalls {
				assistantParts[i] = types.ToolCallPart{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
			}
			conversation = append(conversation, types.Message{Role: types.RoleAssistant, Content: assistantParts})
			conversation = append(conversation, types.Message{Role: types.RoleTool, Content: results})

			handler.Resume()
			handler.StartStreamMonitoring()
		}
	}, nil
}

// upstreamDeltas adapts a platform byte-chunk stream into typed deltas via
// the plugin's dialect-specific parser, skipping chunks that carry no
// user-visible delta (SSE comments, keep-alives).
func upstreamDeltas(plugin provider.Plugin, resp *platform.StreamResponse) iter.Seq2[types.StreamDelta, error] {
	return func(yield func(types.StreamDelta, error) bool) {
		for chunk, err := range resp.Chunks {
			if err != nil {
				yield(types.StreamDelta{}, err)
				return
			}
			delta, ok, err := plugin.ParseStreamDelta(chunk)
			if err != nil {
				yield(types.StreamDelta{}, plugin.NormalizeError(err))
				return
			}
			if !ok {
				continue
			}
			if !yield(delta, nil) {
				return
			}
		}
	}
}

// dispatchToolCalls runs every call in calls concurrently via errgroup,
// resolving each by name through toolRefs (ChatRequest.ToolConnections)
// and then through connections (the caller-supplied name -> live
// [rpc.Connection] map). Results are written into a pre-sized slice indexed
// by position rather than appended, so they splice back into the
// conversation in the original call order even though dispatch itself runs
// unordered — fanning out independent calls via errgroup and writing each
// into its own pre-declared slot rather than an appended slice.
//
// A single call's own failure (unresolved connection, bad arguments,
// transport error) becomes a ToolResultPart carrying Error rather than
// aborting the whole dispatch, so the model can see and react to the
// failure on the next turn. No goroutine returns an error, so the returned
// error is always nil; a cancelled ctx reaches each call through egCtx and
// shows up as that call's ToolResultPart error.
func (c *Client) dispatchToolCalls(
	ctx context.Context,
	calls []types.ToolCall,
	toolRefs map[string]types.ToolConnectionRef,
	connections map[string]rpc.Connection,
) ([]types.ContentPart, error) {
	results := make([]types.ContentPart, len(calls))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, call := range calls {
		eg.Go(func() error {
			results[i] = c.invokeToolCall(egCtx, call, toolRefs, connections)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) invokeToolCall(
	ctx context.Context,
	call types.ToolCall,
	toolRefs map[string]types.ToolConnectionRef,
	connections map[string]rpc.Connection,
) types.ContentPart {
	ref, ok := toolRefs[call.Name]
	if !ok {
		return types.ToolResultPart{ID: call.ID, Error: fmt.Sprintf("no tool connection configured for %q", call.Name)}
	}
	conn, ok := connections[string(ref)]
	if !ok {
		return types.ToolResultPart{ID: call.ID, Error: fmt.Sprintf("tool connection %q was not supplied", ref)}
	}

	var args any
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return types.ToolResultPart{ID: call.ID, Error: "invalid tool call arguments: " + err.Error()}
		}
	}

	result, err := conn.Call(ctx, call.Name, args)
	if err != nil {
		return types.ToolResultPart{ID: call.ID, Error: err.Error()}
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return types.ToolResultPart{ID: call.ID, Error: "encoding tool result: " + err.Error()}
	}
	return types.ToolResultPart{ID: call.ID, Result: string(encoded)}
}

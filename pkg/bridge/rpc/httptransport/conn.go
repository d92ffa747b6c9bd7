// Package httptransport implements the HTTP JSON-RPC transport: one POST
// per call, with an initialization handshake that validates the remote
// actually speaks JSON-RPC 2.0 before the connection is considered usable.
package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kestrel-ai/bridge/pkg/bridge/bridgeerr"
	"github.com/kestrel-ai/bridge/pkg/bridge/rpc"
)

// InitMethod is the call issued by Dial to validate the remote endpoint.
const InitMethod = "initialize"

// Options configures an HTTP connection.
type Options struct {
	URL     string
	Headers map[string]string
	Client  *http.Client

	// LoopbackOnly models the "mobile-like platform" row of the shared
	// URL validation table: when true, a non-loopback URL must use https.
	// platform.Native.CreateMcpConnection sets it from its caller's
	// ToolConnectionOptions.LoopbackOnly.
	LoopbackOnly bool
}

// Conn is a JSON-RPC connection over HTTP POST.
type Conn struct {
	url     string
	headers map[string]string
	client  *http.Client

	pending *rpc.PendingTable
	counter int64

	mu     sync.Mutex
	closed bool
}

// Dial validates url against the shared URL/command table ([rpc.ValidateURL]),
// then performs one initialization call (ping/initialize); success requires
// a 2xx status and, if a body is present, a valid JSON-RPC 2.0 envelope
// with a matching id.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	if err := rpc.ValidateURL(opts.URL, opts.LoopbackOnly); err != nil {
		return nil, err
	}
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}

	c := &Conn{
		url:     opts.URL,
		headers: opts.Headers,
		client:  client,
		pending: rpc.NewPendingTable(),
	}

	if _, err := c.Call(ctx, InitMethod, nil); err != nil {
		var tce *bridgeerr.ToolConnectionError
		if asToolConnErr(err, &tce) && tce.Subkind == bridgeerr.ToolJSONRPCApplicationErr {
			// The remote understood JSON-RPC and merely rejected the method;
			// that still proves it is a conformant endpoint.
			return c, nil
		}
		return nil, err
	}
	return c, nil
}

func asToolConnErr(err error, target **bridgeerr.ToolConnectionError) bool {
	tce, ok := err.(*bridgeerr.ToolConnectionError)
	if ok {
		*target = tce
	}
	return ok
}

// IsConnected implements [rpc.Connection].
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Call implements [rpc.Connection]: one POST per call.
func (c *Conn) Call(ctx context.Context, method string, params any) (any, error) {
	if !c.IsConnected() {
		return nil, &bridgeerr.ToolConnectionError{Subkind: bridgeerr.ToolInactive, Message: "connection is not active"}
	}

	id := atomic.AddInt64(&c.counter, 1)
	req := rpc.Request{JSONRPC: rpc.Version, ID: id, Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &bridgeerr.ToolConnectionError{Subkind: bridgeerr.ToolHTTPError, Message: "encoding request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &bridgeerr.ToolConnectionError{Subkind: bridgeerr.ToolHTTPError, Message: "building request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &bridgeerr.ToolConnectionError{Subkind: bridgeerr.ToolHTTPError, Message: "performing request", Err: err}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &bridgeerr.ToolConnectionError{Subkind: bridgeerr.ToolHTTPError, Message: "reading response body", Err: err}
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &bridgeerr.ToolConnectionError{
			Subkind: bridgeerr.ToolHTTPError,
			Message: fmt.Sprintf("non-2xx status %d", httpResp.StatusCode),
		}
	}
	if len(raw) == 0 {
		return nil, nil
	}

	if ct := httpResp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || !strings.Contains(mediaType, "json") {
			return nil, &bridgeerr.ToolConnectionError{
				Subkind: bridgeerr.ToolInvalidContentType,
				Message: fmt.Sprintf("expected JSON content-type, got %q", ct),
			}
		}
	}

	var resp rpc.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &bridgeerr.ToolConnectionError{Subkind: bridgeerr.ToolParseError, Message: "decoding JSON-RPC response", Err: err}
	}
	if resp.JSONRPC != rpc.Version {
		return nil, &bridgeerr.ToolConnectionError{
			Subkind: bridgeerr.ToolInvalidJSONRPCVersion,
			Message: fmt.Sprintf("unexpected jsonrpc version %q", resp.JSONRPC),
		}
	}
	if gotID, ok := resp.ID.(float64); !ok || int64(gotID) != id {
		return nil, &bridgeerr.ToolConnectionError{
			Subkind: bridgeerr.ToolParseError,
			Message: fmt.Sprintf("response id %v does not match request id %d", resp.ID, id),
		}
	}
	if resp.Error != nil {
		return nil, &bridgeerr.ToolConnectionError{
			Subkind: bridgeerr.ToolJSONRPCApplicationErr,
			Message: resp.Error.Message,
			Code:    resp.Error.Code,
			Data:    resp.Error.Data,
		}
	}

	var out any
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &out); err != nil {
			return nil, &bridgeerr.ToolConnectionError{Subkind: bridgeerr.ToolParseError, Message: "decoding result", Err: err}
		}
	}
	return out, nil
}

// Notify implements [rpc.Connection]: a notification is a POST whose body
// omits the id field; the response body (if any) is discarded.
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	if !c.IsConnected() {
		return &bridgeerr.ToolConnectionError{Subkind: bridgeerr.ToolInactive, Message: "connection is not active"}
	}
	req := rpc.Request{JSONRPC: rpc.Version, Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return &bridgeerr.ToolConnectionError{Subkind: bridgeerr.ToolHTTPError, Message: "encoding notification", Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return &bridgeerr.ToolConnectionError{Subkind: bridgeerr.ToolHTTPError, Message: "building request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return &bridgeerr.ToolConnectionError{Subkind: bridgeerr.ToolHTTPError, Message: "performing request", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Close implements [rpc.Connection]: sets the inactive flag; no further
// network I/O is issued. Call is synchronous in this transport and never
// registers in the pending table, so the FailAll below finds no entries.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.pending.FailAll(&bridgeerr.ToolConnectionError{Subkind: bridgeerr.ToolClosedWhilePending, Message: "connection closed"})
	return nil
}

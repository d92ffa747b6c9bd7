// Package rpc implements the JSON-RPC 2.0 tool-connection contract:
// request/response correlation, notification support, per-request
// timeouts, and lifecycle-tied request failure, shared across the two
// concrete transports (child-process stdio in rpc/stdio, HTTP POST in
// rpc/httptransport).
package rpc

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kestrel-ai/bridge/pkg/bridge/bridgeerr"
)

// Version is the only supported JSON-RPC wire version.
const Version = "2.0"

// Request is an outbound JSON-RPC request or notification; ID is omitted
// (and nil after marshaling) for notifications.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// ResponseError is the JSON-RPC error object.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Response is an inbound JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// IsNotificationShaped reports whether raw looks like a response with no id
// (a notification, which the pending table never expects — the stdio
// transport drops such lines rather than routing them).
func IsNotificationShaped(resp *Response) bool {
	return resp.ID == nil
}

// IDGen produces unique request ids: a connection-scoped monotonic counter
// combined with a timestamp, namespaced by a per-connection uuid so ids
// never collide across connections sharing a process (e.g. two stdio
// subprocesses started back to back reusing low counter values). It is the
// production id generator for rpc/stdio, whose per-process subprocess churn
// is exactly the case this namespacing guards against; rpc/httptransport
// dials one connection per call site and has no such churn, so it keys
// requests with its own plain atomic counter instead.
type IDGen struct {
	namespace string
	counter   int64
}

// NewIDGen constructs an IDGen with a fresh uuid namespace.
func NewIDGen() *IDGen {
	return &IDGen{namespace: uuid.NewString()}
}

// Next returns the next unique request id.
func (g *IDGen) Next() string {
	n := atomic.AddInt64(&g.counter, 1)
	return fmt.Sprintf("%s-%d-%d", g.namespace, n, time.Now().UnixNano())
}

// pendingEntry is one row of the pending-request table.
type pendingEntry struct {
	resolve func(json.RawMessage)
	reject  func(error)
	timer   *time.Timer
}

// PendingTable correlates outgoing requests with their eventual responses,
// timeouts, or connection-closure failures. It is owned exclusively by the
// connection that creates it; both transports hold one.
type PendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
}

// NewPendingTable constructs an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[string]*pendingEntry)}
}

// Register installs a new pending entry for id, arming an optional timeout.
// resolve/reject are invoked at most once, whichever fires first removes the
// entry.
func (t *PendingTable) Register(id string, timeout time.Duration, resolve func(json.RawMessage), reject func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := &pendingEntry{resolve: resolve, reject: reject}
	if timeout > 0 {
		entry.timer = time.AfterFunc(timeout, func() {
			t.failOne(id, &bridgeerr.ToolConnectionError{
				Subkind: bridgeerr.ToolRequestTimeout,
				Message: fmt.Sprintf("request %q timed out after %s", id, timeout),
			})
		})
	}
	t.entries[id] = entry
}

// Resolve completes the pending entry for id with a successful result. A
// missing id (already resolved, timed out, or never registered) is a no-op.
func (t *PendingTable) Resolve(id string, result json.RawMessage) {
	t.mu.Lock()
	entry, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.resolve(result)
}

// Reject fails the pending entry for id with err.
func (t *PendingTable) Reject(id string, err error) {
	t.mu.Lock()
	entry, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.reject(err)
}

// failOne is used internally by the timeout timer, which must not hold t.mu
// while calling out.
func (t *PendingTable) failOne(id string, err error) {
	t.Reject(id, err)
}

// FailAll rejects every remaining entry with err (connection closure or
// subprocess exit) and clears the table.
func (t *PendingTable) FailAll(err error) {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]*pendingEntry)
	t.mu.Unlock()

	for _, entry := range entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		entry.reject(err)
	}
}

// Len reports how many requests are currently outstanding. Exposed for the
// table invariant: at any moment it contains exactly the calls submitted but
// not yet resolved, rejected, or timed out.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

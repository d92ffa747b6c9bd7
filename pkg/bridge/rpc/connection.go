package rpc

import (
	"context"
	"time"
)

// DefaultCallTimeout bounds how long a Call waits for a matching response
// before the pending table fails it with ToolRequestTimeout.
const DefaultCallTimeout = 30 * time.Second

// Connection is the transport-agnostic tool-connection contract. Both
// rpc/stdio and rpc/httptransport implement it.
type Connection interface {
	// IsConnected reports whether the connection can currently accept calls.
	IsConnected() bool

	// Call issues a JSON-RPC request and blocks until its response arrives,
	// ctx is cancelled, or the per-request timeout elapses. The returned
	// error is a *bridgeerr.ToolConnectionError on any protocol-level
	// failure (transport error, application error, timeout).
	Call(ctx context.Context, method string, params any) (any, error)

	// Notify sends a JSON-RPC notification (no id, no response expected).
	Notify(ctx context.Context, method string, params any) error

	// Close terminates the connection, failing every pending call with
	// ToolClosedWhilePending. Idempotent.
	Close() error
}

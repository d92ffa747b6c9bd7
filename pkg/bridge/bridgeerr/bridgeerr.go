// Package bridgeerr defines the typed error taxonomy shared across the
// bridge's core packages. Every failure that crosses a package boundary in
// this module is one of the kinds below; callers should use [errors.As] to
// recover the concrete detail struct rather than matching on message text.
package bridgeerr

import (
	"fmt"
	"time"
)

// Kind identifies which branch of the taxonomy an error belongs to.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindConfiguration  Kind = "configuration"
	KindProvider       Kind = "provider"
	KindRuntime        Kind = "runtime"
	KindToolConnection Kind = "tool_connection"
	KindCancellation   Kind = "cancellation"
)

// ValidationError reports a malformed boundary input: schema violations, a
// bad model-id format, or a missing required field.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation: %s", e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Kind() Kind { return KindValidation }

// ConfigurationError reports a request that references an unknown provider,
// an unknown model, or an incompatible plugin.
type ConfigurationError struct {
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string { return "configuration: " + e.Message }
func (e *ConfigurationError) Unwrap() error { return e.Err }
func (e *ConfigurationError) Kind() Kind    { return KindConfiguration }

// ProviderError wraps a failure returned by a provider: a non-2xx response, or
// a payload that does not match the unified shape. RawResponse preserves the
// original body for debugging when available.
type ProviderError struct {
	ProviderID  string
	StatusCode  int
	Message     string
	RawResponse []byte
	Err         error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: status %d: %s", e.ProviderID, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.ProviderID, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }
func (e *ProviderError) Kind() Kind    { return KindProvider }

// RuntimeOperation names which [platform.Runtime] operation failed.
type RuntimeOperation string

const (
	OpFetch              RuntimeOperation = "fetch"
	OpStream             RuntimeOperation = "stream"
	OpSetTimeout         RuntimeOperation = "setTimeout"
	OpSetInterval        RuntimeOperation = "setInterval"
	OpReadFile           RuntimeOperation = "readFile"
	OpWriteFile          RuntimeOperation = "writeFile"
	OpFileExists         RuntimeOperation = "fileExists"
	OpCreateMcpConn      RuntimeOperation = "createMcpConnection"
)

// RuntimeError wraps a transport failure from the platform runtime.
type RuntimeError struct {
	Operation RuntimeOperation
	Input     any
	Platform  string
	Err       error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime[%s]: %v (platform=%s)", e.Operation, e.Err, e.Platform)
}

func (e *RuntimeError) Unwrap() error { return e.Err }
func (e *RuntimeError) Kind() Kind    { return KindRuntime }

// ToolConnectionSubkind enumerates the tool-connection failure subkinds of
// spec §7.
type ToolConnectionSubkind string

const (
	ToolInvalidURL            ToolConnectionSubkind = "invalid-url"
	ToolInvalidProtocol       ToolConnectionSubkind = "invalid-protocol"
	ToolRemoteOnlyViolation   ToolConnectionSubkind = "remote-only-violation"
	ToolSecurityViolation     ToolConnectionSubkind = "security-violation"
	ToolInitFailed            ToolConnectionSubkind = "init-failed"
	ToolHTTPError             ToolConnectionSubkind = "http-error"
	ToolInvalidContentType    ToolConnectionSubkind = "invalid-content-type"
	ToolInvalidJSONRPCVersion ToolConnectionSubkind = "invalid-jsonrpc-version"
	ToolParseError            ToolConnectionSubkind = "parse-error"
	ToolInactive              ToolConnectionSubkind = "inactive"
	ToolSpawnFailed           ToolConnectionSubkind = "subprocess-spawn-failed"
	ToolSubprocessExited      ToolConnectionSubkind = "subprocess-exited"
	ToolStdinWriteError       ToolConnectionSubkind = "stdin-write-error"
	ToolStdinWriteTimeout     ToolConnectionSubkind = "stdin-write-timeout"
	ToolRequestTimeout        ToolConnectionSubkind = "request-timeout"
	ToolClosedWhilePending    ToolConnectionSubkind = "closed-while-pending"
	ToolJSONRPCApplicationErr ToolConnectionSubkind = "jsonrpc-application-error"
)

// ToolConnectionError is the typed failure returned by [rpc.Connection]
// operations.
type ToolConnectionError struct {
	Subkind ToolConnectionSubkind
	Message string

	// Code and Data are populated only for ToolJSONRPCApplicationErr, carrying
	// the JSON-RPC error object's fields verbatim.
	Code int
	Data any

	Err error
}

func (e *ToolConnectionError) Error() string {
	if e.Subkind == ToolJSONRPCApplicationErr {
		return fmt.Sprintf("tool connection: jsonrpc error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("tool connection[%s]: %s", e.Subkind, e.Message)
}

func (e *ToolConnectionError) Unwrap() error { return e.Err }
func (e *ToolConnectionError) Kind() Kind    { return KindToolConnection }

// CancellationPhase identifies which phase of a call was in progress when it
// was cancelled.
type CancellationPhase string

const (
	PhaseInitialization CancellationPhase = "initialization"
	PhaseExecution      CancellationPhase = "execution"
	PhaseToolCalls      CancellationPhase = "tool_calls"
	PhaseStreaming      CancellationPhase = "streaming"
	PhaseCleanup        CancellationPhase = "cleanup"
)

// CancellationError is raised whenever a cooperative cancellation is
// observed. Code mirrors the stable wire shape of spec §6.
type CancellationError struct {
	Name             string
	Message          string
	Code             string // "CANCELLATION_ERROR" | "GRACEFUL_CANCELLATION_TIMEOUT"
	Reason           any
	Phase            CancellationPhase
	CleanupCompleted bool
	Timestamp        time.Time
	TimeoutMs        int64
	CleanupAttempted bool
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("cancellation[%s/%s]: %s", e.Code, e.Phase, e.Message)
}

func (e *CancellationError) Kind() Kind { return KindCancellation }

// IsGracefulTimeout reports whether e represents a graceful-cleanup timeout
// rather than a plain cancellation.
func (e *CancellationError) IsGracefulTimeout() bool {
	return e.Code == "GRACEFUL_CANCELLATION_TIMEOUT"
}

// NewCancellationError builds a plain (non-timeout) cancellation error.
func NewCancellationError(phase CancellationPhase, reason any, cleanupCompleted bool) *CancellationError {
	msg := "operation was cancelled"
	if s, ok := reason.(string); ok && s != "" {
		msg = s
	}
	return &CancellationError{
		Name:             "CancellationError",
		Message:          msg,
		Code:             "CANCELLATION_ERROR",
		Reason:           reason,
		Phase:            phase,
		CleanupCompleted: cleanupCompleted,
		Timestamp:        time.Now(),
	}
}

// NewGracefulTimeoutError builds the graceful-cleanup-timeout variant.
func NewGracefulTimeoutError(phase CancellationPhase, timeoutMs int64) *CancellationError {
	return &CancellationError{
		Name:             "GracefulCancellationTimeoutError",
		Message:          fmt.Sprintf("cleanup did not complete within %dms", timeoutMs),
		Code:             "GRACEFUL_CANCELLATION_TIMEOUT",
		Phase:            phase,
		CleanupCompleted: false,
		Timestamp:        time.Now(),
		TimeoutMs:        timeoutMs,
		CleanupAttempted: true,
	}
}

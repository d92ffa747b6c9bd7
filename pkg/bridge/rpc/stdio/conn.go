// Package stdio implements the child-process JSON-RPC transport: a
// subprocess speaking newline-delimited JSON-RPC 2.0 over its standard
// streams, with stderr inherited for operator visibility.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kestrel-ai/bridge/pkg/bridge/bridgeerr"
	"github.com/kestrel-ai/bridge/pkg/bridge/rpc"
)

// StdinWriteTimeout bounds how long a single write to the subprocess's
// stdin may block on backpressure before the call fails.
const StdinWriteTimeout = 5 * time.Second

// TerminateGrace is how long Close waits for the subprocess to exit after
// SIGTERM before it issues Process.Kill.
const TerminateGrace = 5 * time.Second

// Options configures a child-process connection.
type Options struct {
	// Command is the executable to spawn; Args are passed verbatim.
	Command string
	Args    []string
	Env     map[string]string

	// SourceURL, when set, is validated against the same table
	// [rpc.ValidateURL] applies to an httptransport dial; the child-process
	// transport itself never dials a URL, so this exists only so a
	// connection descriptor that also carries a URL-shaped identity (for
	// logging/metrics correlation) is rejected consistently with the other
	// transport rather than accepted unchecked.
	SourceURL string
}

// Conn is a JSON-RPC connection to a subprocess over stdio.
type Conn struct {
	pending *rpc.PendingTable
	ids     idGenerator

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   io.ReadCloser
	closed   bool
	procDone chan struct{}

	writeMu sync.Mutex
	log     *slog.Logger
}

// idGenerator is satisfied by *rpc.IDGen, constructed in newConn; kept as
// an interface here so this package's fields don't name rpc's concrete type
// directly, the same seam tests could use to inject a deterministic
// generator.
type idGenerator interface {
	Next() string
}

// validateURL applies the shared URL/command validation table
// ([rpc.ValidateURL]). loopbackOnly models the "mobile-like platform" row;
// Kestrel's only shipped runtime is server-side, so callers pass false in
// practice, but the check exists so the table is fully exercised and
// testable.
func validateURL(raw string, loopbackOnly bool) error {
	return rpc.ValidateURL(raw, loopbackOnly)
}

// New spawns the subprocess directly via os/exec and begins reading its
// stdout in the background. Callers that need capability-gated spawning
// (e.g. rejecting a child-process connection on a mobile-like platform)
// should go through platform.Runtime.CreateMcpConnection instead, which
// spawns via platform.Native.SpawnChildProcess and wraps the result with
// [NewWithProcess].
func New(ctx context.Context, opts Options, log *slog.Logger) (*Conn, error) {
	if opts.SourceURL != "" {
		if err := validateURL(opts.SourceURL, false); err != nil {
			return nil, err
		}
	}
	cmd := exec.CommandContext(ctx, opts.Command, opts.Args...)
	cmd.Stderr = os.Stderr
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &bridgeerr.ToolConnectionError{Subkind: bridgeerr.ToolSpawnFailed, Message: "stdin pipe", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &bridgeerr.ToolConnectionError{Subkind: bridgeerr.ToolSpawnFailed, Message: "stdout pipe", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &bridgeerr.ToolConnectionError{Subkind: bridgeerr.ToolSpawnFailed, Message: "start subprocess", Err: err}
	}
	return newConn(cmd, stdin, stdout, log), nil
}

// NewWithProcess wraps an already-spawned subprocess (typically produced by
// platform.Native.SpawnChildProcess) as a JSON-RPC connection, without
// spawning anything itself.
func NewWithProcess(cmd *exec.Cmd, stdin io.WriteCloser, stdout io.ReadCloser, log *slog.Logger) *Conn {
	return newConn(cmd, stdin, stdout, log)
}

func newConn(cmd *exec.Cmd, stdin io.WriteCloser, stdout io.ReadCloser, log *slog.Logger) *Conn {
	if log == nil {
		log = slog.Default()
	}
	c := &Conn{
		pending:  rpc.NewPendingTable(),
		ids:      rpc.NewIDGen(),
		cmd:      cmd,
		stdin:    stdin,
		stdout:   stdout,
		log:      log,
		procDone: make(chan struct{}),
	}

	go c.readLoop()
	go c.waitLoop()

	return c
}

// readLoop demultiplexes inbound lines: non-parseable lines are logged and
// dropped, notification-shaped responses (no id) are dropped, id-bearing
// responses drive the pending table.
func (c *Conn) readLoop() {
	scanner := bufio.NewScanner(c.stdout)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var resp rpc.Response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			c.log.Warn("tool connection: dropping unparseable line", "error", err)
			continue
		}
		if rpc.IsNotificationShaped(&resp) {
			continue
		}
		id := fmt.Sprint(resp.ID)
		if resp.Error != nil {
			c.pending.Reject(id, &bridgeerr.ToolConnectionError{
				Subkind: bridgeerr.ToolJSONRPCApplicationErr,
				Message: resp.Error.Message,
				Code:    resp.Error.Code,
				Data:    resp.Error.Data,
			})
			continue
		}
		c.pending.Resolve(id, resp.Result)
	}
}

// waitLoop observes subprocess exit and rejects every pending request with
// a subprocess-exited error.
func (c *Conn) waitLoop() {
	err := c.cmd.Wait()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	close(c.procDone)

	msg := "subprocess exited"
	if err != nil {
		msg = fmt.Sprintf("subprocess exited: %v", err)
	}
	c.pending.FailAll(&bridgeerr.ToolConnectionError{Subkind: bridgeerr.ToolSubprocessExited, Message: msg, Err: err})
}

// IsConnected implements [rpc.Connection].
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Call implements [rpc.Connection].
func (c *Conn) Call(ctx context.Context, method string, params any) (any, error) {
	if !c.IsConnected() {
		return nil, &bridgeerr.ToolConnectionError{Subkind: bridgeerr.ToolInactive, Message: "connection is not active"}
	}

	id := c.ids.Next()
	req := rpc.Request{JSONRPC: rpc.Version, ID: id, Method: method, Params: params}

	resultCh := make(chan json.RawMessage, 1)
	errCh := make(chan error, 1)
	c.pending.Register(id, rpc.DefaultCallTimeout,
		func(r json.RawMessage) { resultCh <- r },
		func(e error) { errCh <- e },
	)

	if err := c.writeLine(req); err != nil {
		c.pending.Reject(id, err)
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.pending.Reject(id, ctx.Err())
		return nil, ctx.Err()
	case err := <-errCh:
		return nil, err
	case raw := <-resultCh:
		var out any
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &out); err != nil {
				return nil, &bridgeerr.ToolConnectionError{Subkind: bridgeerr.ToolParseError, Message: "decoding result", Err: err}
			}
		}
		return out, nil
	}
}

// Notify implements [rpc.Connection].
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	if !c.IsConnected() {
		return &bridgeerr.ToolConnectionError{Subkind: bridgeerr.ToolInactive, Message: "connection is not active"}
	}
	req := rpc.Request{JSONRPC: rpc.Version, Method: method, Params: params}
	return c.writeLine(req)
}

// writeLine serializes req and writes it as one newline-terminated JSON
// line, bounded by StdinWriteTimeout as a backpressure guard.
func (c *Conn) writeLine(req rpc.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return &bridgeerr.ToolConnectionError{Subkind: bridgeerr.ToolStdinWriteError, Message: "encoding request", Err: err}
	}
	data = append(data, '\n')

	done := make(chan error, 1)
	go func() {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		_, werr := c.stdin.Write(data)
		done <- werr
	}()

	select {
	case werr := <-done:
		if werr != nil {
			return &bridgeerr.ToolConnectionError{Subkind: bridgeerr.ToolStdinWriteError, Message: "writing to subprocess stdin", Err: werr}
		}
		return nil
	case <-time.After(StdinWriteTimeout):
		return &bridgeerr.ToolConnectionError{Subkind: bridgeerr.ToolStdinWriteTimeout, Message: "stdin write did not drain within timeout"}
	}
}

// Close implements [rpc.Connection]: sends a terminate signal and waits up
// to TerminateGrace before force-killing.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cmd := c.cmd
	procDone := c.procDone
	c.mu.Unlock()

	c.pending.FailAll(&bridgeerr.ToolConnectionError{Subkind: bridgeerr.ToolClosedWhilePending, Message: "connection closed"})

	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-procDone:
	case <-time.After(TerminateGrace):
		c.log.Warn("subprocess did not exit within grace period after terminate signal; killing")
		_ = cmd.Process.Kill()
	}
	return nil
}

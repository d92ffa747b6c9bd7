// Package platform is the uniform host abstraction: HTTP request/
// streaming-fetch, timers, filesystem, and child-process spawning, gated
// behind explicit capability flags. Kestrel ships one implementation,
// [Native], since it targets server-side Go; the [Capabilities] type and
// the documented behavior switches below exist so the contract still
// describes what a browser-like or mobile-like host would need to honor,
// treating platform probes as an external collaborator specified only at
// its interface.
package platform

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/kestrel-ai/bridge/pkg/bridge/bridgeerr"
	"github.com/kestrel-ai/bridge/pkg/bridge/rpc"
	"github.com/kestrel-ai/bridge/pkg/bridge/rpc/httptransport"
	"github.com/kestrel-ai/bridge/pkg/bridge/rpc/stdio"
	"github.com/kestrel-ai/bridge/pkg/bridge/types"
)

// Capabilities describes which operations a host supports.
type Capabilities struct {
	Fetch        bool
	Stream       bool
	Timers       bool
	Filesystem   bool
	ChildProcess bool
}

// FetchOptions parameterizes a one-shot request.
type FetchOptions struct {
	Method  string
	Headers map[string]string
	Body    []byte
	Signal  context.Context // cancelled when ctx is done
}

// Response is the result of [Runtime.Fetch].
type Response struct {
	Status     int
	StatusText string
	Headers    http.Header
	Body       []byte
}

// StreamResponse is the eager metadata returned by [Runtime.Stream]; the body
// is consumed lazily through Chunks.
type StreamResponse struct {
	Status     int
	StatusText string
	Headers    http.Header

	// Chunks yields successive byte chunks. Iteration stops and releases
	// transport resources as soon as ctx (from the originating FetchOptions)
	// is done; a consumer blocked awaiting a chunk observes a context error
	// on the next iteration step.
	Chunks func(yield func([]byte, error) bool)
}

// TimerHandle is an opaque handle returned by the timer operations.
type TimerHandle interface {
	Stop()
}

// ToolConnectionOptions carries the transport-specific knobs for
// CreateMcpConnection: HTTP headers/client for a url-shaped server config,
// or environment variables for a command-shaped one.
type ToolConnectionOptions struct {
	Headers    map[string]string
	HTTPClient *http.Client
	Env        map[string]string
	Log        *slog.Logger

	// LoopbackOnly models the "mobile-like platform" row of the URL
	// validation table; [Native] passes it unchanged to the HTTP dial.
	LoopbackOnly bool
}

// Runtime is the polymorphic host abstraction.
type Runtime interface {
	Capabilities() Capabilities

	Fetch(ctx context.Context, url string, opts FetchOptions) (*Response, error)
	Stream(ctx context.Context, url string, opts FetchOptions) (*StreamResponse, error)

	SetTimeout(d time.Duration, fn func()) TimerHandle
	SetInterval(d time.Duration, fn func()) TimerHandle

	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	FileExists(path string) (bool, error)

	// CreateMcpConnection dispatches serverConfig to the right
	// tool-connection transport: a url-shaped config dials rpc/httptransport,
	// a command-shaped config spawns a subprocess over rpc/stdio. The
	// command branch is rejected with a typed runtime error when
	// Capabilities().ChildProcess is false.
	CreateMcpConnection(ctx context.Context, serverConfig types.MCPServerConfig, opts ToolConnectionOptions) (rpc.Connection, error)
}

// Native is the server-side [Runtime] implementation: it has every
// capability.
type Native struct {
	HTTPClient *http.Client
}

// NewNative constructs a [Native] runtime with a default HTTP client.
func NewNative() *Native {
	return &Native{HTTPClient: &http.Client{}}
}

func (n *Native) Capabilities() Capabilities {
	return Capabilities{Fetch: true, Stream: true, Timers: true, Filesystem: true, ChildProcess: true}
}

func (n *Native) client() *http.Client {
	if n.HTTPClient != nil {
		return n.HTTPClient
	}
	return http.DefaultClient
}

func (n *Native) wrapErr(op bridgeerr.RuntimeOperation, input any, err error) error {
	return &bridgeerr.RuntimeError{Operation: op, Input: input, Platform: "native-server", Err: err}
}

// Fetch implements [Runtime.Fetch]: one-shot request/response.
func (n *Native) Fetch(ctx context.Context, url string, opts FetchOptions) (*Response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader(opts.Body))
	if err != nil {
		return nil, n.wrapErr(bridgeerr.OpFetch, url, err)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client().Do(req)
	if err != nil {
		return nil, n.wrapErr(bridgeerr.OpFetch, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, n.wrapErr(bridgeerr.OpFetch, url, err)
	}
	return &Response{
		Status:     resp.StatusCode,
		StatusText: resp.Status,
		Headers:    resp.Header,
		Body:       data,
	}, nil
}

// Stream implements [Runtime.Stream]: metadata returns eagerly; the body is a
// lazy sequence of byte chunks that stops and releases the connection as soon
// as ctx is cancelled.
func (n *Native) Stream(ctx context.Context, url string, opts FetchOptions) (*StreamResponse, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader(opts.Body))
	if err != nil {
		return nil, n.wrapErr(bridgeerr.OpStream, url, err)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client().Do(req)
	if err != nil {
		return nil, n.wrapErr(bridgeerr.OpStream, url, err)
	}

	chunks := func(yield func([]byte, error) bool) {
		defer resp.Body.Close()
		buf := make([]byte, 32*1024)
		for {
			if ctx.Err() != nil {
				yield(nil, n.wrapErr(bridgeerr.OpStream, url, ctx.Err()))
				return
			}
			nread, readErr := resp.Body.Read(buf)
			if nread > 0 {
				chunk := make([]byte, nread)
				copy(chunk, buf[:nread])
				if !yield(chunk, nil) {
					return
				}
			}
			if readErr != nil {
				if readErr == io.EOF {
					return
				}
				yield(nil, n.wrapErr(bridgeerr.OpStream, url, readErr))
				return
			}
		}
	}

	return &StreamResponse{
		Status:     resp.StatusCode,
		StatusText: resp.Status,
		Headers:    resp.Header,
		Chunks:     chunks,
	}, nil
}

type timer struct{ t *time.Timer }

func (t *timer) Stop() { t.t.Stop() }

type ticker struct{ t *time.Ticker }

func (t *ticker) Stop() { t.t.Stop() }

// SetTimeout implements [Runtime.SetTimeout].
func (n *Native) SetTimeout(d time.Duration, fn func()) TimerHandle {
	return &timer{t: time.AfterFunc(d, fn)}
}

// SetInterval implements [Runtime.SetInterval].
func (n *Native) SetInterval(d time.Duration, fn func()) TimerHandle {
	tk := time.NewTicker(d)
	go func() {
		for range tk.C {
			fn()
		}
	}()
	return &ticker{t: tk}
}

// ReadFile implements [Runtime.ReadFile].
func (n *Native) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, n.wrapErr(bridgeerr.OpReadFile, path, err)
	}
	return data, nil
}

// WriteFile implements [Runtime.WriteFile].
func (n *Native) WriteFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return n.wrapErr(bridgeerr.OpWriteFile, path, err)
	}
	return nil
}

// FileExists implements [Runtime.FileExists].
func (n *Native) FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, n.wrapErr(bridgeerr.OpFileExists, path, err)
}

func bodyReader(b []byte) io.Reader {
	if b == nil {
		return nil
	}
	return &byteReader{b: b}
}

type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}

// SpawnChildProcess starts cmdPath with args under ctx, wiring stdin/stdout
// to pipes and stderr to the host's own stderr ("stdio = [pipe, pipe,
// inherit]"). It is CreateMcpConnection's command-branch spawn path, kept as
// its own method (rather than inlined) so a future mobile-like Runtime can
// override it to reject outright per capability.
func (n *Native) SpawnChildProcess(ctx context.Context, cmdPath string, args []string, env map[string]string) (*exec.Cmd, io.WriteCloser, io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, cmdPath, args...)
	cmd.Stderr = os.Stderr
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, n.wrapErr(bridgeerr.OpCreateMcpConn, cmdPath, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, n.wrapErr(bridgeerr.OpCreateMcpConn, cmdPath, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, nil, n.wrapErr(bridgeerr.OpCreateMcpConn, cmdPath, err)
	}
	return cmd, stdin, stdout, nil
}

// CreateMcpConnection implements [Runtime.CreateMcpConnection]: it validates
// serverConfig's url/command XOR, then dispatches to the matching
// transport. A command-shaped config is rejected outright when this
// runtime's Capabilities().ChildProcess is false, before anything is
// spawned.
func (n *Native) CreateMcpConnection(ctx context.Context, serverConfig types.MCPServerConfig, opts ToolConnectionOptions) (rpc.Connection, error) {
	if err := serverConfig.Validate(); err != nil {
		return nil, err
	}

	if serverConfig.Command != "" {
		if !n.Capabilities().ChildProcess {
			return nil, n.wrapErr(bridgeerr.OpCreateMcpConn, serverConfig.Name, &bridgeerr.ToolConnectionError{
				Subkind: bridgeerr.ToolSpawnFailed,
				Message: fmt.Sprintf("platform %q does not support child-process tool connections", "native-server"),
			})
		}
		cmd, stdin, stdout, err := n.SpawnChildProcess(ctx, serverConfig.Command, serverConfig.Args, opts.Env)
		if err != nil {
			return nil, err
		}
		return stdio.NewWithProcess(cmd, stdin, stdout, opts.Log), nil
	}

	client := opts.HTTPClient
	if client == nil {
		client = n.client()
	}
	conn, err := httptransport.Dial(ctx, httptransport.Options{
		URL:          serverConfig.URL,
		Headers:      opts.Headers,
		Client:       client,
		LoopbackOnly: opts.LoopbackOnly,
	})
	if err != nil {
		return nil, n.wrapErr(bridgeerr.OpCreateMcpConn, serverConfig.URL, err)
	}
	return conn, nil
}

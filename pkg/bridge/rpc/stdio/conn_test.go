package stdio

import (
	"context"
	"testing"
	"time"

	"github.com/kestrel-ai/bridge/pkg/bridge/bridgeerr"
)

// echoScript is a minimal JSON-RPC peer: for every line read on stdin it
// replies with a matching-id success response, implemented as a tiny POSIX
// shell pipeline so these tests need no helper binary.
const echoScript = `while IFS= read -r line; do
  id=$(echo "$line" | sed -n 's/.*"id":"\{0,1\}\([^,"}]*\)"\{0,1\}.*/\1/p')
  printf '{"jsonrpc":"2.0","id":"%s","result":"pong"}\n' "$id"
done`

func TestConn_CallRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := New(ctx, Options{Command: "/bin/sh", Args: []string{"-c", echoScript}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer conn.Close()

	result, err := conn.Call(context.Background(), "ping", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "pong" {
		t.Fatalf("result = %v, want %q", result, "pong")
	}
}

func TestConn_CloseFailsPendingAndFurtherCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := New(ctx, Options{Command: "/bin/sh", Args: []string{"-c", "sleep 5"}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("unexpected error on close: %v", err)
	}
	if conn.IsConnected() {
		t.Fatal("expected disconnected after Close")
	}

	_, err = conn.Call(context.Background(), "ping", nil)
	tce, ok := err.(*bridgeerr.ToolConnectionError)
	if !ok || tce.Subkind != bridgeerr.ToolInactive {
		t.Fatalf("got %#v, want inactive", err)
	}
}

func TestConn_SubprocessExitFailsFurtherCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := New(ctx, Options{Command: "/bin/sh", Args: []string{"-c", "exit 0"}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for conn.IsConnected() {
		select {
		case <-deadline:
			t.Fatal("subprocess did not report exit in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	_, err = conn.Call(context.Background(), "ping", nil)
	if err == nil {
		t.Fatal("expected error once the subprocess has exited")
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bridgeerr.ToolConnectionSubkind
	}{
		{"not parseable", "://bad", bridgeerr.ToolInvalidURL},
		{"wrong scheme", "ftp://example.com", bridgeerr.ToolInvalidProtocol},
		{"privileged loopback port", "http://localhost:80", bridgeerr.ToolSecurityViolation},
		{"ok https", "https://example.com", ""},
		{"ok high loopback port", "http://localhost:8080", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateURL(tt.url, false)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			tce, ok := err.(*bridgeerr.ToolConnectionError)
			if !ok || tce.Subkind != tt.wantErr {
				t.Fatalf("got %#v, want %v", err, tt.wantErr)
			}
		})
	}
}

package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kestrel-ai/bridge/pkg/bridge/bridgeerr"
	"github.com/kestrel-ai/bridge/pkg/bridge/rpc"
)

type rpcEnvelope struct {
	ID     any    `json:"id"`
	Method string `json:"method"`
}

func TestDial_SucceedsOnValidInitialize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcEnvelope
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rpc.Response{JSONRPC: rpc.Version, ID: req.ID, Result: json.RawMessage(`{"ok":true}`)})
	}))
	defer srv.Close()

	conn, err := Dial(context.Background(), Options{URL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !conn.IsConnected() {
		t.Fatal("expected connected")
	}
}

func TestDial_RejectsInvalidURL(t *testing.T) {
	_, err := Dial(context.Background(), Options{URL: "ftp://example.com"})
	if err == nil {
		t.Fatal("expected error")
	}
	tce, ok := err.(*bridgeerr.ToolConnectionError)
	if !ok || tce.Subkind != bridgeerr.ToolInvalidProtocol {
		t.Fatalf("got %#v, want invalid-protocol", err)
	}
}

func TestDial_RejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := Dial(context.Background(), Options{URL: srv.URL})
	if err == nil {
		t.Fatal("expected error")
	}
	tce, ok := err.(*bridgeerr.ToolConnectionError)
	if !ok || tce.Subkind != bridgeerr.ToolHTTPError {
		t.Fatalf("got %#v, want http-error", err)
	}
}

func TestCall_ApplicationErrorIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcEnvelope
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rpc.Response{
			JSONRPC: rpc.Version,
			ID:      req.ID,
			Error:   &rpc.ResponseError{Code: -32601, Message: "method not found"},
		})
	}))
	defer srv.Close()

	conn, err := Dial(context.Background(), Options{URL: srv.URL})
	if err != nil {
		t.Fatalf("dial should succeed on application-level error: %v", err)
	}

	_, err = conn.Call(context.Background(), "tools/call", map[string]any{"name": "echo"})
	if err == nil {
		t.Fatal("expected error")
	}
	tce, ok := err.(*bridgeerr.ToolConnectionError)
	if !ok || tce.Subkind != bridgeerr.ToolJSONRPCApplicationErr || tce.Code != -32601 {
		t.Fatalf("got %#v, want jsonrpc-application-error with code -32601", err)
	}
}

func TestClose_SetsInactiveAndFailsFurtherCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcEnvelope
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rpc.Response{JSONRPC: rpc.Version, ID: req.ID, Result: json.RawMessage(`null`)})
	}))
	defer srv.Close()

	conn, err := Dial(context.Background(), Options{URL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("unexpected error on close: %v", err)
	}
	if conn.IsConnected() {
		t.Fatal("expected disconnected after Close")
	}
	_, err = conn.Call(context.Background(), "anything", nil)
	tce, ok := err.(*bridgeerr.ToolConnectionError)
	if !ok || tce.Subkind != bridgeerr.ToolInactive {
		t.Fatalf("got %#v, want inactive", err)
	}
}

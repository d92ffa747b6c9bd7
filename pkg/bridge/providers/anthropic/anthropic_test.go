package anthropic

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/kestrel-ai/bridge/pkg/bridge/types"
)

func TestTranslateRequest_BuildsPostToMessages(t *testing.T) {
	p := New("sk-ant-test")
	req := types.ChatRequest{
		Model: "anthropic:claude-sonnet-4-5",
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: []types.ContentPart{types.TextPart{Text: "be terse"}}},
			{Role: types.RoleUser, Content: []types.ContentPart{types.TextPart{Text: "hi"}}},
		},
	}

	got, err := p.TranslateRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Method != "POST" || !strings.HasSuffix(got.URL, "/messages") {
		t.Fatalf("got %+v", got)
	}
	if got.Headers["x-api-key"] != "sk-ant-test" {
		t.Fatalf("missing x-api-key header: %+v", got.Headers)
	}
	if got.Headers["anthropic-version"] != APIVersion {
		t.Fatalf("missing anthropic-version header: %+v", got.Headers)
	}

	var body map[string]any
	if err := json.Unmarshal(got.Body, &body); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if body["model"] != "claude-sonnet-4-5" {
		t.Fatalf("body model = %v, want claude-sonnet-4-5", body["model"])
	}
	if _, ok := body["system"]; !ok {
		t.Fatalf("expected system-role message to be lifted into top-level system field, got %+v", body)
	}
	msgs, ok := body["messages"].([]any)
	if !ok || len(msgs) != 1 {
		t.Fatalf("expected system message excluded from messages array, got %+v", body["messages"])
	}
}

func TestTranslateRequest_DefaultsMaxTokens(t *testing.T) {
	p := New("sk-ant-test")
	req := types.ChatRequest{
		Model:    "anthropic:claude-sonnet-4-5",
		Messages: []types.Message{{Role: types.RoleUser, Content: []types.ContentPart{types.TextPart{Text: "hi"}}}},
	}

	got, err := p.TranslateRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(got.Body, &body); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if body["max_tokens"].(float64) != DefaultMaxTokens {
		t.Fatalf("max_tokens = %v, want %d", body["max_tokens"], DefaultMaxTokens)
	}
}

func TestTranslateRequest_RejectsMalformedModelID(t *testing.T) {
	p := New("sk-ant-test")
	_, err := p.TranslateRequest(types.ChatRequest{Model: "not-namespaced"})
	if err == nil {
		t.Fatal("expected error for malformed model id")
	}
}

func TestTranslateRequest_RejectsEmptyConversation(t *testing.T) {
	p := New("sk-ant-test")
	req := types.ChatRequest{
		Model:    "anthropic:claude-sonnet-4-5",
		Messages: []types.Message{{Role: types.RoleSystem, Content: []types.ContentPart{types.TextPart{Text: "only system"}}}},
	}
	_, err := p.TranslateRequest(req)
	if err == nil {
		t.Fatal("expected error when no user/assistant message survives encoding")
	}
}

func TestSupportsModel(t *testing.T) {
	p := New("sk-ant-test")
	if !p.SupportsModel("anthropic:claude-sonnet-4-5") {
		t.Fatal("expected to support its own namespace")
	}
	if p.SupportsModel("openai:gpt-5") {
		t.Fatal("must not claim another provider's namespace")
	}
}

func TestParseResponse_ExtractsMessageAndToolCalls(t *testing.T) {
	p := New("sk-ant-test")
	raw := []byte(`{"content":[{"type":"text","text":"hello"},{"type":"tool_use","id":"tc1","name":"search","input":{"q":"go"}}],"stop_reason":"tool_use"}`)

	msg, err := p.ParseResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Role != types.RoleAssistant || len(msg.Content) != 2 {
		t.Fatalf("got %+v", msg)
	}
	tc, ok := msg.Content[1].(types.ToolCallPart)
	if !ok || tc.Name != "search" || tc.ID != "tc1" {
		t.Fatalf("got %+v", msg.Content[1])
	}
}

func TestParseResponse_RejectsEmptyContent(t *testing.T) {
	p := New("sk-ant-test")
	_, err := p.ParseResponse([]byte(`{"content":[]}`))
	if err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestParseStreamDelta_HandlesMessageStop(t *testing.T) {
	p := New("sk-ant-test")
	delta, ok, err := p.ParseStreamDelta([]byte(`data: {"type":"message_stop"}`))
	if err != nil || !ok || !delta.Finished {
		t.Fatalf("got delta=%+v ok=%v err=%v", delta, ok, err)
	}
}

func TestParseStreamDelta_ExtractsTextChunk(t *testing.T) {
	p := New("sk-ant-test")
	chunk := []byte(`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"hel"}}`)
	delta, ok, err := p.ParseStreamDelta(chunk)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if delta.Finished {
		t.Fatal("mid-stream chunk should not be finished")
	}
	if len(delta.Delta.Content) != 1 {
		t.Fatalf("got %+v", delta)
	}
}

func TestParseStreamDelta_ExtractsToolUseStart(t *testing.T) {
	p := New("sk-ant-test")
	chunk := []byte(`data: {"type":"content_block_start","content_block":{"type":"tool_use","id":"tc1","name":"search"}}`)
	delta, ok, err := p.ParseStreamDelta(chunk)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if len(delta.Delta.ToolCalls) != 1 || delta.Delta.ToolCalls[0].Name != "search" {
		t.Fatalf("got %+v", delta)
	}
}

func TestParseStreamDelta_IgnoresEmptyLines(t *testing.T) {
	p := New("sk-ant-test")
	_, ok, err := p.ParseStreamDelta([]byte("\n"))
	if err != nil || ok {
		t.Fatalf("expected no-op for blank line, got ok=%v err=%v", ok, err)
	}
}

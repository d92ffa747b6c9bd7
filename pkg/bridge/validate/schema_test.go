package validate

import (
	"testing"

	"github.com/kestrel-ai/bridge/pkg/bridge/types"
)

func validReq() types.ChatRequest {
	return types.ChatRequest{
		Model: "openai:gpt-5",
		Messages: []types.Message{
			{Role: types.RoleUser, Content: []types.ContentPart{types.TextPart{Text: "hi"}}},
		},
	}
}

func TestChatRequest_AcceptsValidRequest(t *testing.T) {
	if err := ChatRequest(validReq()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestChatRequest_RejectsMissingModel(t *testing.T) {
	req := validReq()
	req.Model = ""
	if err := ChatRequest(req); err == nil {
		t.Fatal("expected validation error for empty model")
	}
}

func TestChatRequest_RejectsEmptyMessages(t *testing.T) {
	req := validReq()
	req.Messages = nil
	if err := ChatRequest(req); err == nil {
		t.Fatal("expected validation error for empty messages")
	}
}

func TestChatRequest_RejectsBadModelShape(t *testing.T) {
	req := validReq()
	req.Model = "not-a-valid-model-id"
	if err := ChatRequest(req); err == nil {
		t.Fatal("expected validation error for malformed model id")
	}
}

func TestChatRequest_RejectsOutOfRangeTemperature(t *testing.T) {
	req := validReq()
	tooHigh := 5.0
	req.Temperature = &tooHigh
	if err := ChatRequest(req); err == nil {
		t.Fatal("expected validation error for out-of-range temperature")
	}
}

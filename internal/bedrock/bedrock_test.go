package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// mockInvoker implements Invoker for testing.
type mockInvoker struct {
	invokeFunc func(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

func (m *mockInvoker) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	return m.invokeFunc(ctx, params, optFns...)
}

func TestGenerateEmbedding(t *testing.T) {
	var capturedModel string
	mock := &mockInvoker{
		invokeFunc: func(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
			capturedModel = *params.ModelId
			var req embedRequest
			if err := json.Unmarshal(params.Body, &req); err != nil {
				t.Fatalf("bad request body: %v", err)
			}
			if req.InputText != "hello inbox" {
				t.Errorf("InputText = %q, want %q", req.InputText, "hello inbox")
			}
			if req.Dimensions != EmbedDimensions {
				t.Errorf("Dimensions = %d, want %d", req.Dimensions, EmbedDimensions)
			}
			if !req.Normalize {
				t.Error("Normalize = false, want true")
			}
			body, _ := json.Marshal(embedResponse{Embedding: []float32{0.1, 0.2}, InputTokenCount: 3})
			return &bedrockruntime.InvokeModelOutput{Body: body}, nil
		},
	}

	client := NewEmbeddingClient(mock, "")
	vec, err := client.GenerateEmbedding(context.Background(), "hello inbox")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if capturedModel != ModelTitanEmbedV2 {
		t.Errorf("model = %q, want %q", capturedModel, ModelTitanEmbedV2)
	}
	if len(vec) != 2 || vec[0] != 0.1 {
		t.Errorf("embedding = %v", vec)
	}
}

func TestGenerateEmbedding_InvokeError(t *testing.T) {
	mock := &mockInvoker{
		invokeFunc: func(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
			return nil, errors.New("boom")
		},
	}
	client := NewEmbeddingClient(mock, "")
	if _, err := client.GenerateEmbedding(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestGenerateEmbedding_EmptyVector(t *testing.T) {
	mock := &mockInvoker{
		invokeFunc: func(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
			body, _ := json.Marshal(embedResponse{})
			return &bedrockruntime.InvokeModelOutput{Body: body}, nil
		},
	}
	client := NewEmbeddingClient(mock, "")
	if _, err := client.GenerateEmbedding(context.Background(), "x"); err == nil {
		t.Fatal("expected error for empty embedding")
	}
}

func TestChat_BuildsRequest(t *testing.T) {
	mock := &mockInvoker{
		invokeFunc: func(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
			var req claudeRequest
			if err := json.Unmarshal(params.Body, &req); err != nil {
				t.Fatalf("bad request body: %v", err)
			}
			if req.AnthropicVersion != anthropicVersion {
				t.Errorf("anthropic_version = %q", req.AnthropicVersion)
			}
			if req.System != "be brief" {
				t.Errorf("system = %q", req.System)
			}
			if len(req.Messages) != 2 || req.Messages[1].Role != "user" {
				t.Errorf("messages = %+v", req.Messages)
			}
			if req.MaxTokens != 100 {
				t.Errorf("max_tokens = %d", req.MaxTokens)
			}
			body, _ := json.Marshal(claudeResponse{Content: []contentBlock{{Type: "text", Text: "  the answer \n"}}})
			return &bedrockruntime.InvokeModelOutput{Body: body}, nil
		},
	}

	client := NewChatClient(mock, "")
	got, err := client.Chat(context.Background(), ChatRequest{
		System:    "be brief",
		MaxTokens: 100,
		Turns: []Turn{
			{Role: "assistant", Content: "hi"},
			{Role: "user", Content: "question"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "the answer" {
		t.Errorf("answer = %q, want %q", got, "the answer")
	}
}

func TestChat_EmptyContent(t *testing.T) {
	mock := &mockInvoker{
		invokeFunc: func(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
			body, _ := json.Marshal(claudeResponse{})
			return &bedrockruntime.InvokeModelOutput{Body: body}, nil
		},
	}
	client := NewChatClient(mock, "")
	got, err := client.Chat(context.Background(), ChatRequest{MaxTokens: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Errorf("answer = %q, want empty", got)
	}
}

func TestIsRateLimit(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate_limit substring", errors.New("groq: rate_limit_exceeded"), true},
		{"http 429", errors.New("api error: status 429"), true},
		{"bedrock throttling", errors.New("operation error Bedrock Runtime: InvokeModel, ThrottlingException"), true},
		{"too many requests", errors.New("Too Many Requests"), true},
		{"unrelated", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRateLimit(tt.err); got != tt.want {
				t.Errorf("IsRateLimit(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

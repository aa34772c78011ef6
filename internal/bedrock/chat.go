package bedrock

import (
	"context"
	"strings"
)

const (
	// DefaultChatModelID is the default Bedrock model for answering.
	DefaultChatModelID = "anthropic.claude-haiku-4-5-20251001-v1:0"
	// anthropicVersion is the required API version for Claude on Bedrock.
	anthropicVersion = "bedrock-2023-05-31"
)

// Turn is one message of a chat exchange.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	System      string
	Turns       []Turn
	MaxTokens   int
	Temperature float64
}

// Chatter generates a completion for a chat exchange.
type Chatter interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// ChatClient generates chat completions via Claude models on Bedrock.
type ChatClient struct {
	client  Invoker
	modelID string
}

// NewChatClient creates a new ChatClient. An empty modelID selects the
// default model.
func NewChatClient(client Invoker, modelID string) *ChatClient {
	if modelID == "" {
		modelID = DefaultChatModelID
	}
	return &ChatClient{client: client, modelID: modelID}
}

// claudeRequest is the Claude Messages API request format for Bedrock.
type claudeRequest struct {
	AnthropicVersion string  `json:"anthropic_version"`
	MaxTokens        int     `json:"max_tokens"`
	System           string  `json:"system,omitempty"`
	Temperature      float64 `json:"temperature"`
	Messages         []Turn  `json:"messages"`
}

// claudeResponse is the Claude Messages API response format.
type claudeResponse struct {
	Content []contentBlock `json:"content"`
}

// contentBlock represents a content block in the response.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Chat sends the exchange to the model and returns the trimmed completion.
func (c *ChatClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	var resp claudeResponse
	err := invokeJSON(ctx, c.client, c.modelID, claudeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        req.MaxTokens,
		System:           req.System,
		Temperature:      req.Temperature,
		Messages:         req.Turns,
	}, &resp)
	if err != nil {
		return "", err
	}

	if len(resp.Content) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Content[0].Text), nil
}

// IsRateLimit reports whether an error from the model is a rate-limit
// rejection, detected by substring on the error text.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "throttling") ||
		strings.Contains(msg, "too many requests")
}

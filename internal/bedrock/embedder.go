package bedrock

import (
	"context"
	"fmt"
)

const (
	// ModelTitanEmbedV2 is the model ID for Amazon Titan Embeddings v2.
	ModelTitanEmbedV2 = "amazon.titan-embed-text-v2:0"
	// EmbedDimensions is the vector width requested from the model.
	EmbedDimensions = 1024
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// embedRequest is the Titan text-embedding payload. Vectors are requested
// normalized since the index measures cosine distance.
type embedRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
	Normalize  bool   `json:"normalize"`
}

// embedResponse carries the vector plus the model's token accounting.
type embedResponse struct {
	Embedding       []float32 `json:"embedding"`
	InputTokenCount int       `json:"inputTextTokenCount"`
}

// EmbeddingClient generates embeddings via Amazon Titan Embeddings v2.
type EmbeddingClient struct {
	client     Invoker
	modelID    string
	dimensions int
}

// NewEmbeddingClient creates a new EmbeddingClient. An empty modelID selects
// Titan Embeddings v2.
func NewEmbeddingClient(client Invoker, modelID string) *EmbeddingClient {
	if modelID == "" {
		modelID = ModelTitanEmbedV2
	}
	return &EmbeddingClient{
		client:     client,
		modelID:    modelID,
		dimensions: EmbedDimensions,
	}
}

// GenerateEmbedding embeds the text as a normalized unit vector.
func (c *EmbeddingClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	var resp embedResponse
	err := invokeJSON(ctx, c.client, c.modelID, embedRequest{
		InputText:  text,
		Dimensions: c.dimensions,
		Normalize:  true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("model %s returned no embedding", c.modelID)
	}
	return resp.Embedding, nil
}

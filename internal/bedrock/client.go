// Package bedrock provides embedding generation and chat completion via
// Amazon Bedrock.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// Invoker abstracts Bedrock model invocation for dependency inversion.
type Invoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// invokeJSON runs one InvokeModel round trip: request is marshalled into the
// model's JSON payload and the response body is decoded into out. Both model
// clients in this package funnel through here.
func invokeJSON(ctx context.Context, client Invoker, modelID string, request, out any) error {
	payload, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", modelID, err)
	}

	output, err := client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId: aws.String(modelID),
		Body:    payload,
	})
	if err != nil {
		return fmt.Errorf("invoke %s: %w", modelID, err)
	}

	if err := json.Unmarshal(output.Body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", modelID, err)
	}
	return nil
}

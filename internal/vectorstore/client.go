// Package vectorstore provides per-user vector storage via S3 Vectors.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3vectors"
	s3vdocument "github.com/aws/aws-sdk-go-v2/service/s3vectors/document"
	"github.com/aws/aws-sdk-go-v2/service/s3vectors/types"
)

const (
	// IndexDimensions is the vector dimension count for Titan Embeddings v2.
	IndexDimensions = 1024
	// namespacePrefix prefixes every per-user index name.
	namespacePrefix = "emails_inbox_"
	// putBatchSize is the maximum vectors per PutVectors call.
	putBatchSize = 500
	// listPageSize is the page size for ListVectors pagination.
	listPageSize = 1000
)

// Namespace returns the per-user index name for an email address.
// '@' and '.' are replaced with '_'.
func Namespace(userEmail string) string {
	sanitized := strings.NewReplacer("@", "_", ".", "_").Replace(userEmail)
	return namespacePrefix + sanitized
}

// ChunkMetadata is the typed metadata attached to every chunk vector.
// All chunks of one message share every field except ChunkIndex.
type ChunkMetadata struct {
	MessageID    int64
	Sender       string
	Subject      string
	Date         string
	Timestamp    float64
	IsRead       bool
	IsUrgent     bool
	HasDeadline  bool
	DeadlineDate string // RFC 3339 date, empty when none
	ChunkIndex   int
}

// Chunk is one indexed slice of a message.
type Chunk struct {
	Key       string
	Embedding []float32
	Document  string
	Metadata  ChunkMetadata
}

// QueryResult is a single nearest-neighbour hit.
type QueryResult struct {
	Key      string
	Document string
	Metadata ChunkMetadata
	Distance float32
}

// Store defines the vector storage contract consumed by the engine.
type Store interface {
	EnsureIndex(ctx context.Context, userEmail string) error
	PutChunks(ctx context.Context, userEmail string, chunks []Chunk) error
	ListKeys(ctx context.Context, userEmail string) ([]string, error)
	Count(ctx context.Context, userEmail string) (int, error)
	Query(ctx context.Context, userEmail string, embedding []float32, topK int32) ([]QueryResult, error)
}

// S3VectorsAPI abstracts S3 Vectors operations for dependency inversion.
type S3VectorsAPI interface {
	CreateIndex(ctx context.Context, params *s3vectors.CreateIndexInput, optFns ...func(*s3vectors.Options)) (*s3vectors.CreateIndexOutput, error)
	PutVectors(ctx context.Context, params *s3vectors.PutVectorsInput, optFns ...func(*s3vectors.Options)) (*s3vectors.PutVectorsOutput, error)
	ListVectors(ctx context.Context, params *s3vectors.ListVectorsInput, optFns ...func(*s3vectors.Options)) (*s3vectors.ListVectorsOutput, error)
	QueryVectors(ctx context.Context, params *s3vectors.QueryVectorsInput, optFns ...func(*s3vectors.Options)) (*s3vectors.QueryVectorsOutput, error)
}

// S3VectorsClient implements Store using AWS S3 Vectors.
type S3VectorsClient struct {
	client     S3VectorsAPI
	bucketName string
	mu         sync.Mutex
	knownIndex map[string]bool
}

// NewS3VectorsClient creates a new S3VectorsClient.
func NewS3VectorsClient(client S3VectorsAPI, bucketName string) *S3VectorsClient {
	return &S3VectorsClient{
		client:     client,
		bucketName: bucketName,
		knownIndex: make(map[string]bool),
	}
}

// EnsureIndex creates the per-user vector index if it doesn't already exist.
// Known indexes are cached in-memory to avoid repeated CreateIndex calls.
func (c *S3VectorsClient) EnsureIndex(ctx context.Context, userEmail string) error {
	name := Namespace(userEmail)

	c.mu.Lock()
	if c.knownIndex[name] {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dim := int32(IndexDimensions)
	_, err := c.client.CreateIndex(ctx, &s3vectors.CreateIndexInput{
		VectorBucketName: &c.bucketName,
		IndexName:        &name,
		Dimension:        &dim,
		DataType:         types.DataTypeFloat32,
		DistanceMetric:   types.DistanceMetricCosine,
	})
	if err != nil {
		// If the index already exists, that's fine
		var conflictErr *types.ConflictException
		if !errors.As(err, &conflictErr) {
			return fmt.Errorf("create index %s: %w", name, err)
		}
	}

	c.mu.Lock()
	c.knownIndex[name] = true
	c.mu.Unlock()
	return nil
}

// PutChunks stores chunk vectors in the per-user index, batching the calls.
func (c *S3VectorsClient) PutChunks(ctx context.Context, userEmail string, chunks []Chunk) error {
	name := Namespace(userEmail)

	for start := 0; start < len(chunks); start += putBatchSize {
		end := min(start+putBatchSize, len(chunks))
		batch := chunks[start:end]

		vectors := make([]types.PutInputVector, len(batch))
		for i, chunk := range batch {
			key := chunk.Key
			vectors[i] = types.PutInputVector{
				Key:      &key,
				Data:     &types.VectorDataMemberFloat32{Value: chunk.Embedding},
				Metadata: s3vdocument.NewLazyDocument(chunk.Metadata.toDocument(chunk.Document)),
			}
		}

		_, err := c.client.PutVectors(ctx, &s3vectors.PutVectorsInput{
			VectorBucketName: &c.bucketName,
			IndexName:        aws.String(name),
			Vectors:          vectors,
		})
		if err != nil {
			return fmt.Errorf("put vectors [%d:%d]: %w", start, end, err)
		}
	}
	return nil
}

// ListKeys returns every vector key in the per-user index. A missing index
// yields no keys rather than an error.
func (c *S3VectorsClient) ListKeys(ctx context.Context, userEmail string) ([]string, error) {
	name := Namespace(userEmail)

	var keys []string
	var nextToken *string
	for {
		output, err := c.client.ListVectors(ctx, &s3vectors.ListVectorsInput{
			VectorBucketName: &c.bucketName,
			IndexName:        aws.String(name),
			MaxResults:       aws.Int32(listPageSize),
			NextToken:        nextToken,
		})
		if err != nil {
			var notFound *types.NotFoundException
			if errors.As(err, &notFound) {
				return nil, nil
			}
			return nil, fmt.Errorf("list vectors: %w", err)
		}
		for _, v := range output.Vectors {
			if v.Key != nil {
				keys = append(keys, *v.Key)
			}
		}
		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}
	return keys, nil
}

// Count returns the number of vectors in the per-user index.
func (c *S3VectorsClient) Count(ctx context.Context, userEmail string) (int, error) {
	keys, err := c.ListKeys(ctx, userEmail)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Query performs an approximate nearest neighbour search in the per-user
// index, returning documents, metadata and distances.
func (c *S3VectorsClient) Query(ctx context.Context, userEmail string, embedding []float32, topK int32) ([]QueryResult, error) {
	name := Namespace(userEmail)

	output, err := c.client.QueryVectors(ctx, &s3vectors.QueryVectorsInput{
		VectorBucketName: &c.bucketName,
		IndexName:        aws.String(name),
		QueryVector:      &types.VectorDataMemberFloat32{Value: embedding},
		TopK:             &topK,
		ReturnMetadata:   true,
		ReturnDistance:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}

	results := make([]QueryResult, 0, len(output.Vectors))
	for _, v := range output.Vectors {
		result := QueryResult{}
		if v.Key != nil {
			result.Key = *v.Key
		}
		if v.Distance != nil {
			result.Distance = *v.Distance
		}
		if v.Metadata != nil {
			var doc map[string]any
			if err := v.Metadata.UnmarshalSmithyDocument(&doc); err == nil {
				result.Document, result.Metadata = metadataFromDocument(doc)
			}
		}
		results = append(results, result)
	}
	return results, nil
}

// toDocument flattens the typed metadata, plus the chunk document text, into
// the map shape S3 Vectors stores. The typed record crosses the store
// boundary only here.
func (m ChunkMetadata) toDocument(document string) map[string]any {
	return map[string]any{
		"document":     document,
		"messageId":    strconv.FormatInt(m.MessageID, 10),
		"sender":       m.Sender,
		"subject":      m.Subject,
		"date":         m.Date,
		"timestamp":    m.Timestamp,
		"isRead":       m.IsRead,
		"isUrgent":     m.IsUrgent,
		"hasDeadline":  m.HasDeadline,
		"deadlineDate": m.DeadlineDate,
		"chunkIndex":   m.ChunkIndex,
	}
}

// metadataFromDocument rebuilds the typed metadata from a stored document map.
func metadataFromDocument(doc map[string]any) (string, ChunkMetadata) {
	document, _ := doc["document"].(string)

	var m ChunkMetadata
	if s, ok := doc["messageId"].(string); ok {
		m.MessageID, _ = strconv.ParseInt(s, 10, 64)
	}
	m.Sender, _ = doc["sender"].(string)
	m.Subject, _ = doc["subject"].(string)
	m.Date, _ = doc["date"].(string)
	m.Timestamp = asFloat(doc["timestamp"])
	m.IsRead, _ = doc["isRead"].(bool)
	m.IsUrgent, _ = doc["isUrgent"].(bool)
	m.HasDeadline, _ = doc["hasDeadline"].(bool)
	m.DeadlineDate, _ = doc["deadlineDate"].(string)
	m.ChunkIndex = int(asFloat(doc["chunkIndex"]))
	return document, m
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

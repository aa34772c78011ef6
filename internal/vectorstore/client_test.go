package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3vectors"
	s3vdocument "github.com/aws/aws-sdk-go-v2/service/s3vectors/document"
	"github.com/aws/aws-sdk-go-v2/service/s3vectors/types"
)

// mockS3VectorsAPI implements S3VectorsAPI for testing.
type mockS3VectorsAPI struct {
	createIndexFunc  func(ctx context.Context, params *s3vectors.CreateIndexInput, optFns ...func(*s3vectors.Options)) (*s3vectors.CreateIndexOutput, error)
	putVectorsFunc   func(ctx context.Context, params *s3vectors.PutVectorsInput, optFns ...func(*s3vectors.Options)) (*s3vectors.PutVectorsOutput, error)
	listVectorsFunc  func(ctx context.Context, params *s3vectors.ListVectorsInput, optFns ...func(*s3vectors.Options)) (*s3vectors.ListVectorsOutput, error)
	queryVectorsFunc func(ctx context.Context, params *s3vectors.QueryVectorsInput, optFns ...func(*s3vectors.Options)) (*s3vectors.QueryVectorsOutput, error)
}

func (m *mockS3VectorsAPI) CreateIndex(ctx context.Context, params *s3vectors.CreateIndexInput, optFns ...func(*s3vectors.Options)) (*s3vectors.CreateIndexOutput, error) {
	if m.createIndexFunc != nil {
		return m.createIndexFunc(ctx, params, optFns...)
	}
	return &s3vectors.CreateIndexOutput{}, nil
}

func (m *mockS3VectorsAPI) PutVectors(ctx context.Context, params *s3vectors.PutVectorsInput, optFns ...func(*s3vectors.Options)) (*s3vectors.PutVectorsOutput, error) {
	if m.putVectorsFunc != nil {
		return m.putVectorsFunc(ctx, params, optFns...)
	}
	return &s3vectors.PutVectorsOutput{}, nil
}

func (m *mockS3VectorsAPI) ListVectors(ctx context.Context, params *s3vectors.ListVectorsInput, optFns ...func(*s3vectors.Options)) (*s3vectors.ListVectorsOutput, error) {
	if m.listVectorsFunc != nil {
		return m.listVectorsFunc(ctx, params, optFns...)
	}
	return &s3vectors.ListVectorsOutput{}, nil
}

func (m *mockS3VectorsAPI) QueryVectors(ctx context.Context, params *s3vectors.QueryVectorsInput, optFns ...func(*s3vectors.Options)) (*s3vectors.QueryVectorsOutput, error) {
	if m.queryVectorsFunc != nil {
		return m.queryVectorsFunc(ctx, params, optFns...)
	}
	return &s3vectors.QueryVectorsOutput{Vectors: []types.QueryOutputVector{}}, nil
}

func TestNamespace(t *testing.T) {
	got := Namespace("alice.w@example.com")
	want := "emails_inbox_alice_w_example_com"
	if got != want {
		t.Errorf("Namespace = %q, want %q", got, want)
	}
}

func TestEnsureIndex_CreatesNew(t *testing.T) {
	var capturedInput *s3vectors.CreateIndexInput
	mock := &mockS3VectorsAPI{
		createIndexFunc: func(ctx context.Context, params *s3vectors.CreateIndexInput, optFns ...func(*s3vectors.Options)) (*s3vectors.CreateIndexOutput, error) {
			capturedInput = params
			return &s3vectors.CreateIndexOutput{}, nil
		},
	}

	client := NewS3VectorsClient(mock, "my-vector-bucket")
	if err := client.EnsureIndex(context.Background(), "alice@x.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if capturedInput == nil {
		t.Fatal("CreateIndex was not called")
	}
	if *capturedInput.IndexName != "emails_inbox_alice_x_com" {
		t.Errorf("IndexName = %q, want %q", *capturedInput.IndexName, "emails_inbox_alice_x_com")
	}
	if *capturedInput.VectorBucketName != "my-vector-bucket" {
		t.Errorf("VectorBucketName = %q, want %q", *capturedInput.VectorBucketName, "my-vector-bucket")
	}
	if *capturedInput.Dimension != 1024 {
		t.Errorf("Dimension = %d, want 1024", *capturedInput.Dimension)
	}
	if capturedInput.DistanceMetric != types.DistanceMetricCosine {
		t.Errorf("DistanceMetric = %v, want cosine", capturedInput.DistanceMetric)
	}
}

func TestEnsureIndex_CachesKnownIndex(t *testing.T) {
	callCount := 0
	mock := &mockS3VectorsAPI{
		createIndexFunc: func(ctx context.Context, params *s3vectors.CreateIndexInput, optFns ...func(*s3vectors.Options)) (*s3vectors.CreateIndexOutput, error) {
			callCount++
			return &s3vectors.CreateIndexOutput{}, nil
		},
	}

	client := NewS3VectorsClient(mock, "my-vector-bucket")
	if err := client.EnsureIndex(context.Background(), "alice@x.com"); err != nil {
		t.Fatalf("first call error: %v", err)
	}
	if err := client.EnsureIndex(context.Background(), "alice@x.com"); err != nil {
		t.Fatalf("second call error: %v", err)
	}

	if callCount != 1 {
		t.Errorf("CreateIndex called %d times, want 1", callCount)
	}
}

func TestEnsureIndex_AlreadyExists(t *testing.T) {
	mock := &mockS3VectorsAPI{
		createIndexFunc: func(ctx context.Context, params *s3vectors.CreateIndexInput, optFns ...func(*s3vectors.Options)) (*s3vectors.CreateIndexOutput, error) {
			return nil, &types.ConflictException{Message: aws.String("index exists")}
		},
	}

	client := NewS3VectorsClient(mock, "my-vector-bucket")
	if err := client.EnsureIndex(context.Background(), "alice@x.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPutChunks_Batches(t *testing.T) {
	var batches [][]types.PutInputVector
	mock := &mockS3VectorsAPI{
		putVectorsFunc: func(ctx context.Context, params *s3vectors.PutVectorsInput, optFns ...func(*s3vectors.Options)) (*s3vectors.PutVectorsOutput, error) {
			batches = append(batches, params.Vectors)
			return &s3vectors.PutVectorsOutput{}, nil
		},
	}

	chunks := make([]Chunk, putBatchSize+3)
	for i := range chunks {
		chunks[i] = Chunk{Key: "k", Embedding: []float32{0.1}}
	}

	client := NewS3VectorsClient(mock, "b")
	if err := client.PutChunks(context.Background(), "alice@x.com", chunks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(batches) != 2 {
		t.Fatalf("batch count = %d, want 2", len(batches))
	}
	if len(batches[0]) != putBatchSize {
		t.Errorf("first batch = %d, want %d", len(batches[0]), putBatchSize)
	}
	if len(batches[1]) != 3 {
		t.Errorf("second batch = %d, want 3", len(batches[1]))
	}
}

func TestListKeys_Paginates(t *testing.T) {
	calls := 0
	mock := &mockS3VectorsAPI{
		listVectorsFunc: func(ctx context.Context, params *s3vectors.ListVectorsInput, optFns ...func(*s3vectors.Options)) (*s3vectors.ListVectorsOutput, error) {
			calls++
			if params.NextToken == nil {
				return &s3vectors.ListVectorsOutput{
					Vectors:   []types.ListOutputVector{{Key: aws.String("1_0")}, {Key: aws.String("1_1")}},
					NextToken: aws.String("page2"),
				}, nil
			}
			return &s3vectors.ListVectorsOutput{
				Vectors: []types.ListOutputVector{{Key: aws.String("2_0")}},
			}, nil
		},
	}

	client := NewS3VectorsClient(mock, "b")
	keys, err := client.ListKeys(context.Background(), "alice@x.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("ListVectors called %d times, want 2", calls)
	}
	if len(keys) != 3 {
		t.Fatalf("keys = %v, want 3 entries", keys)
	}
	if keys[2] != "2_0" {
		t.Errorf("keys[2] = %q, want %q", keys[2], "2_0")
	}
}

func TestListKeys_MissingIndex(t *testing.T) {
	mock := &mockS3VectorsAPI{
		listVectorsFunc: func(ctx context.Context, params *s3vectors.ListVectorsInput, optFns ...func(*s3vectors.Options)) (*s3vectors.ListVectorsOutput, error) {
			return nil, &types.NotFoundException{Message: aws.String("no such index")}
		},
	}

	client := NewS3VectorsClient(mock, "b")
	keys, err := client.ListKeys(context.Background(), "alice@x.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("keys = %v, want none", keys)
	}
}

func TestQuery_RoundTripsMetadata(t *testing.T) {
	meta := ChunkMetadata{
		MessageID:    42,
		Sender:       "Alice Wong <alice.w@x.com>",
		Subject:      "Q3 budget",
		Date:         "2025-10-03T09:00:00Z",
		Timestamp:    1759482000,
		IsUrgent:     true,
		HasDeadline:  true,
		DeadlineDate: "2025-10-10T00:00:00Z",
		ChunkIndex:   1,
	}
	mock := &mockS3VectorsAPI{
		queryVectorsFunc: func(ctx context.Context, params *s3vectors.QueryVectorsInput, optFns ...func(*s3vectors.Options)) (*s3vectors.QueryVectorsOutput, error) {
			return &s3vectors.QueryVectorsOutput{
				Vectors: []types.QueryOutputVector{{
					Key:      aws.String("42_1"),
					Distance: aws.Float32(0.25),
					Metadata: s3vdocument.NewLazyDocument(meta.toDocument("FROM: alice")),
				}},
			}, nil
		},
	}

	client := NewS3VectorsClient(mock, "b")
	results, err := client.Query(context.Background(), "alice@x.com", []float32{0.1}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	r := results[0]
	if r.Distance != 0.25 {
		t.Errorf("Distance = %v, want 0.25", r.Distance)
	}
	if r.Document != "FROM: alice" {
		t.Errorf("Document = %q", r.Document)
	}
	if r.Metadata != meta {
		t.Errorf("Metadata = %+v, want %+v", r.Metadata, meta)
	}
}

func TestQuery_Error(t *testing.T) {
	mock := &mockS3VectorsAPI{
		queryVectorsFunc: func(ctx context.Context, params *s3vectors.QueryVectorsInput, optFns ...func(*s3vectors.Options)) (*s3vectors.QueryVectorsOutput, error) {
			return nil, errors.New("boom")
		},
	}

	client := NewS3VectorsClient(mock, "b")
	if _, err := client.Query(context.Background(), "alice@x.com", []float32{0.1}, 10); err == nil {
		t.Fatal("expected error")
	}
}

package retrieval

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mailwise/inboxrag/internal/querycache"
	"github.com/mailwise/inboxrag/internal/vectorstore"
)

// mockIndex implements VectorIndex for testing.
type mockIndex struct {
	countFunc func(ctx context.Context, userEmail string) (int, error)
	listFunc  func(ctx context.Context, userEmail string) ([]string, error)
	queryFunc func(ctx context.Context, userEmail string, embedding []float32, topK int32) ([]vectorstore.QueryResult, error)
}

func (m *mockIndex) Count(ctx context.Context, userEmail string) (int, error) {
	if m.countFunc != nil {
		return m.countFunc(ctx, userEmail)
	}
	return 0, nil
}

func (m *mockIndex) ListKeys(ctx context.Context, userEmail string) ([]string, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, userEmail)
	}
	return nil, nil
}

func (m *mockIndex) Query(ctx context.Context, userEmail string, embedding []float32, topK int32) ([]vectorstore.QueryResult, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, userEmail, embedding, topK)
	}
	return nil, nil
}

// mockEmbedder returns a fixed vector.
type mockEmbedder struct {
	lastText string
	calls    int
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	m.lastText = text
	m.calls++
	return []float32{0.1, 0.2}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func chunkHit(messageID int64, chunkIndex int, sender string, ts float64, distance float32, doc string) vectorstore.QueryResult {
	return vectorstore.QueryResult{
		Document: doc,
		Distance: distance,
		Metadata: vectorstore.ChunkMetadata{
			MessageID:  messageID,
			Sender:     sender,
			Subject:    "subject",
			Timestamp:  ts,
			ChunkIndex: chunkIndex,
		},
	}
}

func newTestRetriever(idx *mockIndex, emb *mockEmbedder) *Retriever {
	return New(idx, emb, querycache.New[[]Result](time.Minute), discardLogger())
}

func TestSearch_EmptyIndex(t *testing.T) {
	idx := &mockIndex{countFunc: func(ctx context.Context, u string) (int, error) { return 0, nil }}
	r := newTestRetriever(idx, &mockEmbedder{})

	results, err := r.Search(context.Background(), "u@x.com", "anything", 15, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results != nil {
		t.Errorf("results = %v, want nil", results)
	}
}

func TestSearch_DedupsToMessageGranularity(t *testing.T) {
	idx := &mockIndex{
		countFunc: func(ctx context.Context, u string) (int, error) { return 10, nil },
		queryFunc: func(ctx context.Context, u string, e []float32, k int32) ([]vectorstore.QueryResult, error) {
			return []vectorstore.QueryResult{
				chunkHit(1, 0, "alice@x.com", 100, 0.9, "weak chunk"),
				chunkHit(1, 1, "alice@x.com", 100, 0.1, "strong budget chunk"),
				chunkHit(2, 0, "bob@x.com", 200, 0.5, "other budget"),
			}, nil
		},
	}
	r := newTestRetriever(idx, &mockEmbedder{})

	results, err := r.Search(context.Background(), "u@x.com", "budget", 15, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 (one per message)", len(results))
	}
	// Newest first.
	if results[0].Metadata.MessageID != 2 {
		t.Errorf("first result message = %d, want 2", results[0].Metadata.MessageID)
	}
	// The surviving chunk for message 1 is the best-scoring one.
	if results[1].Metadata.ChunkIndex != 1 {
		t.Errorf("kept chunk index = %d, want 1", results[1].Metadata.ChunkIndex)
	}
}

func TestSearch_ScoringWeights(t *testing.T) {
	// distance float32(0.2) -> semantic ~0.8; doc contains the single keyword -> keyword 1.0
	idx := &mockIndex{
		countFunc: func(ctx context.Context, u string) (int, error) { return 1, nil },
		queryFunc: func(ctx context.Context, u string, e []float32, k int32) ([]vectorstore.QueryResult, error) {
			hit := chunkHit(1, 0, "alice@x.com", 10, 0.2, "the budget doc")
			hit.Metadata.IsUrgent = true
			hit.Metadata.HasDeadline = true
			return []vectorstore.QueryResult{hit}, nil
		},
	}
	r := newTestRetriever(idx, &mockEmbedder{})

	results, err := r.Search(context.Background(), "u@x.com", "budget", 15, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := 0.35*(1-float64(float32(0.2))) + 0.45*1.0 + 0.10 + 0.10
	got := results[0].HybridScore
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("hybrid = %v, want %v", got, want)
	}
}

func TestSearch_SenderFilterDropsNonMatching(t *testing.T) {
	var capturedTopK int32
	idx := &mockIndex{
		countFunc: func(ctx context.Context, u string) (int, error) { return 1000, nil },
		queryFunc: func(ctx context.Context, u string, e []float32, k int32) ([]vectorstore.QueryResult, error) {
			capturedTopK = k
			return []vectorstore.QueryResult{
				chunkHit(1, 0, `"Alice Wong" <alice.w@x.com>`, 300, 0.3, "a"),
				chunkHit(2, 0, "spam@other.com", 400, 0.1, "b"),
				chunkHit(3, 0, "alice.w@x.com", 100, 0.4, "c"),
			}, nil
		},
	}
	r := newTestRetriever(idx, &mockEmbedder{})

	results, err := r.Search(context.Background(), "u@x.com", "emails from alice", 15, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if capturedTopK != 300 {
		t.Errorf("pool topK = %d, want 300", capturedTopK)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for _, res := range results {
		if !SenderMatches(res.Metadata.Sender, "alice") {
			t.Errorf("non-matching sender survived: %q", res.Metadata.Sender)
		}
	}
	if results[0].Metadata.MessageID != 1 {
		t.Errorf("first = %d, want newest alice message 1", results[0].Metadata.MessageID)
	}
}

func TestSearch_CachesResults(t *testing.T) {
	emb := &mockEmbedder{}
	queries := 0
	idx := &mockIndex{
		countFunc: func(ctx context.Context, u string) (int, error) { return 5, nil },
		queryFunc: func(ctx context.Context, u string, e []float32, k int32) ([]vectorstore.QueryResult, error) {
			queries++
			return []vectorstore.QueryResult{chunkHit(1, 0, "a@x.com", 1, 0.5, "doc")}, nil
		},
	}
	r := newTestRetriever(idx, emb)

	for range 3 {
		if _, err := r.Search(context.Background(), "u@x.com", "q", 15, ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if queries != 1 {
		t.Errorf("vector queries = %d, want 1 (cached)", queries)
	}
	if emb.calls != 1 {
		t.Errorf("embedding calls = %d, want 1", emb.calls)
	}
}

func TestSearch_ExpandsQueryForEmbedding(t *testing.T) {
	emb := &mockEmbedder{}
	idx := &mockIndex{
		countFunc: func(ctx context.Context, u string) (int, error) { return 1, nil },
	}
	r := newTestRetriever(idx, emb)

	if _, err := r.Search(context.Background(), "u@x.com", "urgent items", 15, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emb.lastText != "urgent items asap immediate critical" {
		t.Errorf("embedded text = %q", emb.lastText)
	}
}

func TestStats(t *testing.T) {
	idx := &mockIndex{
		listFunc: func(ctx context.Context, u string) ([]string, error) {
			return []string{"1_0", "1_1", "2_0"}, nil
		},
	}
	r := newTestRetriever(idx, &mockEmbedder{})

	stats, err := r.Stats(context.Background(), "u@x.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.IndexedEmails != 2 {
		t.Errorf("IndexedEmails = %d, want 2", stats.IndexedEmails)
	}
	if stats.TotalChunks != 3 {
		t.Errorf("TotalChunks = %d, want 3", stats.TotalChunks)
	}
	if !stats.Ready {
		t.Error("Ready = false, want true")
	}
}

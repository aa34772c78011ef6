// Package retrieval implements hybrid dense + lexical retrieval over a
// user's indexed inbox.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/mailwise/inboxrag/internal/bedrock"
	"github.com/mailwise/inboxrag/internal/querycache"
	"github.com/mailwise/inboxrag/internal/vectorstore"
)

const (
	// senderPoolSize caps the candidate pool for sender-filtered queries.
	senderPoolSize = 300
	// senderResultCap caps results returned for sender-filtered queries.
	senderResultCap = 50
	// LabelFilter is the only label whose messages are indexed.
	LabelFilter = "INBOX"
)

// Result is one retrieved message: the best-scoring chunk per message.
type Result struct {
	Text        string
	Metadata    vectorstore.ChunkMetadata
	HybridScore float64
	Timestamp   float64
}

// VectorIndex is the slice of the vector store contract the retriever uses.
type VectorIndex interface {
	Count(ctx context.Context, userEmail string) (int, error)
	ListKeys(ctx context.Context, userEmail string) ([]string, error)
	Query(ctx context.Context, userEmail string, embedding []float32, topK int32) ([]vectorstore.QueryResult, error)
}

// Retriever scores and ranks inbox chunks for a query.
type Retriever struct {
	vectors  VectorIndex
	embedder bedrock.Embedder
	cache    *querycache.Cache[[]Result]
	log      *slog.Logger
}

// New creates a Retriever.
func New(vectors VectorIndex, embedder bedrock.Embedder, cache *querycache.Cache[[]Result], log *slog.Logger) *Retriever {
	return &Retriever{vectors: vectors, embedder: embedder, cache: cache, log: log}
}

// Cache exposes the underlying query cache for invalidation and stats.
func (r *Retriever) Cache() *querycache.Cache[[]Result] {
	return r.cache
}

// Search runs the hybrid retrieval pipeline: cache lookup, query expansion,
// dense recall, per-chunk scoring, sender filtering, per-message dedup and
// newest-first ordering.
func (r *Retriever) Search(ctx context.Context, userEmail, query string, topK int, senderFilter string) ([]Result, error) {
	ctx, span := otel.Tracer("inboxrag").Start(ctx, "retrieval.Search")
	defer span.End()

	cacheKey := querycache.Key(userEmail, query, senderFilter)
	if cached, ok := r.cache.Get(cacheKey); ok {
		r.log.DebugContext(ctx, "Returning cached retrieval result",
			slog.String("user", userEmail))
		return cached, nil
	}

	pool, err := r.vectors.Count(ctx, userEmail)
	if err != nil {
		return nil, fmt.Errorf("count vectors: %w", err)
	}
	if pool == 0 {
		return nil, nil
	}

	expanded := ExpandQuery(query)
	embedding, err := r.embedder.GenerateEmbedding(ctx, expanded)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	nResults := min(3*topK, pool)
	if senderFilter != "" {
		nResults = min(senderPoolSize, pool)
	}

	hits, err := r.vectors.Query(ctx, userEmail, embedding, int32(nResults))
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}

	queryKeywords := keywordSet(query)
	matched, skipped := 0, 0
	var scored []Result

	for _, hit := range hits {
		if senderFilter != "" {
			if !SenderMatches(hit.Metadata.Sender, senderFilter) {
				skipped++
				continue
			}
			matched++
		}

		semantic := max(0.0, 1.0-float64(hit.Distance))
		keyword := keywordScore(queryKeywords, hit.Document, hit.Metadata)

		var urgencyBoost, deadlineBoost float64
		if hit.Metadata.IsUrgent {
			urgencyBoost = 0.10
		}
		if hit.Metadata.HasDeadline {
			deadlineBoost = 0.10
		}

		var hybrid float64
		if senderFilter != "" {
			hybrid = 0.40*semantic + 0.40*keyword + urgencyBoost + deadlineBoost
		} else {
			hybrid = 0.35*semantic + 0.45*keyword + urgencyBoost + deadlineBoost
		}

		scored = append(scored, Result{
			Text:        hit.Document,
			Metadata:    hit.Metadata,
			HybridScore: hybrid,
			Timestamp:   hit.Metadata.Timestamp,
		})
	}

	if senderFilter != "" {
		r.log.InfoContext(ctx, "Sender filter applied",
			slog.String("sender", senderFilter),
			slog.Int("matched", matched),
			slog.Int("skipped", skipped))
		if matched == 0 {
			r.log.WarnContext(ctx, "No chunks matched sender filter",
				slog.String("sender", senderFilter))
		}
	}

	// Dedup to message granularity: keep the best-scoring chunk per message.
	best := make(map[int64]Result)
	for _, res := range scored {
		id := res.Metadata.MessageID
		if prev, ok := best[id]; !ok || res.HybridScore > prev.HybridScore {
			best[id] = res
		}
	}

	unique := make([]Result, 0, len(best))
	for _, res := range best {
		unique = append(unique, res)
	}
	sort.Slice(unique, func(i, j int) bool {
		if unique[i].Timestamp != unique[j].Timestamp {
			return unique[i].Timestamp > unique[j].Timestamp
		}
		return unique[i].HybridScore > unique[j].HybridScore
	})

	limit := topK
	if senderFilter != "" {
		limit = senderResultCap
	}
	if len(unique) > limit {
		unique = unique[:limit]
	}

	r.cache.Set(cacheKey, unique)
	return unique, nil
}

// Stats summarizes the user's index for status reporting.
type Stats struct {
	IndexedEmails   int
	TotalChunks     int
	CacheSize       int
	CacheTTLSeconds int
	Ready           bool
}

// Stats computes index statistics from the vector namespace.
func (r *Retriever) Stats(ctx context.Context, userEmail string) (Stats, error) {
	keys, err := r.vectors.ListKeys(ctx, userEmail)
	if err != nil {
		return Stats{}, fmt.Errorf("list keys: %w", err)
	}

	uniqueMessages := make(map[string]bool)
	for _, key := range keys {
		if id, _, ok := strings.Cut(key, "_"); ok {
			uniqueMessages[id] = true
		}
	}

	return Stats{
		IndexedEmails:   len(uniqueMessages),
		TotalChunks:     len(keys),
		CacheSize:       r.cache.Len(),
		CacheTTLSeconds: int(r.cache.TTL().Seconds()),
		Ready:           len(keys) > 0,
	}, nil
}

// keywordSet splits a query into its distinct lowercase keywords.
func keywordSet(query string) []string {
	seen := make(map[string]bool)
	var keywords []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if !seen[w] {
			seen[w] = true
			keywords = append(keywords, w)
		}
	}
	return keywords
}

// keywordScore is the fraction of query keywords substring-present in the
// document, sender or subject.
func keywordScore(keywords []string, document string, meta vectorstore.ChunkMetadata) float64 {
	if len(keywords) == 0 {
		return 0
	}
	docLower := strings.ToLower(document)
	senderLower := strings.ToLower(meta.Sender)
	subjectLower := strings.ToLower(meta.Subject)

	matches := 0
	for _, kw := range keywords {
		if strings.Contains(docLower, kw) || strings.Contains(senderLower, kw) || strings.Contains(subjectLower, kw) {
			matches++
		}
	}
	return min(1.0, float64(matches)/float64(len(keywords)))
}

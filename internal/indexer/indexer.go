// Package indexer builds and maintains the per-user vector index of inbox
// messages.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"
	"github.com/mailwise/inboxrag/internal/bedrock"
	"github.com/mailwise/inboxrag/internal/store"
	"github.com/mailwise/inboxrag/internal/vectorstore"
)

const (
	// pageSize is the message page size when reading from the store.
	pageSize = 200
	// messageBatchSize is the number of messages handled per producer task.
	messageBatchSize = 50
	// producerLimit bounds parallel chunk producers during one index pass.
	producerLimit = 4
	// embedBatchSize is the number of chunks embedded per batch.
	embedBatchSize = 64
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusWarning = "warning"
)

// Result describes the outcome of one index pass.
type Result struct {
	Status     string
	Message    string
	EmailCount int
	NewEmails  int
	Elapsed    time.Duration
}

// MessagePager pages a user's INBOX messages newest first.
type MessagePager interface {
	ListInbox(ctx context.Context, userID uuid.UUID, limit, offset int) ([]store.Message, error)
}

// CacheClearer invalidates the query cache after new chunks are stored.
type CacheClearer interface {
	Clear()
}

// Indexer performs index passes for individual users.
type Indexer struct {
	messages  MessagePager
	vectors   vectorstore.Store
	embedder  bedrock.Embedder
	cache     CacheClearer
	chunkSize int
	log       *slog.Logger
	now       func() time.Time
}

// New creates an Indexer.
func New(messages MessagePager, vectors vectorstore.Store, embedder bedrock.Embedder, cache CacheClearer, chunkSize int, log *slog.Logger) *Indexer {
	return &Indexer{
		messages:  messages,
		vectors:   vectors,
		embedder:  embedder,
		cache:     cache,
		chunkSize: chunkSize,
		log:       log,
		now:       time.Now,
	}
}

// IndexUser indexes every stored INBOX message of the user that is not yet
// in the vector namespace, then clears the query cache. It is safe to call
// repeatedly; already-indexed messages are skipped.
func (ix *Indexer) IndexUser(ctx context.Context, user store.User) (*Result, error) {
	ctx, span := otel.Tracer("inboxrag").Start(ctx, "indexer.IndexUser")
	defer span.End()

	start := ix.now()
	ix.log.InfoContext(ctx, "Indexing inbox", slog.String("user", user.Email))

	var all []store.Message
	for offset := 0; ; offset += pageSize {
		batch, err := ix.messages.ListInbox(ctx, user.ID, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list inbox page at %d: %w", offset, err)
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
	}

	if len(all) == 0 {
		return &Result{Status: StatusWarning, Message: "No INBOX emails found"}, nil
	}

	if err := ix.vectors.EnsureIndex(ctx, user.Email); err != nil {
		return nil, fmt.Errorf("ensure index: %w", err)
	}

	existing, err := ix.indexedMessageIDs(ctx, user.Email)
	if err != nil {
		return nil, fmt.Errorf("read indexed set: %w", err)
	}

	var newMsgs []store.Message
	for _, msg := range all {
		if !existing[strconv.FormatInt(msg.ID, 10)] {
			newMsgs = append(newMsgs, msg)
		}
	}

	if len(newMsgs) == 0 {
		elapsed := ix.now().Sub(start)
		return &Result{
			Status:     StatusSuccess,
			Message:    "All INBOX emails already indexed",
			EmailCount: len(all),
			Elapsed:    elapsed,
		}, nil
	}

	ix.log.InfoContext(ctx, "Indexing new inbox messages",
		slog.String("user", user.Email),
		slog.Int("new", len(newMsgs)),
		slog.Int("total", len(all)))

	chunks, err := ix.buildAllChunks(ctx, newMsgs)
	if err != nil {
		return nil, err
	}

	if err := ix.embedChunks(ctx, chunks); err != nil {
		return nil, err
	}

	if err := ix.vectors.PutChunks(ctx, user.Email, chunks); err != nil {
		return nil, fmt.Errorf("store chunks: %w", err)
	}

	// New chunks are live: any cached retrieval result may now be stale.
	ix.cache.Clear()

	elapsed := ix.now().Sub(start)
	ix.log.InfoContext(ctx, "Index pass complete",
		slog.String("user", user.Email),
		slog.Int("new_emails", len(newMsgs)),
		slog.Int("chunks", len(chunks)),
		slog.Duration("elapsed", elapsed))

	return &Result{
		Status:     StatusSuccess,
		Message:    fmt.Sprintf("Indexed %d INBOX emails in %.1fs", len(newMsgs), elapsed.Seconds()),
		EmailCount: len(existing) + len(newMsgs),
		NewEmails:  len(newMsgs),
		Elapsed:    elapsed,
	}, nil
}

// indexedMessageIDs derives the set of already-indexed message ids from the
// chunk keys in the vector namespace.
func (ix *Indexer) indexedMessageIDs(ctx context.Context, userEmail string) (map[string]bool, error) {
	keys, err := ix.vectors.ListKeys(ctx, userEmail)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(keys))
	for _, key := range keys {
		if id, _, ok := strings.Cut(key, "_"); ok {
			ids[id] = true
		}
	}
	return ids, nil
}

// buildAllChunks chunks messages in batches across bounded parallel
// producers.
func (ix *Indexer) buildAllChunks(ctx context.Context, msgs []store.Message) ([]vectorstore.Chunk, error) {
	now := ix.now()

	var mu sync.Mutex
	var chunks []vectorstore.Chunk

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(producerLimit)

	for start := 0; start < len(msgs); start += messageBatchSize {
		batch := msgs[start:min(start+messageBatchSize, len(msgs))]
		g.Go(func() error {
			var produced []vectorstore.Chunk
			for _, msg := range batch {
				if err := ctx.Err(); err != nil {
					return err
				}
				produced = append(produced, buildChunks(msg, ix.chunkSize, now, ix.log)...)
			}
			mu.Lock()
			chunks = append(chunks, produced...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build chunks: %w", err)
	}
	return chunks, nil
}

// embedChunks fills in chunk embeddings, batching the model calls.
func (ix *Indexer) embedChunks(ctx context.Context, chunks []vectorstore.Chunk) error {
	for start := 0; start < len(chunks); start += embedBatchSize {
		batch := chunks[start:min(start+embedBatchSize, len(chunks))]

		g, ctx := errgroup.WithContext(ctx)
		for i := range batch {
			g.Go(func() error {
				embedding, err := ix.embedder.GenerateEmbedding(ctx, batch[i].Document)
				if err != nil {
					return fmt.Errorf("embed chunk %s: %w", batch[i].Key, err)
				}
				batch[i].Embedding = embedding
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

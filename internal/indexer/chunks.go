package indexer

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mailwise/inboxrag/internal/store"
	"github.com/mailwise/inboxrag/internal/vectorstore"
)

// buildChunks turns one message into its indexable chunks. Every chunk of a
// message carries identical metadata except ChunkIndex. Embeddings are
// filled in later.
func buildChunks(msg store.Message, chunkSize int, now time.Time, log *slog.Logger) []vectorstore.Chunk {
	body := msg.Body
	if body == "" {
		body = msg.Snippet
	}

	date := msg.Date
	if date.IsZero() {
		log.Warn("Message has no date, falling back to current time",
			slog.Int64("message_id", msg.ID))
		date = now
	}

	text := fmt.Sprintf("FROM: %s\nSUBJECT: %s\nDATE: %s\n\n%s",
		msg.Sender, msg.Subject, date.Format(time.RFC3339), body)

	deadlineDate := ""
	if deadline, ok := ExtractDeadline(text, now); ok {
		deadlineDate = deadline.Format(time.RFC3339)
	}

	meta := vectorstore.ChunkMetadata{
		MessageID:    msg.ID,
		Sender:       orDefault(msg.Sender, "Unknown"),
		Subject:      orDefault(msg.Subject, "No Subject"),
		Date:         date.Format(time.RFC3339),
		Timestamp:    float64(date.Unix()),
		IsRead:       msg.IsRead,
		IsUrgent:     IsUrgent(text),
		HasDeadline:  HasDeadline(text),
		DeadlineDate: deadlineDate,
	}

	// Chunk size counts characters, not bytes: slicing runes keeps multibyte
	// content on one chunk up to the boundary and never splits mid-rune.
	runes := []rune(text)
	var chunks []vectorstore.Chunk
	for start, idx := 0, 0; start < len(runes); start, idx = start+chunkSize, idx+1 {
		end := min(start+chunkSize, len(runes))
		chunkMeta := meta
		chunkMeta.ChunkIndex = idx
		chunks = append(chunks, vectorstore.Chunk{
			Key:      fmt.Sprintf("%d_%d", msg.ID, idx),
			Document: string(runes[start:end]),
			Metadata: chunkMeta,
		})
	}
	return chunks
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

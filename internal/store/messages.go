package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Message is a stored mailbox message.
type Message struct {
	ID                int64
	UserID            uuid.UUID
	ProviderMessageID string
	Sender            string
	Subject           string
	Snippet           string
	Body              string
	Date              time.Time // zero when the provider supplied no date
	Labels            []string
	IsRead            bool
}

// HasLabel reports whether the message carries the given label.
func (m Message) HasLabel(label string) bool {
	for _, l := range m.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Messages persists message rows.
type Messages struct {
	pool *pgxpool.Pool
}

const messageColumns = `id, user_id, provider_message_id, sender, subject, snippet, body, date, labels, is_read`

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	var date *time.Time
	err := row.Scan(&m.ID, &m.UserID, &m.ProviderMessageID, &m.Sender, &m.Subject,
		&m.Snippet, &m.Body, &date, &m.Labels, &m.IsRead)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("scan message: %w", err)
	}
	if date != nil {
		m.Date = *date
	}
	return m, nil
}

// Insert stores a message if it is not already present for the user.
// Returns false when the (user, provider message id) pair already exists.
func (r *Messages) Insert(ctx context.Context, m Message) (bool, error) {
	var date *time.Time
	if !m.Date.IsZero() {
		date = &m.Date
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO messages (user_id, provider_message_id, sender, subject, snippet, body, date, labels, is_read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, provider_message_id) DO NOTHING`,
		m.UserID, m.ProviderMessageID, m.Sender, m.Subject, m.Snippet, m.Body, date, m.Labels, m.IsRead)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Exists reports whether the provider message is already stored for the user.
func (r *Messages) Exists(ctx context.Context, userID uuid.UUID, providerMessageID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE user_id = $1 AND provider_message_id = $2)`,
		userID, providerMessageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("message exists: %w", err)
	}
	return exists, nil
}

// LatestDate returns the most recent stored message date for the user.
// ok is false when the user has no dated messages.
func (r *Messages) LatestDate(ctx context.Context, userID uuid.UUID) (time.Time, bool, error) {
	var date *time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT max(date) FROM messages WHERE user_id = $1`, userID).Scan(&date)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest date: %w", err)
	}
	if date == nil {
		return time.Time{}, false, nil
	}
	return *date, true, nil
}

// ListInbox pages through the user's INBOX messages, newest first.
func (r *Messages) ListInbox(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE user_id = $1 AND labels @> ARRAY['INBOX']
		ORDER BY date DESC NULLS LAST
		LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	return collectMessages(rows)
}

// List returns the user's most recent messages regardless of label.
func (r *Messages) List(ctx context.Context, userID uuid.UUID, limit int) ([]Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE user_id = $1
		ORDER BY date DESC NULLS LAST
		LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()
	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetByProviderID fetches a single message by its provider id.
func (r *Messages) GetByProviderID(ctx context.Context, userID uuid.UUID, providerMessageID string) (Message, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE user_id = $1 AND provider_message_id = $2`,
		userID, providerMessageID)
	return scanMessage(row)
}

// SetRead updates the local read flag for a message.
func (r *Messages) SetRead(ctx context.Context, userID uuid.UUID, providerMessageID string, read bool) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET is_read = $3 WHERE user_id = $1 AND provider_message_id = $2`,
		userID, providerMessageID, read)
	if err != nil {
		return fmt.Errorf("set read: %w", err)
	}
	return nil
}

// UpdateBody replaces a stored message body fetched on demand.
func (r *Messages) UpdateBody(ctx context.Context, userID uuid.UUID, providerMessageID, body string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET body = $3 WHERE user_id = $1 AND provider_message_id = $2`,
		userID, providerMessageID, body)
	if err != nil {
		return fmt.Errorf("update body: %w", err)
	}
	return nil
}

// Counts returns total, unread and read message counts for the user.
func (r *Messages) Counts(ctx context.Context, userID uuid.UUID) (total, unread, read int, err error) {
	err = r.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE NOT is_read),
		       count(*) FILTER (WHERE is_read)
		FROM messages WHERE user_id = $1`, userID).Scan(&total, &unread, &read)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("count messages: %w", err)
	}
	return total, unread, read, nil
}

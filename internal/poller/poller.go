// Package poller continuously ingests provider messages into the relational
// store, one polling task per authenticated user.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mailwise/inboxrag/internal/gmail"
	"github.com/mailwise/inboxrag/internal/store"
)

const (
	// pollMax caps the list query of a regular polling cycle.
	pollMax = 100
	// initialSyncMax caps the list query of a user's first sync.
	initialSyncMax = 500
)

// Provider is the mail-provider surface one polling task consumes.
type Provider interface {
	ListInboxMessageIDs(ctx context.Context, after time.Time, max int64) ([]string, error)
	GetMessage(ctx context.Context, id string) (*gmail.Message, error)
}

// ProviderFactory builds an authenticated provider client for a user.
type ProviderFactory func(ctx context.Context, user store.User) (Provider, error)

// MessageWriter is the persistence surface the poller writes through.
type MessageWriter interface {
	LatestDate(ctx context.Context, userID uuid.UUID) (time.Time, bool, error)
	Exists(ctx context.Context, userID uuid.UUID, providerMessageID string) (bool, error)
	Insert(ctx context.Context, m store.Message) (bool, error)
}

// IndexRequester enqueues a user for re-indexing after new messages land.
type IndexRequester interface {
	RequestIndex(user store.User) error
}

// Runner owns the per-user polling tasks.
type Runner struct {
	interval  time.Duration
	factory   ProviderFactory
	messages  MessageWriter
	lifecycle IndexRequester
	log       *slog.Logger

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner creates a Runner.
func NewRunner(factory ProviderFactory, messages MessageWriter, lifecycle IndexRequester, interval time.Duration, log *slog.Logger) *Runner {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Runner{
		interval:  interval,
		factory:   factory,
		messages:  messages,
		lifecycle: lifecycle,
		log:       log,
		cancels:   make(map[uuid.UUID]context.CancelFunc),
	}
}

// Watch starts a polling task for the user. A user already being watched is
// left untouched.
func (r *Runner) Watch(ctx context.Context, user store.User) {
	r.mu.Lock()
	if _, ok := r.cancels[user.ID]; ok {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancels[user.ID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go r.poll(ctx, user)
	r.log.Info("Started mail poller", slog.String("user", user.Email))
}

// Unwatch cancels the user's polling task, e.g. on logout or token loss.
func (r *Runner) Unwatch(userID uuid.UUID) {
	r.mu.Lock()
	cancel, ok := r.cancels[userID]
	if ok {
		delete(r.cancels, userID)
	}
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// Close cancels every polling task and waits for them to exit.
func (r *Runner) Close() {
	r.mu.Lock()
	for id, cancel := range r.cancels {
		cancel()
		delete(r.cancels, id)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// poll runs one user's cycle loop: an immediate cycle, then one per
// interval. A failed cycle is logged and retried next tick; the task never
// aborts on error.
func (r *Runner) poll(ctx context.Context, user store.User) {
	defer r.wg.Done()

	var provider Provider

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if provider == nil {
			var err error
			provider, err = r.factory(ctx, user)
			if err != nil {
				r.log.ErrorContext(ctx, "Mail provider unavailable",
					slog.String("user", user.Email),
					slog.String("error", err.Error()))
			}
		}

		if provider != nil {
			newCount, err := r.cycle(ctx, provider, user)
			if err != nil {
				r.log.ErrorContext(ctx, "Poll cycle failed",
					slog.String("user", user.Email),
					slog.String("error", err.Error()))
			} else if newCount > 0 {
				r.log.InfoContext(ctx, "Fetched new messages",
					slog.String("user", user.Email),
					slog.Int("new", newCount))
				if err := r.lifecycle.RequestIndex(user); err != nil {
					r.log.WarnContext(ctx, "Could not queue re-index",
						slog.String("user", user.Email),
						slog.String("error", err.Error()))
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// cycle fetches and persists messages the store has not seen. Delivery is
// at-least-once; the (user, provider message id) uniqueness makes it
// idempotent.
func (r *Runner) cycle(ctx context.Context, provider Provider, user store.User) (int, error) {
	watermark, hasWatermark, err := r.messages.LatestDate(ctx, user.ID)
	if err != nil {
		return 0, fmt.Errorf("read watermark: %w", err)
	}

	var after time.Time
	max := int64(initialSyncMax)
	if hasWatermark {
		after = watermark
		max = pollMax
	}

	ids, err := provider.ListInboxMessageIDs(ctx, after, max)
	if err != nil {
		return 0, fmt.Errorf("list inbox: %w", err)
	}

	newCount := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return newCount, err
		}

		exists, err := r.messages.Exists(ctx, user.ID, id)
		if err != nil {
			return newCount, fmt.Errorf("check message %s: %w", id, err)
		}
		if exists {
			continue
		}

		msg, err := provider.GetMessage(ctx, id)
		if err != nil {
			return newCount, fmt.Errorf("fetch message %s: %w", id, err)
		}

		// The label-id list filter is necessary but not sufficient.
		if !msg.HasLabel(gmail.LabelInbox) {
			r.log.DebugContext(ctx, "Skipping non-inbox message",
				slog.String("provider_id", id))
			continue
		}

		inserted, err := r.messages.Insert(ctx, store.Message{
			UserID:            user.ID,
			ProviderMessageID: msg.ProviderID,
			Sender:            msg.Sender,
			Subject:           msg.Subject,
			Snippet:           msg.Snippet,
			Body:              msg.Body,
			Date:              msg.Date,
			Labels:            msg.Labels,
			IsRead:            msg.IsRead,
		})
		if err != nil {
			return newCount, fmt.Errorf("save message %s: %w", id, err)
		}
		if inserted {
			newCount++
		}
	}
	return newCount, nil
}

// Package lifecycle serializes per-user indexing behind a state machine and
// a single background worker.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mailwise/inboxrag/internal/indexer"
	"github.com/mailwise/inboxrag/internal/retrieval"
	"github.com/mailwise/inboxrag/internal/store"
)

// Status is the per-user index lifecycle state.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusIndexing    Status = "indexing"
	StatusReady       Status = "ready"
	StatusError       Status = "error"
	StatusRateLimited Status = "rate_limited"
)

// ErrStopped is returned by RequestIndex after the manager has stopped.
var ErrStopped = errors.New("lifecycle: manager stopped")

// IndexState is the mutable per-user indexing state. Mutated only by the
// manager, under its lock.
type IndexState struct {
	Status        Status
	Attempt       int
	StartedAt     time.Time
	LastIndexedAt time.Time
	EmailsIndexed int
	NewEmails     int
	IndexDuration time.Duration
	Message       string
	LastError     string
}

// Indexer runs one index pass for a user.
type Indexer interface {
	IndexUser(ctx context.Context, user store.User) (*indexer.Result, error)
}

// StatsSource reports vector-index statistics for status merging.
type StatsSource interface {
	Stats(ctx context.Context, userEmail string) (retrieval.Stats, error)
}

// RateLimitGauge reports whether the LLM gate is inside its cooldown.
type RateLimitGauge interface {
	RateLimited() bool
}

// Config holds manager tunables.
type Config struct {
	ReindexInterval time.Duration
	RetryDelay      time.Duration
	MaxRetries      int
	StartupDelay    time.Duration
	StopTimeout     time.Duration
}

// Manager owns the per-user index state machine, the pending set and the
// background worker that drains it.
type Manager struct {
	cfg     Config
	indexer Indexer
	stats   StatsSource
	gauge   RateLimitGauge
	log     *slog.Logger

	mu      sync.Mutex
	states  map[string]*IndexState
	pending map[string]store.User
	users   map[string]store.User
	running bool

	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}
}

// New creates a Manager. Zero config fields fall back to defaults.
func New(ix Indexer, stats StatsSource, gauge RateLimitGauge, cfg Config, log *slog.Logger) *Manager {
	if cfg.ReindexInterval <= 0 {
		cfg.ReindexInterval = 5 * time.Minute
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.StartupDelay <= 0 {
		cfg.StartupDelay = 3 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	return &Manager{
		cfg:     cfg,
		indexer: ix,
		stats:   stats,
		gauge:   gauge,
		log:     log,
		states:  make(map[string]*IndexState),
		pending: make(map[string]store.User),
		users:   make(map[string]store.User),
		wake:    make(chan struct{}, 1),
	}
}

// Start launches the background worker. Idempotent.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		m.log.Info("Index worker already running")
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.running = true
	go m.run(ctx)
	m.log.Info("Index worker started")
}

// Stop signals the worker and waits a bounded time for it to exit. An
// in-flight index pass completes its current attempt but skips retries.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	select {
	case <-done:
		m.log.Info("Index worker stopped")
	case <-time.After(m.cfg.StopTimeout):
		m.log.Warn("Index worker did not stop in time")
	}
}

// Running reports whether the background worker is alive.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// RequestIndex queues a user for (re)indexing. Never blocks; fails only when
// the manager is stopped. An explicit request clears a prior error state.
func (m *Manager) RequestIndex(user store.User) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrStopped
	}
	m.pending[user.Email] = user
	m.users[user.Email] = user
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}

	m.log.Info("Queued index request", slog.String("user", user.Email))
	return nil
}

// StateOf returns the stored lifecycle status for a user.
func (m *Manager) StateOf(userEmail string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.states[userEmail]; ok {
		return state.Status
	}
	return StatusIdle
}

// IsReady reports whether the user's index is ready to serve.
func (m *Manager) IsReady(userEmail string) bool {
	return m.StateOf(userEmail) == StatusReady
}

// StatusReport is the merged per-user status served over HTTP.
type StatusReport struct {
	Status          Status  `json:"status"`
	IsReady         bool    `json:"is_ready"`
	IsIndexing      bool    `json:"is_indexing"`
	Attempt         int     `json:"attempt,omitempty"`
	LastIndexedAt   string  `json:"last_indexed_at,omitempty"`
	EmailsIndexed   int     `json:"emails_indexed"`
	NewEmails       int     `json:"new_emails"`
	IndexSeconds    float64 `json:"index_time_seconds,omitempty"`
	Message         string  `json:"message,omitempty"`
	LastError       string  `json:"last_error,omitempty"`
	IndexedEmails   int     `json:"indexed_emails"`
	TotalChunks     int     `json:"total_chunks"`
	CacheSize       int     `json:"cache_size"`
	CacheTTLSeconds int     `json:"cache_ttl_seconds"`
	RateLimited     bool    `json:"rate_limited"`
	LabelFilter     string  `json:"label_filter"`
}

// Status returns the user's lifecycle state merged with vector-store stats.
// Safe under concurrent mutation. While the LLM gate is inside its cooldown
// the reported status is rate_limited; the stored state is untouched, so the
// condition clears on cooldown expiry.
func (m *Manager) Status(ctx context.Context, userEmail string) StatusReport {
	m.mu.Lock()
	state := IndexState{Status: StatusIdle}
	if s, ok := m.states[userEmail]; ok {
		state = *s
	}
	m.mu.Unlock()

	report := StatusReport{
		Status:        state.Status,
		IsReady:       state.Status == StatusReady,
		IsIndexing:    state.Status == StatusIndexing,
		Attempt:       state.Attempt,
		EmailsIndexed: state.EmailsIndexed,
		NewEmails:     state.NewEmails,
		IndexSeconds:  state.IndexDuration.Seconds(),
		Message:       state.Message,
		LastError:     state.LastError,
		LabelFilter:   retrieval.LabelFilter,
	}
	if !state.LastIndexedAt.IsZero() {
		report.LastIndexedAt = state.LastIndexedAt.UTC().Format(time.RFC3339)
	}

	if stats, err := m.stats.Stats(ctx, userEmail); err == nil {
		report.IndexedEmails = stats.IndexedEmails
		report.TotalChunks = stats.TotalChunks
		report.CacheSize = stats.CacheSize
		report.CacheTTLSeconds = stats.CacheTTLSeconds
	} else {
		m.log.WarnContext(ctx, "Stats unavailable",
			slog.String("user", userEmail), slog.String("error", err.Error()))
	}

	if m.gauge.RateLimited() {
		report.RateLimited = true
		report.Status = StatusRateLimited
	}
	return report
}

// run is the worker loop: drain the pending set, sweep ready users, wait out
// the reindex interval.
func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	if !m.sleep(ctx, m.cfg.StartupDelay) {
		return
	}

	for {
		for _, user := range m.drainPending() {
			if ctx.Err() != nil {
				return
			}
			m.indexWithRetry(ctx, user)
		}

		// Periodic sweep: only users already ready are re-enqueued.
		for _, user := range m.readyUsers() {
			m.mu.Lock()
			m.pending[user.Email] = user
			m.mu.Unlock()
		}

		if !m.waitCycle(ctx) {
			return
		}
	}
}

// drainPending snapshots and clears the pending set under the lock.
func (m *Manager) drainPending() []store.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	// A wake signal left by a request that is drained here is spent.
	select {
	case <-m.wake:
	default:
	}
	users := make([]store.User, 0, len(m.pending))
	for _, user := range m.pending {
		users = append(users, user)
	}
	m.pending = make(map[string]store.User)
	return users
}

// readyUsers snapshots the known users whose state is ready. The lock is
// released before any of them is indexed.
func (m *Manager) readyUsers() []store.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	var users []store.User
	for email, user := range m.users {
		if state, ok := m.states[email]; ok && state.Status == StatusReady {
			users = append(users, user)
		}
	}
	return users
}

// indexWithRetry runs one index pass with linear-backoff retries. Exhausting
// the retry budget parks the user in the error state; the system stays
// available on the degraded path.
func (m *Manager) indexWithRetry(ctx context.Context, user store.User) {
	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return
		}

		m.setState(user.Email, IndexState{
			Status:    StatusIndexing,
			Attempt:   attempt,
			StartedAt: time.Now(),
		})

		result, err := m.indexer.IndexUser(ctx, user)
		if err == nil {
			m.setState(user.Email, IndexState{
				Status:        StatusReady,
				LastIndexedAt: time.Now(),
				EmailsIndexed: result.EmailCount,
				NewEmails:     result.NewEmails,
				IndexDuration: result.Elapsed,
				Message:       result.Message,
			})
			m.log.InfoContext(ctx, "Index pass done",
				slog.String("user", user.Email),
				slog.String("message", result.Message))
			return
		}

		m.log.ErrorContext(ctx, "Index attempt failed",
			slog.String("user", user.Email),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", m.cfg.MaxRetries),
			slog.String("error", err.Error()))

		if attempt < m.cfg.MaxRetries {
			backoff := m.cfg.RetryDelay * time.Duration(attempt)
			if !m.sleep(ctx, backoff) {
				return
			}
		} else {
			m.setState(user.Email, IndexState{
				Status:    StatusError,
				Attempt:   attempt,
				LastError: err.Error(),
			})
			m.log.ErrorContext(ctx, "Indexing permanently failed, queries degrade to stored index",
				slog.String("user", user.Email))
		}
	}
}

func (m *Manager) setState(userEmail string, state IndexState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[userEmail] = &state
}

// sleep waits d unless the context is cancelled first.
func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// waitCycle waits out the reindex interval, returning early when a new index
// request arrives.
func (m *Manager) waitCycle(ctx context.Context) bool {
	timer := time.NewTimer(m.cfg.ReindexInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-m.wake:
		return true
	}
}

// Package httpapi exposes the engine over a thin JSON HTTP façade.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/mailwise/inboxrag/internal/answer"
	"github.com/mailwise/inboxrag/internal/gmail"
	"github.com/mailwise/inboxrag/internal/lifecycle"
	"github.com/mailwise/inboxrag/internal/store"
)

// UserResolver resolves the bearer token's opaque account id to a user.
type UserResolver interface {
	GetByExternalID(ctx context.Context, externalID string) (store.User, error)
}

// Lifecycle is the index lifecycle surface the handlers consume.
type Lifecycle interface {
	RequestIndex(user store.User) error
	StateOf(userEmail string) lifecycle.Status
	Status(ctx context.Context, userEmail string) lifecycle.StatusReport
	Running() bool
}

// Answerer answers a question against a user's indexed inbox.
type Answerer interface {
	Answer(ctx context.Context, userEmail, question string) (*answer.Response, error)
}

// MessageReader is the message persistence surface the handlers consume.
type MessageReader interface {
	List(ctx context.Context, userID uuid.UUID, limit int) ([]store.Message, error)
	Counts(ctx context.Context, userID uuid.UUID) (total, unread, read int, err error)
	SetRead(ctx context.Context, userID uuid.UUID, providerMessageID string, read bool) error
	UpdateBody(ctx context.Context, userID uuid.UUID, providerMessageID, body string) error
}

// Mailer is the per-user provider surface behind the /email endpoints.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) (string, error)
	MarkRead(ctx context.Context, id string) error
	GetMessage(ctx context.Context, id string) (*gmail.Message, error)
}

// MailerFactory builds an authenticated Mailer for a user.
type MailerFactory func(ctx context.Context, user store.User) (Mailer, error)

// CacheSizer exposes the query cache size for health reporting.
type CacheSizer interface {
	Len() int
}

// Server wires the HTTP handlers to the engine.
type Server struct {
	users     UserResolver
	lifecycle Lifecycle
	answerer  Answerer
	messages  MessageReader
	mailer    MailerFactory
	cache     CacheSizer
	log       *slog.Logger
}

// NewServer creates a Server.
func NewServer(users UserResolver, lc Lifecycle, answerer Answerer, messages MessageReader, mailer MailerFactory, cache CacheSizer, log *slog.Logger) *Server {
	return &Server{
		users:     users,
		lifecycle: lc,
		answerer:  answerer,
		messages:  messages,
		mailer:    mailer,
		cache:     cache,
		log:       log,
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/index", s.handleIndex)
		r.Get("/status", s.handleStatus)
		r.Get("/stats", s.handleStatus)
		r.Get("/admin/status", s.handleAdminStatus)

		r.With(httprate.LimitByIP(20, time.Minute)).Post("/ask", s.handleAsk)

		r.Get("/email/list", s.handleEmailList)
		r.Post("/email/send", s.handleEmailSend)
		r.Get("/email/{id}", s.handleEmailRead)
		r.Post("/email/{id}/read", s.handleEmailMarkRead)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

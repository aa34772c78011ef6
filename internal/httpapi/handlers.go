package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mailwise/inboxrag/internal/lifecycle"
)

// defaultEmailListMax is the /email/list page size when none is given.
const defaultEmailListMax = 10

// handleIndex queues the user for (re)indexing. Non-blocking.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	if err := s.lifecycle.RequestIndex(user); err != nil {
		writeError(w, http.StatusServiceUnavailable, "indexing unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "queued",
		"message": fmt.Sprintf("Indexing queued for %s", user.Email),
	})
}

// handleStatus serves the merged lifecycle status, also used for /stats.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	writeJSON(w, http.StatusOK, s.lifecycle.Status(r.Context(), user.Email))
}

// handleAdminStatus reports database counts alongside the index status.
func (s *Server) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	total, unread, read, err := s.messages.Counts(r.Context(), user.ID)
	if err != nil {
		s.log.ErrorContext(r.Context(), "Count messages failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "database unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user": user.Email,
		"database": map[string]int{
			"total":  total,
			"unread": unread,
			"read":   read,
		},
		"rag": s.lifecycle.Status(r.Context(), user.Email),
	})
}

// handleHealth reports process liveness. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                  "ok",
		"rag_initialized":         true,
		"background_thread_alive": s.lifecycle.Running(),
		"cache_size":              s.cache.Len(),
	})
}

type askRequest struct {
	Question string `json:"question"`
}

// handleAsk answers a question, gated on the user's index lifecycle state.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	switch s.lifecycle.StateOf(user.Email) {
	case lifecycle.StatusIdle:
		if err := s.lifecycle.RequestIndex(user); err != nil {
			writeError(w, http.StatusServiceUnavailable, "indexing unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "indexing",
			"is_ready": false,
			"message":  "Indexing started for your inbox. Ask again in a moment.",
		})
		return

	case lifecycle.StatusIndexing:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "indexing",
			"is_ready": false,
			"message":  "Still indexing your inbox. Ask again in a moment.",
		})
		return

	case lifecycle.StatusError:
		// Answer from whatever is already indexed, flagging the condition.
		resp, err := s.answerer.Answer(r.Context(), user.Email, question)
		if err != nil {
			s.log.ErrorContext(r.Context(), "Answer failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to answer question")
			return
		}
		resp.Answer += "\n\n_Note: indexing previously failed; results may be incomplete._"
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp, err := s.answerer.Answer(r.Context(), user.Email, question)
	if err != nil {
		s.log.ErrorContext(r.Context(), "Answer failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to answer question")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type emailSummary struct {
	ID      string `json:"id"`
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
	Snippet string `json:"snippet"`
	Body    string `json:"body"`
	Date    string `json:"date"`
	IsRead  bool   `json:"is_read"`
}

// handleEmailList returns the user's most recent stored messages.
func (s *Server) handleEmailList(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	maxResults := defaultEmailListMax
	if raw := r.URL.Query().Get("max_results"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid max_results")
			return
		}
		maxResults = parsed
	}

	msgs, err := s.messages.List(r.Context(), user.ID, maxResults)
	if err != nil {
		s.log.ErrorContext(r.Context(), "List messages failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "database unavailable")
		return
	}

	emails := make([]emailSummary, 0, len(msgs))
	for _, m := range msgs {
		date := ""
		if !m.Date.IsZero() {
			date = m.Date.UTC().Format(time.RFC3339)
		}
		emails = append(emails, emailSummary{
			ID:      m.ProviderMessageID,
			Sender:  m.Sender,
			Subject: m.Subject,
			Snippet: m.Snippet,
			Body:    m.Body,
			Date:    date,
			IsRead:  m.IsRead,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"emails": emails,
		"count":  len(emails),
	})
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// handleEmailSend sends a message through the provider.
func (s *Server) handleEmailSend(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := mail.ParseAddress(req.To); err != nil {
		writeError(w, http.StatusBadRequest, "invalid recipient address")
		return
	}

	mailer, err := s.mailer(r.Context(), user)
	if err != nil {
		s.log.ErrorContext(r.Context(), "Mail provider unavailable", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "mail provider unavailable")
		return
	}

	id, err := mailer.Send(r.Context(), req.To, req.Subject, req.Body)
	if err != nil {
		s.log.ErrorContext(r.Context(), "Send failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to send email")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// handleEmailRead fetches a single message body from the provider on demand
// and persists it locally.
func (s *Server) handleEmailRead(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	id := chi.URLParam(r, "id")

	mailer, err := s.mailer(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusBadGateway, "mail provider unavailable")
		return
	}

	msg, err := mailer.GetMessage(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "email not found")
		return
	}

	if err := s.messages.UpdateBody(r.Context(), user.ID, id, msg.Body); err != nil {
		s.log.WarnContext(r.Context(), "Could not persist fetched body",
			slog.String("provider_id", id), slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id, "body": msg.Body})
}

// handleEmailMarkRead marks a message read at the provider and locally.
func (s *Server) handleEmailMarkRead(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	id := chi.URLParam(r, "id")

	mailer, err := s.mailer(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusBadGateway, "mail provider unavailable")
		return
	}
	if err := mailer.MarkRead(r.Context(), id); err != nil {
		writeError(w, http.StatusBadGateway, "failed to mark read")
		return
	}
	if err := s.messages.SetRead(r.Context(), user.ID, id, true); err != nil {
		s.log.WarnContext(r.Context(), "Could not persist read flag",
			slog.String("provider_id", id), slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "id": id})
}

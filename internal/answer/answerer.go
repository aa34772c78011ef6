// Package answer assembles LLM context from retrieved messages and produces
// the final response, degrading deterministically when the model is
// unavailable.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/mailwise/inboxrag/internal/bedrock"
	"github.com/mailwise/inboxrag/internal/retrieval"
)

// Response statuses.
const (
	StatusSuccess     = "success"
	StatusNoResults   = "no_results"
	StatusRateLimited = "rate_limited"
	StatusError       = "error"
)

// Default top-k by question shape.
const (
	topKSender  = 50
	topKListing = 30
	topKDefault = 15
)

// rewriteHistoryWindow is how many history turns feed the rewrite call.
const rewriteHistoryWindow = 4

// chatHistoryWindow is how many history turns accompany the answer call.
const chatHistoryWindow = 10

// backrefTokens mark a question as a follow-up needing rewriting.
var backrefTokens = []string{
	"he", "she", "they", "it", "that", "this", "those",
	"the email", "that email", "when was", "what did he",
	"what did she", "reply", "same",
}

// recencyTokens narrow a sender query to its newest result.
var recencyTokens = []string{"most recent", "latest", "newest", "last"}

// Source is one entry of the response sources array, one per distinct
// message.
type Source struct {
	EmailID     string  `json:"email_id"`
	Sender      string  `json:"sender"`
	Subject     string  `json:"subject"`
	Date        string  `json:"date"`
	Relevance   float64 `json:"relevance"`
	IsUrgent    bool    `json:"is_urgent"`
	HasDeadline bool    `json:"has_deadline"`
	Deadline    string  `json:"deadline"`
	Text        string  `json:"text"`
	Timestamp   float64 `json:"timestamp"`
}

// Response is the answer envelope returned to clients.
type Response struct {
	Answer            string   `json:"answer"`
	Sources           []Source `json:"sources"`
	Question          string   `json:"question"`
	RewrittenQuestion string   `json:"rewritten_question,omitempty"`
	Status            string   `json:"status"`
	EmailsFound       int      `json:"emails_found"`
	MatchedKeywords   []string `json:"matched_keywords"`
}

// Retriever is the retrieval contract the answerer consumes.
type Retriever interface {
	Search(ctx context.Context, userEmail, query string, topK int, senderFilter string) ([]retrieval.Result, error)
}

// Config holds answerer tunables.
type Config struct {
	MaxContextTokens  int
	MaxResponseTokens int
	RateLimitCooldown time.Duration
}

// Answerer runs the question-answering pipeline behind /ask.
type Answerer struct {
	retriever Retriever
	llm       bedrock.Chatter
	history   *History
	cfg       Config
	log       *slog.Logger

	// lastRateLimit is the unix time of the last LLM rate-limit rejection.
	// Single writer (the failing request), many lock-free readers.
	lastRateLimit atomic.Int64

	now func() time.Time
}

// New creates an Answerer.
func New(retriever Retriever, llm bedrock.Chatter, cfg Config, log *slog.Logger) *Answerer {
	return &Answerer{
		retriever: retriever,
		llm:       llm,
		history:   NewHistory(),
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// RateLimited reports whether the LLM gate is inside its cooldown window.
func (a *Answerer) RateLimited() bool {
	last := a.lastRateLimit.Load()
	if last == 0 {
		return false
	}
	return a.now().Sub(time.Unix(last, 0)) < a.cfg.RateLimitCooldown
}

// Answer retrieves relevant messages for the question and generates an
// answer, falling back to a deterministic listing when the model is rate
// limited.
func (a *Answerer) Answer(ctx context.Context, userEmail, question string) (*Response, error) {
	ctx, span := otel.Tracer("inboxrag").Start(ctx, "answer.Answer")
	defer span.End()

	searchQuestion := a.contextualize(ctx, userEmail, question)
	questionLower := strings.ToLower(question)

	senderFilter := retrieval.DetectSender(searchQuestion)
	isSenderQuery := senderFilter != ""

	highlightUrgency := containsAny(questionLower, []string{"urgent", "asap", "critical", "immediate"})
	highlightDeadline := containsAny(questionLower, []string{"deadline", "due"})

	topK := topKDefault
	switch {
	case isSenderQuery:
		topK = topKSender
	case containsAny(questionLower, []string{"all", "list", "show"}):
		topK = topKListing
	}

	a.log.InfoContext(ctx, "Answering question",
		slog.String("user", userEmail),
		slog.String("sender_filter", senderFilter),
		slog.Int("top_k", topK))

	retrieved, err := a.retriever.Search(ctx, userEmail, searchQuestion, topK, senderFilter)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	if len(retrieved) == 0 {
		msg := "No relevant emails found in your inbox."
		if isSenderQuery {
			msg = fmt.Sprintf("No emails found from '%s'. Please check the name or email address and try again.", senderFilter)
		}
		return &Response{
			Answer:          msg,
			Sources:         []Source{},
			Question:        question,
			Status:          StatusNoResults,
			MatchedKeywords: []string{},
		}, nil
	}

	keywords := matchedKeywords(questionLower)
	results := retrieved

	// Narrow to the newest result when explicitly requested.
	if isSenderQuery && containsAny(questionLower, recencyTokens) {
		results = results[:1]
	}

	if a.RateLimited() {
		a.log.WarnContext(ctx, "LLM in cooldown, using fallback answer",
			slog.String("user", userEmail))
		return &Response{
			Answer:            fallbackAnswer(results) + "\n\n_Note: LLM rate limited. Try again later._",
			Sources:           buildSources(results),
			Question:          question,
			RewrittenQuestion: rewrittenOrEmpty(question, searchQuestion),
			Status:            StatusRateLimited,
			EmailsFound:       len(results),
			MatchedKeywords:   keywords,
		}, nil
	}

	now := a.now()
	parts := buildContextParts(results, now)
	parts = trimContextParts(parts, a.cfg.MaxContextTokens*charsPerToken)
	contextBlock := strings.Join(parts, "\n\n")

	turns := a.history.Recent(userEmail, chatHistoryWindow)
	turns = append(turns, bedrock.Turn{Role: "user", Content: userPrompt(contextBlock, question)})

	answerText, err := a.llm.Chat(ctx, bedrock.ChatRequest{
		System:      systemPrompt(len(results), highlightUrgency, highlightDeadline),
		Turns:       turns,
		MaxTokens:   a.cfg.MaxResponseTokens,
		Temperature: 0.05,
	})
	if err != nil {
		if bedrock.IsRateLimit(err) {
			a.log.WarnContext(ctx, "LLM rate limit hit, entering cooldown",
				slog.String("error", err.Error()))
			a.lastRateLimit.Store(now.Unix())
			return &Response{
				Answer:            fallbackAnswer(results) + "\n\n_Note: LLM rate limited. Try again in ~2 hours._",
				Sources:           buildSources(results),
				Question:          question,
				RewrittenQuestion: rewrittenOrEmpty(question, searchQuestion),
				Status:            StatusRateLimited,
				EmailsFound:       len(results),
				MatchedKeywords:   keywords,
			}, nil
		}
		a.log.ErrorContext(ctx, "LLM answer failed", slog.String("error", err.Error()))
		return &Response{
			Answer:          fmt.Sprintf("Error generating answer: %s", err),
			Sources:         []Source{},
			Question:        question,
			Status:          StatusError,
			MatchedKeywords: []string{},
		}, nil
	}

	// History grows only on the successful LLM path.
	a.history.Append(userEmail, "user", question)
	a.history.Append(userEmail, "assistant", answerText)

	return &Response{
		Answer:          answerText,
		Sources:         buildSources(results),
		Question:        question,
		Status:          StatusSuccess,
		EmailsFound:     len(results),
		MatchedKeywords: keywords,
	}, nil
}

// contextualize rewrites a follow-up question into standalone form using the
// conversation history. Failures fall back to the original question.
func (a *Answerer) contextualize(ctx context.Context, userEmail, question string) string {
	turns := a.history.Recent(userEmail, rewriteHistoryWindow)
	if len(turns) == 0 {
		return question
	}
	if !containsAny(strings.ToLower(question), backrefTokens) {
		return question
	}

	var sb strings.Builder
	for _, turn := range turns {
		sb.WriteString(turn.Role)
		sb.WriteString(": ")
		sb.WriteString(turn.Content)
		sb.WriteByte('\n')
	}

	rewritten, err := a.llm.Chat(ctx, bedrock.ChatRequest{
		System: "Rewrite the follow-up question as a standalone question using the conversation history. Return ONLY the rewritten question, nothing else.",
		Turns: []bedrock.Turn{{
			Role: "user",
			Content: fmt.Sprintf("History:\n%s\nFollow-up question: %s\n\nRewritten standalone question:",
				sb.String(), question),
		}},
		MaxTokens: 100,
	})
	if err != nil || rewritten == "" {
		return question
	}

	a.log.InfoContext(ctx, "Query rewritten",
		slog.String("from", question),
		slog.String("to", rewritten))
	return rewritten
}

// buildSources maps results onto the response source records.
func buildSources(results []retrieval.Result) []Source {
	sources := make([]Source, 0, len(results))
	for _, res := range results {
		meta := res.Metadata
		deadline := meta.DeadlineDate
		if deadline == "" {
			deadline = "None"
		}
		sources = append(sources, Source{
			EmailID:     strconv.FormatInt(meta.MessageID, 10),
			Sender:      meta.Sender,
			Subject:     meta.Subject,
			Date:        orUnknown(meta.Date),
			Relevance:   roundTo1(res.HybridScore * 100),
			IsUrgent:    meta.IsUrgent,
			HasDeadline: meta.HasDeadline,
			Deadline:    deadline,
			Text:        res.Text,
			Timestamp:   res.Timestamp,
		})
	}
	return sources
}

// matchedKeywords extracts question words longer than two characters.
func matchedKeywords(questionLower string) []string {
	keywords := []string{}
	for _, w := range strings.Fields(questionLower) {
		if len(w) > 2 {
			keywords = append(keywords, w)
		}
	}
	return keywords
}

func rewrittenOrEmpty(question, searchQuestion string) string {
	if searchQuestion == question {
		return ""
	}
	return searchQuestion
}

func roundTo1(v float64) float64 {
	return math.Round(v*10) / 10
}

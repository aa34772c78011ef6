package answer

import (
	"fmt"
	"strings"
	"time"

	"github.com/mailwise/inboxrag/internal/retrieval"
)

const (
	// charsPerToken approximates prompt characters per model token.
	charsPerToken = 4
	// contextBodyLen is the body excerpt length per context block.
	contextBodyLen = 800
	// truncationFloor is the minimum remaining budget worth a partial block.
	truncationFloor = 200
)

// buildContextParts renders one block per retrieved message, newest first.
func buildContextParts(results []retrieval.Result, now time.Time) []string {
	parts := make([]string, 0, len(results))
	for i, res := range results {
		meta := res.Metadata
		urgency := "NO"
		if meta.IsUrgent {
			urgency = "YES"
		}
		parts = append(parts, fmt.Sprintf(
			"EMAIL %d:\nSubject: %s\nFrom: %s\nDate: %s\nUrgent: %s\nDeadline: %s\nContent: %s",
			i+1, meta.Subject, meta.Sender, orUnknown(meta.Date),
			urgency, FormatDeadline(meta.DeadlineDate, now), truncate(res.Text, contextBodyLen)))
	}
	return parts
}

// trimContextParts caps the joined block list at maxChars, truncating the
// first overflowing block when at least truncationFloor characters remain.
func trimContextParts(parts []string, maxChars int) []string {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	if total <= maxChars {
		return parts
	}

	var trimmed []string
	current := 0
	for _, part := range parts {
		if current+len(part) > maxChars {
			remaining := maxChars - current
			if remaining >= truncationFloor {
				trimmed = append(trimmed, part[:remaining]+"...[truncated]")
			}
			break
		}
		trimmed = append(trimmed, part)
		current += len(part)
	}
	return trimmed
}

// systemPrompt states the answering rules for the model.
func systemPrompt(totalEmails int, highlightUrgency, highlightDeadline bool) string {
	formatInstruction := fmt.Sprintf("List all %d emails newest first. Be concise per email.", totalEmails)
	if totalEmails == 1 {
		formatInstruction = "Show: Subject, From, Date, Key content"
	}

	urgencyRule := "only if relevant"
	if highlightUrgency {
		urgencyRule = "YES — call it out clearly"
	}
	deadlineRule := "only if relevant"
	if highlightDeadline {
		deadlineRule = "YES — call out dates"
	}

	return fmt.Sprintf(
		"You are an email assistant. You have %d email(s) retrieved from the user's inbox, ordered newest first.\n\n"+
			"Rules:\n"+
			"- Use ONLY the provided email content. Do not hallucinate or invent details.\n"+
			"- Maintain newest-first order.\n"+
			"- %s\n"+
			"- Highlight urgency: %s\n"+
			"- Highlight deadlines: %s\n"+
			"- You have access to previous conversation history. Use it to understand follow-up questions.",
		totalEmails, formatInstruction, urgencyRule, deadlineRule)
}

// userPrompt assembles the final user message with the email context.
func userPrompt(context, question string) string {
	return fmt.Sprintf("Emails (NEWEST FIRST):\n\n%s\n\nQuestion: %s\n\nAnswer concisely:", context, question)
}

// containsAny reports whether s contains any of the substrings.
func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

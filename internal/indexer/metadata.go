package indexer

import (
	"regexp"
	"strings"
	"time"
)

// urgencyWords mark a message as urgent when any appears in its text.
var urgencyWords = []string{"urgent", "asap", "immediately", "critical"}

// deadlinePatterns is the ordered regex table for deadline extraction.
// Each entry pairs a pattern whose group 1 is the date with its time layout.
var deadlinePatterns = []struct {
	re     *regexp.Regexp
	layout string
}{
	{regexp.MustCompile(`deadline[:\s]+(\d{1,2}/\d{1,2}/\d{4})`), "1/2/2006"},
	{regexp.MustCompile(`due[:\s]+(\d{1,2}/\d{1,2}/\d{4})`), "1/2/2006"},
	{regexp.MustCompile(`deadline[:\s]+(\d{4}-\d{2}-\d{2})`), "2006-01-02"},
	{regexp.MustCompile(`due[:\s]+(\d{4}-\d{2}-\d{2})`), "2006-01-02"},
	{regexp.MustCompile(`by[:\s]+(\d{1,2}/\d{1,2}/\d{4})`), "1/2/2006"},
}

// IsUrgent reports whether the text contains any urgency word.
func IsUrgent(text string) bool {
	textLower := strings.ToLower(text)
	for _, w := range urgencyWords {
		if strings.Contains(textLower, w) {
			return true
		}
	}
	return false
}

// HasDeadline reports whether the text mentions a deadline.
func HasDeadline(text string) bool {
	textLower := strings.ToLower(text)
	return strings.Contains(textLower, "deadline") || strings.Contains(textLower, "due")
}

// ExtractDeadline scans the text for an explicit deadline date. An urgency
// word without a date yields a synthetic "now" deadline.
func ExtractDeadline(text string, now time.Time) (time.Time, bool) {
	textLower := strings.ToLower(text)

	for _, p := range deadlinePatterns {
		match := p.re.FindStringSubmatch(textLower)
		if match == nil {
			continue
		}
		if t, err := time.Parse(p.layout, match[1]); err == nil {
			return t, true
		}
	}

	if IsUrgent(text) {
		return now, true
	}
	return time.Time{}, false
}

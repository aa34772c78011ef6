package answer

import (
	"sync"

	"github.com/mailwise/inboxrag/internal/bedrock"
)

// historyCap bounds the stored turns per user.
const historyCap = 20

// History holds bounded per-user conversation turns used to rewrite
// follow-up questions and to give the model context.
type History struct {
	mu     sync.Mutex
	byUser map[string][]bedrock.Turn
}

// NewHistory creates an empty History.
func NewHistory() *History {
	return &History{byUser: make(map[string][]bedrock.Turn)}
}

// Append records a turn, evicting the oldest beyond the cap.
func (h *History) Append(userEmail, role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	turns := append(h.byUser[userEmail], bedrock.Turn{Role: role, Content: content})
	if len(turns) > historyCap {
		turns = turns[len(turns)-historyCap:]
	}
	h.byUser[userEmail] = turns
}

// Recent returns a copy of the user's last n turns; n <= 0 returns all.
func (h *History) Recent(userEmail string, n int) []bedrock.Turn {
	h.mu.Lock()
	defer h.mu.Unlock()

	turns := h.byUser[userEmail]
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]bedrock.Turn, len(turns))
	copy(out, turns)
	return out
}

package answer

import (
	"fmt"
	"strings"

	"github.com/mailwise/inboxrag/internal/retrieval"
)

const (
	// fallbackSingleBodyLen is the body excerpt length in single-result mode.
	fallbackSingleBodyLen = 500
	// fallbackSnippetLen is the snippet length per entry in list mode.
	fallbackSnippetLen = 200
	// fallbackListMax is the maximum entries rendered in list mode.
	fallbackListMax = 10
)

// fallbackAnswer renders a deterministic listing of the retrieved messages,
// used whenever the LLM path is unavailable.
func fallbackAnswer(results []retrieval.Result) string {
	if len(results) == 0 {
		return "No relevant emails found."
	}

	var parts []string
	if len(results) == 1 {
		res := results[0]
		meta := res.Metadata
		parts = append(parts,
			fmt.Sprintf("**%s**", meta.Subject),
			fmt.Sprintf("From: %s", meta.Sender),
			fmt.Sprintf("Date: %s", orUnknown(meta.Date)),
			"\n"+truncate(res.Text, fallbackSingleBodyLen),
		)
	} else {
		parts = append(parts, fmt.Sprintf("Found %d emails (newest first):\n", len(results)))
		for i, res := range results {
			if i >= fallbackListMax {
				break
			}
			meta := res.Metadata
			parts = append(parts,
				fmt.Sprintf("%d. **%s** - From: %s", i+1, meta.Subject, meta.Sender),
				fmt.Sprintf("   Date: %s", orUnknown(meta.Date)),
				fmt.Sprintf("   %s...\n", truncate(res.Text, fallbackSnippetLen)),
			)
		}
	}
	return strings.Join(parts, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

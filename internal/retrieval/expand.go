package retrieval

import "strings"

// ExpandQuery appends a fixed synonym tail based on query keywords, improving
// dense recall for common intents.
func ExpandQuery(query string) string {
	queryLower := strings.ToLower(query)
	switch {
	case strings.Contains(queryLower, "urgent"):
		return query + " asap immediate critical"
	case strings.Contains(queryLower, "deadline"):
		return query + " due date"
	case strings.Contains(queryLower, "meeting"):
		return query + " schedule appointment call"
	}
	return query
}

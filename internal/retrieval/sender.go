package retrieval

import (
	"regexp"
	"strings"
)

// senderPatterns express explicit sender intent, ordered from most to least
// specific. Group 1 captures the candidate sender term.
var senderPatterns = []*regexp.Regexp{
	// "emails from <name>" / "email from <name>"
	regexp.MustCompile(`emails?\s+from\s+([a-zA-Z0-9][a-zA-Z0-9._\s-]{1,40}?)(?:\s+about|\s+regarding|\s+on|\s+with|\s*$)`),
	// "sent by <name>"
	regexp.MustCompile(`sent\s+by\s+([a-zA-Z0-9][a-zA-Z0-9._\s-]{1,40}?)(?:\s+about|\s+regarding|\s+on|\s+with|\s*$)`),
	// "from <name>" after show/get/find/list/give me/what
	regexp.MustCompile(`(?:show|get|find|list|give\s+me|what).*?\bfrom\s+([a-zA-Z0-9][a-zA-Z0-9._\s-]{1,40}?)(?:\s+about|\s+regarding|\s+on|\s+with|\s*$)`),
	// bare "from <name>" at the start
	regexp.MustCompile(`^from\s+([a-zA-Z0-9][a-zA-Z0-9._\s-]{1,40}?)(?:\s+about|\s+regarding|\s+on|\s+with|\s*$)`),
}

// stopTerms are captured groups that are never sender names: pronouns, date
// words, inbox-state words.
var stopTerms = map[string]bool{
	"me": true, "you": true, "us": true, "them": true, "him": true, "her": true,
	"it": true, "the": true, "a": true, "an": true,
	"last": true, "week": true, "month": true, "year": true, "today": true,
	"yesterday": true, "this": true, "that": true,
	"my": true, "our": true, "their": true, "any": true, "all": true,
	"some": true, "most": true, "recent": true, "latest": true,
	"newest": true, "oldest": true, "inbox": true, "email": true,
	"emails": true, "mail": true, "message": true, "messages": true,
	"urgent": true, "important": true, "unread": true, "read": true,
	"starred": true, "flagged": true,
}

var (
	spaceRe       = regexp.MustCompile(`\s+`)
	digitsRe      = regexp.MustCompile(`^[0-9]+$`)
	emailRe       = regexp.MustCompile(`([a-z0-9._+-]+@[a-z0-9.-]+)`)
	nameBeforeRe  = regexp.MustCompile(`^([^<]+)\s*<`)
	nonAlnumRe    = regexp.MustCompile(`[^a-z0-9]`)
	nonAlnumSpcRe = regexp.MustCompile(`[^a-z0-9 ]`)
	nonNameRuneRe = regexp.MustCompile(`[^a-z0-9\s]`)
	usernameSepRe = regexp.MustCompile(`[._-]`)
)

// namePrefixes are honorifics and common South-Asian name prefixes used to
// split compound search terms like "syedahajra".
var namePrefixes = []string{
	"syed", "syeda", "muhammad", "mohd", "md", "hafiz",
	"sheikh", "malik", "rana", "raja", "ch", "chaudhry",
	"mirza", "khawaja", "miss", "mrs", "mr", "dr",
}

// DetectSender extracts an explicit sender term from a query, or returns ""
// when the query expresses no sender intent.
func DetectSender(query string) string {
	queryLower := strings.ToLower(strings.TrimSpace(query))

	for _, pattern := range senderPatterns {
		match := pattern.FindStringSubmatch(queryLower)
		if match == nil {
			continue
		}
		candidate := spaceRe.ReplaceAllString(strings.TrimSpace(match[1]), " ")

		if stopTerms[candidate] {
			continue
		}
		if len(candidate) < 2 {
			continue
		}
		if digitsRe.MatchString(candidate) {
			continue
		}
		return candidate
	}
	return ""
}

// normalizeName lowercases and strips everything but letters, digits and
// single spaces.
func normalizeName(name string) string {
	normalized := nonNameRuneRe.ReplaceAllString(strings.ToLower(name), "")
	return strings.Join(strings.Fields(normalized), " ")
}

// extractNameParts splits a sender string into display name, email address
// and email local part (with separators replaced by spaces).
func extractNameParts(sender string) (fullName, emailAddress, localPart string) {
	senderLower := strings.ToLower(sender)

	if m := emailRe.FindStringSubmatch(senderLower); m != nil {
		emailAddress = m[1]
		if at := strings.Index(emailAddress, "@"); at > 0 {
			localPart = usernameSepRe.ReplaceAllString(emailAddress[:at], " ")
		}
	}

	if m := nameBeforeRe.FindStringSubmatch(senderLower); m != nil {
		fullName = strings.TrimSpace(m[1])
	} else if emailAddress == "" {
		fullName = strings.TrimSpace(senderLower)
	}

	return normalizeName(fullName), emailAddress, normalizeName(localPart)
}

// searchVariants generates the useful variants of a search term to match
// against senders: the raw term, its punctuation-stripped form, prefix
// splits for compound single words, and per-token forms for spaced terms.
func searchVariants(searchTerm string) []string {
	term := strings.ToLower(strings.TrimSpace(searchTerm))
	termClean := nonAlnumRe.ReplaceAllString(term, "")

	seen := map[string]bool{}
	var variants []string
	add := func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			variants = append(variants, v)
		}
	}

	add(term)
	add(termClean)

	if !strings.Contains(term, " ") {
		for _, prefix := range namePrefixes {
			if strings.HasPrefix(termClean, prefix) && len(termClean) > len(prefix)+1 {
				remainder := termClean[len(prefix):]
				add(prefix + " " + remainder)
				add(remainder)
				add(prefix)
			}
		}
	} else {
		parts := strings.Fields(term)
		for _, part := range parts {
			if len(part) >= 3 {
				add(part)
			}
		}
		add(strings.Join(parts, ""))
	}

	return variants
}

// SenderMatches matches a sender string against a search term. A term with two
// or more words of at least three characters matches only when all of those
// words appear in the combined sender blob; its variants are not tried. Any
// other term matches when one of its variants appears in the canonical email
// address, display name or local part.
func SenderMatches(sender, searchTerm string) bool {
	if sender == "" || searchTerm == "" {
		return false
	}

	searchTerm = strings.ToLower(strings.TrimSpace(searchTerm))
	fullName, emailAddress, localPart := extractNameParts(sender)

	emailClean := nonAlnumRe.ReplaceAllString(emailAddress, "")
	nameClean := nonAlnumSpcRe.ReplaceAllString(fullName, "")
	localClean := nonAlnumRe.ReplaceAllString(localPart, "")
	senderBlob := nameClean + " " + emailClean + " " + localClean

	// Multi-word terms: every token must appear in the combined sender blob.
	// A single stray token matching some other sender must not pass.
	var searchWords []string
	for _, w := range strings.Fields(searchTerm) {
		if len(w) >= 3 {
			searchWords = append(searchWords, w)
		}
	}
	if len(searchWords) >= 2 {
		blob := strings.ReplaceAll(senderBlob, " ", "")
		for _, w := range searchWords {
			if !strings.Contains(blob, nonAlnumRe.ReplaceAllString(w, "")) {
				return false
			}
		}
		return true
	}

	for _, variant := range searchVariants(searchTerm) {
		vClean := nonAlnumRe.ReplaceAllString(variant, "")
		if vClean == "" {
			continue
		}
		if strings.Contains(emailClean, vClean) {
			return true
		}
		if strings.Contains(strings.ReplaceAll(nameClean, " ", ""), vClean) {
			return true
		}
		if strings.Contains(nameClean, variant) {
			return true
		}
		if strings.Contains(localClean, vClean) {
			return true
		}
	}

	return false
}

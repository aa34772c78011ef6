package gmail

import (
	"encoding/base64"
	"mime"
	"strings"

	gmailv1 "google.golang.org/api/gmail/v1"

	"github.com/mailwise/inboxrag/internal/charset"
	"github.com/mailwise/inboxrag/internal/htmlstrip"
)

// ExtractBody extracts the plaintext body of a message payload. The first
// text/plain part wins; messages with only a text/html part are stripped to
// text.
func ExtractBody(payload *gmailv1.MessagePart) string {
	if payload == nil {
		return ""
	}
	if text := findPartText(payload, "text/plain"); text != "" {
		return text
	}
	if htmlText := findPartText(payload, "text/html"); htmlText != "" {
		return htmlstrip.Strip(htmlText)
	}
	return ""
}

// findPartText walks the MIME tree depth-first for the first part of the
// wanted type with body data, decoding base64url and the declared charset.
func findPartText(part *gmailv1.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}

	if strings.EqualFold(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
		data, err := decodeBase64URL(part.Body.Data)
		if err == nil {
			return charset.Decode(data, partCharset(part))
		}
	}

	for _, sub := range part.Parts {
		if text := findPartText(sub, mimeType); text != "" {
			return text
		}
	}
	return ""
}

// partCharset reads the charset parameter of the part's Content-Type header.
func partCharset(part *gmailv1.MessagePart) string {
	for _, h := range part.Headers {
		if strings.EqualFold(h.Name, "Content-Type") {
			if _, params, err := mime.ParseMediaType(h.Value); err == nil {
				return params["charset"]
			}
		}
	}
	return ""
}

// decodeBase64URL tolerates both padded and unpadded base64url data.
func decodeBase64URL(data string) ([]byte, error) {
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return decoded, nil
	}
	return base64.RawURLEncoding.DecodeString(data)
}

// Package htmlstrip converts HTML mail bodies to plain text. It backs the
// body-extraction fallback for messages that carry no text/plain part.
package htmlstrip

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// droppedElements are elements whose text content never reaches the output.
var droppedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"head":     true,
}

// breakElements force a word break between the text on either side of them.
var breakElements = map[string]bool{
	"p": true, "div": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "li": true, "blockquote": true,
	"pre": true, "table": true, "tr": true, "td": true, "th": true,
	"section": true, "article": true, "header": true, "footer": true,
	"nav": true, "main": true, "aside": true, "figure": true,
	"figcaption": true, "details": true, "summary": true, "br": true,
}

// Strip converts an HTML document to whitespace-normalized plain text.
//
// Runs of whitespace, and boundaries of block-level elements, collapse into
// a single space. Breaks are emitted lazily, only once more visible text
// follows, so the result never has leading or trailing whitespace.
func Strip(htmlText string) string {
	tokens := html.NewTokenizer(strings.NewReader(htmlText))

	var out strings.Builder
	dropDepth := 0
	breakPending := false

	// emit appends visible runes, folding whitespace into the pending break.
	emit := func(text string) {
		for _, r := range text {
			if unicode.IsSpace(r) {
				if out.Len() > 0 {
					breakPending = true
				}
				continue
			}
			if breakPending {
				out.WriteByte(' ')
				breakPending = false
			}
			out.WriteRune(r)
		}
	}

	for {
		tokenType := tokens.Next()
		if tokenType == html.ErrorToken {
			return out.String()
		}

		switch tokenType {
		case html.TextToken:
			if dropDepth == 0 {
				emit(string(tokens.Text()))
			}

		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, hasAttr := tokens.TagName()
			tag := string(name)

			if droppedElements[tag] {
				switch tokenType {
				case html.StartTagToken:
					dropDepth++
				case html.EndTagToken:
					if dropDepth > 0 {
						dropDepth--
					}
				}
				continue
			}

			if breakElements[tag] && out.Len() > 0 {
				breakPending = true
			}

			// Image alt text often carries the only readable content of
			// image-heavy marketing mail.
			if tag == "img" && hasAttr && dropDepth == 0 {
				for {
					key, val, more := tokens.TagAttr()
					if string(key) == "alt" {
						emit(string(val))
					}
					if !more {
						break
					}
				}
			}
		}
	}
}

// Package charset decodes mail body bytes into UTF-8 text.
package charset

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// Decode converts body bytes in the named charset to a UTF-8 string.
//
// An empty charset defaults to us-ascii. Unknown charsets and decode errors
// fall back to UTF-8 validation, then Latin-1. Decode never fails; worst
// case the input bytes are returned as-is.
func Decode(data []byte, charsetName string) string {
	charsetName = strings.ToLower(strings.TrimSpace(charsetName))
	if charsetName == "" {
		charsetName = "us-ascii"
	}

	enc := lookupEncoding(charsetName)
	if enc == nil {
		// UTF-8, ASCII or unknown: validate, fall back to Latin-1.
		if utf8.Valid(data) {
			return string(data)
		}
		return decodeLatin1(data)
	}

	decoded, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		if utf8.Valid(data) {
			return string(data)
		}
		return decodeLatin1(data)
	}
	return string(decoded)
}

// lookupEncoding finds the encoding for a charset name. A nil return means
// the content should be treated as UTF-8.
func lookupEncoding(charsetName string) encoding.Encoding {
	switch charsetName {
	case "utf-8", "utf8", "ascii", "us-ascii":
		return nil
	case "latin1", "latin-1":
		return charmap.ISO8859_1
	}

	enc, err := ianaindex.IANA.Encoding(charsetName)
	if err != nil {
		return nil
	}
	// Some charsets (like UTF-8) resolve to a nil encoding.
	return enc
}

// decodeLatin1 converts ISO-8859-1 bytes to UTF-8.
func decodeLatin1(data []byte) string {
	decoded, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), data)
	if err != nil {
		return string(data)
	}
	return string(decoded)
}

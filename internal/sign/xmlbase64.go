package sign

import (
	"encoding/base64"
	"strings"
)

// decodeBase64XMLText decodes base64 content embedded in an XML
// element body, which XML serialisers frequently wrap across
// multiple lines.
func decodeBase64XMLText(s string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		default:
			return r
		}
	}, s)
	return base64.StdEncoding.DecodeString(cleaned)
}

package locations

import (
	"strings"

	"golang.org/x/net/html"
)

const maxLabelLength = 64

// SanitizeLabel strips markup from a label, keeping only its text with
// entities decoded and whitespace collapsed. Script and style contents are
// dropped entirely.
func SanitizeLabel(raw string) string {
	z := html.NewTokenizer(strings.NewReader(raw))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return truncate(strings.Join(strings.Fields(b.String()), " "))
		case html.StartTagToken:
			if name, _ := z.TagName(); isRawText(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isRawText(name) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isRawText(tag []byte) bool {
	switch string(tag) {
	case "script", "style":
		return true
	}
	return false
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxLabelLength {
		return s
	}
	return strings.TrimSpace(string(r[:maxLabelLength]))
}

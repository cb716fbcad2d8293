package geometry

import (
	"regexp"
	"strings"
)

var (
	hexColor = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
	// Components are not range-checked: rgb(300,0,0) is accepted.
	rgbColor = regexp.MustCompile(`^rgb\(\s*\d+\s*,\s*\d+\s*,\s*\d+\s*\)$`)
)

// SanitizeColor returns the color unchanged (case and inner whitespace kept)
// when it is a #RGB/#RRGGBB hex value or an rgb(r, g, b) triple. Anything else,
// including rgba(), hsl() and named colors, is rejected.
func SanitizeColor(input string) (string, bool) {
	c := strings.TrimSpace(input)
	if c == "" {
		return "", false
	}
	if hexColor.MatchString(c) || rgbColor.MatchString(c) {
		return c, true
	}
	return "", false
}

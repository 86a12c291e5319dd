package evidence

import (
	"strings"
	"unicode"
)

// OptionalMarker prefixes or suffixes a property name to flag it as optional
// ("?Icon", "Show Icon?").
const OptionalMarker = '?'

// NormalizeKey reduces a property, axis or slot name to its matching form:
// one leading and one trailing optional marker are stripped, the rest is
// lower-cased and every rune that is not a letter or digit is dropped.
// NormalizeKey(NormalizeKey(s)) == NormalizeKey(s).
func NormalizeKey(name string) string {
	s := strings.TrimSpace(name)
	s = strings.TrimPrefix(s, string(OptionalMarker))
	s = strings.TrimSuffix(s, string(OptionalMarker))

	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// NormalizeLabel case-folds a label and collapses whitespace runs to single spaces.
func NormalizeLabel(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}

// EnumToken derives a machine-safe enumeration token from a variant label:
// lower-cased, runs of non-alphanumerics collapsed to "_", no leading or
// trailing separator. "Extra Large / XL" becomes "extra_large_xl".
func EnumToken(label string) string {
	var sb strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(label) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && sb.Len() > 0 {
				sb.WriteByte('_')
			}
			pendingSep = false
			sb.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return sb.String()
}

// stripNodeSuffix removes the "#<node id>" suffix design tools append to
// property names ("Label#1234:5" -> "Label").
func stripNodeSuffix(name string) string {
	if i := strings.LastIndexByte(name, '#'); i > 0 {
		return strings.TrimSpace(name[:i])
	}
	return strings.TrimSpace(name)
}

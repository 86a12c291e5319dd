package evidence

import "strings"

// booleanPairs are the only two-value label pairs treated as boolean.
var booleanPairs = [][2]string{
	{"yes", "no"},
	{"true", "false"},
	{"on", "off"},
}

// IsBooleanAxis reports whether an axis with the given values is boolean-equivalent:
// exactly two values that case-insensitively match yes/no, true/false or on/off,
// in either order. Any other two-value combination stays enum-only.
//
// An axis such as "Power" with On/Off used as physical states is still treated
// as boolean. Consumers depend on that, so it is kept.
func IsBooleanAxis(values []string) bool {
	if len(values) != 2 {
		return false
	}
	a := strings.ToLower(strings.TrimSpace(values[0]))
	b := strings.ToLower(strings.TrimSpace(values[1]))
	for _, pair := range booleanPairs {
		if (a == pair[0] && b == pair[1]) || (a == pair[1] && b == pair[0]) {
			return true
		}
	}
	return false
}

// textKeywords mark a property name as text-like when no type is declared.
var textKeywords = []string{
	"text", "label", "title", "caption", "placeholder",
	"content", "description", "heading", "message",
}

// ClassifyProperty returns the kind of a scalar property. An explicit declared
// type wins; without one, a trailing optional marker means boolean, a text-like
// keyword in the name means text, and everything else is an instance reference.
func ClassifyProperty(name, declaredType string) PropertyKind {
	switch strings.ToUpper(strings.TrimSpace(declaredType)) {
	case "BOOLEAN", "BOOL":
		return KindBoolean
	case "TEXT", "STRING":
		return KindText
	case "INSTANCE_SWAP", "INSTANCE":
		return KindInstance
	}

	trimmed := strings.TrimSpace(name)
	if strings.HasSuffix(trimmed, string(OptionalMarker)) {
		return KindBoolean
	}
	lower := strings.ToLower(trimmed)
	for _, kw := range textKeywords {
		if strings.Contains(lower, kw) {
			return KindText
		}
	}
	return KindInstance
}

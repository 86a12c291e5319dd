package feedback

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrorClassifier turns the structural parser's combined output into
// line-addressable error strings.
type ErrorClassifier struct {
	positional  []*regexp.Regexp
	missingProp *regexp.Regexp
	location    *regexp.Regexp
	marker      *regexp.Regexp
	ansi        *regexp.Regexp
}

// NewErrorClassifier creates a classifier for Code Connect parser output.
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{
		positional: []*regexp.Regexp{
			// "Error: message (candidate.figma.tsx:12:5)" or "... at candidate.figma.tsx:12:5"
			regexp.MustCompile(`(?m)^\s*(?:❌\s*)?(?:error:?\s*)?(?P<msg>.+?)\s*(?:\(|\bat\s+|-\s+)(?P<file>[^\s():]+\.[A-Za-z]+):(?P<line>\d+):(?P<col>\d+)\)?\s*$`),
			// "candidate.figma.tsx:12:5 - error: message" or "candidate.figma.tsx(12,5): error TS1005: message"
			regexp.MustCompile(`(?m)^\s*(?P<file>[^\s():]+\.[A-Za-z]+)(?::(?P<line>\d+):(?P<col>\d+)|\((?P<line2>\d+),(?P<col2>\d+)\))\s*[-:]?\s*(?P<msg>.+?)\s*$`),
		},
		missingProp: regexp.MustCompile(`(?i)could not find prop mapping for\s+([^\n]*)`),
		location:    regexp.MustCompile(`\s*\(?\s*(?:at\s+)?[^\s():]+\.[A-Za-z]+:(\d+):(\d+)\)?`),
		marker:      regexp.MustCompile(`(?im)^\s*(?:❌|\[?error\b|.*could not find prop mapping|.*failed to parse|.*unreadable file)`),
		ansi:        regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`),
	}
}

// HasDiagnostic reports whether output carries anything that marks a failure.
func (ec *ErrorClassifier) HasDiagnostic(output string) bool {
	return ec.marker.MatchString(ec.ansi.ReplaceAllString(output, ""))
}

// Classify extracts one error per distinct recognized diagnostic. Missing prop
// mappings are deduplicated by name.
func (ec *ErrorClassifier) Classify(output string) []string {
	clean := ec.ansi.ReplaceAllString(output, "")

	var errs []string
	seen := make(map[string]bool)

	for _, re := range ec.positional {
		for _, m := range re.FindAllStringSubmatch(clean, -1) {
			msg := strings.TrimSpace(group(re, m, "msg"))
			if msg == "" || strings.Contains(strings.ToLower(msg), "could not find prop mapping") {
				continue
			}
			line, col := atoi(group(re, m, "line")), atoi(group(re, m, "col"))
			if line == 0 {
				line, col = atoi(group(re, m, "line2")), atoi(group(re, m, "col2"))
			}
			text := fmt.Sprintf("line %d, column %d: %s", line, col, trimErrorPrefix(msg))
			if seen[text] {
				continue
			}
			seen[text] = true
			errs = append(errs, text)
		}
	}

	missing := make(map[string]bool)
	for _, m := range ec.missingProp.FindAllStringSubmatch(clean, -1) {
		name, line, col := ec.splitMissingProp(m[1])
		if name == "" || missing[strings.ToLower(name)] {
			continue
		}
		missing[strings.ToLower(name)] = true
		text := fmt.Sprintf("could not find prop mapping for %q: the mapped prop does not exist on the component or its figma property name is wrong", name)
		if line > 0 {
			text = fmt.Sprintf("line %d, column %d: %s", line, col, text)
		}
		errs = append(errs, text)
	}

	return errs
}

// splitMissingProp separates the prop name from any trailing location or
// commentary in the text following "could not find prop mapping for".
func (ec *ErrorClassifier) splitMissingProp(rest string) (name string, line, col int) {
	if loc := ec.location.FindStringSubmatchIndex(rest); loc != nil {
		line, col = atoi(rest[loc[2]:loc[3]]), atoi(rest[loc[4]:loc[5]])
		rest = rest[:loc[0]]
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", line, col
	}

	if q := rest[0]; q == '"' || q == '\'' || q == '`' {
		if end := strings.IndexByte(rest[1:], q); end >= 0 {
			return strings.TrimSpace(rest[1 : end+1]), line, col
		}
		rest = rest[1:]
	}

	for _, stop := range []string{" (", " at ", " in ", " - ", ". ", ": "} {
		if i := strings.Index(rest, stop); i >= 0 {
			rest = rest[:i]
		}
	}
	rest = strings.TrimRight(rest, ".:;,\"'` ")
	return strings.TrimSpace(rest), line, col
}

// GenericError is used when the parser failed without a recognized diagnostic.
func GenericError(exitCode int, timedOut bool, output string) string {
	tail := lastLines(output, 5)
	reason := fmt.Sprintf("structural parser exited with code %d", exitCode)
	if timedOut {
		reason = fmt.Sprintf("structural parser timed out (exit code %d)", exitCode)
	}
	if tail == "" {
		return reason + " without a recognized diagnostic"
	}
	return reason + " without a recognized diagnostic: " + tail
}

func group(re *regexp.Regexp, m []string, name string) string {
	i := re.SubexpIndex(name)
	if i < 0 || i >= len(m) {
		return ""
	}
	return m[i]
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func trimErrorPrefix(msg string) string {
	for _, p := range []string{"error:", "Error:", "ERROR:", "error", "Error"} {
		if strings.HasPrefix(msg, p) {
			return strings.TrimSpace(strings.TrimPrefix(msg, p))
		}
	}
	return msg
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.TrimSpace(strings.Join(lines, " | "))
}

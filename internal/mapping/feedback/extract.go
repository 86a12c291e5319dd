package feedback

import (
	"regexp"
	"strings"
)

var fencePattern = regexp.MustCompile("(?sm)```[ \t]*([A-Za-z0-9_+-]*)[^\n]*\n(.*?)(?:^```|\\z)")

// codeStart matches the first line that looks like source rather than prose.
var codeStart = regexp.MustCompile(`(?m)^\s*(?:import\s|export\s|figma\.|//|/\*|const\s|"use\s)`)

// ExtractArtifact strips the formatting noise generators wrap around an
// artifact: markdown fences, chat preambles and trailing commentary.
//
// With fences present, the first fenced block that calls a figma helper wins,
// else the first block. Without fences, everything before the first line that
// looks like code is dropped, and so is trailing prose.
func ExtractArtifact(response string) string {
	response = strings.TrimSpace(strings.ReplaceAll(response, "\r\n", "\n"))
	if response == "" {
		return ""
	}

	if blocks := fencePattern.FindAllStringSubmatch(response, -1); len(blocks) > 0 {
		chosen := blocks[0][2]
		for _, b := range blocks {
			if strings.Contains(b[2], "figma.") {
				chosen = b[2]
				break
			}
		}
		return finish(chosen)
	}

	if loc := codeStart.FindStringIndex(response); loc != nil {
		response = response[loc[0]:]
	}

	lines := strings.Split(response, "\n")
	last := len(lines) - 1
	for last > 0 && !looksLikeCode(lines[last]) {
		last--
	}
	return finish(strings.Join(lines[:last+1], "\n"))
}

// proseLine matches a sentence: capitalized, ending in sentence punctuation.
var proseLine = regexp.MustCompile(`^[A-Z][^;{}()=]*[.:!?]$`)

// looksLikeCode reports whether a trailing line belongs to the artifact.
// Blank lines and prose sentences do not.
func looksLikeCode(line string) bool {
	t := strings.TrimSpace(line)
	return t != "" && !proseLine.MatchString(t)
}

func finish(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return s + "\n"
}

// Package router implements the two-tier pre-retrieval gate: input
// sanitization, priority rule matching over a hot-reloadable rule file,
// and an LLM classifier fallback with a bounded result cache.
package router

import (
	"regexp"
	"strings"
)

// Zero-width and invisible characters used to obfuscate injection payloads.
var zeroWidthReplacer = strings.NewReplacer(
	"​", "", // zero width space
	"‌", "", // zero width non-joiner
	"‍", "", // zero width joiner
	"⁠", "", // word joiner
	"\uFEFF", "", // BOM
	"­", "", // soft hyphen
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Injection patterns checked against the normalized query before either
// routing tier runs.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all |any )?(previous|prior|above) (instructions?|prompts?)`),
	regexp.MustCompile(`(?i)disregard (all |any )?(previous|prior|your) (instructions?|rules)`),
	regexp.MustCompile(`(?i)reveal (your|the) (system )?prompt`),
	regexp.MustCompile(`(?i)(print|show|repeat) (your|the) (system prompt|instructions)`),
	regexp.MustCompile(`(?i)you are now (dan|in developer mode)`),
	regexp.MustCompile(`(?i)pretend (you have no|there are no) (restrictions|rules|guidelines)`),
	regexp.MustCompile(`(?i)act as .{0,40}without (any )?(restrictions|filters)`),
}

// Normalize strips zero-width characters, collapses whitespace runs and
// rejoins single-letter obfuscation ("i g n o r e" -> "ignore") so pattern
// matching sees the intended token stream.
func Normalize(query string) string {
	q := zeroWidthReplacer.Replace(query)
	q = whitespaceRun.ReplaceAllString(strings.TrimSpace(q), " ")
	return collapseSpacedLetters(q)
}

// collapseSpacedLetters joins runs of three or more consecutive
// single-letter tokens. Shorter runs stay untouched ("a b testing").
func collapseSpacedLetters(q string) string {
	tokens := strings.Split(q, " ")
	var out []string
	i := 0
	for i < len(tokens) {
		j := i
		for j < len(tokens) && isSingleLetter(tokens[j]) {
			j++
		}
		if j-i >= 3 {
			out = append(out, strings.Join(tokens[i:j], ""))
		} else {
			out = append(out, tokens[i:j]...)
		}
		if j < len(tokens) {
			out = append(out, tokens[j])
			j++
		}
		i = j
	}
	return strings.Join(out, " ")
}

func isSingleLetter(token string) bool {
	if len(token) != 1 {
		return false
	}
	c := token[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// Sanitize normalizes the query and reports whether it matches a known
// injection pattern. A true second return means the query must be blocked
// before either routing tier runs.
func Sanitize(query string) (string, bool) {
	normalized := Normalize(query)
	for _, p := range injectionPatterns {
		if p.MatchString(normalized) {
			return normalized, true
		}
	}
	return normalized, false
}

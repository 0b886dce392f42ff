// Package sentence splits synthesizer-bound text into sentence-sized
// chunks so the call orchestrator can start playback on the first sentence
// while the language model is still generating the rest of the response.
//
// Grounded on original_source/src/ari_handler/main.py's split_text, which
// splits on a single whitespace run preceded by a sentence terminator
// (. ? ! newline or U+00A0) while guarding two abbreviation shapes
// ("e.g." and "Mr.") via regex lookbehind. Go's RE2 engine has no
// lookbehind, so the same three conditions are evaluated directly over the
// rune preceding each whitespace split candidate instead of compiled into a
// single pattern.
package sentence

import "unicode"

// Split breaks text into trimmed, non-empty sentence-like chunks.
func Split(text string) []string {
	runes := []rune(text)
	var points []int
	for i := 1; i < len(runes); i++ {
		if isSplitPoint(runes, i) {
			points = append(points, i)
		}
	}

	var out []string
	start := 0
	for _, p := range points {
		out = appendTrimmed(out, runes[start:p])
		start = p + 1 // the whitespace rune itself is consumed, not kept
	}
	out = appendTrimmed(out, runes[start:])
	return out
}

func appendTrimmed(out []string, r []rune) []string {
	s := trimSpace(string(r))
	if s != "" {
		out = append(out, s)
	}
	return out
}

func trimSpace(s string) string {
	runes := []rune(s)
	start, end := 0, len(runes)
	for start < end && unicode.IsSpace(runes[start]) {
		start++
	}
	for end > start && unicode.IsSpace(runes[end-1]) {
		end--
	}
	return string(runes[start:end])
}

// isSplitPoint reports whether position i in runes is a whitespace rune
// that terminates a sentence: the rune immediately before it must be a
// sentence terminator, and neither abbreviation guard may match the runes
// preceding it.
func isSplitPoint(runes []rune, i int) bool {
	if !unicode.IsSpace(runes[i]) {
		return false
	}
	if !isSentenceTerminator(runes[i-1]) {
		return false
	}
	if matchesDottedAbbreviation(runes, i) {
		return false
	}
	if matchesTitleAbbreviation(runes, i) {
		return false
	}
	return true
}

func isSentenceTerminator(r rune) bool {
	switch r {
	case '.', '?', '!', '\n', '\u00A0':
		return true
	default:
		return false
	}
}

func isWordChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// matchesDottedAbbreviation guards patterns like "e.g." — word, dot, word,
// (anything) — immediately before the split whitespace.
func matchesDottedAbbreviation(runes []rune, i int) bool {
	if i-4 < 0 {
		return false
	}
	return isWordChar(runes[i-4]) && runes[i-3] == '.' && isWordChar(runes[i-2])
}

// matchesTitleAbbreviation guards patterns like "Mr." — capital, lowercase,
// dot — immediately before the split whitespace.
func matchesTitleAbbreviation(runes []rune, i int) bool {
	if i-3 < 0 {
		return false
	}
	return unicode.IsUpper(runes[i-3]) && unicode.IsLower(runes[i-2]) && runes[i-1] == '.'
}

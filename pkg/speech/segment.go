// Package speech turns request text into an ordered stream of re-voiced
// audio segments: language-aware sentence segmentation, then a per-sentence
// synthesize → convert → resample → emit loop.
package speech

import (
	"strings"
	"unicode"
)

// cjkBoundaries are sentence-final runes for the CJK language family,
// checked in addition to the Western set.
const cjkBoundaries = "。！？．…"

// westernBoundaries end a sentence only when followed by whitespace or end
// of input, so "U.S." style abbreviations inside a run of text survive.
const westernBoundaries = ".!?"

// Segment splits text into ordered sentences using the language family's
// sentence-final punctuation. Sentences keep their punctuation and are
// whitespace-trimmed; empty pieces are dropped. Input with no boundary at
// all comes back as a single trimmed sentence, so callers always have
// something to synthesize.
func Segment(text string, cjk bool) []string {
	runes := []rune(text)
	var out []string
	start := 0

	flush := func(end int) {
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
		start = end
	}

	for i, r := range runes {
		if !isBoundary(runes, i, cjk) {
			continue
		}
		// Keep decimals and clock times intact: a separator between two
		// digits is not a sentence boundary.
		if (r == '.' || r == '．') && betweenDigits(runes, i) {
			continue
		}
		flush(i + 1)
	}
	flush(len(runes))

	if len(out) == 0 {
		if s := strings.TrimSpace(text); s != "" {
			out = []string{s}
		}
	}
	return out
}

func isBoundary(runes []rune, i int, cjk bool) bool {
	r := runes[i]
	if cjk && strings.ContainsRune(cjkBoundaries, r) {
		return true
	}
	if !strings.ContainsRune(westernBoundaries, r) {
		return false
	}
	// Western punctuation splits only at a word edge.
	return i == len(runes)-1 || unicode.IsSpace(runes[i+1])
}

func betweenDigits(runes []rune, i int) bool {
	return i > 0 && i < len(runes)-1 &&
		unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1])
}

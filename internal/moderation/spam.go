package moderation

import (
	"strings"
	"unicode"
)

// spamCheck pairs a detection function with the name reported as Term.
type spamCheck struct {
	name  string
	match func(string) bool
}

// spamChecks is the ordered list of spam checks applied by checkSpamPatterns.
// Order matters: the first match wins.
var spamChecks = []spamCheck{
	{name: "char_flood", match: hasCharFlood},
	{name: "phrase_flood", match: hasPhraseFlood},
	{name: "word_flood", match: hasWordFlood},
}

// hasCharFlood returns true if text contains 5 or more consecutive identical
// non-space characters. Go's regexp package (RE2) does not support
// backreferences, so this is a linear scan.
func hasCharFlood(text string) bool {
	const threshold = 5

	count := 0
	prev := rune(-1)
	for _, r := range text {
		if unicode.IsSpace(r) {
			count = 0
			prev = -1
			continue
		}
		if r == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = r
		}
	}
	return false
}

// hasPhraseFlood returns true if the whole message is one short unit
// repeated back to back at least 3 times ("hahaha", "buy now buy now buy
// now"). Comparison is case-insensitive. A unit must contain at least one
// letter or digit, so punctuation runs like "..." do not count and a
// zero-length unit can never match.
func hasPhraseFlood(text string) bool {
	const minRepeats = 3

	rs := []rune(strings.ToLower(strings.TrimSpace(text)))
	if len(rs) < minRepeats {
		return false
	}
	if periodicUnit(rs, minRepeats) {
		return true
	}
	// "go team go team go team": the unit carries a trailing separator that
	// the last repetition lacks.
	return periodicUnit(append(rs, ' '), minRepeats)
}

// periodicUnit reports whether rs is some unit of length >= 1 repeated at
// least minRepeats times.
func periodicUnit(rs []rune, minRepeats int) bool {
	n := len(rs)
	for p := 1; p <= n/minRepeats; p++ {
		if n%p != 0 || !hasAlnum(rs[:p]) {
			continue
		}
		periodic := true
		for i := p; i < n; i++ {
			if rs[i] != rs[i-p] {
				periodic = false
				break
			}
		}
		if periodic {
			return true
		}
	}
	return false
}

func hasAlnum(rs []rune) bool {
	for _, r := range rs {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// hasWordFlood returns true if the same word appears 3 or more times
// consecutively (case-insensitive). Words are delimited by whitespace.
func hasWordFlood(text string) bool {
	const threshold = 3

	words := strings.FieldsFunc(text, unicode.IsSpace)
	if len(words) < threshold {
		return false
	}

	count := 1
	prev := ""
	for _, w := range words {
		lower := strings.ToLower(w)
		if lower == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = lower
		}
	}
	return false
}

// checkSpamPatterns runs every spam check against text and returns a blocking
// FilterResult on the first match. If no pattern matches, it returns a
// zero-value (non-blocking) FilterResult.
func checkSpamPatterns(text string) FilterResult {
	for _, sc := range spamChecks {
		if sc.match(text) {
			return FilterResult{
				Blocked:  true,
				Reason:   ReasonSpam,
				Term:     sc.name,
				Category: CategorySpam,
				Severity: SeverityLow,
			}
		}
	}
	return FilterResult{}
}

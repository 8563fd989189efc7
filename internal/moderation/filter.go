// Package moderation provides content filtering and moderation capabilities.
// It screens live-stream chat messages for prohibited content and escalates
// repeated violations into temporary bans before messages reach the
// transcript.
package moderation

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Filter reason codes.
const (
	ReasonKeyword      = "blocked_keyword"
	ReasonThreat       = "threat_pattern"
	ReasonPersonalInfo = "personal_info"
	ReasonSpam         = "spam_pattern"
)

// FilterResult is the content classification of a single message, without
// any session state applied.
type FilterResult struct {
	Blocked  bool
	Reason   string // one of the Reason* codes
	Term     string // matched term, or the name of the pattern that fired
	Category Category
	Severity Severity
}

// Filter classifies message content against a blocklist and a fixed set of
// threat, personal-info and spam patterns. A Filter is immutable after
// construction and safe for concurrent use.
type Filter struct {
	words     map[string]string // normalized single-word term -> term
	stretched map[string]string // squeezed term -> term, for "fuuuck"
	phrases   []phrase
	exact     map[string]*regexp.Regexp
	longest   int // longest single-word term or join filler, in bytes
}

type phrase struct {
	norm string
	term string
}

// leetReplacer undoes the common character substitutions used to dodge
// keyword filters.
var leetReplacer = strings.NewReplacer(
	"0", "o", "1", "i", "3", "e", "4", "a", "5", "s", "7", "t",
	"$", "s", "@", "a", "!", "i",
)

// NewFilter creates a Filter with the built-in primary and secondary lists.
func NewFilter() *Filter {
	terms := make([]string, 0, len(DefaultProfanityWords)+len(DefaultSecondaryWords))
	terms = append(terms, DefaultProfanityWords...)
	terms = append(terms, DefaultSecondaryWords...)
	return NewFilterWithTerms(terms)
}

// NewFilterWithTerms creates a Filter from an explicit term list. Empty and
// whitespace-only terms are ignored. Terms containing spaces are matched as
// phrases.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{
		words:     make(map[string]string),
		stretched: make(map[string]string),
		exact:     make(map[string]*regexp.Regexp),
	}
	for filler := range joinFillers {
		f.longest = max(f.longest, len(filler))
	}
	for _, raw := range terms {
		term := strings.ToLower(strings.TrimSpace(raw))
		if term == "" {
			continue
		}
		normalized := Normalize(term)
		if normalized == "" {
			continue
		}
		if _, dup := f.exact[term]; dup {
			continue
		}
		f.exact[term] = exactPattern(term)

		if strings.Contains(normalized, " ") {
			f.phrases = append(f.phrases, phrase{norm: normalized, term: term})
			continue
		}
		if _, ok := f.words[normalized]; !ok {
			f.words[normalized] = term
		}
		f.longest = max(f.longest, len(normalized))
		if sq := squeeze(normalized); sq != "" {
			if _, ok := f.stretched[sq]; !ok {
				f.stretched[sq] = term
			}
		}
	}
	return f
}

// exactPattern builds a case-insensitive whole-word matcher for term against
// the raw message. Phrase words may be separated by any run of whitespace.
func exactPattern(term string) *regexp.Regexp {
	parts := strings.Fields(term)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`(?i)\b` + strings.Join(parts, `\s+`) + `\b`)
}

// Check classifies text. Checks run in a fixed order and the first match
// wins: blocklist, threats, personal information, spam.
func (f *Filter) Check(text string) FilterResult {
	original := strings.TrimSpace(text)
	if original == "" {
		return FilterResult{}
	}
	if r := f.checkKeywords(original); r.Blocked {
		return r
	}
	if r := checkThreats(original); r.Blocked {
		return r
	}
	if r := checkPersonalInfo(original); r.Blocked {
		return r
	}
	return checkSpamPatterns(original)
}

// checkKeywords looks for blocklisted terms in two token streams: plain
// letter runs of the folded text, and the fully normalized text. A term
// found verbatim as a whole word in the original is severe; a term that only
// surfaces after normalization, or after joining glued or spaced-out
// letters, was obfuscated and is rated moderate.
func (f *Filter) checkKeywords(original string) FilterResult {
	plain := tokenizePlain(foldText(original))
	normalized := Normalize(original)

	found := ""
	for _, tokens := range [][]string{plain, strings.Fields(normalized)} {
		for _, tok := range tokens {
			term, ok := f.lookup(tok)
			if !ok {
				continue
			}
			if f.exact[term].MatchString(original) {
				return keywordResult(term, SeverityHigh)
			}
			if found == "" {
				found = term
			}
		}
	}

	if len(f.phrases) > 0 {
		plainText := strings.Join(plain, " ")
		for _, p := range f.phrases {
			if !containsPhrase(plainText, p.norm) && !containsPhrase(normalized, p.norm) {
				continue
			}
			if f.exact[p.term].MatchString(original) {
				return keywordResult(p.term, SeverityHigh)
			}
			if found == "" {
				found = p.term
			}
		}
	}

	if found == "" {
		found = f.joinedTerm(plain)
	}
	if found == "" {
		found = f.joinedTerm(strings.Fields(normalized))
	}
	if found != "" {
		return keywordResult(found, SeverityModerate)
	}
	return FilterResult{}
}

// joinFillers are the words that commonly get glued onto a blocklisted term
// ("fuckyou", "shitface"). A joined token only counts when it splits
// entirely into terms and fillers, so "cocktail" and "scunthorpe" stay clean.
var joinFillers = map[string]bool{
	"you": true, "u": true, "ya": true, "ur": true, "yourself": true,
	"urself": true, "off": true, "up": true, "face": true, "head": true,
	"hole": true, "er": true, "ers": true, "ing": true, "in": true,
	"s": true, "my": true, "me": true, "it": true,
	"this": true, "all": true, "bag": true, "boy": true, "girl": true,
	"lol": true,
}

// maxJoinedLen bounds the token length the joined pass will segment.
const maxJoinedLen = 48

// joinedTerm finds a blocklisted term hidden by gluing words together
// ("fuckyou") or by spacing out its letters ("f u c k"). Candidates are each
// token, each pair of adjacent tokens, and each run of single-letter tokens.
func (f *Filter) joinedTerm(tokens []string) string {
	var candidates []string
	candidates = append(candidates, tokens...)
	for i := 0; i+1 < len(tokens); i++ {
		candidates = append(candidates, tokens[i]+tokens[i+1])
	}
	for i := 0; i < len(tokens); {
		j := i
		for j < len(tokens) && len(tokens[j]) == 1 {
			j++
		}
		if j-i >= 2 {
			candidates = append(candidates, strings.Join(tokens[i:j], ""))
		}
		if j == i {
			j++
		}
		i = j
	}

	for _, c := range candidates {
		if term := f.segment(c); term != "" {
			return term
		}
	}
	return ""
}

// segment reports the first blocklisted term of s when s splits completely
// into blocklisted terms and join fillers, with at least one term.
func (f *Filter) segment(s string) string {
	n := len(s)
	if n == 0 || n > maxJoinedLen {
		return ""
	}
	// plain[i]: s[:i] splits into fillers only; term[i]: the first term of
	// a split of s[:i] that contains one.
	plain := make([]bool, n+1)
	term := make([]string, n+1)
	plain[0] = true
	for i := 1; i <= n; i++ {
		for j := max(0, i-f.longest); j < i; j++ {
			if !plain[j] && term[j] == "" {
				continue
			}
			piece := s[j:i]
			if t, ok := f.lookup(piece); ok {
				if term[i] == "" {
					if term[j] != "" {
						term[i] = term[j]
					} else {
						term[i] = t
					}
				}
				continue
			}
			if joinFillers[piece] {
				if plain[j] {
					plain[i] = true
				}
				if term[j] != "" && term[i] == "" {
					term[i] = term[j]
				}
			}
		}
	}
	return term[n]
}

func (f *Filter) lookup(tok string) (string, bool) {
	if term, ok := f.words[tok]; ok {
		return term, true
	}
	if hasStretch(tok) {
		if term, ok := f.stretched[squeeze(tok)]; ok {
			return term, true
		}
	}
	return "", false
}

func keywordResult(term string, sev Severity) FilterResult {
	return FilterResult{
		Blocked:  true,
		Reason:   ReasonKeyword,
		Term:     term,
		Category: CategoryProfanity,
		Severity: sev,
	}
}

// containsPhrase reports whether phrase occurs in text on word boundaries.
// Both arguments are single-space separated.
func containsPhrase(text, phrase string) bool {
	if text == "" {
		return false
	}
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}

// Normalize folds text into the form used for fuzzy blocklist matching:
// lowercase, diacritics removed, leetspeak undone, everything except a-z and
// whitespace dropped, and whitespace collapsed to single spaces.
func Normalize(text string) string {
	s := normalizeLeet(foldText(text))

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// foldText lowercases text, folds compatibility forms ("ｆｕｃｋ" -> "fuck")
// and strips combining marks ("é" -> "e").
func foldText(text string) string {
	lower := strings.ToLower(text)
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, lower)
	if err != nil {
		return lower
	}
	return folded
}

func normalizeLeet(s string) string {
	return leetReplacer.Replace(s)
}

// tokenizePlain splits text into runs of letters.
func tokenizePlain(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

// squeeze collapses every run of a repeated rune to a single rune.
func squeeze(s string) string {
	var b strings.Builder
	prev := rune(-1)
	for _, r := range s {
		if r != prev {
			b.WriteRune(r)
			prev = r
		}
	}
	return b.String()
}

// hasStretch reports whether s repeats any rune three or more times in a row.
func hasStretch(s string) bool {
	count := 0
	prev := rune(-1)
	for _, r := range s {
		if r == prev {
			count++
			if count >= 3 {
				return true
			}
			continue
		}
		prev = r
		count = 1
	}
	return false
}

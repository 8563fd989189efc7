package moderation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestSpam_CharFlood verifies that repeated character flooding is flagged.
func TestSpam_CharFlood(t *testing.T) {
	f := NewFilterWithTerms(nil) // no keyword blocklist, isolate spam checks

	tests := []struct {
		name    string
		input   string
		blocked bool
		term    string
	}{
		{"stretched greeting", "hiiiiiiiiii", true, "char_flood"},
		{"repeated o in word", "hellooooooo", true, "char_flood"},
		{"repeated A", "AAAAAA", true, "char_flood"},
		{"repeated exclamation", "wow!!!!!", true, "char_flood"},
		{"repeated equals", "=====", true, "char_flood"},
		{"four chars ok", "heeeel no", false, ""},
		{"spaces do not count", "well     then", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := f.Check(tt.input)
			assert.Equal(t, tt.blocked, result.Blocked, "Check(%q).Blocked", tt.input)
			assert.Equal(t, tt.term, result.Term, "Check(%q).Term", tt.input)
			if tt.blocked {
				assert.Equal(t, ReasonSpam, result.Reason)
				assert.Equal(t, CategorySpam, result.Category)
				assert.Equal(t, SeverityLow, result.Severity)
			}
		})
	}
}

// TestSpam_PhraseFlood verifies that a message made of one repeated unit is
// flagged.
func TestSpam_PhraseFlood(t *testing.T) {
	f := NewFilterWithTerms(nil)

	tests := []struct {
		name    string
		input   string
		blocked bool
	}{
		{"laugh", "hahaha", true},
		{"joined words", "gggggg", true},
		{"phrase with spaces", "go team go team go team", true},
		{"no separator", "buynowbuynowbuynow", true},
		{"mixed case", "LoLlOllol", true},
		{"two repeats ok", "haha", false},
		{"dots only", "...", false},
		{"not whole message", "hahaha that was funny", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := f.Check(tt.input)
			assert.Equal(t, tt.blocked, result.Blocked, "Check(%q).Blocked (term=%q)", tt.input, result.Term)
		})
	}
}

// TestSpam_WordFlood verifies that repeated word flooding is flagged.
func TestSpam_WordFlood(t *testing.T) {
	f := NewFilterWithTerms(nil)

	tests := []struct {
		name    string
		input   string
		blocked bool
		term    string
	}{
		{"in sentence", "hey follow follow follow me", true, "word_flood"},
		{"case insensitive", "hype HYPE Hype now", true, "word_flood"},
		{"two repeats ok", "go go", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := f.Check(tt.input)
			assert.Equal(t, tt.blocked, result.Blocked, "Check(%q).Blocked", tt.input)
			assert.Equal(t, tt.term, result.Term, "Check(%q).Term", tt.input)
		})
	}
}

// TestSpam_CleanMessages ensures normal messages are NOT flagged as spam.
func TestSpam_CleanMessages(t *testing.T) {
	f := NewFilterWithTerms(nil)

	clean := []struct {
		name  string
		input string
	}{
		{"short number", "I have 3 cats"},
		{"medium number", "My score is 100"},
		{"casual chat", "lol that's cool"},
		{"version string", "upgrade to v2.0"},
		{"decimal number", "pi is about 3.14"},
		{"normal sentence", "how are you doing today?"},
		{"year reference", "see you in 2025"},
		{"single word", "hello"},
		{"two words", "hi there"},
		{"normal excitement", "wow!!! that's great!!"},
		{"repeated letters short", "sooo cool"},
		{"double word ok", "yeah yeah whatever"},
		{"dot in sentence", "ok. sure. fine."},
		{"money amount", "it costs $5.99"},
	}

	for _, tt := range clean {
		t.Run(tt.name, func(t *testing.T) {
			result := f.Check(tt.input)
			assert.False(t, result.Blocked, "Check(%q) was blocked (reason=%q, term=%q)",
				tt.input, result.Reason, result.Term)
		})
	}
}

// TestSpam_EdgeCases covers boundary conditions, including the zero-length
// guard on repetition rules.
func TestSpam_EdgeCases(t *testing.T) {
	f := NewFilterWithTerms(nil)

	tests := []struct {
		name    string
		input   string
		blocked bool
	}{
		{"empty", "", false},
		{"single char", "a", false},
		{"spaces only", "   ", false},
		{"tabs and newlines only", "\t\n\t\n", false},
		{"exactly 4 repeated chars", "abbbb", false},
		{"exactly 5 repeated chars", "abbbbb", true},
		{"newlines", "hello\nworld", false},
		{"tabs", "hello\tworld", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := f.Check(tt.input)
			assert.Equal(t, tt.blocked, result.Blocked, "Check(%q).Blocked (reason=%q, term=%q)",
				tt.input, result.Reason, result.Term)
		})
	}
}

func TestHasPhraseFlood_NeverMatchesEmpty(t *testing.T) {
	assert.False(t, hasPhraseFlood(""))
	assert.False(t, periodicUnit(nil, 3))
	assert.False(t, periodicUnit([]rune{}, 3))
}

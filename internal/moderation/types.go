package moderation

import "time"

// Severity ranks how serious a single violation is.
type Severity int

const (
	SeverityNone     Severity = 0 // clean
	SeverityLow      Severity = 1 // spam, repetition
	SeverityModerate Severity = 2 // obfuscated profanity, personal info
	SeverityHigh     Severity = 3 // exact profanity, threats, active ban
)

// Category classifies why a message was flagged.
type Category string

const (
	CategoryProfanity    Category = "profanity"
	CategoryAbuse        Category = "abuse"
	CategoryThreat       Category = "threat"
	CategoryPersonalInfo Category = "personal_info"
	CategorySpam         Category = "spam"
)

// Verdict is the outcome of checking one chat message. A clean verdict is
// the zero value: not flagged, severity 0, empty reason and category.
type Verdict struct {
	Flagged  bool     `json:"flagged"`
	Reason   string   `json:"reason,omitempty"`
	Severity Severity `json:"severity"`
	Category Category `json:"category,omitempty"`
}

// State is the escalation state of one participant in one live session.
// The zero value is a fresh participant. Zero times mean "not set".
type State struct {
	WarningCount    int       `json:"warning_count"`
	IsBanned        bool      `json:"is_banned"`
	BanUntil        time.Time `json:"ban_until"`
	LastViolationAt time.Time `json:"last_violation_at"`
}

// BannedAt reports whether the state carries a ban still in force at now.
func (s State) BannedAt(now time.Time) bool {
	return s.IsBanned && now.Before(s.BanUntil)
}

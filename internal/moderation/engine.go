package moderation

import (
	"fmt"
	"time"
)

// Policy defaults.
const (
	DefaultBanDuration      = 10 * time.Minute
	DefaultWarningThreshold = 3
	DefaultSevereThreshold  = SeverityHigh
)

// Policy configures an Engine. Zero-valued fields fall back to the defaults;
// nil word lists fall back to the built-in lists.
type Policy struct {
	ProfanityWords   []string
	SecondaryWords   []string
	BanDuration      time.Duration
	WarningThreshold int      // warnings that add up to a ban
	SevereThreshold  Severity // severity at which one violation bans
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		ProfanityWords:   DefaultProfanityWords,
		SecondaryWords:   DefaultSecondaryWords,
		BanDuration:      DefaultBanDuration,
		WarningThreshold: DefaultWarningThreshold,
		SevereThreshold:  DefaultSevereThreshold,
	}
}

func (p Policy) withDefaults() Policy {
	if p.ProfanityWords == nil {
		p.ProfanityWords = DefaultProfanityWords
	}
	if p.SecondaryWords == nil {
		p.SecondaryWords = DefaultSecondaryWords
	}
	if p.BanDuration <= 0 {
		p.BanDuration = DefaultBanDuration
	}
	if p.WarningThreshold <= 0 {
		p.WarningThreshold = DefaultWarningThreshold
	}
	if p.SevereThreshold <= SeverityNone {
		p.SevereThreshold = DefaultSevereThreshold
	}
	return p
}

// Engine applies a Filter and the escalation policy to one participant's
// state. It holds no mutable state: Check is a pure function of its
// arguments, so one Engine can serve every participant of every stream.
// Callers must serialize Check calls for the same participant.
type Engine struct {
	policy Policy
	filter *Filter
}

// NewEngine compiles the policy's word lists into an Engine.
func NewEngine(p Policy) *Engine {
	p = p.withDefaults()
	terms := make([]string, 0, len(p.ProfanityWords)+len(p.SecondaryWords))
	terms = append(terms, p.ProfanityWords...)
	terms = append(terms, p.SecondaryWords...)
	return &Engine{policy: p, filter: NewFilterWithTerms(terms)}
}

// Policy returns the effective policy, defaults applied.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Filter returns the content filter backing the engine.
func (e *Engine) Filter() *Filter {
	return e.filter
}

// Check classifies message for a participant in state at time now and
// returns the verdict together with the participant's next state.
//
// A participant under an active ban is rejected without looking at the
// message. An expired ban is lifted and the warning count reset before the
// message is analysed. Every flagged message counts as a warning; reaching
// the warning threshold, or a single violation at or above the severe
// threshold, imposes a ban of BanDuration and resets the count.
func (e *Engine) Check(message string, state State, now time.Time) (Verdict, State) {
	if state.BannedAt(now) {
		return Verdict{
			Flagged:  true,
			Reason:   fmt.Sprintf("banned until %s", state.BanUntil.UTC().Format(time.RFC3339)),
			Severity: SeverityHigh,
			Category: CategoryAbuse,
		}, state
	}
	if state.IsBanned {
		state.IsBanned = false
		state.BanUntil = time.Time{}
		state.WarningCount = 0
	}

	res := e.filter.Check(message)
	if !res.Blocked {
		return Verdict{}, state
	}

	verdict := Verdict{
		Flagged:  true,
		Reason:   describe(res),
		Severity: res.Severity,
		Category: res.Category,
	}

	state.WarningCount++
	state.LastViolationAt = now
	switch {
	case state.WarningCount >= e.policy.WarningThreshold || verdict.Severity >= e.policy.SevereThreshold:
		state.IsBanned = true
		state.BanUntil = now.Add(e.policy.BanDuration)
		state.WarningCount = 0
	case state.WarningCount == e.policy.WarningThreshold-1:
		verdict.Reason += ". Further violations will result in a temporary ban."
	}
	return verdict, state
}

// describe renders the user-facing explanation for a filter hit.
func describe(res FilterResult) string {
	switch res.Reason {
	case ReasonKeyword:
		return fmt.Sprintf("Inappropriate language detected: %q", res.Term)
	case ReasonThreat:
		return "Threatening language is not allowed"
	case ReasonPersonalInfo:
		if res.Term == "email" {
			return "Please don't share email addresses in chat"
		}
		return "Please don't share phone numbers in chat"
	case ReasonSpam:
		return "Please avoid spam or excessive repetition"
	default:
		return "Message violates chat policy"
	}
}

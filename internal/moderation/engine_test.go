package moderation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

func newTestEngine() *Engine {
	return NewEngine(DefaultPolicy())
}

func TestEngine_SevereProfanityBansImmediately(t *testing.T) {
	e := newTestEngine()

	v, s := e.Check("you are such a fucking idiot", State{}, t0)

	assert.True(t, v.Flagged)
	assert.Equal(t, SeverityHigh, v.Severity)
	assert.Equal(t, CategoryProfanity, v.Category)
	assert.NotEmpty(t, v.Reason)

	assert.True(t, s.IsBanned)
	assert.Equal(t, t0.Add(600000*time.Millisecond), s.BanUntil)
	assert.Equal(t, 0, s.WarningCount)
	assert.Equal(t, t0, s.LastViolationAt)
}

func TestEngine_ObfuscatedProfanityIsWarning(t *testing.T) {
	e := newTestEngine()

	for _, msg := range []string{"sh1t", "a55hole"} {
		v, s := e.Check(msg, State{}, t0)
		assert.True(t, v.Flagged, msg)
		assert.Equal(t, SeverityModerate, v.Severity, msg)
		assert.Equal(t, CategoryProfanity, v.Category, msg)
		assert.False(t, s.IsBanned, msg)
		assert.Equal(t, 1, s.WarningCount, msg)
	}
}

func TestEngine_Scenarios(t *testing.T) {
	e := newTestEngine()

	tests := []struct {
		name     string
		message  string
		flagged  bool
		severity Severity
		category Category
	}{
		{"phone number", "call me at 555-123-4567", true, SeverityModerate, CategoryPersonalInfo},
		{"char spam", "hiiiiiiiiii", true, SeverityLow, CategorySpam},
		{"clean", "good stream today!", false, SeverityNone, ""},
		{"threat", "kys", true, SeverityHigh, CategoryThreat},
		{"email", "dm me at streamer@example.com", true, SeverityModerate, CategoryPersonalInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := e.Check(tt.message, State{}, t0)
			assert.Equal(t, tt.flagged, v.Flagged)
			assert.Equal(t, tt.severity, v.Severity)
			assert.Equal(t, tt.category, v.Category)
		})
	}
}

func TestEngine_PersonalInfoReasonNamesKind(t *testing.T) {
	e := newTestEngine()

	v, _ := e.Check("call me at 555-123-4567", State{}, t0)
	assert.Contains(t, v.Reason, "phone")

	v, _ = e.Check("write to me@example.com", State{}, t0)
	assert.Contains(t, v.Reason, "email")
}

func TestEngine_CleanVerdictIsZero(t *testing.T) {
	e := newTestEngine()
	start := State{WarningCount: 1, LastViolationAt: t0.Add(-time.Minute)}

	for _, msg := range []string{"good stream today!", "", "   ", "gg wp"} {
		v, s := e.Check(msg, start, t0)
		assert.Equal(t, Verdict{}, v, msg)
		assert.Equal(t, start, s, "clean message must not change state")
	}
}

func TestEngine_EscalationToBan(t *testing.T) {
	e := newTestEngine()
	var s State
	var v Verdict

	v, s = e.Check("hiiiiiiii", s, t0)
	require.True(t, v.Flagged)
	assert.Equal(t, 1, s.WarningCount)
	assert.False(t, s.IsBanned)
	assert.NotContains(t, v.Reason, "temporary ban")

	v, s = e.Check("sh1t", s, t0.Add(time.Second))
	require.True(t, v.Flagged)
	assert.Equal(t, 2, s.WarningCount)
	assert.False(t, s.IsBanned)
	assert.Contains(t, v.Reason, "Further violations will result in a temporary ban.")

	third := t0.Add(2 * time.Second)
	v, s = e.Check("call 5551234567", s, third)
	require.True(t, v.Flagged)
	assert.Equal(t, SeverityModerate, v.Severity)
	assert.True(t, s.IsBanned)
	assert.Equal(t, 0, s.WarningCount)
	assert.Equal(t, third.Add(DefaultBanDuration), s.BanUntil)
	assert.Equal(t, third, s.LastViolationAt)
}

func TestEngine_BannedIgnoresContent(t *testing.T) {
	e := newTestEngine()
	banned := State{IsBanned: true, BanUntil: t0.Add(5 * time.Minute), LastViolationAt: t0}

	for _, msg := range []string{"good stream today!", "", "fuck", "hiiiiiii"} {
		v, s := e.Check(msg, banned, t0.Add(time.Minute))
		assert.True(t, v.Flagged, msg)
		assert.Equal(t, SeverityHigh, v.Severity, msg)
		assert.Equal(t, CategoryAbuse, v.Category, msg)
		assert.Contains(t, v.Reason, "banned until", msg)
		assert.Equal(t, banned, s, "banned state must be returned unchanged")
	}
}

func TestEngine_BanExpiry(t *testing.T) {
	e := newTestEngine()
	banned := State{WarningCount: 2, IsBanned: true, BanUntil: t0, LastViolationAt: t0.Add(-10 * time.Minute)}

	v, s := e.Check("good stream today!", banned, t0)
	assert.False(t, v.Flagged)
	assert.Equal(t, SeverityNone, v.Severity)
	assert.False(t, s.IsBanned)
	assert.True(t, s.BanUntil.IsZero())
	assert.Equal(t, 0, s.WarningCount)
}

func TestEngine_BanExpiryThenViolationStartsFresh(t *testing.T) {
	e := newTestEngine()
	banned := State{IsBanned: true, BanUntil: t0}

	v, s := e.Check("sh1t", banned, t0.Add(time.Second))
	assert.True(t, v.Flagged)
	assert.False(t, s.IsBanned)
	assert.Equal(t, 1, s.WarningCount)
}

func TestEngine_InconsistentBanIsCleared(t *testing.T) {
	e := newTestEngine()

	// banned without a deadline counts as expired
	v, s := e.Check("hello", State{IsBanned: true, WarningCount: 2}, t0)
	assert.False(t, v.Flagged)
	assert.False(t, s.IsBanned)
	assert.Equal(t, 0, s.WarningCount)
}

func TestEngine_Deterministic(t *testing.T) {
	e := newTestEngine()
	start := State{WarningCount: 1}

	v1, s1 := e.Check("f.u.c.k this", start, t0)
	v2, s2 := e.Check("f.u.c.k this", start, t0)
	assert.Equal(t, v1, v2)
	assert.Equal(t, s1, s2)
}

func TestEngine_CustomPolicy(t *testing.T) {
	e := NewEngine(Policy{
		ProfanityWords:   []string{"noob"},
		SecondaryWords:   []string{},
		BanDuration:      time.Minute,
		WarningThreshold: 2,
		SevereThreshold:  SeverityHigh,
	})

	// default words are replaced
	v, _ := e.Check("fuck", State{}, t0)
	assert.False(t, v.Flagged)

	v, s := e.Check("n00b", State{}, t0)
	require.True(t, v.Flagged)
	assert.Equal(t, 1, s.WarningCount)
	assert.Contains(t, v.Reason, "temporary ban")

	_, s = e.Check("n00b", s, t0)
	assert.True(t, s.IsBanned)
	assert.Equal(t, t0.Add(time.Minute), s.BanUntil)
}

func TestEngine_SevereThresholdConfigurable(t *testing.T) {
	e := NewEngine(Policy{SevereThreshold: SeverityModerate})

	_, s := e.Check("call me at 555-123-4567", State{}, t0)
	assert.True(t, s.IsBanned, "moderate violation should ban at threshold 2")
}

func TestPolicy_Defaults(t *testing.T) {
	p := NewEngine(Policy{}).Policy()
	assert.Equal(t, DefaultBanDuration, p.BanDuration)
	assert.Equal(t, DefaultWarningThreshold, p.WarningThreshold)
	assert.Equal(t, DefaultSevereThreshold, p.SevereThreshold)
	assert.Equal(t, DefaultProfanityWords, p.ProfanityWords)
	assert.Equal(t, DefaultSecondaryWords, p.SecondaryWords)
}

func TestState_BannedAt(t *testing.T) {
	s := State{IsBanned: true, BanUntil: t0}
	assert.True(t, s.BannedAt(t0.Add(-time.Nanosecond)))
	assert.False(t, s.BannedAt(t0))
	assert.False(t, State{BanUntil: t0}.BannedAt(t0.Add(-time.Hour)))
}

package moderation

import "regexp"

// Threat and personal-information patterns, compiled once and matched
// against the trimmed original message.
var (
	threatPatterns = []*regexp.Regexp{
		// violent verb aimed at the reader: "i will hurt you", "beat u"
		regexp.MustCompile(`(?i)\b(kill|murder|die|hurt|harm|beat)\b.*\b(you|u|ur|yourself|urself)\b`),
		// stated intent: "i'm gonna kill", "i will murder"
		regexp.MustCompile(`(?i)\b(i|im|i'm|imma)\s+(going\s+to|gonna|will|wanna)\s+(kill|murder|hurt|harm|beat)\b`),
		// wishing death: "hope you die"
		regexp.MustCompile(`(?i)\b(hope|wish)\s+(you|u)\s+(die|dies|get\s+hurt|get\s+killed)\b`),
		regexp.MustCompile(`(?i)\b(kill\s+yourself|kill\s+urself|kys|go\s+die)\b`),
	}

	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{10}\b`),
		regexp.MustCompile(`\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`),
		regexp.MustCompile(`\(\d{3}\)\s?\d{3}[-.\s]?\d{4}\b`),
		regexp.MustCompile(`\b\d{5}[-.\s]?\d{5}\b`),
		regexp.MustCompile(`\+\d{1,3}[-.\s]?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}\b`),
	}

	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
)

func checkThreats(text string) FilterResult {
	for _, p := range threatPatterns {
		if m := p.FindString(text); m != "" {
			return FilterResult{
				Blocked:  true,
				Reason:   ReasonThreat,
				Term:     m,
				Category: CategoryThreat,
				Severity: SeverityHigh,
			}
		}
	}
	return FilterResult{}
}

// checkPersonalInfo flags phone numbers and email addresses. Term is "phone"
// or "email".
func checkPersonalInfo(text string) FilterResult {
	for _, p := range phonePatterns {
		if p.MatchString(text) {
			return personalInfoResult("phone")
		}
	}
	if emailPattern.MatchString(text) {
		return personalInfoResult("email")
	}
	return FilterResult{}
}

func personalInfoResult(kind string) FilterResult {
	return FilterResult{
		Blocked:  true,
		Reason:   ReasonPersonalInfo,
		Term:     kind,
		Category: CategoryPersonalInfo,
		Severity: SeverityModerate,
	}
}

package security

import "regexp"

// Commitment is a binding statement found in outbound text.
type Commitment struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	MatchedText string `json:"matched_text"` // capped at 100 chars
}

type commitmentPattern struct {
	typ         string
	re          *regexp.Regexp
	description string
}

// Patterns deliberately do not model negation: "we will not pay $5000"
// still matches. Commitments are warnings in the send gate, never blocks,
// so over-matching is acceptable.
var commitmentPatterns = []commitmentPattern{
	{"financial",
		regexp.MustCompile(`(?i)(pay|send|transfer|wire|invoice)\s+(you\s+)?\$[\d,]+`),
		"Commits to a financial transaction"},
	{"price_agreement",
		regexp.MustCompile(`(?i)(agree|accept|confirm)\s+(the\s+)?(price|rate|cost|fee|quote)\s+of\s+\$[\d,]+`),
		"Agrees to a specific price"},
	{"contract",
		regexp.MustCompile(`(?i)(sign|execute|agree to)\s+(the\s+)?(contract|agreement|NDA|terms)`),
		"Commits to a contractual document"},
	{"guarantee",
		regexp.MustCompile(`(?i)(I|we)\s+(guarantee|warrant|promise|assure)`),
		"Makes a guarantee"},
	{"deadline",
		regexp.MustCompile(`(?i)(deliver|complete|finish|done)\s+by\s+(end of\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday|\d{1,2}[/-]\d{1,2}|tomorrow|next week)`),
		"Commits to a deadline"},
	{"will_do",
		regexp.MustCompile(`(?i)(I|we)\s+will\s+(definitely|certainly|absolutely)`),
		"Makes an unconditional promise"},
	{"resource",
		regexp.MustCompile(`(?i)(assign|allocate|dedicate)\s+(\d+\s+)?(people|developers|hours|resources)`),
		"Commits resources"},
}

// DetectCommitments scans outbound text for binding commitments.
func DetectCommitments(text string) []Commitment {
	if text == "" {
		return nil
	}
	var found []Commitment
	for _, p := range commitmentPatterns {
		m := p.re.FindString(text)
		if m == "" {
			continue
		}
		if r := []rune(m); len(r) > matchedTextCap {
			m = string(r[:matchedTextCap])
		}
		found = append(found, Commitment{
			Type:        p.typ,
			Description: p.description,
			MatchedText: m,
		})
	}
	return found
}

// HasCommitments is the boolean form of DetectCommitments.
func HasCommitments(text string) bool {
	for _, p := range commitmentPatterns {
		if p.re.MatchString(text) {
			return true
		}
	}
	return false
}

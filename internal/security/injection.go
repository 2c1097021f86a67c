package security

import (
	"context"
	"encoding/json"
	"regexp"

	"github.com/ignite/ghostpost/internal/pkg/logger"
	"github.com/ignite/ghostpost/internal/store"
)

// =============================================================================
// INJECTION DETECTOR
// =============================================================================
// Pattern-scans inbound text for prompt-injection, role hijack, exfiltration
// and jailbreak attempts. The catalogue is compiled once at init and shared.

// InjectionMatch is one pattern hit in scanned text.
type InjectionMatch struct {
	PatternName string `json:"pattern_name"`
	Severity    string `json:"severity"`
	MatchedText string `json:"matched_text"` // capped at 100 chars
	Description string `json:"description"`
}

type injectionPattern struct {
	name        string
	severity    string
	re          *regexp.Regexp
	description string
}

var injectionPatterns = []injectionPattern{
	// Critical: direct attempts to replace the agent's instructions.
	{"system_prompt_override", store.SeverityCritical,
		regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions`),
		"Attempt to override system prompt"},
	{"new_instructions", store.SeverityCritical,
		regexp.MustCompile(`(?i)new\s+instructions?\s*:`),
		"Attempt to issue replacement instructions"},
	{"role_hijack", store.SeverityCritical,
		regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an)\s+`),
		"Attempt to reassign the assistant's role"},
	{"system_tag", store.SeverityCritical,
		regexp.MustCompile(`(?i)</?(system|assistant|admin|root)>`),
		"Embedded privileged role tag"},

	// High: attempts to trigger actions or exfiltrate data.
	{"send_email_command", store.SeverityHigh,
		regexp.MustCompile(`(?i)send\s+(an?\s+)?email\s+to\s+\S+@\S+`),
		"Embedded command to send email"},
	{"code_execution", store.SeverityHigh,
		regexp.MustCompile(`(?i)\b(execute|eval|exec)\s*\(`),
		"Embedded code execution call"},
	{"data_exfil", store.SeverityHigh,
		regexp.MustCompile(`(?i)(list|show|reveal|send|forward)\s+(me\s+)?(all\s+)?(your\s+)?(contacts|passwords|credentials|secrets|api\s*keys|emails)`),
		"Request to exfiltrate stored data"},
	{"money_transfer", store.SeverityHigh,
		regexp.MustCompile(`(?i)(transfer|wire|send)\s+(\$|money|funds|payment)`),
		"Embedded money transfer request"},
	{"urgency_command", store.SeverityHigh,
		regexp.MustCompile(`(?i)urgent\s*[:!]\s*(send|transfer|reply|forward|pay)`),
		"Urgency-forcing imperative"},

	// Medium: obfuscation, jailbreak phrasing and context games.
	{"delimiter_escape", store.SeverityMedium,
		regexp.MustCompile("(?i)(```|---|\\*\\*\\*|===)\\s*(system|admin|instructions)"),
		"Delimiter escape before privileged keyword"},
	{"base64_decode", store.SeverityMedium,
		regexp.MustCompile(`(?i)(base64|atob|b64decode)\s*\(`),
		"Base64 decode call"},
	{"invisible_chars", store.SeverityMedium,
		regexp.MustCompile("[\u200B-\u200F\u202A-\u202E\u2066-\u2069\uFEFF]"),
		"Zero-width or invisible characters"},
	{"prompt_leak", store.SeverityMedium,
		regexp.MustCompile(`(?i)(repeat|print|show|reveal)\s+(your\s+)?(system\s+)?prompt`),
		"Request to leak the system prompt"},
	{"jailbreak", store.SeverityMedium,
		regexp.MustCompile(`(?i)\b(DAN\b|developer\s+mode|pretend\s+you)`),
		"Known jailbreak phrasing"},
	{"dangerous_url", store.SeverityMedium,
		regexp.MustCompile(`(?i)\[[^\]]*\]\(\s*(javascript|data|vbscript):`),
		"Markdown link with executable URL scheme"},
	{"multi_persona", store.SeverityMedium,
		regexp.MustCompile(`(?i)act\s+as\s+if\s+you`),
		"Multi-persona role play request"},
	{"context_manipulation", store.SeverityMedium,
		regexp.MustCompile(`(?i)earlier\s+you\s+(said|agreed|promised)`),
		"Fabricated prior-context claim"},
	{"url_encoding", store.SeverityMedium,
		regexp.MustCompile(`(?i)(%[0-9a-f]{2}){2,}[^\s]*(script|exec|eval)`),
		"URL-encoded sequence near executable keyword"},
}

var severityRank = map[string]int{
	store.SeverityCritical: 3,
	store.SeverityHigh:     2,
	store.SeverityMedium:   1,
	store.SeverityInfo:     0,
}

const matchedTextCap = 100

// ScanText scans a single text for all catalogue patterns, returning
// matches in catalogue order.
func ScanText(text string) []InjectionMatch {
	if text == "" {
		return nil
	}
	var matches []InjectionMatch
	for _, p := range injectionPatterns {
		m := p.re.FindString(text)
		if m == "" {
			continue
		}
		if r := []rune(m); len(r) > matchedTextCap {
			m = string(r[:matchedTextCap])
		}
		matches = append(matches, InjectionMatch{
			PatternName: p.name,
			Severity:    p.severity,
			MatchedText: m,
			Description: p.description,
		})
	}
	return matches
}

// ScanEmailContent scans subject, plain body and HTML body, then
// deduplicates by pattern name keeping the first occurrence.
func ScanEmailContent(subject, bodyPlain, bodyHTML string) []InjectionMatch {
	var all []InjectionMatch
	all = append(all, ScanText(subject)...)
	all = append(all, ScanText(bodyPlain)...)
	all = append(all, ScanText(bodyHTML)...)

	seen := make(map[string]bool, len(all))
	out := all[:0]
	for _, m := range all {
		if seen[m.PatternName] {
			continue
		}
		seen[m.PatternName] = true
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// MaxSeverity returns the highest severity among matches under the total
// order critical > high > medium. Empty input returns "".
func MaxSeverity(matches []InjectionMatch) string {
	max := ""
	for _, m := range matches {
		if max == "" || severityRank[m.Severity] > severityRank[max] {
			max = m.Severity
		}
	}
	return max
}

// Scanner runs injection scans against stored emails and records the
// resulting security events.
type Scanner struct {
	store  *store.Store
	events *Events
}

// NewScanner creates an email injection scanner.
func NewScanner(st *store.Store, events *Events) *Scanner {
	return &Scanner{store: st, events: events}
}

// ScanAndQuarantine loads an email, scans the thread subject plus both
// bodies, and records an injection_detected security event when anything
// matches. Critical and high findings quarantine the email. A missing
// email id yields an empty result, not an error.
func (s *Scanner) ScanAndQuarantine(ctx context.Context, emailID int64) ([]InjectionMatch, error) {
	email, err := s.store.GetEmail(ctx, emailID)
	if err != nil {
		return nil, err
	}
	if email == nil {
		return nil, nil
	}

	subject := ""
	if thread, err := s.store.GetThread(ctx, email.ThreadID); err == nil && thread != nil {
		subject = thread.Subject
	}

	matches := ScanEmailContent(subject, email.BodyPlain, email.BodyHTML)
	if len(matches) == 0 {
		return nil, nil
	}

	maxSev := MaxSeverity(matches)
	quarantined := maxSev == store.SeverityCritical || maxSev == store.SeverityHigh

	details, _ := json.Marshal(map[string]interface{}{
		"matches": matches,
		"from":    email.FromAddress,
		"subject": subject,
	})
	s.events.LogSecurityEvent(ctx, SecurityEventInput{
		EventType:   EventInjectionDetected,
		Severity:    maxSev,
		EmailID:     &email.ID,
		ThreadID:    &email.ThreadID,
		Details:     details,
		Quarantined: quarantined,
	})

	logger.Warn("injection detected",
		"email_id", email.ID,
		"severity", maxSev,
		"patterns", len(matches),
		"quarantined", quarantined)
	return matches, nil
}

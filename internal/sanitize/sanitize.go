// Package sanitize normalizes untrusted email text before it reaches the
// database, the detectors, or any agent-facing file.
package sanitize

import (
	"html"
	"regexp"
	"strings"
)

// Isolation markers form the visible trust boundary around received email
// bodies in agent-facing markdown. They survive sanitization.
const (
	IsolationStart = "=== UNTRUSTED EMAIL CONTENT START ==="
	IsolationEnd   = "=== UNTRUSTED EMAIL CONTENT END ==="
)

var (
	commentRe    = regexp.MustCompile(`(?s)<!--.*?-->`)
	scriptRe     = regexp.MustCompile(`(?is)<script\b.*?</script\s*>`)
	scriptOpenRe = regexp.MustCompile(`(?i)<script\b[^>]*>?`)
	styleRe      = regexp.MustCompile(`(?is)<style\b.*?</style\s*>`)
	styleOpenRe  = regexp.MustCompile(`(?i)<style\b[^>]*>?`)
	onAttrRe     = regexp.MustCompile(`(?i)\son\w+\s*=\s*("[^"]*"|'[^']*')`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// stripDangerousMarkup removes comment fragments, script/style blocks and
// inline event handlers. Run before and after entity decoding: decoding
// can turn &lt;script&gt; back into live markup.
func stripDangerousMarkup(text string) string {
	for {
		stripped := commentRe.ReplaceAllString(text, "")
		if stripped == text {
			break
		}
		text = stripped
	}
	text = strings.ReplaceAll(text, "<!--", "")
	text = strings.ReplaceAll(text, "-->", "")
	text = scriptRe.ReplaceAllString(text, "")
	text = scriptOpenRe.ReplaceAllString(text, "")
	text = styleRe.ReplaceAllString(text, "")
	text = styleOpenRe.ReplaceAllString(text, "")
	text = onAttrRe.ReplaceAllString(text, "")
	return text
}

// HTML strips dangerous markup from an HTML body and flattens it to a
// single-spaced plain string. Comments are removed to a fixed point so
// nested fragments cannot reassemble into markup.
func HTML(text string) string {
	if text == "" {
		return ""
	}

	text = stripDangerousMarkup(text)
	text = html.UnescapeString(text)
	text = stripDangerousMarkup(text)
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Plain strips control and invisible formatting characters from a plain
// text body: C0 controls except tab and newline, DEL, and the Unicode
// bidi/zero-width/format ranges used to smuggle hidden instructions.
func Plain(text string) string {
	if text == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r < 0x20 && r != '\t' && r != '\n' {
			continue
		}
		if r == 0x7F {
			continue
		}
		if (r >= 0x200B && r <= 0x200F) ||
			(r >= 0x202A && r <= 0x202E) ||
			(r >= 0x2066 && r <= 0x2069) ||
			r == 0xFEFF {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// Isolate wraps untrusted content in the isolation markers.
func Isolate(text string) string {
	return IsolationStart + "\n" + text + "\n" + IsolationEnd
}

// IsIsolated reports whether both markers are present in the text.
func IsIsolated(text string) bool {
	return strings.Contains(text, IsolationStart) && strings.Contains(text, IsolationEnd)
}

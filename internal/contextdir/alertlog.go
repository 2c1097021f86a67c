package contextdir

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Alert is one entry in the agent-facing alert log. The log is a
// best-effort projection; the authoritative record is the security/audit
// tables.
type Alert struct {
	Timestamp time.Time
	EventType string
	Severity  string
	Title     string
	Message   string
	ThreadID  *int64
	Metadata  map[string]interface{}
}

const (
	// alertMaxEntries bounds the file; oldest entries are trimmed.
	alertMaxEntries = 50
	// alertDedupWindow is how many of the newest entries a fresh alert
	// is checked against before being appended.
	alertDedupWindow = 20
)

var severityLabels = map[string]string{
	"critical": "CRITICAL",
	"high":     "HIGH",
	"medium":   "MEDIUM",
	"info":     "INFO",
}

// SeverityLabel maps a severity to its file label; unknown severities
// are uppercased as-is.
func SeverityLabel(severity string) string {
	if label, ok := severityLabels[severity]; ok {
		return label
	}
	return strings.ToUpper(severity)
}

// AlertLog is the append-with-dedup markdown store behind ALERTS.md.
// Writers read the whole file, compute the new state in memory and write
// atomically; concurrent writers race and the later rename wins.
type AlertLog struct {
	path string
}

// NewAlertLog creates an alert log at the given file path.
func NewAlertLog(path string) *AlertLog {
	return &AlertLog{path: path}
}

func alertHeader() string {
	var b strings.Builder
	b.WriteString("---\n")
	b.WriteString("schema_version: 1\n")
	b.WriteString("type: alerts\n")
	b.WriteString("generated: " + time.Now().UTC().Format(time.RFC3339) + "\n")
	b.WriteString("---\n\n")
	b.WriteString("# Alerts\n\n")
	b.WriteString("Newest first. Bounded to the most recent " +
		strconv.Itoa(alertMaxEntries) + " entries.\n\n")
	return b.String()
}

// formatEntry renders one alert entry, without the leading "- ".
func formatEntry(a Alert) string {
	line := fmt.Sprintf("**[%s]** [%s] %s",
		a.Timestamp.UTC().Format("2006-01-02 15:04"),
		SeverityLabel(a.Severity),
		a.Title)
	if a.ThreadID != nil {
		line += fmt.Sprintf(" (thread #%d)", *a.ThreadID)
	}
	return line + "\n  " + strings.TrimSpace(a.Message)
}

var threadRefRe = regexp.MustCompile(`\(thread #(\d+)\)`)

// entryDedupKey computes "{thread_id}|{message}" for a parsed entry.
// Severity and title deliberately do not participate.
func entryDedupKey(entry string) string {
	first, rest, _ := strings.Cut(entry, "\n")
	threadPart := ""
	if m := threadRefRe.FindStringSubmatch(first); m != nil {
		threadPart = m[1]
	}
	return threadPart + "|" + strings.TrimSpace(rest)
}

func alertDedupKey(a Alert) string {
	threadPart := ""
	if a.ThreadID != nil {
		threadPart = strconv.FormatInt(*a.ThreadID, 10)
	}
	return threadPart + "|" + strings.TrimSpace(a.Message)
}

// parseEntries splits file content into entry blocks (without the
// leading "- "), newest first. Everything before the first entry is the
// header and is discarded; the header is regenerated on write.
func parseEntries(content string) []string {
	idx := strings.Index(content, "\n- ")
	if idx < 0 {
		if strings.HasPrefix(content, "- ") {
			content = "\n" + content
			idx = 0
		} else {
			return nil
		}
	}
	blob := content[idx+len("\n- "):]
	raw := strings.Split(blob, "\n- ")
	entries := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimRight(r, "\n")
		if strings.TrimSpace(r) != "" {
			entries = append(entries, r)
		}
	}
	return entries
}

func serialize(header string, entries []string) []byte {
	var b strings.Builder
	b.WriteString(header)
	for _, e := range entries {
		b.WriteString("- " + e + "\n")
	}
	return []byte(b.String())
}

func (l *AlertLog) read() (string, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Append writes a new alert to the front of the log. An alert whose
// dedup key matches any of the 20 newest existing entries is silently
// skipped. At most 50 entries are retained.
func (l *AlertLog) Append(a Alert) error {
	content, err := l.read()
	if err != nil {
		return fmt.Errorf("alert log read: %w", err)
	}
	entries := parseEntries(content)

	key := alertDedupKey(a)
	window := entries
	if len(window) > alertDedupWindow {
		window = window[:alertDedupWindow]
	}
	for _, e := range window {
		if entryDedupKey(e) == key {
			return nil
		}
	}

	entries = append([]string{formatEntry(a)}, entries...)
	if len(entries) > alertMaxEntries {
		entries = entries[:alertMaxEntries]
	}
	return writeFileAtomic(l.path, serialize(alertHeader(), entries))
}

// Cleanup deduplicates the whole file preserving first (newest)
// occurrence, trims to the retention cap, rewrites atomically and
// returns how many entries were removed.
func (l *AlertLog) Cleanup() (int, error) {
	content, err := l.read()
	if err != nil {
		return 0, fmt.Errorf("alert log read: %w", err)
	}
	entries := parseEntries(content)
	if len(entries) == 0 {
		return 0, nil
	}

	seen := make(map[string]bool, len(entries))
	deduped := make([]string, 0, len(entries))
	for _, e := range entries {
		k := entryDedupKey(e)
		if seen[k] {
			continue
		}
		seen[k] = true
		deduped = append(deduped, e)
	}
	if len(deduped) > alertMaxEntries {
		deduped = deduped[:alertMaxEntries]
	}

	removed := len(entries) - len(deduped)
	if removed == 0 {
		return 0, nil
	}
	if err := writeFileAtomic(l.path, serialize(alertHeader(), deduped)); err != nil {
		return 0, err
	}
	return removed, nil
}

// Path returns the backing file path.
func (l *AlertLog) Path() string { return l.path }

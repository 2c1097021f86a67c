package contextdir

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// changelogMaxEntries bounds the heartbeat changelog.
const changelogMaxEntries = 100

// Changelog is the newest-first heartbeat file behind CHANGELOG.md.
// Unlike the alert log there is no dedup: every dispatched event leaves
// a line.
type Changelog struct {
	path string
}

// NewChangelog creates a changelog at the given file path.
func NewChangelog(path string) *Changelog {
	return &Changelog{path: path}
}

func changelogHeader() string {
	var b strings.Builder
	b.WriteString("---\n")
	b.WriteString("schema_version: 1\n")
	b.WriteString("type: changelog\n")
	b.WriteString("generated: " + time.Now().UTC().Format(time.RFC3339) + "\n")
	b.WriteString("---\n\n")
	b.WriteString("# Changelog\n\n")
	b.WriteString("Newest first. Bounded to the most recent " +
		strconv.Itoa(changelogMaxEntries) + " entries.\n\n")
	return b.String()
}

// Append prepends one heartbeat line. Severity defaults to INFO.
func (c *Changelog) Append(eventType, summary, severity string, at time.Time) error {
	if severity == "" {
		severity = "info"
	}
	entry := fmt.Sprintf("[%s] %s: %s [%s]",
		at.UTC().Format("2006-01-02 15:04"),
		eventType,
		strings.TrimSpace(summary),
		SeverityLabel(severity))

	data, err := os.ReadFile(c.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("changelog read: %w", err)
	}
	entries := parseEntries(string(data))

	entries = append([]string{entry}, entries...)
	if len(entries) > changelogMaxEntries {
		entries = entries[:changelogMaxEntries]
	}
	return writeFileAtomic(c.path, serialize(changelogHeader(), entries))
}

// Path returns the backing file path.
func (c *Changelog) Path() string { return c.path }

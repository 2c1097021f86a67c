package contextdir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/ghostpost/internal/pkg/logger"
	"github.com/ignite/ghostpost/internal/store"
)

// File names under the context root.
const (
	FileSystemBrief       = "SYSTEM_BRIEF.md"
	FileEmailContext      = "EMAIL_CONTEXT.md"
	FileContacts          = "CONTACTS.md"
	FileRules             = "RULES.md"
	FileActiveGoals       = "ACTIVE_GOALS.md"
	FileDrafts            = "DRAFTS.md"
	FileSecurityAlerts    = "SECURITY_ALERTS.md"
	FileResearch          = "RESEARCH.md"
	FileCompletedOutcomes = "COMPLETED_OUTCOMES.md"
	FileAlerts            = "ALERTS.md"
	FileChangelog         = "CHANGELOG.md"

	threadsDir = "threads"
	archiveDir = "archive"
)

// emailContextThreadCap bounds EMAIL_CONTEXT.md.
const emailContextThreadCap = 50

// needsAttentionCap bounds the SYSTEM_BRIEF attention table.
const needsAttentionCap = 5

// Projector renders database state into the agent-facing markdown tree.
// Each file is written atomically; a reader never sees a partial file.
type Projector struct {
	store   *store.Store
	alerts  *AlertLog
	dir     string
	bodyCap int
}

// NewProjector creates a projector rooted at dir. bodyCap limits message
// bodies in thread files; non-positive means the 10k default.
func NewProjector(st *store.Store, alerts *AlertLog, dir string, bodyCap int) *Projector {
	if bodyCap <= 0 {
		bodyCap = defaultBodyCap
	}
	return &Projector{store: st, alerts: alerts, dir: dir, bodyCap: bodyCap}
}

// Dir returns the context root.
func (p *Projector) Dir() string { return p.dir }

func (p *Projector) path(name string) string {
	return filepath.Join(p.dir, name)
}

// frontmatter renders the YAML header every projected file carries.
// Extra pairs keep their given order.
func frontmatter(fileType string, extra ...[2]string) string {
	var b strings.Builder
	b.WriteString("---\n")
	b.WriteString("schema_version: 1\n")
	b.WriteString("type: " + fileType + "\n")
	b.WriteString("generated: " + time.Now().UTC().Format(time.RFC3339) + "\n")
	for _, kv := range extra {
		b.WriteString(kv[0] + ": " + kv[1] + "\n")
	}
	b.WriteString("---\n\n")
	return b.String()
}

// WriteAllContextFiles regenerates the whole tree in a fixed order.
// EMAIL_CONTEXT must precede the thread files because it references the
// per-thread paths the thread-file step produces.
func (p *Projector) WriteAllContextFiles(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"system_brief", p.WriteSystemBrief},
		{"email_context", p.WriteEmailContext},
		{"thread_files", p.WriteThreadFiles},
		{"contacts", p.WriteContacts},
		{"rules", p.WriteRules},
		{"active_goals", p.WriteActiveGoals},
		{"drafts", p.WriteDrafts},
		{"security_alerts", p.WriteSecurityAlerts},
		{"research", p.WriteResearch},
		{"completed_outcomes", p.WriteCompletedOutcomes},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("context projection %s: %w", step.name, err)
		}
	}
	if removed, err := p.alerts.Cleanup(); err != nil {
		logger.Warn("alert cleanup failed", "error", err)
	} else if removed > 0 {
		logger.Info("alert log compacted", "removed", removed)
	}
	return nil
}

// WriteSystemBrief renders the one-page overview.
func (p *Projector) WriteSystemBrief(ctx context.Context) error {
	now := time.Now().UTC()

	counts, err := p.store.CountThreadsByState(ctx)
	if err != nil {
		return err
	}
	unread, err := p.store.CountUnread(ctx)
	if err != nil {
		return err
	}
	pendingDrafts, err := p.store.CountPendingDrafts(ctx)
	if err != nil {
		return err
	}
	lastSync, err := p.store.LastSyncTime(ctx)
	if err != nil {
		return err
	}
	events, err := p.store.ListPendingSecurityEvents(ctx)
	if err != nil {
		return err
	}
	quarantined, err := p.store.CountQuarantined(ctx)
	if err != nil {
		return err
	}
	goalThreads, err := p.store.ListGoalThreads(ctx)
	if err != nil {
		return err
	}
	live, err := p.store.ListNonArchivedThreads(ctx, 0)
	if err != nil {
		return err
	}
	received24h, sent24h, err := p.store.CountActivitySince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString(frontmatter("system_brief",
		[2]string{"threads", strconv.Itoa(totalThreads(counts))},
		[2]string{"unread", strconv.Itoa(unread)},
		[2]string{"pending_drafts", strconv.Itoa(pendingDrafts)},
	))
	b.WriteString("# System Brief\n\n")

	b.WriteString("## Totals\n\n")
	b.WriteString("| State | Count |\n|---|---|\n")
	for _, state := range []store.ThreadState{
		store.StateNew, store.StateActive, store.StateWaitingReply,
		store.StateFollowUp, store.StateGoalMet, store.StateArchived,
	} {
		fmt.Fprintf(&b, "| %s | %d |\n", state, counts[state])
	}
	fmt.Fprintf(&b, "\nUnread emails: %d\n", unread)
	fmt.Fprintf(&b, "Pending drafts: %d\n", pendingDrafts)
	if lastSync != nil {
		fmt.Fprintf(&b, "Last sync: %s\n", lastSync.UTC().Format(time.RFC3339))
	} else {
		b.WriteString("Last sync: never\n")
	}

	b.WriteString("\n## Needs Attention\n\n")
	b.WriteString("| Thread | Subject | Why |\n|---|---|---|\n")
	attention := needsAttention(live, now)
	if len(attention) == 0 {
		b.WriteString("| - | - | No items need immediate attention |\n")
	}
	for _, item := range attention {
		fmt.Fprintf(&b, "| #%d | %s | %s |\n", item.thread.ID, tableEscape(item.thread.Subject), item.why)
	}

	b.WriteString("\n## Active Goals\n\n")
	if len(goalThreads) == 0 {
		b.WriteString("No active goals.\n")
	} else {
		b.WriteString("| Thread | Goal | State |\n|---|---|---|\n")
		for _, t := range goalThreads {
			goal := ""
			if t.Goal != nil {
				goal = *t.Goal
			}
			fmt.Fprintf(&b, "| #%d | %s | %s |\n", t.ID, tableEscape(goal), t.State)
		}
	}

	b.WriteString("\n## Security\n\n")
	fmt.Fprintf(&b, "Pending security events: %d\n", len(events))
	fmt.Fprintf(&b, "Quarantined: %d\n", quarantined)

	b.WriteString("\n## Last 24 Hours\n\n")
	fmt.Fprintf(&b, "Received: %d, sent: %d\n", received24h, sent24h)

	return writeFileAtomic(p.path(FileSystemBrief), []byte(b.String()))
}

type attentionItem struct {
	thread *store.Thread
	why    string
}

// needsAttention selects up to needsAttentionCap threads that are either
// high/critical priority or overdue for follow-up.
func needsAttention(threads []*store.Thread, now time.Time) []attentionItem {
	var items []attentionItem
	for _, t := range threads {
		why := ""
		if t.Priority == store.PriorityCritical || t.Priority == store.PriorityHigh {
			why = t.Priority + " priority"
		}
		if t.NextFollowUpDate != nil && !t.NextFollowUpDate.After(now) {
			if why != "" {
				why += ", "
			}
			why += "follow-up overdue"
		}
		if why == "" {
			continue
		}
		items = append(items, attentionItem{thread: t, why: why})
		if len(items) == needsAttentionCap {
			break
		}
	}
	return items
}

func totalThreads(counts map[store.ThreadState]int) int {
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}

// tableEscape keeps free text from breaking a markdown table row.
func tableEscape(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", "\\|")
}

// WriteEmailContext renders the thread index with per-thread file links.
func (p *Projector) WriteEmailContext(ctx context.Context) error {
	threads, err := p.store.ListNonArchivedThreads(ctx, emailContextThreadCap)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString(frontmatter("email_context",
		[2]string{"thread_count", strconv.Itoa(len(threads))}))
	b.WriteString("# Email Context\n\n")
	if len(threads) == 0 {
		b.WriteString("No active threads.\n")
	}
	for _, t := range threads {
		fmt.Fprintf(&b, "## Thread #%d: %s\n\n", t.ID, t.Subject)
		fmt.Fprintf(&b, "- State: %s\n", t.State)
		fmt.Fprintf(&b, "- Priority: %s\n", t.Priority)
		if t.Summary != "" {
			fmt.Fprintf(&b, "- Summary: %s\n", strings.ReplaceAll(t.Summary, "\n", " "))
		}
		fmt.Fprintf(&b, "- Last activity: %s\n", t.LastActivityAt.UTC().Format("2006-01-02 15:04"))
		fmt.Fprintf(&b, "- Detail: [threads/%d.md](threads/%d.md)\n\n", t.ID, t.ID)
	}
	return writeFileAtomic(p.path(FileEmailContext), []byte(b.String()))
}

// WriteThreadFiles renders every thread to threads/ (live) or
// threads/archive/ (archived) and sweeps orphaned integer-named files.
func (p *Projector) WriteThreadFiles(ctx context.Context) error {
	threads, err := p.store.ListAllThreadsWithEmails(ctx)
	if err != nil {
		return err
	}

	written := make(map[int64]bool, len(threads))
	for _, t := range threads {
		sub := threadsDir
		if t.State == store.StateArchived {
			sub = filepath.Join(threadsDir, archiveDir)
		}
		path := filepath.Join(p.dir, sub, fmt.Sprintf("%d.md", t.ID))
		if err := writeFileAtomic(path, p.renderThreadFile(t)); err != nil {
			return err
		}
		written[t.ID] = true

		// A thread lives in exactly one of the two directories; remove
		// the counterpart left behind by a state change.
		other := filepath.Join(p.dir, threadsDir, archiveDir, fmt.Sprintf("%d.md", t.ID))
		if t.State == store.StateArchived {
			other = filepath.Join(p.dir, threadsDir, fmt.Sprintf("%d.md", t.ID))
		}
		if err := os.Remove(other); err != nil && !os.IsNotExist(err) {
			logger.Warn("stale thread file not removed", "path", other, "error", err)
		}
	}

	for _, sub := range []string{
		filepath.Join(p.dir, threadsDir),
		filepath.Join(p.dir, threadsDir, archiveDir),
	} {
		if err := sweepOrphans(sub, written); err != nil {
			return err
		}
	}
	return nil
}

// sweepOrphans deletes .md files whose stem parses as an integer absent
// from the written set. Non-markdown and non-integer names are untouched.
func sweepOrphans(dir string, written map[int64]bool) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		stem := strings.TrimSuffix(entry.Name(), ".md")
		id, err := strconv.ParseInt(stem, 10, 64)
		if err != nil {
			continue
		}
		if written[id] {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("orphan sweep %s: %w", entry.Name(), err)
		}
	}
	return nil
}

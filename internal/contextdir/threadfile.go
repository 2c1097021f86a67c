package contextdir

import (
	"fmt"
	"strings"
	"time"

	"github.com/ignite/ghostpost/internal/sanitize"
	"github.com/ignite/ghostpost/internal/store"
)

// defaultBodyCap is the per-message body limit in thread files. Bodies
// beyond it are cut and annotated with the full length.
const defaultBodyCap = 10000

// renderThreadFile produces the full per-thread markdown. Received
// bodies are sanitized and wrapped in isolation markers so downstream
// readers treat them as data; sent bodies are sanitized but unwrapped.
func (p *Projector) renderThreadFile(t *store.Thread) []byte {
	var b strings.Builder
	b.WriteString(frontmatter("thread",
		[2]string{"thread_id", fmt.Sprintf("%d", t.ID)},
		[2]string{"state", string(t.State)},
	))

	fmt.Fprintf(&b, "# Thread #%d: %s\n\n", t.ID, t.Subject)

	b.WriteString("## Metadata\n\n")
	fmt.Fprintf(&b, "- State: %s\n", t.State)
	fmt.Fprintf(&b, "- Priority: %s\n", t.Priority)
	if t.Category != "" {
		fmt.Fprintf(&b, "- Category: %s\n", t.Category)
	}
	if parts := t.Participants(); len(parts) > 0 {
		fmt.Fprintf(&b, "- Participants: %s\n", strings.Join(parts, ", "))
	}
	if t.Goal != nil && *t.Goal != "" {
		fmt.Fprintf(&b, "- Goal: %s", *t.Goal)
		if t.GoalStatus != nil {
			fmt.Fprintf(&b, " (%s)", *t.GoalStatus)
		}
		b.WriteString("\n")
		if t.AcceptanceCriteria != nil && *t.AcceptanceCriteria != "" {
			fmt.Fprintf(&b, "- Acceptance criteria: %s\n", *t.AcceptanceCriteria)
		}
	}
	if t.Playbook != nil && *t.Playbook != "" {
		fmt.Fprintf(&b, "- Playbook: %s\n", *t.Playbook)
	}
	fmt.Fprintf(&b, "- Auto-reply mode: %s\n", t.AutoReplyMode)
	if t.NextFollowUpDate != nil {
		fmt.Fprintf(&b, "- Next follow-up: %s\n", t.NextFollowUpDate.UTC().Format("2006-01-02"))
	}
	if t.SecurityScoreAvg != nil {
		fmt.Fprintf(&b, "- Security score (avg): %.0f\n", *t.SecurityScoreAvg)
	}
	// Archived files sit one directory deeper under threads/archive/.
	indexRel := "../EMAIL_CONTEXT.md"
	if t.State == store.StateArchived {
		indexRel = "../../EMAIL_CONTEXT.md"
	}
	fmt.Fprintf(&b, "- Index: [EMAIL_CONTEXT.md](%s)\n", indexRel)

	b.WriteString("\n## Summary\n\n")
	if t.Summary == "" {
		b.WriteString("> No summary yet.\n")
	} else {
		for _, line := range strings.Split(strings.TrimSpace(t.Summary), "\n") {
			b.WriteString("> " + line + "\n")
		}
	}

	b.WriteString("\n## Messages\n\n")
	if len(t.Emails) == 0 {
		b.WriteString("No messages.\n")
	}
	for i, e := range t.Emails {
		p.writeMessage(&b, i+1, e)
	}

	if analysis := renderAnalysis(t.Emails); analysis != "" {
		b.WriteString(analysis)
	}

	b.WriteString("\n## Available Actions\n\n")
	for _, a := range availableActions(t) {
		b.WriteString("- " + a + "\n")
	}

	return []byte(b.String())
}

func (p *Projector) writeMessage(b *strings.Builder, n int, e *store.Email) {
	direction := "Received"
	if e.IsSent {
		direction = "Sent"
	}
	fmt.Fprintf(b, "### [%d] %s: %s\n\n", n, direction, e.SortDate().UTC().Format("2006-01-02 15:04"))
	fmt.Fprintf(b, "From: %s\n", e.FromAddress)
	if to := e.ToAddresses.Slice(); len(to) > 0 {
		fmt.Fprintf(b, "To: %s\n", strings.Join(to, ", "))
	}
	b.WriteString("\n")

	body := e.BodyPlain
	if body == "" {
		body = sanitize.HTML(e.BodyHTML)
	}
	body = sanitize.Plain(body)
	body, note := truncateBody(body, p.bodyCap)

	if e.IsSent {
		b.WriteString(body)
	} else {
		b.WriteString(sanitize.Isolate(body))
	}
	b.WriteString("\n")
	if note != "" {
		b.WriteString(note + "\n")
	}

	if len(e.Attachments) > 0 {
		b.WriteString("\nAttachments:\n")
		for _, a := range e.Attachments {
			fmt.Fprintf(b, "- %s (%s)\n", a.Filename, humanSize(a.Size))
		}
	}
	b.WriteString("\n")
}

// truncateBody cuts body at cap runes and returns the truncation note,
// empty when nothing was cut. The note carries the pre-cut length.
func truncateBody(body string, limit int) (string, string) {
	runes := []rune(body)
	if len(runes) <= limit {
		return body, ""
	}
	note := fmt.Sprintf("[truncated — full body: %d chars]", len(runes))
	return string(runes[:limit]), note
}

// humanSize renders attachment sizes: KB below one MB, MB above, one
// decimal place either way.
func humanSize(bytes int64) string {
	const mb = 1024 * 1024
	if bytes >= mb {
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	}
	return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
}

// renderAnalysis emits the per-message analysis section; empty string
// when no message carries any analysis label.
func renderAnalysis(emails []*store.Email) string {
	var b strings.Builder
	for i, e := range emails {
		var labels []string
		if e.Sentiment != nil && *e.Sentiment != "" {
			labels = append(labels, "sentiment: "+*e.Sentiment)
		}
		if e.Urgency != nil && *e.Urgency != "" {
			labels = append(labels, "urgency: "+*e.Urgency)
		}
		if e.ActionRequired != nil && *e.ActionRequired != "" {
			labels = append(labels, "action required: "+*e.ActionRequired)
		}
		if len(labels) == 0 {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("\n## Analysis\n\n")
		}
		fmt.Fprintf(&b, "- Message [%d]: %s\n", i+1, strings.Join(labels, ", "))
	}
	return b.String()
}

// availableActions lists the commands that make sense for the thread's
// current state, so the agent sees only moves the state machine allows.
func availableActions(t *store.Thread) []string {
	id := t.ID
	var out []string
	switch t.State {
	case store.StateNew:
		out = append(out,
			fmt.Sprintf("`thread view %d` to review and activate", id),
			fmt.Sprintf("`thread reply %d` to respond", id))
	case store.StateActive:
		out = append(out, fmt.Sprintf("`thread reply %d` to respond", id))
	case store.StateWaitingReply:
		out = append(out, fmt.Sprintf("`thread follow-up %d` to nudge if the reply is overdue", id))
	case store.StateFollowUp:
		out = append(out, fmt.Sprintf("`thread reply %d` to send the follow-up", id))
	case store.StateGoalMet:
		out = append(out, fmt.Sprintf("`thread archive %d` to close out", id))
	case store.StateArchived:
		out = append(out, fmt.Sprintf("`thread restore %d` to reopen", id))
	}
	if !t.State.IsTerminal() {
		if t.Goal == nil || *t.Goal == "" {
			out = append(out, fmt.Sprintf("`thread set-goal %d \"<goal>\"` to track an outcome", id))
		} else if t.GoalStatus != nil && *t.GoalStatus == store.GoalInProgress {
			out = append(out, fmt.Sprintf("`thread goal-check %d` to evaluate the goal", id))
		}
		out = append(out, fmt.Sprintf("`thread archive %d` to drop the thread", id))
	}
	return out
}

// threadFileTimestamp formats times the way thread files do. Kept as a
// helper so tests pin the format in one place.
func threadFileTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}

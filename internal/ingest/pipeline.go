// Package ingest takes raw inbound messages through sanitization,
// thread assignment, security scoring and notification.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/ghostpost/internal/notify"
	"github.com/ignite/ghostpost/internal/pkg/logger"
	"github.com/ignite/ghostpost/internal/sanitize"
	"github.com/ignite/ghostpost/internal/security"
	"github.com/ignite/ghostpost/internal/store"
	"github.com/ignite/ghostpost/internal/thread"
)

// Inbound is one message as delivered by the mail provider.
type Inbound struct {
	From        string
	To          []string
	Subject     string
	BodyPlain   string
	BodyHTML    string
	Date        *time.Time
	ReceivedAt  time.Time
	Attachments []store.Attachment
}

// Pipeline runs the full intake path for inbound mail.
type Pipeline struct {
	store    *store.Store
	scanner  *security.Scanner
	threads  *thread.Service
	notifier *notify.Dispatcher

	defaultFollowUpDays int
}

// NewPipeline creates the ingestion pipeline.
func NewPipeline(st *store.Store, scanner *security.Scanner, threads *thread.Service, notifier *notify.Dispatcher, defaultFollowUpDays int) *Pipeline {
	if defaultFollowUpDays <= 0 {
		defaultFollowUpDays = 3
	}
	return &Pipeline{
		store:               st,
		scanner:             scanner,
		threads:             threads,
		notifier:            notifier,
		defaultFollowUpDays: defaultFollowUpDays,
	}
}

// Ingest stores one inbound message: sanitize, assign to a thread,
// score, scan for injection, advance thread state and notify. It
// returns the stored email.
func (p *Pipeline) Ingest(ctx context.Context, in Inbound) (*store.Email, error) {
	subject := sanitize.Plain(in.Subject)
	bodyPlain := sanitize.Plain(in.BodyPlain)
	from := strings.ToLower(strings.TrimSpace(in.From))

	t, created, err := p.assignThread(ctx, subject, from)
	if err != nil {
		return nil, err
	}

	wasWaiting := t.State == store.StateWaitingReply

	score := securityScore(subject, bodyPlain, in.BodyHTML)
	received := in.ReceivedAt
	if received.IsZero() {
		received = time.Now().UTC()
	}

	email := &store.Email{
		ThreadID:      t.ID,
		FromAddress:   from,
		ToAddresses:   store.NewAddressList(in.To...),
		BodyPlain:     bodyPlain,
		BodyHTML:      in.BodyHTML,
		ReceivedAt:    received,
		Date:          in.Date,
		SecurityScore: &score,
		Attachments:   in.Attachments,
	}
	if err := p.store.CreateEmail(ctx, email); err != nil {
		return nil, fmt.Errorf("store inbound email: %w", err)
	}

	matches, err := p.scanner.ScanAndQuarantine(ctx, email.ID)
	if err != nil {
		// The email is stored; scanning is retried on review, so log
		// and continue.
		logger.Error("injection scan failed", "email_id", email.ID, "error", err)
	}

	if err := p.recordSender(ctx, email.FromAddress, received); err != nil {
		logger.Warn("contact update failed", "error", err)
	}

	if wasWaiting {
		if err := p.threads.RecordInboundReply(ctx, t.ID); err != nil {
			logger.Error("inbound state transition failed", "thread_id", t.ID, "error", err)
		}
	}

	quarantined := security.MaxSeverity(matches) == store.SeverityCritical ||
		security.MaxSeverity(matches) == store.SeverityHigh
	if !quarantined {
		p.notifier.NotifyNewEmail(ctx, t.ID, email.FromAddress, subject, deriveUrgency(subject))
	}

	logger.Info("email ingested",
		"email_id", email.ID,
		"thread_id", t.ID,
		"new_thread", created,
		"security_score", score,
		"quarantined", quarantined)
	return email, nil
}

// assignThread matches an existing thread by normalized subject and
// participant overlap, or creates a fresh one in NEW. Two senders who
// happen to pick the same subject never share a thread.
func (p *Pipeline) assignThread(ctx context.Context, subject, sender string) (*store.Thread, bool, error) {
	normalized := NormalizeSubject(subject)
	if normalized != "" {
		t, err := p.store.FindThreadBySubject(ctx, normalized, sender)
		if err != nil {
			return nil, false, fmt.Errorf("thread lookup: %w", err)
		}
		if t != nil {
			return t, false, nil
		}
	}

	display := stripReplyPrefixes(subject)
	if display == "" {
		display = "(no subject)"
	}
	t := &store.Thread{
		Subject:       display,
		State:         store.StateNew,
		Priority:      store.PriorityNormal,
		AutoReplyMode: store.AutoReplyDraft,
		FollowUpDays:  p.defaultFollowUpDays,
	}
	if err := p.store.CreateThread(ctx, t); err != nil {
		return nil, false, fmt.Errorf("create thread: %w", err)
	}
	return t, true, nil
}

func (p *Pipeline) recordSender(ctx context.Context, address string, at time.Time) error {
	if address == "" {
		return nil
	}
	existing, err := p.store.GetContactByEmail(ctx, address)
	if err != nil {
		return err
	}
	if existing == nil {
		return p.store.UpsertContact(ctx, &store.Contact{Email: address})
	}
	return p.store.TouchContact(ctx, address, at)
}

// stripReplyPrefixes removes leading Re:/Fwd:/Fw: markers, repeatedly.
func stripReplyPrefixes(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		lower := strings.ToLower(s)
		switch {
		case strings.HasPrefix(lower, "re:"):
			s = strings.TrimSpace(s[3:])
		case strings.HasPrefix(lower, "fwd:"):
			s = strings.TrimSpace(s[4:])
		case strings.HasPrefix(lower, "fw:"):
			s = strings.TrimSpace(s[3:])
		default:
			return s
		}
	}
}

// NormalizeSubject produces the lookup key used for thread matching:
// prefixes stripped, whitespace collapsed, lowercased.
func NormalizeSubject(subject string) string {
	s := stripReplyPrefixes(subject)
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Per-severity deductions from the 0-100 message security score.
const (
	scoreBase      = 100
	deductCritical = 40
	deductHigh     = 25
	deductMedium   = 10
)

// securityScore derives the per-message score from the injection scan.
// A clean message scores 100; each match deducts by severity, floored
// at zero.
func securityScore(subject, bodyPlain, bodyHTML string) int {
	score := scoreBase
	for _, m := range security.ScanEmailContent(subject, bodyPlain, bodyHTML) {
		switch m.Severity {
		case store.SeverityCritical:
			score -= deductCritical
		case store.SeverityHigh:
			score -= deductHigh
		case store.SeverityMedium:
			score -= deductMedium
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}

// deriveUrgency gives a coarse urgency label from the subject until a
// model-provided label lands during analysis.
func deriveUrgency(subject string) string {
	lower := strings.ToLower(subject)
	for _, kw := range []string{"urgent", "asap", "immediately", "emergency", "critical"} {
		if strings.Contains(lower, kw) {
			return "high"
		}
	}
	return "normal"
}

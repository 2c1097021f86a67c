package security

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ignite/ghostpost/internal/pkg/logger"
	"github.com/ignite/ghostpost/internal/store"
)

// =============================================================================
// SEND GATE
// =============================================================================
// Every outbound send passes through CheckSendAllowed. Reasons block;
// warnings never do.

// DefaultHourlySendLimit caps agent sends per hour when no override is set.
const DefaultHourlySendLimit = 20

// GateActor is the counter-store actor for agent-initiated sends.
const GateActor = "agent"

// Substring scan, known false positives accepted ("court" inside
// "basketball court"). Warnings only.
var sensitiveTopics = []string{
	"legal", "medical", "confidential", "audit", "lawsuit",
	"harassment", "termination", "court", "attorney", "diagnosis",
	"salary", "severance",
}

// lowSecurityScoreThreshold flags threads whose running average suggests
// prior suspicious traffic.
const lowSecurityScoreThreshold = 50

// Decision is the structured result of the send gate.
type Decision struct {
	Allowed  bool     `json:"allowed"`
	Reasons  []string `json:"reasons"`
	Warnings []string `json:"warnings"`
}

// Gate composes the blocklist, rate, commitment, sensitive-topic and
// security-score checks into a single pre-send decision.
type Gate struct {
	store     *store.Store
	rate      *RateLimiter
	events    *Events
	rateLimit int
}

// NewGate creates the send gate. A non-positive rateLimit falls back to
// DefaultHourlySendLimit.
func NewGate(st *store.Store, rate *RateLimiter, events *Events, rateLimit int) *Gate {
	if rateLimit <= 0 {
		rateLimit = DefaultHourlySendLimit
	}
	return &Gate{store: st, rate: rate, events: events, rateLimit: rateLimit}
}

// IsBlocked reports blocklist membership for an address: case-insensitive,
// exact match, list stored under the "blocklist" setting.
func (g *Gate) IsBlocked(ctx context.Context, address string) (bool, error) {
	blocklist, err := g.store.GetSettingList(ctx, "blocklist")
	if err != nil {
		return false, err
	}
	addr := strings.ToLower(strings.TrimSpace(address))
	for _, blocked := range blocklist {
		if strings.ToLower(strings.TrimSpace(blocked)) == addr {
			return true, nil
		}
	}
	return false, nil
}

// CheckSendAllowed runs the full pre-send pipeline for the given
// recipients and body. threadID is optional.
func (g *Gate) CheckSendAllowed(ctx context.Context, to []string, body string, threadID *int64) Decision {
	d := Decision{Reasons: []string{}, Warnings: []string{}}

	// 1. Blocklist, per recipient.
	for _, addr := range to {
		blocked, err := g.IsBlocked(ctx, addr)
		if err != nil {
			logger.Error("blocklist lookup failed", "recipient", addr, "error", err)
			d.Reasons = append(d.Reasons, "blocklist unavailable, send refused")
			continue
		}
		if blocked {
			d.Reasons = append(d.Reasons, fmt.Sprintf("recipient on blocklist: %s", addr))
		}
	}

	// 2. Hourly rate limit. Fail closed: if the counter store is
	// unreachable we cannot prove the budget, so the send is refused.
	rate, err := g.rate.CheckSendRate(ctx, GateActor, g.rateLimit)
	if err != nil {
		logger.Error("rate limiter unreachable", "error", err)
		d.Reasons = append(d.Reasons, "rate limiter unavailable, send refused")
	} else if !rate.Allowed {
		d.Reasons = append(d.Reasons,
			fmt.Sprintf("hourly send rate limit reached (%d of %d)", rate.Count, rate.Limit))
		details, _ := json.Marshal(map[string]interface{}{
			"actor": GateActor,
			"count": rate.Count,
			"limit": rate.Limit,
		})
		g.events.LogSecurityEvent(ctx, SecurityEventInput{
			EventType: EventRateLimitExceeded,
			Severity:  store.SeverityHigh,
			ThreadID:  threadID,
			Details:   details,
		})
	}

	// 3. Commitments warn, never block.
	for _, c := range DetectCommitments(body) {
		d.Warnings = append(d.Warnings,
			fmt.Sprintf("commitment detected (%s): %s", c.Type, c.MatchedText))
	}

	// 4. Sensitive topics warn.
	d.Warnings = append(d.Warnings, CheckSensitiveTopics(body)...)

	// 5. Thread security history warns.
	if threadID != nil {
		thread, err := g.store.GetThread(ctx, *threadID)
		if err != nil {
			logger.Error("thread lookup failed in send gate", "thread_id", *threadID, "error", err)
		} else if thread != nil && thread.SecurityScoreAvg != nil &&
			*thread.SecurityScoreAvg < lowSecurityScoreThreshold {
			d.Warnings = append(d.Warnings,
				fmt.Sprintf("thread security score is low (%.0f)", *thread.SecurityScoreAvg))
		}
	}

	d.Allowed = len(d.Reasons) == 0
	if !d.Allowed {
		logger.Warn("send blocked", "reasons", strings.Join(d.Reasons, "; "))
	}
	return d
}

// CheckSensitiveTopics scans the body for curated sensitive keywords and
// returns one warning per topic found.
func CheckSensitiveTopics(body string) []string {
	lower := strings.ToLower(body)
	var warnings []string
	for _, topic := range sensitiveTopics {
		if strings.Contains(lower, topic) {
			warnings = append(warnings, fmt.Sprintf("sensitive topic mentioned: %s", topic))
		}
	}
	return warnings
}

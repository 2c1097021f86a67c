// Package triage scans pending work and produces the ordered action list
// the agent executes next.
package triage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ignite/ghostpost/internal/store"
)

// Action scores. Higher runs first; ties keep insertion order.
const (
	scoreSecurityCritical = 100
	scoreSecurityHigh     = 80
	scoreSecurityMedium   = 40
	scoreDraftStale       = 60
	scoreDraftFresh       = 35
	scoreOverdueLong      = 50
	scoreOverdueShort     = 30
	scoreNewHighPriority  = 40
	scoreNewOther         = 15
	scoreGoalCheck        = 20
)

const (
	draftStaleAfter  = 2 * time.Hour
	overdueLongAfter = 3 * 24 * time.Hour
	defaultLimit     = 10
)

// Action is one prioritized work item.
type Action struct {
	Action     string `json:"action"`
	TargetType string `json:"target_type"`
	TargetID   int64  `json:"target_id"`
	Reason     string `json:"reason"`
	Priority   string `json:"priority"`
	Command    string `json:"command"`
	Score      int    `json:"score"`
}

// Summary holds the triage counters.
type Summary struct {
	ThreadsByState    map[store.ThreadState]int `json:"threads_by_state"`
	Unread            int                       `json:"unread"`
	PendingDrafts     int                       `json:"pending_drafts"`
	SecurityIncidents int                       `json:"security_incidents"`
	Overdue           int                       `json:"overdue"`
	New               int                       `json:"new"`
}

// Snapshot is the full triage result: counters, the ordered action list
// and the detail lists the actions were generated from.
type Snapshot struct {
	Timestamp      time.Time              `json:"timestamp"`
	Summary        Summary                `json:"summary"`
	Actions        []Action               `json:"actions"`
	SecurityEvents []*store.SecurityEvent `json:"security_events"`
	PendingDrafts  []*store.Draft         `json:"pending_drafts"`
	OverdueThreads []*store.Thread        `json:"overdue_threads"`
	NewThreads     []*store.Thread        `json:"new_threads"`
}

// Engine computes triage snapshots from current DB state.
type Engine struct {
	store *store.Store
}

// NewEngine creates a triage engine.
func NewEngine(st *store.Store) *Engine {
	return &Engine{store: st}
}

// GetTriageData scans the world and returns up to limit scored actions,
// ordered by score descending with stable ties.
func (e *Engine) GetTriageData(ctx context.Context, limit int) (*Snapshot, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	now := time.Now().UTC()
	snap := &Snapshot{Timestamp: now}

	counts, err := e.store.CountThreadsByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("triage thread counts: %w", err)
	}
	snap.Summary.ThreadsByState = counts

	if snap.Summary.Unread, err = e.store.CountUnread(ctx); err != nil {
		return nil, fmt.Errorf("triage unread count: %w", err)
	}

	if snap.SecurityEvents, err = e.store.ListPendingSecurityEvents(ctx); err != nil {
		return nil, fmt.Errorf("triage security events: %w", err)
	}
	snap.Summary.SecurityIncidents = len(snap.SecurityEvents)

	if snap.PendingDrafts, err = e.store.ListPendingDrafts(ctx); err != nil {
		return nil, fmt.Errorf("triage drafts: %w", err)
	}
	snap.Summary.PendingDrafts = len(snap.PendingDrafts)

	if snap.OverdueThreads, err = e.store.ListOverdueThreads(ctx, now); err != nil {
		return nil, fmt.Errorf("triage overdue threads: %w", err)
	}
	snap.Summary.Overdue = len(snap.OverdueThreads)

	if snap.NewThreads, err = e.store.ListThreadsByState(ctx, store.StateNew); err != nil {
		return nil, fmt.Errorf("triage new threads: %w", err)
	}
	snap.Summary.New = len(snap.NewThreads)

	goalThreads, err := e.store.ListGoalThreads(ctx)
	if err != nil {
		return nil, fmt.Errorf("triage goal threads: %w", err)
	}

	var actions []Action

	for _, ev := range snap.SecurityEvents {
		score := 0
		switch ev.Severity {
		case store.SeverityCritical:
			score = scoreSecurityCritical
		case store.SeverityHigh:
			score = scoreSecurityHigh
		case store.SeverityMedium:
			score = scoreSecurityMedium
		default:
			continue
		}
		actions = append(actions, Action{
			Action:     "review_security",
			TargetType: "security_event",
			TargetID:   ev.ID,
			Reason:     fmt.Sprintf("%s severity %s event pending review", ev.Severity, ev.EventType),
			Priority:   ev.Severity,
			Command:    fmt.Sprintf("security review %d", ev.ID),
			Score:      score,
		})
	}

	for _, d := range snap.PendingDrafts {
		score := scoreDraftFresh
		reason := "draft awaiting approval"
		if now.Sub(d.CreatedAt) > draftStaleAfter {
			score = scoreDraftStale
			reason = fmt.Sprintf("draft waiting %s for approval", now.Sub(d.CreatedAt).Round(time.Minute))
		}
		actions = append(actions, Action{
			Action:     "approve_draft",
			TargetType: "draft",
			TargetID:   d.ID,
			Reason:     reason,
			Priority:   "normal",
			Command:    fmt.Sprintf("draft approve %d", d.ID),
			Score:      score,
		})
	}

	for _, t := range snap.OverdueThreads {
		score := scoreOverdueShort
		if t.NextFollowUpDate != nil && now.Sub(*t.NextFollowUpDate) > overdueLongAfter {
			score = scoreOverdueLong
		}
		actions = append(actions, Action{
			Action:     "follow_up",
			TargetType: "thread",
			TargetID:   t.ID,
			Reason:     fmt.Sprintf("follow-up overdue on %q", t.Subject),
			Priority:   t.Priority,
			Command:    fmt.Sprintf("thread follow-up %d", t.ID),
			Score:      score,
		})
	}

	for _, t := range snap.NewThreads {
		score := scoreNewOther
		if t.Priority == store.PriorityHigh || t.Priority == store.PriorityCritical {
			score = scoreNewHighPriority
		}
		actions = append(actions, Action{
			Action:     "review_new",
			TargetType: "thread",
			TargetID:   t.ID,
			Reason:     fmt.Sprintf("new thread %q needs review", t.Subject),
			Priority:   t.Priority,
			Command:    fmt.Sprintf("thread view %d", t.ID),
			Score:      score,
		})
	}

	for _, t := range goalThreads {
		if t.State != store.StateActive {
			continue
		}
		actions = append(actions, Action{
			Action:     "check_goal",
			TargetType: "thread",
			TargetID:   t.ID,
			Reason:     fmt.Sprintf("goal in progress on %q", t.Subject),
			Priority:   t.Priority,
			Command:    fmt.Sprintf("thread goal-check %d", t.ID),
			Score:      scoreGoalCheck,
		})
	}

	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Score > actions[j].Score
	})
	if len(actions) > limit {
		actions = actions[:limit]
	}
	snap.Actions = actions
	return snap, nil
}

package thread

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/ghostpost/internal/pkg/logger"
	"github.com/ignite/ghostpost/internal/security"
	"github.com/ignite/ghostpost/internal/store"
)

// Notifier is the narrow slice of the notification dispatcher the state
// machine needs. Calls are best-effort.
type Notifier interface {
	NotifyGoalMet(ctx context.Context, threadID int64, subject, goal string)
	NotifyStaleThread(ctx context.Context, threadID int64, subject string, daysOverdue int)
}

// Service applies lifecycle transitions and their side effects: follow-up
// scheduling, outcome records, audit entries and notifications.
type Service struct {
	store  *store.Store
	events *security.Events
	notify Notifier

	defaultFollowUpDays int
}

// NewService creates the thread lifecycle service.
func NewService(st *store.Store, events *security.Events, notify Notifier, defaultFollowUpDays int) *Service {
	if defaultFollowUpDays <= 0 {
		defaultFollowUpDays = 3
	}
	return &Service{store: st, events: events, notify: notify, defaultFollowUpDays: defaultFollowUpDays}
}

func (s *Service) transition(ctx context.Context, t *store.Thread, to store.ThreadState, nextFollowUp *time.Time) error {
	if t.State == to {
		return nil
	}
	if !CanTransition(t.State, to) {
		return &ErrInvalidTransition{From: t.State, To: to}
	}
	if err := s.store.UpdateThreadState(ctx, t.ID, to, nextFollowUp); err != nil {
		return fmt.Errorf("thread %d: %w", t.ID, err)
	}
	logger.Info("thread state changed", "thread_id", t.ID, "from", string(t.State), "to", string(to))
	t.State = to
	if to.IsTerminal() {
		t.NextFollowUpDate = nil
	} else {
		t.NextFollowUpDate = nextFollowUp
	}
	return nil
}

// MarkViewed moves a NEW thread to ACTIVE when the operator or agent
// first looks at it. Viewing a thread in any other state is a no-op.
func (s *Service) MarkViewed(ctx context.Context, actor string, threadID int64) error {
	t, err := s.store.GetThread(ctx, threadID)
	if err != nil || t == nil {
		return err
	}
	if t.State != store.StateNew {
		return nil
	}
	if err := s.transition(ctx, t, store.StateActive, t.NextFollowUpDate); err != nil {
		return err
	}
	s.events.LogAction(ctx, actor, "thread_viewed", fmt.Sprintf("%d", threadID), nil)
	return nil
}

// RecordOutboundSent records a successful provider send: the thread moves
// to WAITING_REPLY and the next follow-up is scheduled from now.
func (s *Service) RecordOutboundSent(ctx context.Context, actor string, threadID int64) error {
	t, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("thread %d not found", threadID)
	}
	if t.State.IsTerminal() {
		return &ErrInvalidTransition{From: t.State, To: store.StateWaitingReply}
	}

	// NEW threads skip through ACTIVE: replying is also viewing.
	if t.State == store.StateNew {
		if err := s.transition(ctx, t, store.StateActive, t.NextFollowUpDate); err != nil {
			return err
		}
	}

	days := t.FollowUpDays
	if days <= 0 {
		days = s.defaultFollowUpDays
	}
	next := time.Now().UTC().AddDate(0, 0, days)
	if err := s.transition(ctx, t, store.StateWaitingReply, &next); err != nil {
		return err
	}
	s.events.LogAction(ctx, actor, "email_sent", fmt.Sprintf("%d", threadID),
		map[string]interface{}{"next_follow_up": next.Format(time.RFC3339)})
	return nil
}

// RecordInboundReply moves WAITING_REPLY back to ACTIVE when a reply
// arrives. Threads in other states are untouched.
func (s *Service) RecordInboundReply(ctx context.Context, threadID int64) error {
	t, err := s.store.GetThread(ctx, threadID)
	if err != nil || t == nil {
		return err
	}
	if t.State != store.StateWaitingReply {
		return nil
	}
	return s.transition(ctx, t, store.StateActive, nil)
}

// MarkFollowUpDue is invoked by the scheduler when next_follow_up_date
// has passed without an inbound reply.
func (s *Service) MarkFollowUpDue(ctx context.Context, t *store.Thread) error {
	if t.State != store.StateWaitingReply {
		return nil
	}
	if err := s.transition(ctx, t, store.StateFollowUp, t.NextFollowUpDate); err != nil {
		return err
	}
	if s.notify != nil && t.NextFollowUpDate != nil {
		overdue := int(time.Since(*t.NextFollowUpDate).Hours() / 24)
		s.notify.NotifyStaleThread(ctx, t.ID, t.Subject, overdue)
	}
	return nil
}

// MarkGoalMet transitions an in-flight thread to GOAL_MET, clears the
// follow-up schedule, records the outcome exactly once, and notifies.
func (s *Service) MarkGoalMet(ctx context.Context, actor string, threadID int64, summary string) error {
	t, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("thread %d not found", threadID)
	}
	if err := s.transition(ctx, t, store.StateGoalMet, nil); err != nil {
		return err
	}

	if t.Goal != nil {
		status := store.GoalMet
		if err := s.store.UpdateThreadGoal(ctx, threadID, t.Goal, t.AcceptanceCriteria, &status); err != nil {
			return err
		}
	}
	if err := s.store.CreateThreadOutcome(ctx, &store.ThreadOutcome{
		ThreadID:    threadID,
		OutcomeType: "goal_met",
		Summary:     summary,
	}); err != nil {
		logger.Error("thread outcome write failed", "thread_id", threadID, "error", err)
	}
	s.events.LogAction(ctx, actor, "goal_met", fmt.Sprintf("%d", threadID), nil)

	if s.notify != nil {
		goal := ""
		if t.Goal != nil {
			goal = *t.Goal
		}
		s.notify.NotifyGoalMet(ctx, threadID, t.Subject, goal)
	}
	return nil
}

// Archive moves any thread to ARCHIVED and records the terminal outcome.
func (s *Service) Archive(ctx context.Context, actor string, threadID int64, summary string) error {
	t, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("thread %d not found", threadID)
	}
	wasTerminal := t.State.IsTerminal()
	if err := s.transition(ctx, t, store.StateArchived, nil); err != nil {
		return err
	}
	// A GOAL_MET thread already has its outcome; archiving it again
	// must not mint a second one, and CreateThreadOutcome guarantees that.
	if !wasTerminal {
		if err := s.store.CreateThreadOutcome(ctx, &store.ThreadOutcome{
			ThreadID:    threadID,
			OutcomeType: "archived",
			Summary:     summary,
		}); err != nil {
			logger.Error("thread outcome write failed", "thread_id", threadID, "error", err)
		}
	}
	s.events.LogAction(ctx, actor, "thread_archived", fmt.Sprintf("%d", threadID), nil)
	return nil
}

// Restore moves an ARCHIVED thread back to ACTIVE.
func (s *Service) Restore(ctx context.Context, actor string, threadID int64) error {
	t, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("thread %d not found", threadID)
	}
	if err := s.transition(ctx, t, store.StateActive, nil); err != nil {
		return err
	}
	s.events.LogAction(ctx, actor, "thread_restored", fmt.Sprintf("%d", threadID), nil)
	return nil
}

// SetGoal assigns or replaces a thread's goal; a fresh goal starts
// in_progress. Clearing the goal also clears its status and criteria.
func (s *Service) SetGoal(ctx context.Context, actor string, threadID int64, goal, criteria *string) error {
	var status *string
	if goal != nil {
		v := store.GoalInProgress
		status = &v
	}
	if err := s.store.UpdateThreadGoal(ctx, threadID, goal, criteria, status); err != nil {
		return err
	}
	s.events.LogAction(ctx, actor, "goal_set", fmt.Sprintf("%d", threadID), nil)
	return nil
}

package thread

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/ghostpost/internal/security"
	"github.com/ignite/ghostpost/internal/store"
)

type fakeNotifier struct {
	goalMet []int64
	stale   []int64
}

func (f *fakeNotifier) NotifyGoalMet(ctx context.Context, threadID int64, subject, goal string) {
	f.goalMet = append(f.goalMet, threadID)
}

func (f *fakeNotifier) NotifyStaleThread(ctx context.Context, threadID int64, subject string, daysOverdue int) {
	f.stale = append(f.stale, threadID)
}

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock, *fakeNotifier) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := store.NewStore(db)
	notifier := &fakeNotifier{}
	return NewService(st, security.NewEvents(st), notifier, 3), mock, notifier
}

var serviceThreadCols = []string{
	"id", "subject", "state", "priority", "category", "summary", "goal",
	"acceptance_criteria", "goal_status", "playbook", "auto_reply_mode",
	"follow_up_days", "next_follow_up_date", "security_score_avg",
	"last_activity_at", "notes", "created_at",
}

func expectGetThread(mock sqlmock.Sqlmock, id int64, state store.ThreadState,
	goal *string, followUp *time.Time) {
	now := time.Now().UTC()
	mock.ExpectQuery(`(?s)SELECT .* FROM threads WHERE id`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(serviceThreadCols).
			AddRow(id, "Vendor renewal", string(state), "normal", "", "", goal,
				nil, nil, nil, "draft", 3, followUp, nil, now, "", now))
}

func expectStateUpdate(mock sqlmock.Sqlmock, id int64, to store.ThreadState) {
	mock.ExpectExec(`UPDATE threads SET state`).
		WithArgs(id, string(to), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestMarkViewedActivatesNewThread(t *testing.T) {
	svc, mock, _ := newTestService(t)
	expectGetThread(mock, 5, store.StateNew, nil, nil)
	expectStateUpdate(mock, 5, store.StateActive)

	require.NoError(t, svc.MarkViewed(context.Background(), "user", 5))
}

func TestMarkViewedIgnoresNonNewThreads(t *testing.T) {
	svc, mock, _ := newTestService(t)
	expectGetThread(mock, 5, store.StateWaitingReply, nil, nil)

	require.NoError(t, svc.MarkViewed(context.Background(), "user", 5))
	assert.NoError(t, mock.ExpectationsWereMet(), "no state update expected")
}

func TestRecordOutboundSentFromActive(t *testing.T) {
	svc, mock, _ := newTestService(t)
	expectGetThread(mock, 5, store.StateActive, nil, nil)
	expectStateUpdate(mock, 5, store.StateWaitingReply)

	require.NoError(t, svc.RecordOutboundSent(context.Background(), "agent", 5))
}

func TestRecordOutboundSentFromNewSkipsThroughActive(t *testing.T) {
	svc, mock, _ := newTestService(t)
	expectGetThread(mock, 5, store.StateNew, nil, nil)
	expectStateUpdate(mock, 5, store.StateActive)
	expectStateUpdate(mock, 5, store.StateWaitingReply)

	require.NoError(t, svc.RecordOutboundSent(context.Background(), "agent", 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordOutboundSentRejectsTerminalThread(t *testing.T) {
	svc, mock, _ := newTestService(t)
	expectGetThread(mock, 5, store.StateGoalMet, nil, nil)

	err := svc.RecordOutboundSent(context.Background(), "agent", 5)
	var invalid *ErrInvalidTransition
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, store.StateGoalMet, invalid.From)
}

func TestRecordInboundReplyReactivates(t *testing.T) {
	svc, mock, _ := newTestService(t)
	due := time.Now().UTC().AddDate(0, 0, 2)
	expectGetThread(mock, 5, store.StateWaitingReply, nil, &due)
	expectStateUpdate(mock, 5, store.StateActive)

	require.NoError(t, svc.RecordInboundReply(context.Background(), 5))
}

func TestRecordInboundReplyIgnoresOtherStates(t *testing.T) {
	svc, mock, _ := newTestService(t)
	expectGetThread(mock, 5, store.StateActive, nil, nil)

	require.NoError(t, svc.RecordInboundReply(context.Background(), 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFollowUpDueTransitionsAndNotifies(t *testing.T) {
	svc, mock, notifier := newTestService(t)
	overdue := time.Now().UTC().AddDate(0, 0, -2)
	th := &store.Thread{
		ID: 5, Subject: "Vendor renewal",
		State:            store.StateWaitingReply,
		NextFollowUpDate: &overdue,
	}
	expectStateUpdate(mock, 5, store.StateFollowUp)

	require.NoError(t, svc.MarkFollowUpDue(context.Background(), th))
	assert.Equal(t, store.StateFollowUp, th.State)
	assert.Equal(t, []int64{5}, notifier.stale)
}

func TestMarkFollowUpDueIgnoresNonWaitingThreads(t *testing.T) {
	svc, mock, notifier := newTestService(t)
	th := &store.Thread{ID: 5, State: store.StateActive}

	require.NoError(t, svc.MarkFollowUpDue(context.Background(), th))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, notifier.stale)
}

func TestMarkGoalMetRecordsOutcomeAndNotifies(t *testing.T) {
	svc, mock, notifier := newTestService(t)
	goal := "close the renewal"
	expectGetThread(mock, 5, store.StateActive, &goal, nil)
	expectStateUpdate(mock, 5, store.StateGoalMet)
	mock.ExpectExec(`UPDATE threads SET goal`).
		WithArgs(int64(5), &goal, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO thread_outcomes`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	require.NoError(t, svc.MarkGoalMet(context.Background(), "agent", 5, "renewal signed"))
	assert.Equal(t, []int64{5}, notifier.goalMet)
}

func TestMarkGoalMetFromTerminalFails(t *testing.T) {
	svc, mock, notifier := newTestService(t)
	expectGetThread(mock, 5, store.StateArchived, nil, nil)

	err := svc.MarkGoalMet(context.Background(), "agent", 5, "")
	var invalid *ErrInvalidTransition
	require.ErrorAs(t, err, &invalid)
	assert.Empty(t, notifier.goalMet)
}

func TestArchiveRecordsOutcomeOnce(t *testing.T) {
	svc, mock, _ := newTestService(t)
	expectGetThread(mock, 5, store.StateWaitingReply, nil, nil)
	expectStateUpdate(mock, 5, store.StateArchived)
	// Conflict on an existing outcome row scans no id and is not an error.
	mock.ExpectQuery(`INSERT INTO thread_outcomes`).WillReturnError(sql.ErrNoRows)

	require.NoError(t, svc.Archive(context.Background(), "user", 5, "dead end"))
}

func TestArchiveGoalMetThreadSkipsSecondOutcome(t *testing.T) {
	svc, mock, _ := newTestService(t)
	expectGetThread(mock, 5, store.StateGoalMet, nil, nil)
	expectStateUpdate(mock, 5, store.StateArchived)

	require.NoError(t, svc.Archive(context.Background(), "user", 5, ""))
	assert.NoError(t, mock.ExpectationsWereMet(), "terminal threads archive without a new outcome")
}

func TestRestoreArchivedThread(t *testing.T) {
	svc, mock, _ := newTestService(t)
	expectGetThread(mock, 5, store.StateArchived, nil, nil)
	expectStateUpdate(mock, 5, store.StateActive)

	require.NoError(t, svc.Restore(context.Background(), "user", 5))
}

func TestRestoreNonArchivedThreadFails(t *testing.T) {
	svc, mock, _ := newTestService(t)
	expectGetThread(mock, 5, store.StateGoalMet, nil, nil)

	err := svc.Restore(context.Background(), "user", 5)
	var invalid *ErrInvalidTransition
	assert.ErrorAs(t, err, &invalid)
}

func TestSetGoalStartsInProgress(t *testing.T) {
	svc, mock, _ := newTestService(t)
	goal := "get a quote"
	status := store.GoalInProgress
	mock.ExpectExec(`UPDATE threads SET goal`).
		WithArgs(int64(5), &goal, nil, &status).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.SetGoal(context.Background(), "user", 5, &goal, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

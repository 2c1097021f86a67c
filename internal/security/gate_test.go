package security

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/ghostpost/internal/store"
)

func newTestGate(t *testing.T) (*Gate, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	st := store.NewStore(db)
	events := NewEvents(st)
	rate := NewRateLimiter(rdb, st, events)
	return NewGate(st, rate, events, 20), mock, mr
}

func expectBlocklist(mock sqlmock.Sqlmock, value string) {
	q := mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM settings WHERE key = $1`)).
		WithArgs("blocklist")
	if value == "" {
		q.WillReturnError(sql.ErrNoRows)
	} else {
		q.WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(value))
	}
}

func testTime() time.Time {
	return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
}

func TestGateBlocksBlocklistedRecipient(t *testing.T) {
	gate, mock, _ := newTestGate(t)
	expectBlocklist(mock, `["spam@bad.example"]`)

	d := gate.CheckSendAllowed(context.Background(), []string{"SPAM@bad.example"}, "hello", nil)
	assert.False(t, d.Allowed)
	require.Len(t, d.Reasons, 1)
	assert.Contains(t, d.Reasons[0], "blocklist")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGateAllowsCleanSend(t *testing.T) {
	gate, mock, _ := newTestGate(t)
	expectBlocklist(mock, `[]`)

	d := gate.CheckSendAllowed(context.Background(), []string{"ok@good.example"}, "see you tomorrow", nil)
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Reasons)
	assert.Empty(t, d.Warnings)
}

func TestGateFailsClosedWhenRateStoreDown(t *testing.T) {
	gate, mock, mr := newTestGate(t)
	expectBlocklist(mock, `[]`)
	mr.Close()

	d := gate.CheckSendAllowed(context.Background(), []string{"ok@good.example"}, "hello", nil)
	assert.False(t, d.Allowed)
	require.Len(t, d.Reasons, 1)
	assert.Contains(t, d.Reasons[0], "rate limiter unavailable")
}

func TestGateBlocksAtRateLimit(t *testing.T) {
	gate, mock, mr := newTestGate(t)
	expectBlocklist(mock, `[]`)
	mr.Set(currentRateKey(GateActor), "20")

	// The rate violation also records a security event.
	mock.ExpectQuery("INSERT INTO security_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	d := gate.CheckSendAllowed(context.Background(), []string{"ok@good.example"}, "hello", nil)
	assert.False(t, d.Allowed)
	require.Len(t, d.Reasons, 1)
	assert.Contains(t, d.Reasons[0], "rate limit reached")
}

func TestGateCommitmentWarnsButAllows(t *testing.T) {
	gate, mock, _ := newTestGate(t)
	expectBlocklist(mock, `[]`)

	d := gate.CheckSendAllowed(context.Background(),
		[]string{"ok@good.example"}, "we will pay $5,000 next week", nil)
	assert.True(t, d.Allowed)
	require.NotEmpty(t, d.Warnings)
	assert.Contains(t, d.Warnings[0], "commitment detected (financial)")
}

func TestGateSensitiveTopicWarnsButAllows(t *testing.T) {
	gate, mock, _ := newTestGate(t)
	expectBlocklist(mock, `[]`)

	d := gate.CheckSendAllowed(context.Background(),
		[]string{"ok@good.example"}, "regarding the lawsuit settlement", nil)
	assert.True(t, d.Allowed)
	require.NotEmpty(t, d.Warnings)
	assert.Contains(t, d.Warnings[0], "sensitive topic mentioned: lawsuit")
}

func TestCheckSensitiveTopicsKnownFalsePositive(t *testing.T) {
	// Substring scan by design: "basketball court" trips "court".
	warnings := CheckSensitiveTopics("meet me at the basketball court")
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "court")
}

func TestGateLowThreadScoreWarns(t *testing.T) {
	gate, mock, _ := newTestGate(t)
	expectBlocklist(mock, `[]`)

	threadID := int64(7)
	score := 30.0
	rows := sqlmock.NewRows([]string{
		"id", "subject", "state", "priority", "category", "summary", "goal",
		"acceptance_criteria", "goal_status", "playbook", "auto_reply_mode",
		"follow_up_days", "next_follow_up_date", "security_score_avg",
		"last_activity_at", "notes", "created_at",
	}).AddRow(threadID, "suspicious deal", "ACTIVE", "normal", "", "", nil,
		nil, nil, nil, "off", 3, nil, score, testTime(), "", testTime())
	mock.ExpectQuery(`(?s)SELECT .* FROM threads WHERE id`).
		WithArgs(threadID).WillReturnRows(rows)

	d := gate.CheckSendAllowed(context.Background(), []string{"ok@good.example"}, "hello", &threadID)
	assert.True(t, d.Allowed)
	require.NotEmpty(t, d.Warnings)
	assert.Contains(t, d.Warnings[0], "security score is low (30)")
}

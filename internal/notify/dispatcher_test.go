package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/ghostpost/internal/contextdir"
	"github.com/ignite/ghostpost/internal/store"
)

type testDispatcher struct {
	d         *Dispatcher
	mock      sqlmock.Sqlmock
	rdb       *redis.Client
	alerts    *contextdir.AlertLog
	changelog *contextdir.Changelog
}

func newTestDispatcher(t *testing.T) *testDispatcher {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	dir := t.TempDir()
	alerts := contextdir.NewAlertLog(filepath.Join(dir, contextdir.FileAlerts))
	changelog := contextdir.NewChangelog(filepath.Join(dir, contextdir.FileChangelog))
	return &testDispatcher{
		d:         NewDispatcher(store.NewStore(db), rdb, alerts, changelog),
		mock:      mock,
		rdb:       rdb,
		alerts:    alerts,
		changelog: changelog,
	}
}

func (td *testDispatcher) expectSetting(key, value string) {
	q := td.mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM settings WHERE key = $1`)).
		WithArgs(key)
	if value == "" {
		q.WillReturnError(sql.ErrNoRows)
	} else {
		q.WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(value))
	}
}

func alertFileContains(t *testing.T, l *contextdir.AlertLog, s string) bool {
	t.Helper()
	data, err := os.ReadFile(l.Path())
	if os.IsNotExist(err) {
		return false
	}
	require.NoError(t, err)
	return strings.Contains(string(data), s)
}

func TestDispatchUnknownEventType(t *testing.T) {
	td := newTestDispatcher(t)
	sent, err := td.d.Dispatch(context.Background(), "made_up", "t", "m", nil, "", nil)
	require.NoError(t, err)
	assert.False(t, sent)

	_, statErr := os.Stat(td.alerts.Path())
	assert.True(t, os.IsNotExist(statErr), "unknown events must leave no trace")
}

func TestDispatchDisabledSetting(t *testing.T) {
	td := newTestDispatcher(t)
	td.expectSetting("notification_new_email", "false")

	sent, err := td.d.Dispatch(context.Background(), EventNewEmail, "t", "m", nil, "", nil)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.NoError(t, td.mock.ExpectationsWereMet())
}

func TestDispatchWritesAlertAndPublishes(t *testing.T) {
	td := newTestDispatcher(t)
	td.expectSetting("notification_draft_ready", "")

	sub := td.rdb.Subscribe(context.Background(), Channel)
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	threadID := int64(9)
	sent, err := td.d.Dispatch(context.Background(), EventDraftReady,
		"Draft ready for review", "Draft #4 awaits approval", &threadID, "", nil)
	require.NoError(t, err)
	assert.True(t, sent)

	assert.True(t, alertFileContains(t, td.alerts, "Draft ready for review"))
	assert.True(t, alertFileContains(t, td.alerts, "(thread #9)"))

	select {
	case msg := <-sub.Channel():
		var p payload
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &p))
		assert.Equal(t, EventDraftReady, p.EventType)
		assert.Equal(t, store.SeverityInfo, p.Severity)
		assert.Equal(t, "Draft #4 awaits approval", p.Message)
		require.NotNil(t, p.ThreadID)
		assert.Equal(t, threadID, *p.ThreadID)
		assert.NotEmpty(t, p.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no notification published")
	}
}

func TestDispatchSurvivesBrokerOutage(t *testing.T) {
	td := newTestDispatcher(t)
	td.expectSetting("notification_goal_met", "")
	require.NoError(t, td.rdb.Close())

	sent, err := td.d.Dispatch(context.Background(), EventGoalMet, "Thread goal met", "done", nil, "", nil)
	require.NoError(t, err, "publish failure must not fail the dispatch")
	assert.True(t, sent)
	assert.True(t, alertFileContains(t, td.alerts, "Thread goal met"))
}

func TestDispatchSettingLookupErrorFallsBackToDefault(t *testing.T) {
	td := newTestDispatcher(t)
	td.mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM settings WHERE key = $1`)).
		WithArgs("notification_security_alert").
		WillReturnError(sql.ErrConnDone)

	sent, err := td.d.Dispatch(context.Background(), EventSecurityAlert,
		"Security: injection_detected", "pattern matched", nil, "critical", nil)
	require.NoError(t, err)
	assert.True(t, sent, "default-enabled events deliver even when settings are unreachable")
	assert.True(t, alertFileContains(t, td.alerts, "[CRITICAL]"))
}

func TestNotifyNewEmailUrgencyGate(t *testing.T) {
	td := newTestDispatcher(t)

	// Normal urgency never reaches the settings gate or the log.
	assert.False(t, td.d.NotifyNewEmail(context.Background(), 3, "a@b.example", "hi", "normal"))
	assert.NoError(t, td.mock.ExpectationsWereMet())

	td.expectSetting("notification_new_email", "")
	assert.True(t, td.d.NotifyNewEmail(context.Background(), 3, "a@b.example", "server down", "high"))
	assert.True(t, alertFileContains(t, td.alerts, "New high-urgency email"))

	// The heartbeat lands in the changelog.
	data, err := os.ReadFile(td.changelog.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "thread #3 received high-urgency email")
}

func TestNotifyDraftReadyCarriesMetadata(t *testing.T) {
	td := newTestDispatcher(t)
	td.expectSetting("notification_draft_ready", "")

	sub := td.rdb.Subscribe(context.Background(), Channel)
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	td.d.NotifyDraftReady(context.Background(), 3, 14, "Vendor renewal")

	select {
	case msg := <-sub.Channel():
		var p payload
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &p))
		assert.Equal(t, EventDraftReady, p.EventType)
		assert.EqualValues(t, 14, p.Metadata["draft_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("no notification published")
	}
}

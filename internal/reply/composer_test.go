package reply

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/ghostpost/internal/llm"
	"github.com/ignite/ghostpost/internal/store"
)

// fakeModel records the prompts it is given and returns a canned body.
type fakeModel struct {
	system string
	user   string
	out    string
	err    error
}

func (f *fakeModel) Complete(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error) {
	f.system = system
	f.user = user
	if f.err != nil {
		return "", f.err
	}
	return f.out, nil
}

func newTestComposer(t *testing.T, model llm.Client) (*Composer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewComposer(store.NewStore(db), model), mock
}

var threadCols = []string{
	"id", "subject", "state", "priority", "category", "summary", "goal",
	"acceptance_criteria", "goal_status", "playbook", "auto_reply_mode",
	"follow_up_days", "next_follow_up_date", "security_score_avg",
	"last_activity_at", "notes", "created_at",
}

var emailCols = []string{
	"id", "thread_id", "from_address", "to_addresses", "body_plain", "body_html",
	"is_sent", "is_read", "received_at", "date", "sentiment", "urgency",
	"action_required", "security_score", "attachments", "created_at",
}

func expectThread(mock sqlmock.Sqlmock, id int64, subject string, goal *string) {
	now := time.Now().UTC()
	mock.ExpectQuery(`(?s)SELECT .* FROM threads WHERE id`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(threadCols).
			AddRow(id, subject, "ACTIVE", "normal", "", "", goal,
				nil, nil, nil, "draft", 3, nil, nil, now, "", now))
}

func emailRow(rows *sqlmock.Rows, id int64, from, body string, sent bool, at time.Time) *sqlmock.Rows {
	return rows.AddRow(id, int64(7), from, []byte(`["me@ghost.example"]`), body, "",
		sent, true, at, nil, nil, nil, nil, nil, []byte(`[]`), at)
}

func expectSetting(mock sqlmock.Sqlmock, key, value string) {
	q := mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM settings WHERE key = $1`)).
		WithArgs(key)
	if value == "" {
		q.WillReturnError(sql.ErrNoRows)
	} else {
		q.WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(value))
	}
}

func expectNoContact(mock sqlmock.Sqlmock, email string) {
	mock.ExpectQuery(`(?s)SELECT .* FROM contacts WHERE LOWER`).
		WithArgs(email).
		WillReturnError(sql.ErrNoRows)
}

func TestGenerateReplyNoModel(t *testing.T) {
	c, _ := newTestComposer(t, nil)
	_, err := c.GenerateReply(context.Background(), 7, "", "")
	assert.ErrorIs(t, err, llm.ErrUnavailable)
}

func TestGenerateReplyThreadNotFound(t *testing.T) {
	c, mock := newTestComposer(t, &fakeModel{out: "x"})
	mock.ExpectQuery(`(?s)SELECT .* FROM threads WHERE id`).
		WithArgs(int64(7)).WillReturnError(sql.ErrNoRows)

	_, err := c.GenerateReply(context.Background(), 7, "", "")
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestGenerateReplyEmptyThread(t *testing.T) {
	c, mock := newTestComposer(t, &fakeModel{out: "x"})
	expectThread(mock, 7, "Empty", nil)
	mock.ExpectQuery(`(?s)SELECT .* FROM emails WHERE thread_id`).
		WithArgs(int64(7)).WillReturnRows(sqlmock.NewRows(emailCols))

	_, err := c.GenerateReply(context.Background(), 7, "", "")
	assert.ErrorIs(t, err, ErrNoEmails)
}

func TestGenerateReplyHappyPath(t *testing.T) {
	model := &fakeModel{out: "  Thanks, confirming receipt.  "}
	c, mock := newTestComposer(t, model)

	goal := "close the renewal"
	expectThread(mock, 7, "Vendor renewal", &goal)
	now := time.Now().UTC()
	emails := sqlmock.NewRows(emailCols)
	emailRow(emails, 1, "vendor@acme.example", "here is the quote", false, now.Add(-time.Hour))
	emailRow(emails, 2, "me@ghost.example", "reviewing it", true, now)
	mock.ExpectQuery(`(?s)SELECT .* FROM emails WHERE thread_id`).
		WithArgs(int64(7)).WillReturnRows(emails)
	expectSetting(mock, "reply_style", "")
	expectNoContact(mock, "vendor@acme.example")

	res, err := c.GenerateReply(context.Background(), 7, "keep it short", "")
	require.NoError(t, err)

	assert.Equal(t, "Thanks, confirming receipt.", res.Body)
	assert.Equal(t, "professional", res.Style)
	assert.Equal(t, "Re: Vendor renewal", res.Subject)
	assert.Equal(t, []string{"vendor@acme.example"}, res.To)

	assert.Contains(t, model.system, "professional, courteous")
	assert.Contains(t, model.system, "UNTRUSTED EMAIL CONTENT markers")
	assert.Contains(t, model.user, "Thread subject: Vendor renewal")
	assert.Contains(t, model.user, "Goal: close the renewal")
	assert.Contains(t, model.user, "Instructions: keep it short")
	assert.Contains(t, model.user, "Draft the reply now.")
}

func TestGenerateReplyModelFailure(t *testing.T) {
	model := &fakeModel{err: errors.New("backend down")}
	c, mock := newTestComposer(t, model)
	expectThread(mock, 7, "Subject", nil)
	emails := sqlmock.NewRows(emailCols)
	emailRow(emails, 1, "a@b.example", "hi", false, time.Now().UTC())
	mock.ExpectQuery(`(?s)SELECT .* FROM emails WHERE thread_id`).
		WithArgs(int64(7)).WillReturnRows(emails)
	expectSetting(mock, "reply_style", "")
	expectNoContact(mock, "a@b.example")

	_, err := c.GenerateReply(context.Background(), 7, "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reply generation")
}

func TestResolveStyleOverrideSkipsSettings(t *testing.T) {
	c, _ := newTestComposer(t, &fakeModel{})
	style, text, err := c.resolveStyle(context.Background(), "casual")
	require.NoError(t, err)
	assert.Equal(t, "casual", style)
	assert.Contains(t, text, "relaxed")
}

func TestResolveStyleUnknownFallsBack(t *testing.T) {
	c, _ := newTestComposer(t, &fakeModel{})
	style, text, err := c.resolveStyle(context.Background(), "sarcastic")
	require.NoError(t, err)
	assert.Equal(t, "professional", style)
	assert.Contains(t, text, "professional")
}

func TestResolveStyleCustom(t *testing.T) {
	c, mock := newTestComposer(t, &fakeModel{})
	expectSetting(mock, "reply_style_custom", "Always open with a haiku.")

	style, text, err := c.resolveStyle(context.Background(), "custom")
	require.NoError(t, err)
	assert.Equal(t, "custom", style)
	assert.Equal(t, "Always open with a haiku.", text)
}

func TestResolveStyleCustomEmptyFallsBack(t *testing.T) {
	c, mock := newTestComposer(t, &fakeModel{})
	expectSetting(mock, "reply_style_custom", "")

	style, _, err := c.resolveStyle(context.Background(), "custom")
	require.NoError(t, err)
	assert.Equal(t, "professional", style)
}

func TestBuildUserPromptIsolatesAndTruncatesHistory(t *testing.T) {
	long := strings.Repeat("x", 1500)
	th := &store.Thread{
		ID:      7,
		Subject: "History",
		Emails: []*store.Email{
			{FromAddress: "other@x.example", BodyPlain: long, IsSent: false},
			{FromAddress: "me@ghost.example", BodyPlain: "my reply", IsSent: true},
		},
	}

	prompt := buildUserPrompt(th, "")
	assert.Contains(t, prompt, "=== UNTRUSTED EMAIL CONTENT START ===")
	assert.Contains(t, prompt, "\n---\n")
	assert.NotContains(t, prompt, strings.Repeat("x", 1001), "history bodies must be capped")
}

func TestBuildUserPromptWindowsHistory(t *testing.T) {
	th := &store.Thread{ID: 7, Subject: "Long thread"}
	for i := 0; i < 15; i++ {
		th.Emails = append(th.Emails, &store.Email{
			FromAddress: "other@x.example",
			BodyPlain:   "message " + string(rune('a'+i)),
		})
	}

	prompt := buildUserPrompt(th, "")
	assert.NotContains(t, prompt, "message a")
	assert.NotContains(t, prompt, "message e")
	assert.Contains(t, prompt, "message f")
	assert.Contains(t, prompt, "message o")
}

func TestReplyRecipients(t *testing.T) {
	th := &store.Thread{Emails: []*store.Email{
		{FromAddress: "first@x.example", IsSent: false},
		{FromAddress: "second@x.example", IsSent: false},
		{FromAddress: "me@ghost.example", IsSent: true,
			ToAddresses: store.NewAddressList("second@x.example")},
	}}
	assert.Equal(t, []string{"second@x.example"}, replyRecipients(th))

	// All-sent threads fall back to the participant set.
	allSent := &store.Thread{Emails: []*store.Email{
		{FromAddress: "me@ghost.example", IsSent: true,
			ToAddresses: store.NewAddressList("peer@x.example")},
	}}
	assert.Equal(t, []string{"me@ghost.example", "peer@x.example"}, replyRecipients(allSent))
}

func TestReplySubject(t *testing.T) {
	assert.Equal(t, "Re: hello", replySubject("hello"))
	assert.Equal(t, "Re: hello", replySubject("Re: hello"))
	assert.Equal(t, "RE: hello", replySubject("  RE: hello "))
	assert.Equal(t, "re: hello", replySubject("re: hello"))
}

package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ThreadState is the lifecycle state of a conversation thread.
type ThreadState string

const (
	StateNew          ThreadState = "NEW"
	StateActive       ThreadState = "ACTIVE"
	StateWaitingReply ThreadState = "WAITING_REPLY"
	StateFollowUp     ThreadState = "FOLLOW_UP"
	StateGoalMet      ThreadState = "GOAL_MET"
	StateArchived     ThreadState = "ARCHIVED"
)

// IsTerminal reports whether the state ends follow-up scheduling.
func (s ThreadState) IsTerminal() bool {
	return s == StateGoalMet || s == StateArchived
}

// Thread priority levels.
const (
	PriorityLow      = "low"
	PriorityNormal   = "normal"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Goal status values; non-null only when the thread has a goal.
const (
	GoalInProgress = "in_progress"
	GoalMet        = "met"
	GoalAbandoned  = "abandoned"
)

// Auto-reply modes.
const (
	AutoReplyOff   = "off"
	AutoReplyDraft = "draft"
	AutoReplyAuto  = "auto"
)

// Draft statuses.
const (
	DraftPending  = "pending"
	DraftApproved = "approved"
	DraftRejected = "rejected"
	DraftSent     = "sent"
)

// SecurityEvent severities, ordered critical > high > medium > info.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityInfo     = "info"
)

// SecurityEvent resolutions.
const (
	ResolutionPending   = "pending"
	ResolutionDismissed = "dismissed"
	ResolutionApproved  = "approved"
)

// AddressList is the recipient container for a message. Historical rows
// stored either an ordered JSON array of addresses or a name→address map;
// both shapes decode, and Slice is the single normalization point used
// everywhere addresses are joined or iterated.
type AddressList struct {
	list  []string
	named map[string]string
}

// NewAddressList builds an ordered address list.
func NewAddressList(addrs ...string) AddressList {
	return AddressList{list: append([]string(nil), addrs...)}
}

// Slice returns the addresses as an ordered list. Map-shaped lists are
// returned in sorted-key order so the result is deterministic.
func (a AddressList) Slice() []string {
	if a.named != nil {
		keys := make([]string, 0, len(a.named))
		for k := range a.named {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]string, 0, len(keys))
		for _, k := range keys {
			out = append(out, a.named[k])
		}
		return out
	}
	return append([]string(nil), a.list...)
}

// Len returns the number of addresses.
func (a AddressList) Len() int {
	if a.named != nil {
		return len(a.named)
	}
	return len(a.list)
}

// MarshalJSON encodes the list in its original shape.
func (a AddressList) MarshalJSON() ([]byte, error) {
	if a.named != nil {
		return json.Marshal(a.named)
	}
	if a.list == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a.list)
}

// UnmarshalJSON accepts either a JSON array of strings or a string→string map.
func (a *AddressList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		a.list = list
		a.named = nil
		return nil
	}
	var named map[string]string
	if err := json.Unmarshal(data, &named); err == nil {
		a.named = named
		a.list = nil
		return nil
	}
	return fmt.Errorf("address list: expected array or object, got %s", string(data))
}

// Attachment is a stored file reference on an email.
type Attachment struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type,omitempty"`
}

// Email is one message within a thread.
type Email struct {
	ID             int64
	ThreadID       int64
	FromAddress    string
	ToAddresses    AddressList
	BodyPlain      string
	BodyHTML       string
	IsSent         bool
	IsRead         bool
	ReceivedAt     time.Time
	Date           *time.Time // sender-provided date header
	Sentiment      *string
	Urgency        *string
	ActionRequired *string
	SecurityScore  *int
	Attachments    []Attachment
	CreatedAt      time.Time
}

// SortDate returns the timestamp used to order messages within a thread:
// the sender-provided date when present, else received-at, else created-at.
func (e *Email) SortDate() time.Time {
	if e.Date != nil && !e.Date.IsZero() {
		return *e.Date
	}
	if !e.ReceivedAt.IsZero() {
		return e.ReceivedAt
	}
	return e.CreatedAt
}

// Thread is an ordered conversation owning its emails.
type Thread struct {
	ID                 int64
	Subject            string
	State              ThreadState
	Priority           string
	Category           string
	Summary            string
	Goal               *string
	AcceptanceCriteria *string
	GoalStatus         *string
	Playbook           *string
	AutoReplyMode      string
	FollowUpDays       int
	NextFollowUpDate   *time.Time
	SecurityScoreAvg   *float64
	LastActivityAt     time.Time
	Notes              string
	CreatedAt          time.Time

	Emails []*Email // populated by eager-loading queries only
}

// Participants returns the deduplicated set of addresses appearing as
// sender or recipient across the thread's loaded emails, in first-seen order.
func (t *Thread) Participants() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(addr string) {
		if addr == "" || seen[addr] {
			return
		}
		seen[addr] = true
		out = append(out, addr)
	}
	for _, e := range t.Emails {
		add(e.FromAddress)
		for _, to := range e.ToAddresses.Slice() {
			add(to)
		}
	}
	return out
}

// Contact is a known correspondent with a derived profile.
type Contact struct {
	ID               int64
	Email            string
	Name             string
	RelationshipType string
	PreferredStyle   string
	Frequency        string
	Topics           string
	LastInteraction  *time.Time
	Notes            string
	CreatedAt        time.Time
}

// Draft is a prepared outbound message not yet sent.
type Draft struct {
	ID        int64
	ThreadID  int64
	To        AddressList
	Subject   string
	Body      string
	Status    string
	CreatedAt time.Time
}

// SecurityEvent is an immutable audit record from the safety pipeline.
type SecurityEvent struct {
	ID          int64
	EventType   string
	Severity    string
	EmailID     *int64
	ThreadID    *int64
	Details     json.RawMessage
	Quarantined bool
	Resolution  string
	CreatedAt   time.Time
}

// AuditLog is an immutable trace of a user or agent action.
type AuditLog struct {
	ID         string // uuid
	Actor      string
	ActionType string
	SubjectID  string
	Metadata   json.RawMessage
	CreatedAt  time.Time
}

// ThreadOutcome is the terminal record attached to a thread after close.
type ThreadOutcome struct {
	ID          int64
	ThreadID    int64
	OutcomeType string
	Summary     string
	CreatedAt   time.Time
}

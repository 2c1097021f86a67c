package thread

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ignite/ghostpost/internal/store"
)

func TestCanTransitionTable(t *testing.T) {
	valid := []struct{ from, to store.ThreadState }{
		{store.StateNew, store.StateActive},
		{store.StateActive, store.StateWaitingReply},
		{store.StateActive, store.StateGoalMet},
		{store.StateWaitingReply, store.StateActive},
		{store.StateWaitingReply, store.StateFollowUp},
		{store.StateWaitingReply, store.StateGoalMet},
		{store.StateFollowUp, store.StateWaitingReply},
		{store.StateFollowUp, store.StateGoalMet},
		{store.StateArchived, store.StateActive},
	}
	for _, tc := range valid {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be valid", tc.from, tc.to)
	}

	invalid := []struct{ from, to store.ThreadState }{
		{store.StateNew, store.StateWaitingReply},
		{store.StateNew, store.StateGoalMet},
		{store.StateActive, store.StateNew},
		{store.StateActive, store.StateFollowUp},
		{store.StateFollowUp, store.StateActive},
		{store.StateGoalMet, store.StateActive},
		{store.StateGoalMet, store.StateWaitingReply},
		{store.StateArchived, store.StateWaitingReply},
	}
	for _, tc := range invalid {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be invalid", tc.from, tc.to)
	}
}

func TestArchiveReachableFromAnyStateButItself(t *testing.T) {
	for _, from := range []store.ThreadState{
		store.StateNew, store.StateActive, store.StateWaitingReply,
		store.StateFollowUp, store.StateGoalMet,
	} {
		assert.True(t, CanTransition(from, store.StateArchived), "%s -> ARCHIVED", from)
	}
	assert.False(t, CanTransition(store.StateArchived, store.StateArchived))
}

func TestErrInvalidTransitionMessage(t *testing.T) {
	err := &ErrInvalidTransition{From: store.StateNew, To: store.StateGoalMet}
	assert.Equal(t, "invalid thread transition NEW -> GOAL_MET", err.Error())
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, store.StateGoalMet.IsTerminal())
	assert.True(t, store.StateArchived.IsTerminal())
	assert.False(t, store.StateActive.IsTerminal())
	assert.False(t, store.StateWaitingReply.IsTerminal())
}

// Package thread implements the conversation lifecycle state machine,
// goal tracking and follow-up scheduling.
package thread

import (
	"fmt"

	"github.com/ignite/ghostpost/internal/store"
)

// ErrInvalidTransition is a policy block: the requested state change is
// not in the transition table.
type ErrInvalidTransition struct {
	From, To store.ThreadState
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid thread transition %s -> %s", e.From, e.To)
}

// validTransitions is the complete transition table. Anything absent is
// invalid. ARCHIVED is reachable from every state via Archive, handled
// separately below.
var validTransitions = map[store.ThreadState][]store.ThreadState{
	store.StateNew:          {store.StateActive},
	store.StateActive:       {store.StateWaitingReply, store.StateGoalMet},
	store.StateWaitingReply: {store.StateActive, store.StateFollowUp, store.StateGoalMet},
	store.StateFollowUp:     {store.StateWaitingReply, store.StateGoalMet},
	store.StateArchived:     {store.StateActive},
}

// CanTransition reports whether from -> to is a valid lifecycle change.
func CanTransition(from, to store.ThreadState) bool {
	if to == store.StateArchived {
		return from != store.StateArchived
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

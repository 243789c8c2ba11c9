package session

import (
	"fmt"
	"time"
)

// turnTransitions is the exhaustive allowed-transition table for turn
// statuses. A turn only ever advances forward; anything not listed here is an
// illegal jump (e.g. pending -> complete skipping generating).
var turnTransitions = map[TurnStatus][]TurnStatus{
	TurnPending:      {TurnTranscribing, TurnGenerating, TurnFailed},
	TurnTranscribing: {TurnGenerating, TurnFailed},
	TurnGenerating:   {TurnSynthesizing, TurnComplete, TurnFailed},
	TurnSynthesizing: {TurnComplete, TurnFailed},
	TurnComplete:     {},
	TurnFailed:       {},
}

// sessionTransitions is the allowed-transition table for session statuses.
var sessionTransitions = map[Status][]Status{
	StatusCreated:   {StatusActive, StatusCompleted, StatusAborted},
	StatusActive:    {StatusCompleted, StatusAborted},
	StatusCompleted: {},
	StatusAborted:   {},
}

// CanTransitionTurn reports whether a turn may move from one status to another.
func CanTransitionTurn(from, to TurnStatus) bool {
	for _, next := range turnTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionSession reports whether a session may move from one status to another.
func CanTransitionSession(from, to Status) bool {
	for _, next := range sessionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AdvanceTurn moves the turn to the given status after checking the
// transition table and stamps the transition time.
func AdvanceTurn(t *Turn, to TurnStatus, at time.Time) error {
	if !CanTransitionTurn(t.Status, to) {
		return fmt.Errorf("illegal turn transition %s -> %s (session=%s seq=%d)", t.Status, to, t.SessionID, t.Seq)
	}
	t.Status = to
	if t.StatusTimes == nil {
		t.StatusTimes = make(map[TurnStatus]time.Time)
	}
	t.StatusTimes[to] = at
	return nil
}

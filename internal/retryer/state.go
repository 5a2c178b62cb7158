package retryer

import "fmt"

// Phase is the retry lifecycle position of one mismatched document
type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseRetrying  Phase = "retrying"
	PhaseResolved  Phase = "resolved"
	PhaseExhausted Phase = "exhausted"
)

// documentState is the small per-document state machine:
// Pending → Retrying(1..max) → Resolved | Exhausted.
type documentState struct {
	phase    Phase
	attempt  int
	maxTries int
}

func newDocumentState(maxTries int) *documentState {
	return &documentState{phase: PhasePending, maxTries: maxTries}
}

// Next begins the next attempt. Returns false when the attempt budget is
// spent, moving the document to Exhausted.
func (s *documentState) Next() bool {
	if s.phase == PhaseResolved || s.phase == PhaseExhausted {
		return false
	}
	if s.attempt >= s.maxTries {
		s.phase = PhaseExhausted
		return false
	}
	s.attempt++
	s.phase = PhaseRetrying
	return true
}

// Resolve marks the document as internally consistent.
func (s *documentState) Resolve() {
	s.phase = PhaseResolved
}

func (s *documentState) String() string {
	if s.phase == PhaseRetrying {
		return fmt.Sprintf("%s(%d/%d)", s.phase, s.attempt, s.maxTries)
	}
	return string(s.phase)
}

// Package api implements the control-plane HTTP server the agent container
// talks to: task status and outcome, the inquiry rendezvous, and the LLM
// chat-completions proxy.
package api

import (
	"errors"
	"sync"
)

// OutcomeStatus is the final status of a run's task.
type OutcomeStatus string

const (
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomeFailed    OutcomeStatus = "failed"
)

// Outcome is the decisive result reported by the agent. Exactly one is
// produced per run.
type Outcome struct {
	Status      OutcomeStatus
	Description string
}

// ErrOutcomeRecorded is observed by the second producing call.
var ErrOutcomeRecorded = errors.New("task outcome already recorded")

// outcomeSlot is a linear resource: it can be filled at most once. The
// second fill attempt gets a typed error instead of a runtime panic.
type outcomeSlot struct {
	mu     sync.Mutex
	filled bool
	ch     chan Outcome
}

func newOutcomeSlot() *outcomeSlot {
	return &outcomeSlot{ch: make(chan Outcome, 1)}
}

// fill records the outcome. The buffered send cannot block: the slot accepts
// exactly one value in its lifetime.
func (s *outcomeSlot) fill(o Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filled {
		return ErrOutcomeRecorded
	}
	s.filled = true
	s.ch <- o
	return nil
}

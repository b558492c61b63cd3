package pipeline

import (
	"errors"
	"fmt"
)

// ErrTurnInFlight is returned by Run when a turn is already executing for this
// orchestrator. Turns are single-flight per conversation.
var ErrTurnInFlight = errors.New("a pipeline run is already in flight")

// ErrWatchdogTimeout is returned when the per-turn watchdog deadline expires.
// Distinct from validation failures so callers can message it differently.
var ErrWatchdogTimeout = errors.New("pipeline watchdog timeout")

// PlanningError is a model or parse failure during intent planning. Always
// recovered with the raw-query fallback; surfaced only in logs.
type PlanningError struct {
	Query string
	Err   error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("intent planning failed for %q: %v", e.Query, e.Err)
}

func (e *PlanningError) Unwrap() error { return e.Err }

// SearchError is a provider failure or a zero-result search for one topic.
type SearchError struct {
	Query string
	Err   error
}

func (e *SearchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("search failed for %q: %v", e.Query, e.Err)
	}
	return fmt.Sprintf("search returned no results for %q", e.Query)
}

func (e *SearchError) Unwrap() error { return e.Err }

// ValidationError records why one source was not usable. Ambiguous verdicts
// and transport failures both fail closed into this type.
type ValidationError struct {
	Title  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Title, e.Reason)
}

// RefinementExhausted means every refined topic was tried without a single
// source passing validation. Terminal for the retrieval attempt, not the turn.
type RefinementExhausted struct {
	Rounds int
}

func (e *RefinementExhausted) Error() string {
	return fmt.Sprintf("refinement exhausted after %d topic(s) without a usable source", e.Rounds)
}

// ContractViolation means a synthesis reply was missing its reasoning block
// after all correction attempts. The orchestrator recovers with a placeholder.
type ContractViolation struct {
	Attempts int
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("synthesis reply missing reasoning block after %d attempt(s)", e.Attempts)
}

// Package statemachine computes the next logical state for a CallState given
// a carrier digit (or timeout/invalid event), per the vendor-order-confirmation
// transition table. It never performs I/O and never touches the Session
// Store directly — callers run it under the store's per-key lock.
package statemachine

import (
	"time"

	"github.com/jkindrix/ivrengine/internal/callstate"
)

// Event classifies the digit-collection outcome the Callback Handler observed.
type Event string

const (
	// EventEnter is the initial fetch after answer: no digit, no transition,
	// just a re-composition of the current state's prompt.
	EventEnter Event = "enter"
	// EventDigit carries a single collected digit in Digit.
	EventDigit Event = "digit"
	// EventTimeout is a gather that elapsed with no digits (or finish_on_key
	// pressed against an empty buffer).
	EventTimeout Event = "timeout"
)

// Input is what the Callback Handler feeds into Transition.
type Input struct {
	Event Event
	Digit string
}

// DefaultMaxAttempts is the per-state retry cap before forced advance.
const DefaultMaxAttempts = 2

// Machine computes logical-state transitions. It holds no per-call state of
// its own — MaxAttempts is its only configuration.
type Machine struct {
	MaxAttempts int
}

// New constructs a Machine with the default attempt cap.
func New() *Machine {
	return &Machine{MaxAttempts: DefaultMaxAttempts}
}

// Result reports what Transition did, so the Callback Handler can decide
// whether this was a genuine advance (and thus needs re-composition) or a
// detected re-delivery (and thus should return the prior response verbatim).
type Result struct {
	// Advanced is false when the input was a duplicate re-delivery of the
	// same digit for the same (call_sid, logical_state) already handled.
	Advanced bool
	// Terminal is true if the resulting logical_state ends the interaction.
	Terminal bool
}

// Transition applies input to state in place, per the fixed transition
// table. now is used to stamp last_digits_at and terminal_at.
func (m *Machine) Transition(state *callstate.CallState, in Input, now time.Time) Result {
	if in.Event == EventEnter {
		return Result{Advanced: false, Terminal: state.LogicalState.IsTerminal()}
	}

	if in.Event == EventDigit && m.isDuplicateRedelivery(state, in, now) {
		return Result{Advanced: false, Terminal: state.LogicalState.IsTerminal()}
	}

	if in.Event == EventDigit {
		state.LastDigits = in.Digit
		state.LastDigitsState = state.LogicalState
		state.LastDigitsAt = now
	}

	switch state.LogicalState {
	case callstate.StateGreeting:
		m.transitionGreeting(state, in, now)
	case callstate.StatePrepTimeInquiry:
		m.transitionPrepTimeInquiry(state, in, now)
	case callstate.StateRejectionReason:
		m.transitionRejectionReason(state, in, now)
	default:
		// Already terminal; nothing to do.
	}

	return Result{Advanced: true, Terminal: state.LogicalState.IsTerminal()}
}

// redeliveryWindow bounds how soon after a handled digit an identical digit
// in a later logical_state is still taken as the carrier re-fetching the
// request that was already handled.
const redeliveryWindow = 2 * time.Second

// isDuplicateRedelivery detects a carrier re-fetch of the identical digit:
// either in the logical_state it was handled in, or within redeliveryWindow
// of the handled digit after that digit advanced the state.
func (m *Machine) isDuplicateRedelivery(state *callstate.CallState, in Input, now time.Time) bool {
	if state.LastDigits != in.Digit || state.LastDigitsAt.IsZero() {
		return false
	}
	return state.LastDigitsState == state.LogicalState ||
		now.Sub(state.LastDigitsAt) < redeliveryWindow
}

func (m *Machine) transitionGreeting(state *callstate.CallState, in Input, now time.Time) {
	switch {
	case in.Event == EventDigit && in.Digit == "1":
		state.SetCollectedOnce("accepted", true)
		state.LogicalState = callstate.StatePrepTimeInquiry
		state.Attempts[callstate.StateGreeting] = 0
	case in.Event == EventDigit && in.Digit == "0":
		state.SetCollectedOnce("accepted", false)
		state.LogicalState = callstate.StateRejectionReason
		state.Attempts[callstate.StateGreeting] = 0
	default:
		m.retryOrForceNoResponse(state, callstate.StateGreeting, now)
	}
}

func (m *Machine) transitionPrepTimeInquiry(state *callstate.CallState, in Input, now time.Time) {
	var prepMinutes int
	switch {
	case in.Event == EventDigit && in.Digit == "1":
		prepMinutes = 15
	case in.Event == EventDigit && in.Digit == "2":
		prepMinutes = 30
	case in.Event == EventDigit && in.Digit == "3":
		prepMinutes = 45
	case in.Event == EventTimeout:
		prepMinutes = 30
	default:
		m.retryOrForceNoResponse(state, callstate.StatePrepTimeInquiry, now)
		return
	}
	state.SetCollectedOnce("prep_minutes", prepMinutes)
	state.PrepMinutes = prepMinutes
	state.Outcome = callstate.OutcomeAccepted
	m.markTerminal(state, callstate.StateGoodbyeAccepted, now)
}

func (m *Machine) transitionRejectionReason(state *callstate.CallState, in Input, now time.Time) {
	var reason callstate.RejectionReason
	switch {
	case in.Event == EventDigit && (in.Digit == "1" || in.Digit == "2" || in.Digit == "3" || in.Digit == "4"):
		reason = callstate.RejectionReasonForDigit(in.Digit)
	case in.Event == EventTimeout:
		reason = callstate.ReasonOther
	default:
		m.retryOrForceNoResponse(state, callstate.StateRejectionReason, now)
		return
	}
	state.SetCollectedOnce("rejection_reason", string(reason))
	state.RejectionReason = reason
	state.Outcome = callstate.OutcomeRejected
	m.markTerminal(state, callstate.StateGoodbyeRejected, now)
}

// retryOrForceNoResponse increments the per-state attempt counter; once it
// exceeds MaxAttempts the call is force-advanced to goodbye_no_response
// rather than looping forever on invalid input or repeated timeouts.
func (m *Machine) retryOrForceNoResponse(state *callstate.CallState, at callstate.LogicalState, now time.Time) {
	state.Attempts[at]++
	if state.Attempts[at] > m.MaxAttempts {
		state.Outcome = callstate.OutcomeNoResponse
		m.markTerminal(state, callstate.StateGoodbyeNoResponse, now)
	}
}

func (m *Machine) markTerminal(state *callstate.CallState, to callstate.LogicalState, now time.Time) {
	state.LogicalState = to
	terminalAt := now
	state.TerminalAt = &terminalAt
}

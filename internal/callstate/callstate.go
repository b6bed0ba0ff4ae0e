// Package callstate defines the CallState record shared by every component
// that participates in a call's lifecycle: the Session Store, the State
// Machine, the Callback Handler, the Status Reconciler, and the Outcome
// Reporter.
package callstate

import "time"

// Lifecycle is the carrier-facing call status.
type Lifecycle string

const (
	LifecycleInitiated Lifecycle = "initiated"
	LifecycleRinging   Lifecycle = "ringing"
	LifecycleAnswered  Lifecycle = "answered"
	LifecycleInProgress Lifecycle = "in_progress"
	LifecycleCompleted Lifecycle = "completed"
	LifecycleFailed    Lifecycle = "failed"
	LifecycleBusy      Lifecycle = "busy"
	LifecycleNoAnswer  Lifecycle = "no_answer"
	LifecycleCancelled Lifecycle = "cancelled"
)

// IsTerminal reports whether the lifecycle value is a terminal one.
func (l Lifecycle) IsTerminal() bool {
	switch l {
	case LifecycleCompleted, LifecycleFailed, LifecycleBusy, LifecycleNoAnswer, LifecycleCancelled:
		return true
	default:
		return false
	}
}

// LogicalState is a State Machine node.
type LogicalState string

const (
	StateGreeting          LogicalState = "greeting"
	StatePrepTimeInquiry   LogicalState = "prep_time_inquiry"
	StateRejectionReason   LogicalState = "rejection_reason"
	StateGoodbyeAccepted   LogicalState = "goodbye_accepted"
	StateGoodbyeRejected   LogicalState = "goodbye_rejected"
	StateGoodbyeNoResponse LogicalState = "goodbye_no_response"
)

// IsTerminal reports whether the logical state ends the interaction (play-and-hangup).
func (s LogicalState) IsTerminal() bool {
	switch s {
	case StateGoodbyeAccepted, StateGoodbyeRejected, StateGoodbyeNoResponse:
		return true
	default:
		return false
	}
}

// Kind identifies which composer-template-set and state-machine-table apply to a call.
type Kind string

const (
	KindVendorOrderConfirmation Kind = "vendor_order_confirmation"
	// KindRiderAssignment is a documented extension point; no behavior is
	// promised for it yet — it is never populated by the Initiator.
	KindRiderAssignment Kind = "rider_assignment"
)

// Outcome is the terminal classification reported to the upstream brain.
type Outcome string

const (
	OutcomeAccepted   Outcome = "accepted"
	OutcomeRejected   Outcome = "rejected"
	OutcomeNoResponse Outcome = "no_response"
)

// RejectionReason enumerates the vendor's stated reason for rejecting an order.
type RejectionReason string

const (
	ReasonNotAvailable RejectionReason = "not_available"
	ReasonTooBusy      RejectionReason = "too_busy"
	ReasonNoStock      RejectionReason = "no_stock"
	ReasonOther        RejectionReason = "other"
)

// RejectionReasonForDigit maps a rejection-reason menu digit to its enum value.
// Unrecognized digits map to ReasonOther.
func RejectionReasonForDigit(digit string) RejectionReason {
	switch digit {
	case "1":
		return ReasonNotAvailable
	case "2":
		return ReasonTooBusy
	case "3":
		return ReasonNoStock
	default:
		return ReasonOther
	}
}

// Payload is the frozen business-data snapshot captured at initiation.
// It is immutable after creation and opaque to the engine except where the
// Composer reads specific fields for template substitution.
type Payload struct {
	OrderID      int64       `json:"order_id"`
	VendorID     string      `json:"vendor_id"`
	RiderID      string      `json:"rider_id,omitempty"`
	VendorName   string      `json:"vendor_name"`
	CalleePhone  string      `json:"vendor_phone"`
	OrderAmount  float64     `json:"order_amount"`
	OrderItems   []OrderItem `json:"order_items"`
}

// OrderItem is a single line item in an order's item list.
type OrderItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// CallState is one record per outstanding call, keyed by CallSid.
type CallState struct {
	CallSid     string
	OrderID     int64
	VendorID    string
	RiderID     string
	CalleePhone string
	CalleeName  string

	Payload  Payload
	Language string
	Kind     Kind

	LogicalState LogicalState
	Collected    map[string]any
	Attempts     map[LogicalState]int

	Lifecycle Lifecycle

	CreatedAt         time.Time
	LastInteractionAt time.Time
	TerminalAt        *time.Time

	Outcome         Outcome
	RejectionReason RejectionReason
	PrepMinutes     int

	Reported bool

	// LastDigits/LastDigitsState/LastDigitsAt support idempotent re-delivery
	// detection: a carrier re-fetch of the same digit in the same logical
	// state must not advance the state machine a second time.
	LastDigits      string
	LastDigitsState LogicalState
	LastDigitsAt    time.Time

	DurationSeconds int
	RecordingURL    string
}

// New creates a fresh CallState in the initial greeting state.
func New(callSid string, payload Payload, language string, kind Kind, now time.Time) *CallState {
	return &CallState{
		CallSid:           callSid,
		OrderID:           payload.OrderID,
		VendorID:          payload.VendorID,
		RiderID:           payload.RiderID,
		CalleePhone:       payload.CalleePhone,
		CalleeName:        payload.VendorName,
		Payload:           payload,
		Language:          language,
		Kind:              kind,
		LogicalState:      StateGreeting,
		Collected:         make(map[string]any),
		Attempts:          make(map[LogicalState]int),
		Lifecycle:         LifecycleInitiated,
		CreatedAt:         now,
		LastInteractionAt: now,
	}
}

// Clone returns a deep-enough copy safe to hand to callers outside the
// Session Store's per-key lock (maps are copied; Payload.OrderItems is
// immutable after creation so a shallow copy is safe for it).
func (c *CallState) Clone() *CallState {
	clone := *c
	clone.Collected = make(map[string]any, len(c.Collected))
	for k, v := range c.Collected {
		clone.Collected[k] = v
	}
	clone.Attempts = make(map[LogicalState]int, len(c.Attempts))
	for k, v := range c.Attempts {
		clone.Attempts[k] = v
	}
	if c.TerminalAt != nil {
		t := *c.TerminalAt
		clone.TerminalAt = &t
	}
	return &clone
}

// SetCollectedOnce writes a slot's value only if it has not already been set,
// enforcing the write-once-per-slot invariant.
func (c *CallState) SetCollectedOnce(slot string, value any) {
	if _, exists := c.Collected[slot]; exists {
		return
	}
	c.Collected[slot] = value
}

// OutcomeReport is the stable JSON object delivered upstream by the Outcome Reporter.
type OutcomeReport struct {
	CallSid         string         `json:"call_sid"`
	Kind            Kind           `json:"kind"`
	OrderID         int64          `json:"order_id"`
	VendorID        string         `json:"vendor_id,omitempty"`
	RiderID         string         `json:"rider_id,omitempty"`
	Outcome         Outcome        `json:"outcome"`
	Collected       map[string]any `json:"collected"`
	Lifecycle       Lifecycle      `json:"lifecycle"`
	DurationSeconds int            `json:"duration_seconds"`
	RecordingURL    string         `json:"recording_url,omitempty"`
	Language        string         `json:"language"`
	StartedAt       time.Time      `json:"started_at"`
	TerminalAt      time.Time      `json:"terminal_at"`
}

// ToOutcomeReport builds the upstream delivery payload from the current state.
func (c *CallState) ToOutcomeReport() OutcomeReport {
	var terminalAt time.Time
	if c.TerminalAt != nil {
		terminalAt = *c.TerminalAt
	}
	return OutcomeReport{
		CallSid:         c.CallSid,
		Kind:            c.Kind,
		OrderID:         c.OrderID,
		VendorID:        c.VendorID,
		RiderID:         c.RiderID,
		Outcome:         c.Outcome,
		Collected:       c.Collected,
		Lifecycle:       c.Lifecycle,
		DurationSeconds: c.DurationSeconds,
		RecordingURL:    c.RecordingURL,
		Language:        c.Language,
		StartedAt:       c.CreatedAt,
		TerminalAt:      terminalAt,
	}
}

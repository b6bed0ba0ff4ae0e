package statemachine

import (
	"math/rand"
	"testing"
	"time"

	"github.com/jkindrix/ivrengine/internal/callstate"
)

// admissibleEdges is the transition table's adjacency relation: for a given
// logical_state, the set of logical_states a single admissible event may
// land on (including a self-loop for a retry that hasn't hit the attempt
// cap yet). Any transition landing outside this set violates invariant 1.
var admissibleEdges = map[callstate.LogicalState]map[callstate.LogicalState]bool{
	callstate.StateGreeting: {
		callstate.StateGreeting:          true,
		callstate.StatePrepTimeInquiry:   true,
		callstate.StateRejectionReason:   true,
		callstate.StateGoodbyeNoResponse: true,
	},
	callstate.StatePrepTimeInquiry: {
		callstate.StatePrepTimeInquiry:   true,
		callstate.StateGoodbyeAccepted:   true,
		callstate.StateGoodbyeNoResponse: true,
	},
	callstate.StateRejectionReason: {
		callstate.StateRejectionReason:   true,
		callstate.StateGoodbyeRejected:   true,
		callstate.StateGoodbyeNoResponse: true,
	},
	callstate.StateGoodbyeAccepted:   {callstate.StateGoodbyeAccepted: true},
	callstate.StateGoodbyeRejected:   {callstate.StateGoodbyeRejected: true},
	callstate.StateGoodbyeNoResponse: {callstate.StateGoodbyeNoResponse: true},
}

// stateCount is the size of the logical_state alphabet, used to compute the
// termination bound alongside the attempt cap.
const stateCount = 6

// FuzzTransition drives the Machine with random admissible event streams
// (DTMF digits and gather timeouts) and checks that every run stays inside
// the transition table's adjacency relation (invariant 1) and reaches a
// terminal state within 2*(attempts cap + state count) events. Because each
// call in a run is made from the same goroutine against the same
// *callstate.CallState, invariant 2 (writes to a CallState are totally
// ordered) holds trivially here; it is exercised for real concurrent
// writers by the session store's own tests.
func FuzzTransition(f *testing.F) {
	f.Add(int64(1), uint8(3))
	f.Add(int64(42), uint8(10))
	f.Add(int64(1337), uint8(1))
	f.Add(int64(-7), uint8(255))

	f.Fuzz(func(t *testing.T, seed int64, salt uint8) {
		rng := rand.New(rand.NewSource(seed ^ int64(salt)))
		m := New()
		now := time.Now()
		s := callstate.New("CAFUZZ", callstate.Payload{OrderID: 1}, "en", callstate.KindVendorOrderConfirmation, now)

		maxEvents := 2 * (m.MaxAttempts + stateCount)
		prev := s.LogicalState
		lastDigit := ""
		terminated := false

		for i := 0; i < maxEvents; i++ {
			in := randomAdmissibleInput(rng, lastDigit)
			if in.Event == EventDigit {
				lastDigit = in.Digit
			} else {
				lastDigit = ""
			}

			now = now.Add(time.Second)
			m.Transition(s, in, now)

			if !admissibleEdges[prev][s.LogicalState] {
				t.Fatalf("event %d: illegal transition %v -> %v on input %+v", i, prev, s.LogicalState, in)
			}
			prev = s.LogicalState

			if s.LogicalState.IsTerminal() {
				terminated = true
				break
			}
		}

		if !terminated {
			t.Fatalf("run of %d admissible events never reached a terminal state (stuck at %v)", maxEvents, s.LogicalState)
		}
	})
}

// randomAdmissibleInput produces a random Event/Digit pair drawn from the
// alphabet a real gather callback could deliver. It avoids repeating avoid
// (the previous call's digit) so consecutive digit events aren't mistaken
// for a carrier re-delivery of the same attempt, which would stall the
// attempt counter rather than generating a fresh admissible event.
func randomAdmissibleInput(rng *rand.Rand, avoid string) Input {
	if rng.Intn(4) == 0 {
		return Input{Event: EventTimeout}
	}
	for {
		d := string(rune('0' + rng.Intn(10)))
		if d != avoid {
			return Input{Event: EventDigit, Digit: d}
		}
	}
}

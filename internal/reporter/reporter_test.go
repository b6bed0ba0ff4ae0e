package reporter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jkindrix/ivrengine/internal/callstate"
	"github.com/jkindrix/ivrengine/internal/clock"
)

type fakeStore struct {
	mu     sync.Mutex
	states map[string]*callstate.CallState
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: make(map[string]*callstate.CallState)}
}

func (f *fakeStore) Get(callSid string) (*callstate.CallState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[callSid]
	if !ok {
		return nil, false
	}
	clone := *s
	return &clone, true
}

func (f *fakeStore) Update(callSid string, fn func(*callstate.CallState)) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[callSid]
	if !ok {
		return false
	}
	fn(s)
	return true
}

func terminalState(callSid string) *callstate.CallState {
	now := time.Now()
	cs := callstate.New(callSid, callstate.Payload{OrderID: 1}, "en", callstate.KindVendorOrderConfirmation, now)
	cs.Lifecycle = callstate.LifecycleCompleted
	cs.Outcome = callstate.OutcomeAccepted
	cs.TerminalAt = &now
	return cs
}

func TestReporter_Enqueue_SuccessMarksReported(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.Header.Get("Idempotency-Key") == "" {
			t.Error("expected Idempotency-Key header")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newFakeStore()
	store.states["CA1"] = terminalState("CA1")

	mock := clock.NewMock(time.Now())
	r := New(Config{UpstreamURL: srv.URL, WorkerCount: 1, QueueSize: 8}, store, mock, zap.NewNop())
	r.Start(context.Background())
	defer r.Shutdown(context.Background())

	r.Enqueue("CA1")
	waitForCondition(t, func() bool {
		cs, _ := store.Get("CA1")
		return cs.Reported
	})

	if requests != 1 {
		t.Errorf("requests = %d, expected 1", requests)
	}
}

func TestReporter_Enqueue_AlreadyReportedIsNoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("should not deliver an already-reported outcome")
	}))
	defer srv.Close()

	store := newFakeStore()
	cs := terminalState("CA1")
	cs.Reported = true
	store.states["CA1"] = cs

	r := New(Config{UpstreamURL: srv.URL, WorkerCount: 1}, store, clock.NewMock(time.Now()), zap.NewNop())
	r.Enqueue("CA1")

	time.Sleep(50 * time.Millisecond)
	if r.Stats().Attempts != 0 {
		t.Errorf("expected zero attempts for already-reported call")
	}
}

func TestReporter_NonRetryable4xxStopsRetrying(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	store := newFakeStore()
	store.states["CA1"] = terminalState("CA1")

	r := New(Config{UpstreamURL: srv.URL, WorkerCount: 1}, store, clock.NewMock(time.Now()), zap.NewNop())
	r.Start(context.Background())
	defer r.Shutdown(context.Background())
	r.Enqueue("CA1")

	waitForCondition(t, func() bool {
		cs, _ := store.Get("CA1")
		return cs.Reported
	})

	time.Sleep(50 * time.Millisecond)
	if requests != 1 {
		t.Errorf("requests = %d, expected exactly 1 (4xx must not retry)", requests)
	}
}

func TestReporter_5xxIsRescheduledWithJitteredDelay(t *testing.T) {
	var requests int32 = 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store := newFakeStore()
	store.states["CA1"] = terminalState("CA1")

	mock := clock.NewMock(time.Now())
	r := New(Config{UpstreamURL: srv.URL, WorkerCount: 1}, store, mock, zap.NewNop())
	r.Start(context.Background())
	defer r.Shutdown(context.Background())
	r.Enqueue("CA1")

	waitForCondition(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		j, ok := r.jobs["CA1"]
		return ok && j.attempt == 1
	})

	r.mu.Lock()
	j := r.jobs["CA1"]
	r.mu.Unlock()
	if j.nextAttempt.Before(mock.Now()) {
		t.Error("expected next attempt to be scheduled in the future")
	}

	// Jittered delay should be within +/-20% of the schedule's second entry (2s).
	delay := j.nextAttempt.Sub(mock.Now())
	if delay < 1400*time.Millisecond || delay > 2600*time.Millisecond {
		t.Errorf("delay = %v, expected roughly 2s +/-20%%", delay)
	}
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

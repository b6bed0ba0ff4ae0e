package handler

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jkindrix/ivrengine/internal/callstate"
	"github.com/jkindrix/ivrengine/internal/clock"
)

type fakeStatusStore struct {
	states map[string]*callstate.CallState
}

func newFakeStatusStore() *fakeStatusStore {
	return &fakeStatusStore{states: make(map[string]*callstate.CallState)}
}

func (f *fakeStatusStore) GetOrCreate(callSid string, factory func() *callstate.CallState) *callstate.CallState {
	if s, ok := f.states[callSid]; ok {
		return s
	}
	s := factory()
	if s == nil {
		return nil
	}
	f.states[callSid] = s
	return s
}

func (f *fakeStatusStore) Update(callSid string, fn func(*callstate.CallState)) bool {
	s, ok := f.states[callSid]
	if !ok {
		return false
	}
	fn(s)
	return true
}

type fakeStatusReporter struct {
	enqueued []string
}

func (f *fakeStatusReporter) Enqueue(callSid string) {
	f.enqueued = append(f.enqueued, callSid)
}

func newTestStatusHandler(store *fakeStatusStore, reporter *fakeStatusReporter, c clock.Clock) *StatusHandler {
	return NewStatusHandler(StatusHandlerConfig{
		Store:    store,
		Reporter: reporter,
		Clock:    c,
		Logger:   zap.NewNop(),
	})
}

func postStatus(h *StatusHandler, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusHandler_MissingCallSid_ReturnsOK(t *testing.T) {
	store := newFakeStatusStore()
	reporter := &fakeStatusReporter{}
	h := newTestStatusHandler(store, reporter, clock.NewMock(time.Now()))

	rec := postStatus(h, url.Values{"Status": {"completed"}})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", rec.Code)
	}
	if len(reporter.enqueued) != 0 {
		t.Errorf("expected no enqueue for missing CallSid, got %v", reporter.enqueued)
	}
}

func TestStatusHandler_CompletedStatus_MarksTerminal(t *testing.T) {
	store := newFakeStatusStore()
	reporter := &fakeStatusReporter{}
	now := time.Now()
	c := clock.NewMock(now)
	h := newTestStatusHandler(store, reporter, c)

	store.states["CA1"] = callstate.New("CA1", callstate.Payload{OrderID: 1, VendorID: "V1"}, "en", callstate.KindVendorOrderConfirmation, now)
	store.states["CA1"].Lifecycle = callstate.LifecycleInProgress
	store.states["CA1"].Outcome = callstate.OutcomeAccepted

	rec := postStatus(h, url.Values{"CallSid": {"CA1"}, "Status": {"completed"}, "Duration": {"45"}})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", rec.Code)
	}

	cs := store.states["CA1"]
	if cs.Lifecycle != callstate.LifecycleCompleted {
		t.Errorf("lifecycle = %q, expected completed", cs.Lifecycle)
	}
	if cs.Outcome != callstate.OutcomeAccepted {
		t.Errorf("outcome = %q, expected accepted to be preserved", cs.Outcome)
	}
	if cs.TerminalAt == nil {
		t.Fatal("expected TerminalAt to be set")
	}
	if cs.DurationSeconds != 45 {
		t.Errorf("duration = %d, expected 45", cs.DurationSeconds)
	}
	if len(reporter.enqueued) != 1 || reporter.enqueued[0] != "CA1" {
		t.Errorf("expected reporter enqueued with CA1, got %v", reporter.enqueued)
	}
}

func TestStatusHandler_BusyAndNoAnswer_MapToNoResponse(t *testing.T) {
	tests := []struct {
		carrierStatus     string
		expectedLifecycle callstate.Lifecycle
	}{
		{"busy", callstate.LifecycleBusy},
		{"no-answer", callstate.LifecycleNoAnswer},
	}

	for _, tt := range tests {
		t.Run(tt.carrierStatus, func(t *testing.T) {
			store := newFakeStatusStore()
			reporter := &fakeStatusReporter{}
			now := time.Now()
			h := newTestStatusHandler(store, reporter, clock.NewMock(now))

			store.states["CA1"] = callstate.New("CA1", callstate.Payload{OrderID: 1, VendorID: "V1"}, "en", callstate.KindVendorOrderConfirmation, now)

			postStatus(h, url.Values{"CallSid": {"CA1"}, "Status": {tt.carrierStatus}})

			cs := store.states["CA1"]
			if cs.Lifecycle != tt.expectedLifecycle {
				t.Errorf("lifecycle = %q, expected %q", cs.Lifecycle, tt.expectedLifecycle)
			}
			if cs.Outcome != callstate.OutcomeNoResponse {
				t.Errorf("outcome = %q, expected no_response", cs.Outcome)
			}
		})
	}
}

func TestStatusHandler_FailedAndCanceled_MapToFailed(t *testing.T) {
	tests := []string{"failed", "canceled"}

	for _, status := range tests {
		t.Run(status, func(t *testing.T) {
			store := newFakeStatusStore()
			reporter := &fakeStatusReporter{}
			now := time.Now()
			h := newTestStatusHandler(store, reporter, clock.NewMock(now))

			store.states["CA1"] = callstate.New("CA1", callstate.Payload{OrderID: 1, VendorID: "V1"}, "en", callstate.KindVendorOrderConfirmation, now)

			postStatus(h, url.Values{"CallSid": {"CA1"}, "Status": {status}})

			cs := store.states["CA1"]
			if cs.Lifecycle != callstate.LifecycleFailed {
				t.Errorf("lifecycle = %q, expected failed", cs.Lifecycle)
			}
			if cs.Outcome != callstate.OutcomeNoResponse {
				t.Errorf("outcome = %q, expected no_response (no outcome had been set)", cs.Outcome)
			}
		})
	}
}

func TestStatusHandler_UnknownCallSidWithCustomField_SynthesizesRecord(t *testing.T) {
	store := newFakeStatusStore()
	reporter := &fakeStatusReporter{}
	now := time.Now()
	h := newTestStatusHandler(store, reporter, clock.NewMock(now))

	customField := `{"order_id":42,"vendor_id":"V1","language":"en","kind":"vendor_order_confirmation"}`

	rec := postStatus(h, url.Values{
		"CallSid":     {"CA2"},
		"Status":      {"no-answer"},
		"CustomField": {customField},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", rec.Code)
	}

	cs, ok := store.states["CA2"]
	if !ok {
		t.Fatal("expected a synthesized record for CA2")
	}
	if cs.OrderID != 42 || cs.VendorID != "V1" {
		t.Errorf("synthesized record has unexpected payload: %+v", cs.Payload)
	}
	if cs.Lifecycle != callstate.LifecycleNoAnswer {
		t.Errorf("lifecycle = %q, expected no_answer", cs.Lifecycle)
	}
	if len(reporter.enqueued) != 1 || reporter.enqueued[0] != "CA2" {
		t.Errorf("expected reporter enqueued with CA2, got %v", reporter.enqueued)
	}
}

func TestStatusHandler_UnknownCallSidNoCustomField_DoesNotEnqueue(t *testing.T) {
	store := newFakeStatusStore()
	reporter := &fakeStatusReporter{}
	h := newTestStatusHandler(store, reporter, clock.NewMock(time.Now()))

	rec := postStatus(h, url.Values{"CallSid": {"CAUnknown"}, "Status": {"completed"}})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", rec.Code)
	}
	if _, ok := store.states["CAUnknown"]; ok {
		t.Error("expected no record created without a usable CustomField")
	}
	if len(reporter.enqueued) != 0 {
		t.Errorf("expected no enqueue, got %v", reporter.enqueued)
	}
}

func TestStatusHandler_IdempotentReapplication_IsNoop(t *testing.T) {
	store := newFakeStatusStore()
	reporter := &fakeStatusReporter{}
	now := time.Now()
	h := newTestStatusHandler(store, reporter, clock.NewMock(now))

	store.states["CA1"] = callstate.New("CA1", callstate.Payload{OrderID: 1, VendorID: "V1"}, "en", callstate.KindVendorOrderConfirmation, now)

	postStatus(h, url.Values{"CallSid": {"CA1"}, "Status": {"completed"}, "Duration": {"30"}})
	firstTerminalAt := *store.states["CA1"].TerminalAt

	postStatus(h, url.Values{"CallSid": {"CA1"}, "Status": {"completed"}, "Duration": {"999"}})

	cs := store.states["CA1"]
	if cs.DurationSeconds != 30 {
		t.Errorf("duration changed on reapplication: %d, expected 30 to stick", cs.DurationSeconds)
	}
	if !cs.TerminalAt.Equal(firstTerminalAt) {
		t.Error("TerminalAt changed on idempotent reapplication")
	}
	if len(reporter.enqueued) != 2 {
		t.Errorf("expected reporter.Enqueue called on every status delivery, got %d calls", len(reporter.enqueued))
	}
}

func TestStatusHandler_UnrecognizedStatus_DoesNotChangeLifecycle(t *testing.T) {
	store := newFakeStatusStore()
	reporter := &fakeStatusReporter{}
	now := time.Now()
	h := newTestStatusHandler(store, reporter, clock.NewMock(now))

	store.states["CA1"] = callstate.New("CA1", callstate.Payload{OrderID: 1, VendorID: "V1"}, "en", callstate.KindVendorOrderConfirmation, now)
	store.states["CA1"].Lifecycle = callstate.LifecycleInProgress

	rec := postStatus(h, url.Values{"CallSid": {"CA1"}, "Status": {"ringing"}})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", rec.Code)
	}
	cs := store.states["CA1"]
	if cs.Lifecycle != callstate.LifecycleInProgress {
		t.Errorf("lifecycle = %q, expected unchanged in_progress for a non-terminal status", cs.Lifecycle)
	}
}

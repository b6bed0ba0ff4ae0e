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
	"github.com/jkindrix/ivrengine/internal/composer"
	"github.com/jkindrix/ivrengine/internal/encoder"
	"github.com/jkindrix/ivrengine/internal/statemachine"
)

type fakeStore struct {
	states map[string]*callstate.CallState
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: make(map[string]*callstate.CallState)}
}

func (f *fakeStore) GetOrCreate(callSid string, factory func() *callstate.CallState) *callstate.CallState {
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

func (f *fakeStore) Update(callSid string, fn func(*callstate.CallState)) bool {
	s, ok := f.states[callSid]
	if !ok {
		return false
	}
	fn(s)
	return true
}

func newTestCallbackHandler(store *fakeStore) *CallbackHandler {
	return NewCallbackHandler(CallbackHandlerConfig{
		Store:       store,
		Machine:     statemachine.New(),
		Composer:    composer.New("en"),
		Encoder:     encoder.New(encoder.DialectXML),
		Clock:       clock.NewMock(time.Now()),
		CallbackURL: "https://example.com/callback",
		Logger:      zap.NewNop(),
	})
}

func TestCallbackHandler_MissingCallSid_ReturnsApology(t *testing.T) {
	h := newTestCallbackHandler(newFakeStore())
	req := httptest.NewRequest(http.MethodGet, "/callback", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200 (carrier treats non-2xx as hangup)", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<Response>") {
		t.Errorf("expected valid dialect body, got: %s", rec.Body.String())
	}
}

func TestCallbackHandler_NewSessionNoCustomField_ReturnsApology(t *testing.T) {
	h := newTestCallbackHandler(newFakeStore())
	req := httptest.NewRequest(http.MethodGet, "/callback?CallSid=CA1", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "<Gather") {
		t.Error("apology for missing CustomField should not contain a gather")
	}
}

func TestCallbackHandler_InitialFetch_ReturnsGreetingWithGather(t *testing.T) {
	store := newFakeStore()
	h := newTestCallbackHandler(store)

	customField := url.QueryEscape(`{"order_id":42,"vendor_id":"V1","language":"en","kind":"vendor_order_confirmation"}`)
	req := httptest.NewRequest(http.MethodGet, "/callback?CallSid=CA1&CustomField="+customField, nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<Gather") {
		t.Errorf("expected a gather on the greeting turn, got: %s", body)
	}
	if store.states["CA1"].LogicalState != callstate.StateGreeting {
		t.Errorf("expected session to remain in greeting on enter event, got %v", store.states["CA1"].LogicalState)
	}
}

func TestCallbackHandler_DigitAdvancesState(t *testing.T) {
	store := newFakeStore()
	h := newTestCallbackHandler(store)
	store.states["CA1"] = callstate.New("CA1", callstate.Payload{OrderID: 1}, "en", callstate.KindVendorOrderConfirmation, time.Now())

	req := httptest.NewRequest(http.MethodGet, "/callback?CallSid=CA1&digits=1", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", rec.Code)
	}
	if store.states["CA1"].LogicalState != callstate.StatePrepTimeInquiry {
		t.Errorf("expected advance to prep_time_inquiry, got %v", store.states["CA1"].LogicalState)
	}
}

func TestCallbackHandler_TerminalTurnHasNoGather(t *testing.T) {
	store := newFakeStore()
	h := newTestCallbackHandler(store)
	s := callstate.New("CA1", callstate.Payload{OrderID: 1}, "en", callstate.KindVendorOrderConfirmation, time.Now())
	s.LogicalState = callstate.StateRejectionReason
	store.states["CA1"] = s

	req := httptest.NewRequest(http.MethodGet, "/callback?CallSid=CA1&digits=2", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	body := rec.Body.String()
	if strings.Contains(body, "<Gather") {
		t.Errorf("terminal turn must not contain a gather, got: %s", body)
	}
	if !strings.Contains(body, "<Hangup>") {
		t.Errorf("terminal turn must contain a hangup, got: %s", body)
	}
}

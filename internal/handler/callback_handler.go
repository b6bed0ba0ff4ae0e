package handler

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jkindrix/ivrengine/internal/callstate"
	"github.com/jkindrix/ivrengine/internal/carrier"
	"github.com/jkindrix/ivrengine/internal/clock"
	"github.com/jkindrix/ivrengine/internal/composer"
	"github.com/jkindrix/ivrengine/internal/encoder"
	"github.com/jkindrix/ivrengine/internal/statemachine"
)

// CallbackSessionStore is the subset of the Session Store the Callback
// Handler needs.
type CallbackSessionStore interface {
	GetOrCreate(callSid string, factory func() *callstate.CallState) *callstate.CallState
	Update(callSid string, fn func(*callstate.CallState)) bool
}

// CallbackHandler is the per-turn applet fetch endpoint the carrier re-GETs
// or re-POSTs for every digit collected during a call.
type CallbackHandler struct {
	*BaseHandler

	store       CallbackSessionStore
	machine     *statemachine.Machine
	composer    *composer.Composer
	encoder     encoder.Encoder
	clock       clock.Clock
	callbackURL string
	softBudget  time.Duration
	lockWait    time.Duration
}

// CallbackHandlerConfig configures a CallbackHandler.
type CallbackHandlerConfig struct {
	Store       CallbackSessionStore
	Machine     *statemachine.Machine
	Composer    *composer.Composer
	Encoder     encoder.Encoder
	Clock       clock.Clock
	CallbackURL string
	Logger      *zap.Logger
}

// NewCallbackHandler constructs a CallbackHandler.
func NewCallbackHandler(cfg CallbackHandlerConfig) *CallbackHandler {
	c := cfg.Clock
	if c == nil {
		c = clock.New()
	}
	return &CallbackHandler{
		BaseHandler: NewBaseHandler(BaseHandlerConfig{Logger: cfg.Logger}),
		store:       cfg.Store,
		machine:     cfg.Machine,
		composer:    cfg.Composer,
		encoder:     cfg.Encoder,
		clock:       c,
		callbackURL: cfg.CallbackURL,
		softBudget:  4 * time.Second,
		lockWait:    500 * time.Millisecond,
	}
}

// ServeHTTP handles both GET (carrier default) and POST applet fetches.
// Per §4.F this handler must never return a non-2xx status: the carrier
// interprets anything else as "hang up immediately".
func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()

	callSid := strings.TrimSpace(unwrapQuotes(formValue(r, "CallSid")))
	if callSid == "" {
		h.Logger().Warn("callback request missing CallSid")
		h.writePrompt(w, composer.Prompt{Text: "We're sorry, we could not process your call."})
		return
	}

	digits := stripDigitQuotes(formValue(r, "digits"))
	customFieldRaw := unwrapQuotes(formValue(r, "CustomField"))

	existing := true
	state := h.store.GetOrCreate(callSid, func() *callstate.CallState {
		existing = false
		return h.seedFromCustomField(callSid, customFieldRaw)
	})

	if state == nil {
		h.Logger().Warn("no session and no CustomField to seed one", zap.String("call_sid", callSid))
		h.writePrompt(w, composer.Prompt{Text: "We're sorry, please try again later."})
		return
	}
	_ = existing

	now := h.clock.Now()
	event := statemachine.Input{Event: statemachine.EventEnter}
	switch {
	case digits == "":
		event = statemachine.Input{Event: statemachine.EventEnter}
	default:
		event = statemachine.Input{Event: statemachine.EventDigit, Digit: digits}
	}

	var afterState *callstate.CallState
	ok := h.updateWithBudget(callSid, func(cs *callstate.CallState) {
		h.machine.Transition(cs, event, now)
		afterState = cs
	})
	if !ok {
		h.Logger().Warn("callback session lock contention or missing session", zap.String("call_sid", callSid))
		h.writeRetryPrompt(w)
		return
	}

	prompt := h.composer.Compose(afterState.LogicalState, afterState.Language, afterState.Payload, afterState.Collected, 0)
	h.writePrompt(w, prompt)
}

// seedFromCustomField decodes the carrier-echoed correlation blob into a
// fresh CallState. Returns nil if decoding fails — the caller treats that as
// "no session, nothing to seed from".
func (h *CallbackHandler) seedFromCustomField(callSid, raw string) *callstate.CallState {
	if raw == "" {
		return nil
	}
	cf, err := carrier.ParseCustomField(raw)
	if err != nil {
		h.Logger().Warn("failed to decode CustomField", zap.Error(err), zap.String("call_sid", callSid))
		return nil
	}
	payload := callstate.Payload{OrderID: cf.OrderID, VendorID: cf.VendorID, RiderID: cf.RiderID}
	kind := callstate.Kind(cf.Kind)
	if kind == "" {
		kind = callstate.KindVendorOrderConfirmation
	}
	return callstate.New(callSid, payload, cf.Language, kind, h.clock.Now())
}

// updateWithBudget runs fn against the session under the store's per-key
// lock but bounds how long the handler is willing to wait for contended
// locks (§5): beyond lockWait, treat it as unavailable rather than stall
// the carrier's response.
func (h *CallbackHandler) updateWithBudget(callSid string, fn func(*callstate.CallState)) bool {
	done := make(chan bool, 1)
	go func() {
		done <- h.store.Update(callSid, fn)
	}()
	select {
	case ok := <-done:
		return ok
	case <-time.After(h.lockWait):
		return false
	}
}

func (h *CallbackHandler) writePrompt(w http.ResponseWriter, prompt composer.Prompt) {
	body, err := h.encoder.Encode(prompt, h.callbackURL)
	if err != nil {
		h.Logger().Error("failed to encode prompt", zap.Error(err))
		body, _ = h.encoder.Encode(composer.Prompt{Text: "We're sorry, please try again later."}, h.callbackURL)
	}
	w.Header().Set("Content-Type", h.encoder.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *CallbackHandler) writeRetryPrompt(w http.ResponseWriter) {
	h.writePrompt(w, h.composer.NoInputRetry(""))
}

func formValue(r *http.Request, key string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return r.FormValue(key)
}

// stripDigitQuotes tolerates the carrier's observed habit of quote-wrapping
// the digits parameter.
func stripDigitQuotes(s string) string {
	return unwrapQuotes(s)
}

func unwrapQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

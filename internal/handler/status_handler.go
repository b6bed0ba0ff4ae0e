package handler

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/jkindrix/ivrengine/internal/callstate"
	"github.com/jkindrix/ivrengine/internal/carrier"
	"github.com/jkindrix/ivrengine/internal/clock"
	"github.com/jkindrix/ivrengine/internal/validation"
)

// StatusSessionStore is the subset of the Session Store the Status
// Reconciler needs.
type StatusSessionStore interface {
	GetOrCreate(callSid string, factory func() *callstate.CallState) *callstate.CallState
	Update(callSid string, fn func(*callstate.CallState)) bool
}

// ReportEnqueuer schedules a terminal CallState for delivery by the Outcome
// Reporter. Enqueuing an already-reported call_sid is a no-op.
type ReportEnqueuer interface {
	Enqueue(callSid string)
}

// StatusHandler consumes the carrier's terminal status callbacks.
type StatusHandler struct {
	*BaseHandler

	store    StatusSessionStore
	reporter ReportEnqueuer
	clock    clock.Clock
}

// StatusHandlerConfig configures a StatusHandler.
type StatusHandlerConfig struct {
	Store    StatusSessionStore
	Reporter ReportEnqueuer
	Clock    clock.Clock
	Logger   *zap.Logger
}

// NewStatusHandler constructs a StatusHandler.
func NewStatusHandler(cfg StatusHandlerConfig) *StatusHandler {
	c := cfg.Clock
	if c == nil {
		c = clock.New()
	}
	return &StatusHandler{
		BaseHandler: NewBaseHandler(BaseHandlerConfig{Logger: cfg.Logger}),
		store:       cfg.Store,
		reporter:    cfg.Reporter,
		clock:       c,
	}
}

// ServeHTTP always responds 200 — the carrier must never be blocked by this
// path, even on an unrecognized or duplicate status.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()

	callSid := r.FormValue("CallSid")
	status := r.FormValue("Status")
	duration, _ := strconv.Atoi(r.FormValue("Duration"))
	recordingURL := r.FormValue("RecordingUrl")
	customFieldRaw := r.FormValue("CustomField")

	if callSid == "" {
		h.Logger().Warn("status callback missing CallSid")
		h.WriteJSON(w, r, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	v := validation.NewCallEventValidator()
	v.ValidateCallID(callSid)
	v.ValidateStatus(status)
	v.ValidateDuration(duration)
	v.ValidateRecordingURL(recordingURL)
	if v.Errors().HasErrors() {
		h.Logger().Warn("status callback failed validation, processing anyway",
			zap.String("call_sid", callSid), zap.String("errors", v.Errors().Error()))
	}

	now := h.clock.Now()
	existed := h.store.Update(callSid, func(cs *callstate.CallState) {
		h.applyStatus(cs, status, duration, recordingURL, now)
	})

	if !existed {
		created := h.synthesizeFromCustomField(callSid, customFieldRaw, now)
		if created == nil {
			h.Logger().Warn("status callback for unknown call with no CustomField", zap.String("call_sid", callSid))
			h.WriteJSON(w, r, http.StatusOK, map[string]bool{"ok": true})
			return
		}
		h.store.GetOrCreate(callSid, func() *callstate.CallState { return created })
		h.store.Update(callSid, func(cs *callstate.CallState) {
			h.applyStatus(cs, status, duration, recordingURL, now)
		})
	}

	h.reporter.Enqueue(callSid)
	h.WriteJSON(w, r, http.StatusOK, map[string]bool{"ok": true})
}

// applyStatus maps the carrier's status vocabulary onto lifecycle/outcome,
// per §4.G. It is idempotent: re-applying the same terminal status to an
// already-terminal record is a harmless no-op.
func (h *StatusHandler) applyStatus(cs *callstate.CallState, status string, duration int, recordingURL string, now time.Time) {
	if cs.Lifecycle.IsTerminal() {
		return
	}

	switch status {
	case "completed":
		cs.Lifecycle = callstate.LifecycleCompleted
		if cs.Outcome == "" {
			cs.Outcome = callstate.OutcomeNoResponse
		}
	case "busy", "no-answer":
		if status == "busy" {
			cs.Lifecycle = callstate.LifecycleBusy
		} else {
			cs.Lifecycle = callstate.LifecycleNoAnswer
		}
		cs.Outcome = callstate.OutcomeNoResponse
	case "failed", "canceled":
		cs.Lifecycle = callstate.LifecycleFailed
		if cs.Outcome == "" {
			cs.Outcome = callstate.OutcomeNoResponse
		}
	default:
		return
	}

	terminalAt := now
	cs.TerminalAt = &terminalAt
	cs.DurationSeconds = duration
	if recordingURL != "" {
		cs.RecordingURL = recordingURL
	}
}

// synthesizeFromCustomField builds a minimal CallState for a status callback
// that arrived with no prior /callback interaction (§8 scenario 6).
func (h *StatusHandler) synthesizeFromCustomField(callSid, raw string, now time.Time) *callstate.CallState {
	if raw == "" {
		return nil
	}
	cf, err := carrier.ParseCustomField(raw)
	if err != nil {
		h.Logger().Warn("failed to decode CustomField for synthetic status record", zap.Error(err))
		return nil
	}
	payload := callstate.Payload{OrderID: cf.OrderID, VendorID: cf.VendorID, RiderID: cf.RiderID}
	kind := callstate.Kind(cf.Kind)
	if kind == "" {
		kind = callstate.KindVendorOrderConfirmation
	}
	cs := callstate.New(callSid, payload, cf.Language, kind, now)
	cs.Lifecycle = callstate.LifecycleInProgress
	return cs
}

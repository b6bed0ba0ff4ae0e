package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jkindrix/ivrengine/internal/callstate"
	"github.com/jkindrix/ivrengine/internal/carrier"
	"github.com/jkindrix/ivrengine/internal/clock"
	ivrerrors "github.com/jkindrix/ivrengine/internal/errors"
	"github.com/jkindrix/ivrengine/internal/validation"
)

// registeredKinds maps the {kind} URL segment of POST /initiate/{kind} to the
// callstate.Kind it places a call for. rider_assignment is a documented
// extension point (see callstate.KindRiderAssignment) with no registered
// behavior yet, so it is deliberately absent here.
var registeredKinds = map[string]callstate.Kind{
	"vendor-order-confirmation": callstate.KindVendorOrderConfirmation,
}

// CallPlacementLimiter bounds the rate and concurrency of outbound call
// placements. Acquire returns a non-nil error when no slot is available;
// Release must be called exactly once for every successful Acquire.
type CallPlacementLimiter interface {
	Acquire(ctx context.Context) error
	Release()
}

// InitiateSessionStore is the subset of the Session Store the Initiator needs.
type InitiateSessionStore interface {
	GetOrCreate(callSid string, factory func() *callstate.CallState) *callstate.CallState
	PutIdempotencyKey(kind, orderID, callSid string)
	LookupIdempotencyKey(kind, orderID string) (string, bool)
}

// CarrierCaller is the subset of the Carrier Client the Initiator needs.
type CarrierCaller interface {
	PlaceCall(ctx context.Context, req carrier.PlaceCallRequest) (string, error)
}

// InitiateHandler accepts requests from the upstream brain to place an
// outbound call, enforcing the (kind, order_id) idempotency window before
// delegating to the Carrier Client.
type InitiateHandler struct {
	*BaseHandler

	store             InitiateSessionStore
	carrier           CarrierCaller
	limiter           CallPlacementLimiter
	clock             clock.Clock
	callerID          string
	appID             string
	statusCallbackURL string
	defaultLanguage   string
}

// InitiateHandlerConfig configures an InitiateHandler.
type InitiateHandlerConfig struct {
	Store             InitiateSessionStore
	Carrier           CarrierCaller
	Limiter           CallPlacementLimiter
	Clock             clock.Clock
	CallerID          string
	AppID             string
	StatusCallbackURL string
	DefaultLanguage   string
	Logger            *zap.Logger
}

// NewInitiateHandler constructs an InitiateHandler. Limiter may be nil, in
// which case call placement is unbounded.
func NewInitiateHandler(cfg InitiateHandlerConfig) *InitiateHandler {
	c := cfg.Clock
	if c == nil {
		c = clock.New()
	}
	return &InitiateHandler{
		BaseHandler:       NewBaseHandler(BaseHandlerConfig{Logger: cfg.Logger}),
		store:             cfg.Store,
		carrier:           cfg.Carrier,
		limiter:           cfg.Limiter,
		clock:             c,
		callerID:          cfg.CallerID,
		appID:             cfg.AppID,
		statusCallbackURL: cfg.StatusCallbackURL,
		defaultLanguage:   cfg.DefaultLanguage,
	}
}

// initiateRequest is the body of POST /initiate/vendor-order-confirmation.
type initiateRequest struct {
	OrderID     int64                   `json:"order_id"`
	VendorID    string                  `json:"vendor_id"`
	VendorPhone string                  `json:"vendor_phone"`
	VendorName  string                  `json:"vendor_name"`
	OrderAmount float64                 `json:"order_amount"`
	OrderItems  []callstate.OrderItem   `json:"order_items"`
	Language    string                  `json:"language"`
}

type initiateResponse struct {
	CallSid     string `json:"call_sid,omitempty"`
	DuplicateOf string `json:"duplicate_of,omitempty"`
}

// ServeHTTP handles POST /initiate/<kind>. Only vendor-order-confirmation is
// wired to a behavior; any other kind segment (including the documented
// rider_assignment extension point) returns 400 invalid_input.
func (h *InitiateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	callKind, ok := registeredKinds[chi.URLParam(r, "kind")]
	if !ok {
		h.WriteJSON(w, r, http.StatusBadRequest, map[string]string{
			"error":   "invalid_input",
			"message": "unknown initiate kind: " + chi.URLParam(r, "kind"),
		})
		return
	}

	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.WriteError(w, r, http.StatusBadRequest, "malformed JSON body")
		return
	}

	if errs := h.validate(req); len(errs) > 0 {
		fieldErrors := make([]ValidationFieldError, 0, len(errs))
		for _, e := range errs {
			fieldErrors = append(fieldErrors, ValidationFieldError{Field: e.Field, Message: e.Message, Code: e.Code})
		}
		APIValidationError(w, fieldErrors)
		return
	}

	kind := string(callKind)
	orderIDStr := strconv.FormatInt(req.OrderID, 10)

	if existingSid, dup := h.store.LookupIdempotencyKey(kind, orderIDStr); dup {
		h.WriteJSON(w, r, http.StatusOK, initiateResponse{DuplicateOf: existingSid})
		return
	}

	language := req.Language
	if language == "" {
		language = h.defaultLanguage
	}

	placeReq := carrier.PlaceCallRequest{
		Phone:              req.VendorPhone,
		CallerID:           h.callerID,
		AppID:              h.appID,
		StatusCallbackURL:  h.statusCallbackURL,
		Correlation: carrier.CustomField{
			OrderID:  req.OrderID,
			VendorID: req.VendorID,
			Language: language,
			Kind:     kind,
		},
	}

	if h.limiter != nil {
		if err := h.limiter.Acquire(r.Context()); err != nil {
			h.Logger().Warn("call placement rejected by rate limiter", zap.Error(err))
			h.WriteJSON(w, r, http.StatusTooManyRequests, map[string]string{
				"error":   "rate_limited",
				"message": err.Error(),
			})
			return
		}
		defer h.limiter.Release()
	}

	callSid, err := h.carrier.PlaceCall(r.Context(), placeReq)
	if err != nil {
		h.writeCarrierError(w, r, err)
		return
	}

	payload := callstate.Payload{
		OrderID:     req.OrderID,
		VendorID:    req.VendorID,
		VendorName:  req.VendorName,
		CalleePhone: req.VendorPhone,
		OrderAmount: req.OrderAmount,
		OrderItems:  req.OrderItems,
	}
	now := h.clock.Now()
	h.store.GetOrCreate(callSid, func() *callstate.CallState {
		return callstate.New(callSid, payload, language, callKind, now)
	})
	h.store.PutIdempotencyKey(kind, orderIDStr, callSid)

	h.WriteJSON(w, r, http.StatusOK, initiateResponse{CallSid: callSid})
}

func (h *InitiateHandler) validate(req initiateRequest) validation.ValidationErrors {
	v := validation.New()
	v.Required("vendor_phone", req.VendorPhone)
	v.PhoneNumber("vendor_phone", req.VendorPhone)
	v.Required("vendor_id", req.VendorID)
	v.NonNegativeInt("order_id", int(req.OrderID))
	return v.Errors()
}

func (h *InitiateHandler) writeCarrierError(w http.ResponseWriter, r *http.Request, err error) {
	status := ivrerrors.GetHTTPStatus(err)
	code := ivrerrors.GetCode(err)
	h.Logger().Error("carrier call placement failed", zap.Error(err), zap.String("code", string(code)))
	h.WriteJSON(w, r, status, map[string]string{
		"error": string(code),
		"message": err.Error(),
	})
}

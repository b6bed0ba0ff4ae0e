// Package carrier provides a client for placing outbound calls through the
// cloud telephony carrier and parsing its assigned CallSid.
package carrier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jkindrix/ivrengine/internal/circuitbreaker"
	ivrerrors "github.com/jkindrix/ivrengine/internal/errors"
	"github.com/jkindrix/ivrengine/internal/sanitize"
)

const (
	// DefaultBaseURL is the default carrier API host.
	DefaultBaseURL = "https://api.exotel.com/v1"

	// DefaultTimeout is the default HTTP client timeout for call initiation.
	DefaultTimeout = 10 * time.Second
)

// Client places outbound calls via the carrier's REST API.
type Client struct {
	accountSID     string
	apiKey         string
	apiToken       string
	baseURL        string
	httpClient     *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	logger         *zap.Logger
}

// Config holds configuration for the carrier client.
type Config struct {
	AccountSID string
	APIKey     string
	APIToken   string
	BaseURL    string
	Timeout    time.Duration
}

// New creates a new carrier client.
func New(cfg *Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	cbConfig := &circuitbreaker.Config{
		FailureThreshold:    5,
		SuccessThreshold:    3,
		OpenTimeout:         30 * time.Second,
		HalfOpenMaxRequests: 3,
	}

	return &Client{
		accountSID: cfg.AccountSID,
		apiKey:     cfg.APIKey,
		apiToken:   cfg.APIToken,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		circuitBreaker: circuitbreaker.New("carrier", cbConfig, logger),
		logger:         logger,
	}
}

// PlaceCallRequest is the input to PlaceCall.
type PlaceCallRequest struct {
	// Phone is the callee's number, E.164 digits with leading '+' optional.
	Phone string
	// CallerID is the virtual number shown to the callee.
	CallerID string
	// AppID is the dashboard-configured applet id referenced in the start_voice URL.
	AppID string
	// StatusCallbackURL is the optional per-call status-callback URL.
	StatusCallbackURL string
	// Correlation is marshaled to JSON and carried as CustomField; the
	// carrier echoes it verbatim into every subsequent callback.
	Correlation CustomField
}

// CustomField is the business correlation object round-tripped through the carrier.
type CustomField struct {
	OrderID  int64  `json:"order_id"`
	VendorID string `json:"vendor_id,omitempty"`
	RiderID  string `json:"rider_id,omitempty"`
	Language string `json:"language"`
	Kind     string `json:"kind"`
}

// placeCallResponse is the subset of the carrier's response body we parse.
type placeCallResponse struct {
	Call struct {
		Sid string `json:"Sid"`
	} `json:"Call"`
}

// PlaceCall places a single outbound call. It performs exactly one HTTPS
// request; callers are responsible for idempotency (the Initiator enforces
// it via the Session Store's secondary index, not this client).
func (c *Client) PlaceCall(ctx context.Context, req PlaceCallRequest) (string, error) {
	correlationJSON, err := json.Marshal(req.Correlation)
	if err != nil {
		return "", ivrerrors.InternalError("failed to marshal CustomField", err)
	}

	form := url.Values{}
	form.Set("From", req.Phone)
	form.Set("CallerId", req.CallerID)
	form.Set("Url", fmt.Sprintf("%s/%s/exoml/start_voice/%s", c.baseURL, c.accountSID, req.AppID))
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
	}
	form.Set("CustomField", string(correlationJSON))

	var sid string
	execErr := c.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		s, err := c.doPlaceCall(ctx, form)
		if err != nil {
			return err
		}
		sid = s
		return nil
	})

	if execErr != nil {
		if execErr == circuitbreaker.ErrCircuitOpen || execErr == circuitbreaker.ErrTooManyRequests {
			return "", ivrerrors.CarrierUnavailable(execErr)
		}
		return "", execErr
	}

	return sid, nil
}

func (c *Client) doPlaceCall(ctx context.Context, form url.Values) (string, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/connect.json", c.baseURL, c.accountSID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", ivrerrors.InternalError("failed to build carrier request", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.apiToken != "" {
		httpReq.SetBasicAuth(c.accountSID, c.apiToken)
	} else {
		httpReq.SetBasicAuth(c.apiKey, c.apiKey)
	}

	c.logger.Debug("placing carrier call", zap.String("app_id", form.Get("Url")))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", ivrerrors.CarrierUnavailable(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", ivrerrors.CarrierUnavailable(err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", ivrerrors.ErrAuthInvalid
	case resp.StatusCode >= 500:
		return "", ivrerrors.CarrierUnavailable(fmt.Errorf("carrier returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return "", ivrerrors.CarrierRejected(sanitize.NewDefault().String(string(body)))
	}

	var parsed placeCallResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", ivrerrors.CarrierUnavailable(fmt.Errorf("malformed carrier response: %w", err))
	}
	if parsed.Call.Sid == "" {
		return "", ivrerrors.CarrierUnavailable(fmt.Errorf("carrier response missing call sid"))
	}

	c.logger.Info("call placed", zap.String("call_sid", parsed.Call.Sid))
	return parsed.Call.Sid, nil
}

// IsOpen reports whether the circuit breaker is currently open, satisfying
// handler.CircuitBreakerChecker for the /health endpoint.
func (c *Client) IsOpen() bool {
	return c.circuitBreaker.IsOpen()
}

// CircuitBreakerStats returns the current circuit breaker statistics.
func (c *Client) CircuitBreakerStats() circuitbreaker.Stats {
	return c.circuitBreaker.Stats()
}

// ParseCustomField decodes a CustomField value as echoed back by the carrier
// in callback query parameters, tolerating a single layer of surrounding
// double-quote wrapping (observed carrier behavior, §4.F).
func ParseCustomField(raw string) (CustomField, error) {
	unwrapped := unwrapQuotes(raw)
	var cf CustomField
	if err := json.Unmarshal([]byte(unwrapped), &cf); err != nil {
		return CustomField{}, ivrerrors.New(ivrerrors.CodeInvalidInput, "malformed CustomField")
	}
	return cf, nil
}

// unwrapQuotes strips at most one layer of surrounding double quotes.
func unwrapQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

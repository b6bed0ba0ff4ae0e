// Package metrics provides metrics collection including business event logging.
package metrics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jkindrix/ivrengine/internal/sanitize"
)

// BusinessEventLogger provides structured logging for business events.
// This complements Prometheus metrics by providing detailed, searchable logs
// for business intelligence, debugging, and compliance.
type BusinessEventLogger struct {
	logger *zap.Logger
}

// NewBusinessEventLogger creates a new business event logger.
func NewBusinessEventLogger(logger *zap.Logger) *BusinessEventLogger {
	return &BusinessEventLogger{
		logger: logger.Named("business_events"),
	}
}

// CallInitiated logs when an outbound call is placed with the carrier.
func (l *BusinessEventLogger) CallInitiated(ctx context.Context, callSid, kind, calleePhone string) {
	l.logger.Info("call_initiated",
		zap.String("event_type", "call.initiated"),
		zap.String("call_sid", callSid),
		zap.String("kind", kind),
		zap.String("callee_phone", sanitize.Phone(calleePhone)),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// CallCompleted logs when a call reaches a terminal carrier status.
func (l *BusinessEventLogger) CallCompleted(ctx context.Context, callSid, status string, duration time.Duration) {
	l.logger.Info("call_completed",
		zap.String("event_type", "call.completed"),
		zap.String("call_sid", callSid),
		zap.String("status", status),
		zap.Duration("duration", duration),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// OutcomeDelivered logs a successful outcome delivery to the upstream brain.
func (l *BusinessEventLogger) OutcomeDelivered(ctx context.Context, callSid, outcome string, attempts int, duration time.Duration) {
	l.logger.Info("outcome_delivered",
		zap.String("event_type", "outcome.delivered"),
		zap.String("call_sid", callSid),
		zap.String("outcome", outcome),
		zap.Int("attempts", attempts),
		zap.Duration("total_duration", duration),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// OutcomeAbandoned logs an outcome whose retry schedule was exhausted
// without a successful delivery.
func (l *BusinessEventLogger) OutcomeAbandoned(ctx context.Context, callSid, outcome string, attempts int) {
	l.logger.Warn("outcome_abandoned",
		zap.String("event_type", "outcome.abandoned"),
		zap.String("call_sid", callSid),
		zap.String("outcome", outcome),
		zap.Int("attempts", attempts),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// CallbackReceived logs when the carrier's /callback webhook is processed.
func (l *BusinessEventLogger) CallbackReceived(ctx context.Context, callSid, fromState, toState, digits string) {
	l.logger.Info("callback_received",
		zap.String("event_type", "callback.received"),
		zap.String("call_sid", callSid),
		zap.String("from_state", fromState),
		zap.String("to_state", toState),
		zap.String("digits", digits),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// StatusReceived logs when the carrier's /status webhook is processed.
func (l *BusinessEventLogger) StatusReceived(ctx context.Context, callSid, status string, valid bool) {
	level := l.logger.Info
	eventName := "status_received"
	if !valid {
		level = l.logger.Warn
		eventName = "status_invalid"
	}
	level(eventName,
		zap.String("event_type", "status.received"),
		zap.String("call_sid", callSid),
		zap.String("status", status),
		zap.Bool("valid", valid),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// SnapshotReplayed logs the result of the snapshot bridge's startup replay.
func (l *BusinessEventLogger) SnapshotReplayed(ctx context.Context, count int) {
	l.logger.Info("snapshot_replayed",
		zap.String("event_type", "snapshot.replayed"),
		zap.Int("count", count),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// APIError logs an API error for monitoring.
func (l *BusinessEventLogger) APIError(ctx context.Context, endpoint, method string, statusCode int, errorMsg string) {
	l.logger.Error("api_error",
		zap.String("event_type", "api.error"),
		zap.String("endpoint", endpoint),
		zap.String("method", method),
		zap.Int("status_code", statusCode),
		zap.String("error", errorMsg),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// RateLimitExceeded logs when a rate limit is exceeded.
func (l *BusinessEventLogger) RateLimitExceeded(ctx context.Context, limiterType string, identifier string) {
	l.logger.Warn("rate_limit_exceeded",
		zap.String("event_type", "rate_limit.exceeded"),
		zap.String("limiter_type", limiterType),
		zap.String("identifier", sanitize.ID(identifier)),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// DailyStats logs daily aggregate statistics.
func (l *BusinessEventLogger) DailyStats(ctx context.Context, date time.Time, stats DailyStatsData) {
	l.logger.Info("daily_stats",
		zap.String("event_type", "stats.daily"),
		zap.Time("date", date),
		zap.Int("total_calls", stats.TotalCalls),
		zap.Int("accepted_calls", stats.AcceptedCalls),
		zap.Int("rejected_calls", stats.RejectedCalls),
		zap.Int("no_response_calls", stats.NoResponseCalls),
		zap.Duration("avg_call_duration", stats.AvgCallDuration),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// DailyStatsData holds aggregate statistics for a day.
type DailyStatsData struct {
	TotalCalls      int
	AcceptedCalls   int
	RejectedCalls   int
	NoResponseCalls int
	AvgCallDuration time.Duration
}


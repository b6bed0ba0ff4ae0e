package metrics

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jkindrix/ivrengine/internal/sanitize"
)

func newTestLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.InfoLevel)
	return zap.New(core), logs
}

func TestBusinessEventLogger_CallInitiated(t *testing.T) {
	logger, logs := newTestLogger()
	bel := NewBusinessEventLogger(logger)

	bel.CallInitiated(context.Background(), "CA123", "vendor_order_confirmation", "+15551234567")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.Message != "call_initiated" {
		t.Errorf("expected message 'call_initiated', got '%s'", entry.Message)
	}

	fields := entry.ContextMap()
	if fields["event_type"] != "call.initiated" {
		t.Errorf("expected event_type 'call.initiated', got '%v'", fields["event_type"])
	}
	if fields["call_sid"] != "CA123" {
		t.Errorf("expected call_sid 'CA123', got '%v'", fields["call_sid"])
	}
	wantPhone := sanitize.Phone("+15551234567")
	if fields["callee_phone"] != wantPhone {
		t.Errorf("expected masked phone %q, got '%v'", wantPhone, fields["callee_phone"])
	}
}

func TestBusinessEventLogger_CallCompleted(t *testing.T) {
	logger, logs := newTestLogger()
	bel := NewBusinessEventLogger(logger)

	bel.CallCompleted(context.Background(), "CA123", "completed", 5*time.Minute)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.Message != "call_completed" {
		t.Errorf("expected message 'call_completed', got '%s'", entry.Message)
	}

	fields := entry.ContextMap()
	if fields["status"] != "completed" {
		t.Errorf("expected status 'completed', got '%v'", fields["status"])
	}
}

func TestBusinessEventLogger_OutcomeDelivered(t *testing.T) {
	logger, logs := newTestLogger()
	bel := NewBusinessEventLogger(logger)

	bel.OutcomeDelivered(context.Background(), "CA123", "accepted", 2, 8*time.Second)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.Message != "outcome_delivered" {
		t.Errorf("expected message 'outcome_delivered', got '%s'", entry.Message)
	}
	if entry.Level != zapcore.InfoLevel {
		t.Errorf("expected INFO level, got %v", entry.Level)
	}

	fields := entry.ContextMap()
	if fields["outcome"] != "accepted" {
		t.Errorf("expected outcome 'accepted', got '%v'", fields["outcome"])
	}
	if fields["attempts"] != int64(2) {
		t.Errorf("expected attempts=2, got '%v'", fields["attempts"])
	}
}

func TestBusinessEventLogger_OutcomeAbandoned(t *testing.T) {
	logger, logs := newTestLogger()
	bel := NewBusinessEventLogger(logger)

	bel.OutcomeAbandoned(context.Background(), "CA123", "rejected", 6)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.Message != "outcome_abandoned" {
		t.Errorf("expected message 'outcome_abandoned', got '%s'", entry.Message)
	}
	if entry.Level != zapcore.WarnLevel {
		t.Errorf("expected WARN level, got %v", entry.Level)
	}
}

func TestBusinessEventLogger_CallbackReceived(t *testing.T) {
	logger, logs := newTestLogger()
	bel := NewBusinessEventLogger(logger)

	bel.CallbackReceived(context.Background(), "CA123", "greeting", "prep_time_inquiry", "1")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.Message != "callback_received" {
		t.Errorf("expected message 'callback_received', got '%s'", entry.Message)
	}

	fields := entry.ContextMap()
	if fields["from_state"] != "greeting" || fields["to_state"] != "prep_time_inquiry" {
		t.Errorf("unexpected state fields: %v", fields)
	}
}

func TestBusinessEventLogger_StatusReceived(t *testing.T) {
	logger, logs := newTestLogger()
	bel := NewBusinessEventLogger(logger)

	t.Run("valid status", func(t *testing.T) {
		bel.StatusReceived(context.Background(), "CA123", "completed", true)

		entries := logs.TakeAll()
		if len(entries) != 1 {
			t.Fatalf("expected 1 log entry, got %d", len(entries))
		}

		entry := entries[0]
		if entry.Message != "status_received" {
			t.Errorf("expected message 'status_received', got '%s'", entry.Message)
		}
		if entry.Level != zapcore.InfoLevel {
			t.Errorf("expected INFO level, got %v", entry.Level)
		}
	})

	t.Run("invalid status", func(t *testing.T) {
		bel.StatusReceived(context.Background(), "CA123", "bogus", false)

		entries := logs.TakeAll()
		if len(entries) != 1 {
			t.Fatalf("expected 1 log entry, got %d", len(entries))
		}

		entry := entries[0]
		if entry.Message != "status_invalid" {
			t.Errorf("expected message 'status_invalid', got '%s'", entry.Message)
		}
		if entry.Level != zapcore.WarnLevel {
			t.Errorf("expected WARN level, got %v", entry.Level)
		}
	})
}

func TestBusinessEventLogger_DailyStats(t *testing.T) {
	logger, logs := newTestLogger()
	bel := NewBusinessEventLogger(logger)

	stats := DailyStatsData{
		TotalCalls:      100,
		AcceptedCalls:   60,
		RejectedCalls:   25,
		NoResponseCalls: 15,
		AvgCallDuration: 90 * time.Second,
	}

	bel.DailyStats(context.Background(), time.Now(), stats)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.Message != "daily_stats" {
		t.Errorf("expected message 'daily_stats', got '%s'", entry.Message)
	}

	fields := entry.ContextMap()
	if fields["total_calls"] != int64(100) {
		t.Errorf("expected total_calls=100, got '%v'", fields["total_calls"])
	}
	if fields["accepted_calls"] != int64(60) {
		t.Errorf("expected accepted_calls=60, got '%v'", fields["accepted_calls"])
	}
}

func TestCallInitiated_MasksCalleePhone(t *testing.T) {
	core, recorded := observer.New(zap.InfoLevel)
	logger := NewBusinessEventLogger(zap.New(core))

	logger.CallInitiated(context.Background(), "CA1", "vendor_order_confirmation", "+15551234567")

	entries := recorded.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["callee_phone"] == "+15551234567" {
		t.Error("callee_phone was logged unmasked")
	}
	if fields["callee_phone"] != sanitize.Phone("+15551234567") {
		t.Errorf("callee_phone = %v, want %v", fields["callee_phone"], sanitize.Phone("+15551234567"))
	}
}

func TestRateLimitExceeded_MasksIdentifier(t *testing.T) {
	core, recorded := observer.New(zap.WarnLevel)
	logger := NewBusinessEventLogger(zap.New(core))

	logger.RateLimitExceeded(context.Background(), "per_ip", "192.168.1.100")

	entries := recorded.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["identifier"] == "192.168.1.100" {
		t.Error("identifier was logged unmasked")
	}
	if fields["identifier"] != sanitize.ID("192.168.1.100") {
		t.Errorf("identifier = %v, want %v", fields["identifier"], sanitize.ID("192.168.1.100"))
	}
}

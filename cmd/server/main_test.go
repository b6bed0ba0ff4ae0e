package main

import (
	"testing"

	"github.com/jkindrix/ivrengine/internal/config"
)

func TestCallLimiterConfigFromRateLimit(t *testing.T) {
	cfg := callLimiterConfigFromRateLimit(config.RateLimitConfig{Requests: 10})

	if cfg.MaxRequestsPerMinute != 10 {
		t.Errorf("MaxRequestsPerMinute = %d, want 10", cfg.MaxRequestsPerMinute)
	}
	if cfg.MaxRequestsPerHour != 200 {
		t.Errorf("MaxRequestsPerHour = %d, want 200", cfg.MaxRequestsPerHour)
	}
	if cfg.MaxRequestsPerDay != 2000 {
		t.Errorf("MaxRequestsPerDay = %d, want 2000", cfg.MaxRequestsPerDay)
	}
	if cfg.MaxConcurrent != 20 {
		t.Errorf("MaxConcurrent = %d, want 20", cfg.MaxConcurrent)
	}
}

func TestCallLimiterConfigFromRateLimit_ZeroFloorsToOne(t *testing.T) {
	cfg := callLimiterConfigFromRateLimit(config.RateLimitConfig{Requests: 0})

	if cfg.MaxRequestsPerMinute != 1 {
		t.Errorf("MaxRequestsPerMinute = %d, want 1", cfg.MaxRequestsPerMinute)
	}
}

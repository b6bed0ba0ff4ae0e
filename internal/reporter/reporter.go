// Package reporter implements the Outcome Reporter: a bounded job queue and
// worker pool that delivers terminal call outcomes to the upstream brain,
// retrying on a fixed schedule until success, a non-retryable rejection, or
// the overall delivery window expires.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jkindrix/ivrengine/internal/callstate"
	"github.com/jkindrix/ivrengine/internal/clock"
)

// Schedule is the fixed retry schedule from the spec: 0s, 2s, 8s, 30s, 2m, 10m.
// The reference worker-pool's own exponential-backoff defaults are NOT used
// here — this schedule is exact, not derived.
var Schedule = []time.Duration{
	0,
	2 * time.Second,
	8 * time.Second,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

// MaxElapsed bounds total retry duration; once exceeded the job is abandoned
// and surfaced only via metrics (no further retries).
const MaxElapsed = 30 * time.Minute

// jitterFraction is the +/- range applied to each scheduled delay.
const jitterFraction = 0.2

// SessionStore is the subset of the Session Store the Reporter needs.
type SessionStore interface {
	Get(callSid string) (*callstate.CallState, bool)
	Update(callSid string, fn func(*callstate.CallState)) bool
}

// Config configures a Reporter.
type Config struct {
	UpstreamURL string
	WorkerCount int
	QueueSize   int
	HTTPTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount: 3,
		QueueSize:   256,
		HTTPTimeout: 10 * time.Second,
	}
}

// job tracks one call_sid's delivery attempts.
type job struct {
	callSid      string
	attempt      int
	firstAttempt time.Time
	nextAttempt  time.Time
}

// Reporter delivers terminal CallState outcomes upstream. It satisfies the
// shutdown coordinator's Service interface (Name/Shutdown).
type Reporter struct {
	cfg        Config
	store      SessionStore
	httpClient *http.Client
	clock      clock.Clock
	logger     *zap.Logger

	mu      sync.Mutex
	jobs    map[string]*job
	pending chan string

	stopCh chan struct{}
	wg     sync.WaitGroup

	delivered int64
	abandoned int64
	attempts  int64
}

// New constructs a Reporter.
func New(cfg Config, store SessionStore, c clock.Clock, logger *zap.Logger) *Reporter {
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 64
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if c == nil {
		c = clock.New()
	}
	return &Reporter{
		cfg:   cfg,
		store: store,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		clock:   c,
		logger:  logger,
		jobs:    make(map[string]*job),
		pending: make(chan string, cfg.QueueSize),
		stopCh:  make(chan struct{}),
	}
}

// Name satisfies shutdown.Service.
func (r *Reporter) Name() string { return "outcome-reporter" }

// Enqueue schedules callSid for immediate delivery. Re-enqueuing an
// already-reported or already-tracked call_sid is a no-op: the reported flag
// and the in-memory job map each provide idempotency.
func (r *Reporter) Enqueue(callSid string) {
	cs, ok := r.store.Get(callSid)
	if !ok || cs.Reported {
		return
	}

	r.mu.Lock()
	if _, tracked := r.jobs[callSid]; tracked {
		r.mu.Unlock()
		return
	}
	now := r.clock.Now()
	r.jobs[callSid] = &job{callSid: callSid, firstAttempt: now, nextAttempt: now}
	r.mu.Unlock()

	select {
	case r.pending <- callSid:
	default:
		r.logger.Warn("reporter queue full, job will be picked up by next dispatch tick", zap.String("call_sid", callSid))
	}
}

// Start launches the dispatcher and worker pool.
func (r *Reporter) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.dispatch(ctx)

	for i := 0; i < r.cfg.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
}

// Shutdown satisfies shutdown.Service: stops the dispatcher and workers.
// In-flight deliveries are abandoned — records are in-memory only (§5).
func (r *Reporter) Shutdown(ctx context.Context) error {
	close(r.stopCh)
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch re-checks tracked jobs whose nextAttempt has elapsed and resends
// them to the pending channel; it also sweeps jobs past MaxElapsed.
func (r *Reporter) dispatch(ctx context.Context) {
	defer r.wg.Done()
	ticker := r.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C():
			r.dispatchReady()
		}
	}
}

func (r *Reporter) dispatchReady() {
	now := r.clock.Now()

	r.mu.Lock()
	var ready []string
	for callSid, j := range r.jobs {
		if now.Sub(j.firstAttempt) > MaxElapsed {
			delete(r.jobs, callSid)
			r.abandoned++
			r.logger.Error("reporter delivery window exhausted, abandoning", zap.String("call_sid", callSid))
			continue
		}
		if !now.Before(j.nextAttempt) {
			ready = append(ready, callSid)
		}
	}
	r.mu.Unlock()

	for _, callSid := range ready {
		select {
		case r.pending <- callSid:
		default:
		}
	}
}

func (r *Reporter) worker(id int) {
	defer r.wg.Done()
	logger := r.logger.With(zap.Int("worker_id", id))

	for {
		select {
		case <-r.stopCh:
			return
		case callSid := <-r.pending:
			r.attempt(callSid, logger)
		}
	}
}

func (r *Reporter) attempt(callSid string, logger *zap.Logger) {
	cs, ok := r.store.Get(callSid)
	if !ok || cs.Reported {
		r.mu.Lock()
		delete(r.jobs, callSid)
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	j, tracked := r.jobs[callSid]
	r.mu.Unlock()
	if !tracked {
		return
	}

	r.mu.Lock()
	r.attempts++
	r.mu.Unlock()

	status, err := r.deliver(cs.ToOutcomeReport())

	switch {
	case err == nil && status >= 200 && status < 300:
		r.store.Update(callSid, func(state *callstate.CallState) { state.Reported = true })
		r.mu.Lock()
		delete(r.jobs, callSid)
		r.delivered++
		r.mu.Unlock()
		logger.Info("outcome delivered", zap.String("call_sid", callSid), zap.Int("attempt", j.attempt+1))

	case err == nil && status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests:
		// Non-retryable rejection: stop retrying but flag for monitoring.
		r.store.Update(callSid, func(state *callstate.CallState) { state.Reported = true })
		r.mu.Lock()
		delete(r.jobs, callSid)
		r.mu.Unlock()
		logger.Error("outcome delivery rejected by upstream, not retrying",
			zap.String("call_sid", callSid), zap.Int("status", status))

	default:
		r.reschedule(j, logger, err, status)
	}
}

func (r *Reporter) reschedule(j *job, logger *zap.Logger, err error, status int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[j.callSid]; !ok {
		return
	}

	j.attempt++
	if j.attempt >= len(Schedule) {
		delete(r.jobs, j.callSid)
		r.abandoned++
		logger.Error("outcome delivery retries exhausted", zap.String("call_sid", j.callSid))
		return
	}

	delay := withJitter(Schedule[j.attempt])
	j.nextAttempt = r.clock.Now().Add(delay)

	logger.Warn("outcome delivery failed, rescheduling",
		zap.String("call_sid", j.callSid),
		zap.Int("attempt", j.attempt),
		zap.Duration("delay", delay),
		zap.Int("status", status),
		zap.Error(err),
	)
}

// withJitter applies a +/- jitterFraction randomization to d.
func withJitter(d time.Duration) time.Duration {
	if d == 0 {
		return 0
	}
	span := float64(d) * jitterFraction
	offset := (rand.Float64()*2 - 1) * span
	return time.Duration(float64(d) + offset)
}

// deliver performs exactly one HTTP attempt. A transport failure is returned
// as status 0 with a non-nil error (treated as retryable).
func (r *Reporter) deliver(report callstate.OutcomeReport) (int, error) {
	body, err := json.Marshal(report)
	if err != nil {
		return 0, fmt.Errorf("marshal outcome report: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.HTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.UpstreamURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", report.CallSid)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

// Stats reports cumulative counters for metrics reporting.
type Stats struct {
	QueueDepth int
	Delivered  int64
	Abandoned  int64
	Attempts   int64
}

// Stats returns a snapshot of reporter counters.
func (r *Reporter) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		QueueDepth: len(r.jobs),
		Delivered:  r.delivered,
		Abandoned:  r.abandoned,
		Attempts:   r.attempts,
	}
}

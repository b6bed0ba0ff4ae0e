// Package session provides the concurrency-safe, TTL-bounded keyed store of
// in-flight CallState records shared by the Callback Handler, Status
// Reconciler, and Initiator.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jkindrix/ivrengine/internal/callstate"
	"github.com/jkindrix/ivrengine/internal/clock"
)

// Config controls TTL and sweep behavior.
type Config struct {
	// LiveTTL is how long a non-terminal record may go without interaction
	// before being force-terminated with outcome no_response.
	LiveTTL time.Duration
	// ReportedTTL is how long a terminal+reported record is retained after
	// its terminal_at before eviction.
	ReportedTTL time.Duration
	// IdempotencyTTL is how long the secondary (kind, order_id) index entry
	// lives, used solely by the Initiator's duplicate-call check.
	IdempotencyTTL time.Duration
	// SweepInterval is how often the background sweep runs.
	SweepInterval time.Duration
}

// DefaultConfig returns the spec's default TTLs.
func DefaultConfig() Config {
	return Config{
		LiveTTL:        15 * time.Minute,
		ReportedTTL:    60 * time.Second,
		IdempotencyTTL: 5 * time.Minute,
		SweepInterval:  30 * time.Second,
	}
}

type idempotencyEntry struct {
	callSid   string
	expiresAt time.Time
}

// Store is a concurrency-safe map from CallSid to *callstate.CallState, with
// per-key mutual exclusion on Update and a background sweep for expiry.
type Store struct {
	mu       sync.RWMutex
	byCallSid map[string]*entry
	byIdempotencyKey map[string]idempotencyEntry

	cfg    Config
	clock  clock.Clock
	logger *zap.Logger

	evictedCount  int64
	forcedCount   int64
}

type entry struct {
	mu    sync.Mutex
	state *callstate.CallState
}

// New constructs a Store. If c is nil, the real system clock is used.
func New(cfg Config, c clock.Clock, logger *zap.Logger) *Store {
	if c == nil {
		c = clock.New()
	}
	return &Store{
		byCallSid:        make(map[string]*entry),
		byIdempotencyKey: make(map[string]idempotencyEntry),
		cfg:              cfg,
		clock:            c,
		logger:           logger,
	}
}

// Len reports the number of live records, satisfying handler.SessionStoreInspector.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byCallSid)
}

// GetOrCreate returns the existing record for callSid, or creates one via
// factory if absent. factory is only invoked when no record exists.
func (s *Store) GetOrCreate(callSid string, factory func() *callstate.CallState) *callstate.CallState {
	s.mu.Lock()
	e, ok := s.byCallSid[callSid]
	if !ok {
		state := factory()
		if state == nil {
			s.mu.Unlock()
			return nil
		}
		e = &entry{state: state}
		s.byCallSid[callSid] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Get returns the current record for callSid, if present.
func (s *Store) Get(callSid string) (*callstate.CallState, bool) {
	s.mu.RLock()
	e, ok := s.byCallSid[callSid]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone(), true
}

// Update runs fn against the current record for callSid under per-key
// exclusion and persists the mutated result. Returns false if callSid is not
// present. fn mutates the record in place.
func (s *Store) Update(callSid string, fn func(*callstate.CallState)) bool {
	s.mu.RLock()
	e, ok := s.byCallSid[callSid]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.state)
	e.state.LastInteractionAt = s.clock.Now()
	return true
}

// Evict removes callSid from the store unconditionally.
func (s *Store) Evict(callSid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byCallSid, callSid)
}

// PutIdempotencyKey records that (kind, orderID) maps to callSid for the
// configured idempotency window. Used by the Initiator immediately after a
// successful PlaceCall.
func (s *Store) PutIdempotencyKey(kind, orderID, callSid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byIdempotencyKey[idempotencyKey(kind, orderID)] = idempotencyEntry{
		callSid:   callSid,
		expiresAt: s.clock.Now().Add(s.cfg.IdempotencyTTL),
	}
}

// LookupIdempotencyKey returns the call_sid previously registered for
// (kind, orderID), if still within its TTL window.
func (s *Store) LookupIdempotencyKey(kind, orderID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byIdempotencyKey[idempotencyKey(kind, orderID)]
	if !ok || s.clock.Now().After(e.expiresAt) {
		return "", false
	}
	return e.callSid, true
}

func idempotencyKey(kind, orderID string) string {
	return kind + ":" + orderID
}

// Sweep evicts and force-terminates expired records per the store's policy:
// non-terminal records whose last_interaction_at predates LiveTTL are
// force-terminated with outcome no_response (and kept, so the Outcome
// Reporter can still deliver that outcome); terminal+reported records whose
// terminal_at predates ReportedTTL are evicted outright.
func (s *Store) Sweep() {
	now := s.clock.Now()

	s.mu.RLock()
	callSids := make([]string, 0, len(s.byCallSid))
	for id := range s.byCallSid {
		callSids = append(callSids, id)
	}
	s.mu.RUnlock()

	var toEvict []string
	for _, id := range callSids {
		s.mu.RLock()
		e, ok := s.byCallSid[id]
		s.mu.RUnlock()
		if !ok {
			continue
		}

		e.mu.Lock()
		st := e.state

		if !st.Lifecycle.IsTerminal() && now.Sub(st.LastInteractionAt) > s.cfg.LiveTTL {
			st.Lifecycle = callstate.LifecycleNoAnswer
			st.Outcome = callstate.OutcomeNoResponse
			terminalAt := now
			st.TerminalAt = &terminalAt
			s.forcedCount++
			if s.logger != nil {
				s.logger.Warn("session force-terminated on live-TTL expiry",
					zap.String("call_sid", id),
				)
			}
		}

		terminalAndReported := st.Lifecycle.IsTerminal() && st.Reported && st.TerminalAt != nil &&
			now.Sub(*st.TerminalAt) > s.cfg.ReportedTTL
		e.mu.Unlock()

		if terminalAndReported {
			toEvict = append(toEvict, id)
		}
	}

	if len(toEvict) == 0 {
		return
	}

	s.mu.Lock()
	for _, id := range toEvict {
		delete(s.byCallSid, id)
		s.evictedCount++
	}
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Debug("session sweep evicted terminal records", zap.Int("count", len(toEvict)))
	}
}

// Snapshot returns a clone of every terminal, not-yet-reported record,
// satisfying the snapshot bridge's SnapshotSource interface (§10.7).
func (s *Store) Snapshot() []*callstate.CallState {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.byCallSid))
	for _, e := range s.byCallSid {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var out []*callstate.CallState
	for _, e := range entries {
		e.mu.Lock()
		if e.state.Lifecycle.IsTerminal() && !e.state.Reported {
			out = append(out, e.state.Clone())
		}
		e.mu.Unlock()
	}
	return out
}

// Stats reports cumulative counters for metrics reporting.
type Stats struct {
	Live          int
	EvictedTotal  int64
	ForcedTotal   int64
}

// Stats returns a snapshot of store counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Live:         len(s.byCallSid),
		EvictedTotal: s.evictedCount,
		ForcedTotal:  s.forcedCount,
	}
}

// Run starts the background sweep loop, ticking at cfg.SweepInterval, until
// ctx is canceled. Intended to be registered with the shutdown coordinator.
func (s *Store) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			s.Sweep()
		}
	}
}

// Package snapshot provides an optional durable bridge for terminal call
// outcomes that have not yet been delivered to the upstream brain. The
// Session Store (§5) is in-memory only; a process restart while a terminal
// CallState is still retrying delivery would otherwise lose that record.
// When SNAPSHOT_DSN is configured, the bridge periodically upserts
// not-yet-reported terminal records into Postgres and replays them into the
// Session Store and Outcome Reporter on startup. When unset, Store is
// constructed as a no-op and nothing touches the database (§10.7).
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/jkindrix/ivrengine/internal/callstate"
	"github.com/jkindrix/ivrengine/internal/clock"
	"github.com/jkindrix/ivrengine/internal/config"
	"github.com/jkindrix/ivrengine/internal/database"
	ivrerrors "github.com/jkindrix/ivrengine/internal/errors"
)

// SessionStore is the subset of the Session Store the snapshot bridge needs
// to replay rows back into memory on startup.
type SessionStore interface {
	GetOrCreate(callSid string, factory func() *callstate.CallState) *callstate.CallState
}

// ReportEnqueuer is the subset of the Outcome Reporter the bridge needs to
// resume delivery of replayed rows.
type ReportEnqueuer interface {
	Enqueue(callSid string)
}

// SnapshotSource supplies the set of terminal, not-yet-reported CallStates
// that should be persisted on the next sweep.
type SnapshotSource interface {
	Snapshot() []*callstate.CallState
}

// Store is the snapshot bridge. A nil db means the bridge is disabled and
// every method is a no-op.
type Store struct {
	db     *database.DB
	clock  clock.Clock
	logger *zap.Logger
}

// New constructs a Store. If cfg is nil or cfg.Enabled() is false, the
// returned Store has a nil db and behaves as a no-op — callers do not need
// to branch on whether the snapshot bridge is configured. The connection
// pool is built through internal/database so the snapshot bridge gets the
// same slow-query logging and transaction manager as any other durable
// component in this engine, rather than hand-rolling pool setup again.
func New(ctx context.Context, cfg *config.SnapshotConfig, c clock.Clock, logger *zap.Logger) (*Store, error) {
	if cfg == nil || !cfg.Enabled() {
		return &Store{clock: orRealClock(c), logger: logger}, nil
	}

	db, err := database.NewWithQueryLogger(ctx, cfg, database.DefaultQueryLoggerConfig(), logger)
	if err != nil {
		return nil, ivrerrors.Wrap(err, "snapshot.New", ivrerrors.CodeInternal, "failed to open snapshot database")
	}

	logger.Info("snapshot bridge enabled", zap.Int("max_connections", cfg.MaxConnections))

	return &Store{db: db, clock: orRealClock(c), logger: logger}, nil
}

func orRealClock(c clock.Clock) clock.Clock {
	if c == nil {
		return clock.New()
	}
	return c
}

// Enabled reports whether the bridge is backed by a real connection pool.
func (s *Store) Enabled() bool { return s != nil && s.db != nil }

// Close releases the connection pool, if any.
func (s *Store) Close() {
	if s.Enabled() {
		s.db.Close()
	}
}

// Ping satisfies handler.HealthChecker. A disabled bridge reports healthy.
func (s *Store) Ping(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	return s.db.Ping(ctx)
}

// QueryStats exposes the snapshot bridge's slow-query counters for
// diagnostics, proxying internal/database's QueryLogger.
func (s *Store) QueryStats() *database.QueryStats {
	if !s.Enabled() || s.db.QueryLogger == nil {
		return nil
	}
	return s.db.QueryLogger.Stats()
}

// EnsureSchema creates the call_snapshots table if it does not already
// exist. Safe to call repeatedly; a no-op when disabled.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	const ddl = `
		CREATE TABLE IF NOT EXISTS call_snapshots (
			call_sid    TEXT PRIMARY KEY,
			kind        TEXT NOT NULL,
			state       JSONB NOT NULL,
			reported    BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at  TIMESTAMPTZ NOT NULL
		)`
	if _, err := s.db.Pool.Exec(ctx, ddl); err != nil {
		return ivrerrors.DatabaseError("snapshot.EnsureSchema", err)
	}
	return nil
}

// Upsert persists one terminal CallState, replacing any prior snapshot for
// the same call_sid. Runs through the transaction manager so a future
// multi-statement write (e.g. upsert-and-delete-superseded-rows) can share
// the same atomic unit without re-plumbing a transaction here.
func (s *Store) Upsert(ctx context.Context, cs *callstate.CallState) error {
	if !s.Enabled() {
		return nil
	}
	body, err := json.Marshal(cs)
	if err != nil {
		return ivrerrors.Wrap(err, "snapshot.Upsert", ivrerrors.CodeInternal, "failed to marshal call state")
	}

	const query = `
		INSERT INTO call_snapshots (call_sid, kind, state, reported, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (call_sid) DO UPDATE SET
			state = EXCLUDED.state,
			reported = EXCLUDED.reported,
			updated_at = EXCLUDED.updated_at`

	err = s.db.TxManager.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query, cs.CallSid, string(cs.Kind), body, cs.Reported, s.clock.Now())
		return err
	})
	if err != nil {
		return ivrerrors.DatabaseError("snapshot.Upsert", err)
	}
	return nil
}

// SweepOnce persists every not-yet-reported terminal CallState the source
// currently holds. Intended to be called on a ticker from a background
// goroutine registered with the shutdown coordinator.
func (s *Store) SweepOnce(ctx context.Context, source SnapshotSource) {
	if !s.Enabled() {
		return
	}
	for _, cs := range source.Snapshot() {
		if err := s.Upsert(ctx, cs); err != nil {
			s.logger.Error("snapshot upsert failed", zap.String("call_sid", cs.CallSid), zap.Error(err))
		}
	}
}

// Run ticks SweepOnce every interval until ctx is canceled. Satisfies the
// loop shape expected by shutdown.ServiceFunc-style registration.
func (s *Store) Run(ctx context.Context, source SnapshotSource, interval time.Duration) error {
	if !s.Enabled() {
		<-ctx.Done()
		return nil
	}
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			s.SweepOnce(ctx, source)
		}
	}
}

// Replay loads every not-yet-reported row back into the Session Store and
// re-enqueues it with the Outcome Reporter. Intended to run once at
// startup, before the HTTP server begins accepting traffic. A no-op when
// disabled.
func (s *Store) Replay(ctx context.Context, store SessionStore, reporter ReportEnqueuer) error {
	if !s.Enabled() {
		return nil
	}

	const query = `SELECT call_sid, state FROM call_snapshots WHERE reported = FALSE`
	rows, err := s.db.Pool.Query(ctx, query)
	if err != nil {
		return ivrerrors.DatabaseError("snapshot.Replay", err)
	}
	defer rows.Close()

	var replayed int
	for rows.Next() {
		var callSid string
		var raw []byte
		if err := rows.Scan(&callSid, &raw); err != nil {
			return ivrerrors.DatabaseError("snapshot.Replay", err)
		}

		var cs callstate.CallState
		if err := json.Unmarshal(raw, &cs); err != nil {
			s.logger.Error("snapshot row failed to decode, skipping", zap.String("call_sid", callSid), zap.Error(err))
			continue
		}

		state := cs
		store.GetOrCreate(callSid, func() *callstate.CallState { return &state })
		reporter.Enqueue(callSid)
		replayed++
	}
	if err := rows.Err(); err != nil {
		return ivrerrors.DatabaseError("snapshot.Replay", err)
	}

	if replayed > 0 {
		s.logger.Info("replayed unreported call snapshots", zap.Int("count", replayed))
	}
	return nil
}

// Forget removes a call_sid's snapshot once it has been durably delivered,
// keeping the table bounded to in-flight retries only.
func (s *Store) Forget(ctx context.Context, callSid string) error {
	if !s.Enabled() {
		return nil
	}
	err := s.db.TxManager.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM call_snapshots WHERE call_sid = $1`, callSid)
		return err
	})
	if err != nil {
		return ivrerrors.DatabaseError("snapshot.Forget", err)
	}
	return nil
}

var errNotFound = errors.New("snapshot: not found")

// Get retrieves a single snapshot row, for tests and diagnostics.
func (s *Store) Get(ctx context.Context, callSid string) (*callstate.CallState, error) {
	if !s.Enabled() {
		return nil, errNotFound
	}
	var raw []byte
	err := s.db.Pool.QueryRow(ctx, `SELECT state FROM call_snapshots WHERE call_sid = $1`, callSid).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errNotFound
		}
		return nil, ivrerrors.DatabaseError("snapshot.Get", err)
	}
	var cs callstate.CallState
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, ivrerrors.Wrap(err, "snapshot.Get", ivrerrors.CodeInternal, "failed to unmarshal call state")
	}
	return &cs, nil
}

// Package bootstrap runs the once-per-process startup sequence: apply
// pending migrations, then seed default roles and permissions, before the
// authorization store serves its first read.
//
// The sequence is triggered lazily by the first inbound request. The
// trigger is a process-wide single-flight latch: concurrent first requests
// collapse into one attempt, and the triggering request is never blocked —
// the sequence runs as a detached background task while the request
// proceeds with best-effort authorization data. Failures are logged, never
// fatal; the latch resets so a later request retries.
package bootstrap

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/overlaykit/access-core/internal/authz"
	"github.com/overlaykit/access-core/internal/metrics"
	"github.com/overlaykit/access-core/internal/migrate"
)

// State is the sequencer's lifecycle state.
type State int32

// Sequencer states. Failed is transient: the latch resets to Uninitialized
// so a later request can re-attempt.
const (
	StateUninitialized State = iota
	StateMigrating
	StateSeeding
	StateReady
	StateFailed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateMigrating:
		return "migrating"
	case StateSeeding:
		return "seeding"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Sequencer coordinates the bootstrap state machine.
type Sequencer struct {
	runner     *migrate.Runner
	migrations []migrate.Migration
	store      *authz.Store
	roles      []authz.Role
	perms      []authz.Permission
	logger     *slog.Logger
	timeout    time.Duration

	state atomic.Int32
}

// New creates a Sequencer in the uninitialized state.
func New(runner *migrate.Runner, migrations []migrate.Migration, store *authz.Store, roles []authz.Role, perms []authz.Permission, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		runner:     runner,
		migrations: migrations,
		store:      store,
		roles:      roles,
		perms:      perms,
		logger:     logger,
		timeout:    2 * time.Minute,
	}
}

// State returns the current sequencer state.
func (s *Sequencer) State() State {
	return State(s.state.Load())
}

// Ready reports whether migrations and seeding have completed.
func (s *Sequencer) Ready() bool {
	return s.State() == StateReady
}

// Trigger starts the bootstrap sequence if it is not running and not done.
// It never blocks: the winner of the compare-and-swap spawns a detached
// background task and every caller returns immediately. A previous failure
// leaves the latch in the failed state, from which Trigger re-attempts.
// Safe to call on every request.
func (s *Sequencer) Trigger() {
	if s.claim() {
		go s.run()
	}
}

// Run executes the sequence synchronously. Used at process start when
// eager bootstrap is preferred over lazy; requests arriving during the run
// still observe the latch.
func (s *Sequencer) Run(ctx context.Context) error {
	if !s.claim() {
		return nil
	}
	return s.sequence(ctx)
}

// claim moves the latch to migrating if the sequence is eligible to start.
func (s *Sequencer) claim() bool {
	return s.state.CompareAndSwap(int32(StateUninitialized), int32(StateMigrating)) ||
		s.state.CompareAndSwap(int32(StateFailed), int32(StateMigrating))
}

func (s *Sequencer) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_ = s.sequence(ctx) // already logged; lazy retry via latch reset
}

func (s *Sequencer) sequence(ctx context.Context) error {
	report, err := s.runner.RunPending(ctx, s.migrations)
	if err != nil {
		s.logger.Error("bootstrap migration batch failed",
			"failed", report.Failed, "ran", report.Ran, "skipped", report.Skipped, "error", err)
		s.fail()
		return err
	}
	if len(report.Ran) > 0 {
		s.logger.Info("migrations applied", "ran", report.Ran, "skipped", report.Skipped)
		for range report.Ran {
			metrics.RecordMigrationApplied()
		}
	}

	s.state.Store(int32(StateSeeding))
	if err := s.store.Seed(ctx, s.roles, s.perms); err != nil {
		s.logger.Error("bootstrap seeding failed", "error", err)
		s.fail()
		return err
	}

	s.state.Store(int32(StateReady))
	s.logger.Info("bootstrap complete")
	return nil
}

// fail parks the latch in the failed state; the next Trigger re-attempts.
func (s *Sequencer) fail() {
	s.state.Store(int32(StateFailed))
}

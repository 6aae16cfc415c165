package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/overlaykit/access-core/internal/kv"
	"github.com/overlaykit/access-core/internal/testutil/memstore"
)

// putMigration returns a migration that writes marker=value and reverts by
// deleting it.
func putMigration(name, key, value string) Migration {
	return Migration{
		Name: name,
		Apply: func(ctx context.Context, store kv.Store) (json.RawMessage, error) {
			if err := store.Put(ctx, key, []byte(value), 0); err != nil {
				return nil, err
			}
			return json.RawMessage(`{"ok":true}`), nil
		},
		Revert: func(ctx context.Context, store kv.Store) error {
			return store.Delete(ctx, key)
		},
	}
}

// TestRunPendingIdempotent verifies a second run applies nothing: the
// first run's tracking records make every migration a skip.
func TestRunPendingIdempotent(t *testing.T) {
	t.Parallel()
	store := memstore.New()
	runner := NewRunner(store, "svc")
	ctx := context.Background()
	applies := 0
	migrations := []Migration{
		{
			Name: "0001-init",
			Apply: func(ctx context.Context, s kv.Store) (json.RawMessage, error) {
				applies++
				return nil, s.Put(ctx, "svc:marker", []byte("1"), 0)
			},
		},
	}

	report, err := runner.RunPending(ctx, migrations)
	if err != nil {
		t.Fatalf("first RunPending: %v", err)
	}
	if len(report.Ran) != 1 || report.Ran[0] != "0001-init" {
		t.Fatalf("first run: want ran=[0001-init], got %v", report.Ran)
	}

	report, err = runner.RunPending(ctx, migrations)
	if err != nil {
		t.Fatalf("second RunPending: %v", err)
	}
	if len(report.Ran) != 0 || len(report.Skipped) != 1 {
		t.Fatalf("second run: want all skipped, got ran=%v skipped=%v", report.Ran, report.Skipped)
	}
	if applies != 1 {
		t.Fatalf("Apply invoked %d times, want 1", applies)
	}
}

// TestRunPendingStopsOnFailure verifies order and stop-on-first-failure:
// migrations after a failed one are never attempted, and the failed one
// leaves no tracking record.
func TestRunPendingStopsOnFailure(t *testing.T) {
	t.Parallel()
	store := memstore.New()
	runner := NewRunner(store, "svc")
	ctx := context.Background()
	thirdRan := false
	migrations := []Migration{
		putMigration("0001-a", "svc:a", "1"),
		{
			Name: "0002-broken",
			Apply: func(ctx context.Context, s kv.Store) (json.RawMessage, error) {
				return nil, errors.New("apply exploded")
			},
		},
		{
			Name: "0003-c",
			Apply: func(ctx context.Context, s kv.Store) (json.RawMessage, error) {
				thirdRan = true
				return nil, nil
			},
		},
	}

	report, err := runner.RunPending(ctx, migrations)
	if err == nil {
		t.Fatal("RunPending: want error")
	}
	if report.Failed != "0002-broken" {
		t.Fatalf("report.Failed: want 0002-broken, got %q", report.Failed)
	}
	if len(report.Ran) != 1 || report.Ran[0] != "0001-a" {
		t.Fatalf("report.Ran: want [0001-a], got %v", report.Ran)
	}
	if thirdRan {
		t.Fatal("migration after failure was attempted")
	}

	// The failed migration has no tracking record and reruns next batch.
	applied, err := runner.IsRun(ctx, "0002-broken")
	if err != nil {
		t.Fatalf("IsRun: %v", err)
	}
	if applied {
		t.Fatal("failed migration was recorded as applied")
	}
	applied, err = runner.IsRun(ctx, "0001-a")
	if err != nil {
		t.Fatalf("IsRun: %v", err)
	}
	if !applied {
		t.Fatal("successful migration lost its tracking record")
	}
}

// TestRollbackAndRerun verifies rollback undoes the change, clears the
// tracking record, and makes the migration eligible to run again.
func TestRollbackAndRerun(t *testing.T) {
	t.Parallel()
	store := memstore.New()
	runner := NewRunner(store, "svc")
	ctx := context.Background()
	m := putMigration("0001-init", "svc:marker", "1")

	if _, err := runner.RunPending(ctx, []Migration{m}); err != nil {
		t.Fatalf("RunPending: %v", err)
	}

	if err := runner.Rollback(ctx, m); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if _, err := store.Get(ctx, "svc:marker"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("marker after rollback: want ErrNotFound, got %v", err)
	}
	applied, err := runner.IsRun(ctx, "0001-init")
	if err != nil {
		t.Fatalf("IsRun: %v", err)
	}
	if applied {
		t.Fatal("rolled-back migration still tracked as applied")
	}

	report, err := runner.RunPending(ctx, []Migration{m})
	if err != nil {
		t.Fatalf("RunPending after rollback: %v", err)
	}
	if len(report.Ran) != 1 {
		t.Fatalf("rerun after rollback: want ran=1, got %v", report.Ran)
	}
	if _, err := store.Get(ctx, "svc:marker"); err != nil {
		t.Fatalf("marker after rerun: %v", err)
	}
}

// TestRollbackNotRevertible verifies migrations without a Revert fail with
// ErrNotRevertible and keep their tracking record.
func TestRollbackNotRevertible(t *testing.T) {
	t.Parallel()
	store := memstore.New()
	runner := NewRunner(store, "svc")
	ctx := context.Background()
	m := Migration{
		Name: "0001-one-way",
		Apply: func(ctx context.Context, s kv.Store) (json.RawMessage, error) {
			return nil, nil
		},
	}

	if _, err := runner.RunPending(ctx, []Migration{m}); err != nil {
		t.Fatalf("RunPending: %v", err)
	}

	if err := runner.Rollback(ctx, m); !errors.Is(err, ErrNotRevertible) {
		t.Fatalf("Rollback: want ErrNotRevertible, got %v", err)
	}
	applied, err := runner.IsRun(ctx, "0001-one-way")
	if err != nil {
		t.Fatalf("IsRun: %v", err)
	}
	if !applied {
		t.Fatal("failed rollback removed the tracking record")
	}
}

// TestRollbackNotApplied verifies rolling back a never-applied migration
// is a no-op.
func TestRollbackNotApplied(t *testing.T) {
	t.Parallel()
	store := memstore.New()
	runner := NewRunner(store, "svc")
	reverted := false
	m := Migration{
		Name: "0001-never-ran",
		Apply: func(ctx context.Context, s kv.Store) (json.RawMessage, error) {
			return nil, nil
		},
		Revert: func(ctx context.Context, s kv.Store) error {
			reverted = true
			return nil
		},
	}

	if err := runner.Rollback(context.Background(), m); err != nil {
		t.Fatalf("Rollback of unapplied migration: %v", err)
	}
	if reverted {
		t.Fatal("Revert invoked for a migration that never ran")
	}
}

// TestPrefixIsolation verifies runners with different prefixes over the
// same store never see each other's tracking state.
func TestPrefixIsolation(t *testing.T) {
	t.Parallel()
	store := memstore.New()
	ctx := context.Background()
	m := Migration{
		Name: "0001-shared-name",
		Apply: func(ctx context.Context, s kv.Store) (json.RawMessage, error) {
			return nil, nil
		},
	}

	if _, err := NewRunner(store, "svc-a").RunPending(ctx, []Migration{m}); err != nil {
		t.Fatalf("RunPending (svc-a): %v", err)
	}

	report, err := NewRunner(store, "svc-b").RunPending(ctx, []Migration{m})
	if err != nil {
		t.Fatalf("RunPending (svc-b): %v", err)
	}
	if len(report.Ran) != 1 {
		t.Fatalf("svc-b saw svc-a's tracking state: report=%+v", report)
	}
}

// TestStatus verifies the observability report distinguishes applied from
// pending migrations.
func TestStatus(t *testing.T) {
	t.Parallel()
	store := memstore.New()
	runner := NewRunner(store, "svc")
	ctx := context.Background()
	applied := putMigration("0001-applied", "svc:a", "1")
	pending := putMigration("0002-pending", "svc:b", "1")

	if _, err := runner.RunPending(ctx, []Migration{applied}); err != nil {
		t.Fatalf("RunPending: %v", err)
	}

	statuses, err := runner.Status(ctx, []Migration{applied, pending})
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("Status: want 2 entries, got %d", len(statuses))
	}
	if !statuses[0].Applied || statuses[0].AppliedAt.IsZero() {
		t.Fatalf("applied migration status: %+v", statuses[0])
	}
	if statuses[1].Applied {
		t.Fatalf("pending migration reported applied: %+v", statuses[1])
	}
}

// TestRunPendingEmpty verifies an empty migration list is a successful
// no-op.
func TestRunPendingEmpty(t *testing.T) {
	t.Parallel()
	runner := NewRunner(memstore.New(), "svc")

	report, err := runner.RunPending(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunPending: %v", err)
	}
	if len(report.Ran) != 0 || len(report.Skipped) != 0 || report.Failed != "" {
		t.Fatalf("empty run: unexpected report %+v", report)
	}
}

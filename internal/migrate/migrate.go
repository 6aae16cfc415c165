// Package migrate applies ordered, named schema-change units against the
// key-value store exactly once each, tracking applied state as store entries.
//
// Tracking records live under "{prefix}:migration:{name}", so two runners
// constructed with different service prefixes over the same physical store
// never observe each other's state, even when migration names collide.
package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/overlaykit/access-core/internal/kv"
)

// Migration is a single named schema-change unit. Apply performs the change
// and returns an opaque result payload recorded alongside the tracking
// entry. Revert undoes the change; migrations without a Revert cannot be
// rolled back.
type Migration struct {
	Name   string
	Apply  func(ctx context.Context, store kv.Store) (json.RawMessage, error)
	Revert func(ctx context.Context, store kv.Store) error
}

// Record is the persisted tracking entry for an applied migration.
type Record struct {
	AppliedAt time.Time       `json:"applied_at"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// Status describes one migration's applied state, for observability.
type Status struct {
	Name      string    `json:"name"`
	Applied   bool      `json:"applied"`
	AppliedAt time.Time `json:"applied_at,omitzero"`
}

// Report summarizes one RunPending invocation.
type Report struct {
	Ran     []string `json:"ran"`
	Skipped []string `json:"skipped"`
	Failed  string   `json:"failed,omitempty"`
}

// ErrNotRevertible is returned by Rollback for migrations without a Revert
// step. This is an operator error, never silently ignored.
var ErrNotRevertible = errors.New("migrate: migration is not revertible")

// Runner applies migrations against a store under a service prefix.
type Runner struct {
	store  kv.Store
	prefix string
	now    func() time.Time
}

// NewRunner creates a Runner. All tracking keys are namespaced by prefix.
func NewRunner(store kv.Store, prefix string) *Runner {
	return &Runner{store: store, prefix: prefix, now: time.Now}
}

// RunPending applies every migration not yet recorded, in list order,
// stopping on the first failure without attempting subsequent migrations.
// The returned Report always reflects what actually happened, including on
// error.
func (r *Runner) RunPending(ctx context.Context, migrations []Migration) (Report, error) {
	report := Report{Ran: []string{}, Skipped: []string{}}

	for _, m := range migrations {
		applied, err := r.IsRun(ctx, m.Name)
		if err != nil {
			report.Failed = m.Name
			return report, fmt.Errorf("migrate: check %q: %w", m.Name, err)
		}
		if applied {
			report.Skipped = append(report.Skipped, m.Name)
			continue
		}

		result, err := m.Apply(ctx, r.store)
		if err != nil {
			report.Failed = m.Name
			return report, fmt.Errorf("migrate: apply %q: %w", m.Name, err)
		}

		record, err := json.Marshal(Record{AppliedAt: r.now().UTC(), Result: result})
		if err != nil {
			report.Failed = m.Name
			return report, fmt.Errorf("migrate: encode record for %q: %w", m.Name, err)
		}

		// Conditional put: a concurrent runner that won the race counts as
		// the applier and this invocation records a skip.
		created, err := r.store.PutIfAbsent(ctx, r.trackingKey(m.Name), record, 0)
		if err != nil {
			report.Failed = m.Name
			return report, fmt.Errorf("migrate: record %q: %w", m.Name, err)
		}
		if !created {
			report.Skipped = append(report.Skipped, m.Name)
			continue
		}
		report.Ran = append(report.Ran, m.Name)
	}
	return report, nil
}

// IsRun reports whether the named migration has an applied tracking record.
func (r *Runner) IsRun(ctx context.Context, name string) (bool, error) {
	_, err := r.store.Get(ctx, r.trackingKey(name))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Status returns the applied state of every migration in the list. This is
// for observability only and never drives control flow.
func (r *Runner) Status(ctx context.Context, migrations []Migration) ([]Status, error) {
	statuses := make([]Status, 0, len(migrations))
	for _, m := range migrations {
		raw, err := r.store.Get(ctx, r.trackingKey(m.Name))
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				statuses = append(statuses, Status{Name: m.Name})
				continue
			}
			return nil, fmt.Errorf("migrate: status %q: %w", m.Name, err)
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("migrate: decode record for %q: %w", m.Name, err)
		}
		statuses = append(statuses, Status{Name: m.Name, Applied: true, AppliedAt: rec.AppliedAt})
	}
	return statuses, nil
}

// Rollback reverts the named migration and removes its tracking record,
// making it eligible to run again. Rolling back a migration that was never
// applied is a no-op. Migrations without a Revert step fail with
// ErrNotRevertible and tracking state is left untouched.
func (r *Runner) Rollback(ctx context.Context, m Migration) error {
	if m.Revert == nil {
		return fmt.Errorf("%w: %q", ErrNotRevertible, m.Name)
	}

	applied, err := r.IsRun(ctx, m.Name)
	if err != nil {
		return fmt.Errorf("migrate: check %q: %w", m.Name, err)
	}
	if !applied {
		return nil
	}

	if err := m.Revert(ctx, r.store); err != nil {
		return fmt.Errorf("migrate: revert %q: %w", m.Name, err)
	}
	if err := r.store.Delete(ctx, r.trackingKey(m.Name)); err != nil {
		return fmt.Errorf("migrate: untrack %q: %w", m.Name, err)
	}
	return nil
}

func (r *Runner) trackingKey(name string) string {
	return r.prefix + ":migration:" + name
}

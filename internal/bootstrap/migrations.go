package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/overlaykit/access-core/internal/kv"
	"github.com/overlaykit/access-core/internal/migrate"
)

// Migrations returns the ordered migration list for the access-control
// core. Order is declaration order; later migrations may depend on earlier
// ones' side effects, so the runner never parallelizes them.
func Migrations(prefix string) []migrate.Migration {
	return []migrate.Migration{
		{
			Name: "0001-schema-version",
			Apply: func(ctx context.Context, store kv.Store) (json.RawMessage, error) {
				if err := store.Put(ctx, prefix+":schema-version", []byte("1"), 0); err != nil {
					return nil, err
				}
				return json.RawMessage(`{"schema_version":1}`), nil
			},
			Revert: func(ctx context.Context, store kv.Store) error {
				return store.Delete(ctx, prefix+":schema-version")
			},
		},
		{
			// Early deployments persisted assignments without an audit
			// trail. Backfill an empty trail so readers never see null.
			// Not revertible: dropping audit history is destructive.
			Name: "0002-assignment-audit-backfill",
			Apply: func(ctx context.Context, store kv.Store) (json.RawMessage, error) {
				keys, err := store.List(ctx, prefix+":principal:")
				if err != nil {
					return nil, err
				}
				patched := 0
				for _, key := range keys {
					raw, err := store.Get(ctx, key)
					if err != nil {
						continue // expired between List and Get
					}
					var record map[string]json.RawMessage
					if err := json.Unmarshal(raw, &record); err != nil {
						return nil, fmt.Errorf("decode %q: %w", key, err)
					}
					if audit, ok := record["audit"]; ok && string(audit) != "null" {
						continue
					}
					record["audit"] = json.RawMessage("[]")
					updated, err := json.Marshal(record)
					if err != nil {
						return nil, fmt.Errorf("encode %q: %w", key, err)
					}
					// Conditional write: skip records changed underneath us.
					if _, err := store.CompareAndSwap(ctx, key, raw, updated, 0); err != nil {
						return nil, err
					}
					patched++
				}
				result, _ := json.Marshal(map[string]int{"patched": patched})
				return result, nil
			},
		},
	}
}

package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/overlaykit/access-core/internal/kv"
)

// casRetries bounds the read-modify-swap loop on assignment updates.
const casRetries = 4

// Config carries the deployment policy the store enforces.
type Config struct {
	// Prefix namespaces every key this store writes, isolating services
	// that share one physical store.
	Prefix string

	// DefaultRole is granted to newly provisioned principals.
	DefaultRole string

	// AdminRole is granted instead of DefaultRole to principals on the
	// administrator allow-list.
	AdminRole string

	// AdminPrincipals is the administrator allow-list.
	AdminPrincipals []string

	// QuotaDefaults maps quota class names to their global default limits.
	QuotaDefaults map[string]int64

	// QuotaWindow is how long usage counters live before the store's TTL
	// mechanism expires them.
	QuotaWindow time.Duration
}

// Store answers permission and quota questions against the key-value store.
// It holds no cross-request cache: stale role data is a security liability,
// so every check is a fresh read.
type Store struct {
	kv  kv.Store
	cfg Config
	now func() time.Time
}

// NewStore creates a Store over the given key-value backend.
func NewStore(backend kv.Store, cfg Config) *Store {
	if cfg.QuotaWindow <= 0 {
		cfg.QuotaWindow = 24 * time.Hour
	}
	return &Store{kv: backend, cfg: cfg, now: time.Now}
}

// key builders; all persisted state hangs off the service prefix.

func (s *Store) roleKey(name string) string      { return s.cfg.Prefix + ":role:" + name }
func (s *Store) permKey(name string) string      { return s.cfg.Prefix + ":perm:" + name }
func (s *Store) principalKey(id string) string   { return s.cfg.Prefix + ":principal:" + id }
func (s *Store) quotaKey(class, id string) string {
	return s.cfg.Prefix + ":quota:" + class + ":" + id
}

// PutRole creates or replaces a role definition.
func (s *Store) PutRole(ctx context.Context, role Role) error {
	raw, err := json.Marshal(role)
	if err != nil {
		return fmt.Errorf("authz: encode role %q: %w", role.Name, err)
	}
	return s.kv.Put(ctx, s.roleKey(role.Name), raw, 0)
}

// GetRole returns the named role definition, or ErrNotFound.
func (s *Store) GetRole(ctx context.Context, name string) (*Role, error) {
	raw, err := s.kv.Get(ctx, s.roleKey(name))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("%w: role %q", ErrNotFound, name)
		}
		return nil, err
	}
	var role Role
	if err := json.Unmarshal(raw, &role); err != nil {
		return nil, fmt.Errorf("authz: decode role %q: %w", name, err)
	}
	return &role, nil
}

// DeleteRole removes a role definition. Assignments referencing the role
// are left in place; a missing role simply grants nothing.
func (s *Store) DeleteRole(ctx context.Context, name string) error {
	return s.kv.Delete(ctx, s.roleKey(name))
}

// ListRoles returns all role definitions, sorted by name.
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	keys, err := s.kv.List(ctx, s.cfg.Prefix+":role:")
	if err != nil {
		return nil, err
	}
	roles := make([]Role, 0, len(keys))
	for _, k := range keys {
		raw, err := s.kv.Get(ctx, k)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue // listed key expired between List and Get
			}
			return nil, err
		}
		var role Role
		if err := json.Unmarshal(raw, &role); err != nil {
			return nil, fmt.Errorf("authz: decode role at %q: %w", k, err)
		}
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

// PutPermission creates or replaces a permission definition.
func (s *Store) PutPermission(ctx context.Context, perm Permission) error {
	raw, err := json.Marshal(perm)
	if err != nil {
		return fmt.Errorf("authz: encode permission %q: %w", perm.Name, err)
	}
	return s.kv.Put(ctx, s.permKey(perm.Name), raw, 0)
}

// GetPermission returns the named permission definition, or ErrNotFound.
func (s *Store) GetPermission(ctx context.Context, name string) (*Permission, error) {
	raw, err := s.kv.Get(ctx, s.permKey(name))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("%w: permission %q", ErrNotFound, name)
		}
		return nil, err
	}
	var perm Permission
	if err := json.Unmarshal(raw, &perm); err != nil {
		return nil, fmt.Errorf("authz: decode permission %q: %w", name, err)
	}
	return &perm, nil
}

// DeletePermission removes a permission definition.
func (s *Store) DeletePermission(ctx context.Context, name string) error {
	return s.kv.Delete(ctx, s.permKey(name))
}

// ListPermissions returns all permission definitions, sorted by name.
func (s *Store) ListPermissions(ctx context.Context) ([]Permission, error) {
	keys, err := s.kv.List(ctx, s.cfg.Prefix+":perm:")
	if err != nil {
		return nil, err
	}
	perms := make([]Permission, 0, len(keys))
	for _, k := range keys {
		raw, err := s.kv.Get(ctx, k)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return nil, err
		}
		var perm Permission
		if err := json.Unmarshal(raw, &perm); err != nil {
			return nil, fmt.Errorf("authz: decode permission at %q: %w", k, err)
		}
		perms = append(perms, perm)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
	return perms, nil
}

// GetAssignment returns the principal's assignment. A principal with no
// stored assignment gets an empty one: no roles, no permissions, no error.
func (s *Store) GetAssignment(ctx context.Context, principal string) (*Assignment, error) {
	a, _, err := s.getAssignmentRaw(ctx, principal)
	return a, err
}

func (s *Store) getAssignmentRaw(ctx context.Context, principal string) (*Assignment, []byte, error) {
	raw, err := s.kv.Get(ctx, s.principalKey(principal))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return &Assignment{Principal: principal, Roles: []string{}}, nil, nil
		}
		return nil, nil, err
	}
	var a Assignment
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, nil, fmt.Errorf("authz: decode assignment for %q: %w", principal, err)
	}
	return &a, raw, nil
}

// ResolvePermissions unions the permission sets of the principal's roles.
// Roles that no longer exist contribute nothing.
func (s *Store) ResolvePermissions(ctx context.Context, principal string) ([]string, error) {
	a, err := s.GetAssignment(ctx, principal)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var perms []string
	for _, roleName := range a.Roles {
		role, err := s.GetRole(ctx, roleName)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		for _, p := range role.Permissions {
			if !seen[p] {
				seen[p] = true
				perms = append(perms, p)
			}
		}
	}
	sort.Strings(perms)
	return perms, nil
}

// HasPermission reports whether any of the principal's roles grants the
// permission. Absence of an assignment yields false, never an error.
func (s *Store) HasPermission(ctx context.Context, principal, permission string) (bool, error) {
	perms, err := s.ResolvePermissions(ctx, principal)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p == permission {
			return true, nil
		}
	}
	return false, nil
}

// CheckQuota reports whether requesting amount more units of the class fits
// the principal's remaining allowance. Per-principal overrides beat the
// global default limit. It does not consume; callers invoke ConsumeQuota
// after the gated action succeeds.
func (s *Store) CheckQuota(ctx context.Context, principal, class string, amount int64) (QuotaStatus, error) {
	limit, ok, err := s.quotaLimit(ctx, principal, class)
	if err != nil {
		return QuotaStatus{}, err
	}
	if !ok {
		return QuotaStatus{}, fmt.Errorf("%w: %q", ErrUnknownQuotaClass, class)
	}

	used, err := s.quotaUsage(ctx, principal, class)
	if err != nil {
		return QuotaStatus{}, err
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return QuotaStatus{Class: class, Limit: limit, Used: used, Remaining: remaining}, nil
}

// ConsumeQuota records amount units of usage against the class. The counter
// is read-then-written; last writer wins. This system needs approximate,
// not exact, quota enforcement, and the counter expires naturally via TTL.
func (s *Store) ConsumeQuota(ctx context.Context, principal, class string, amount int64) error {
	used, err := s.quotaUsage(ctx, principal, class)
	if err != nil {
		return err
	}
	value := strconv.FormatInt(used+amount, 10)
	return s.kv.Put(ctx, s.quotaKey(class, principal), []byte(value), s.cfg.QuotaWindow)
}

// QuotaReport returns the principal's standing for every known quota class:
// configured defaults plus any per-principal overrides.
func (s *Store) QuotaReport(ctx context.Context, principal string) ([]QuotaStatus, error) {
	a, err := s.GetAssignment(ctx, principal)
	if err != nil {
		return nil, err
	}
	classes := map[string]bool{}
	for class := range s.cfg.QuotaDefaults {
		classes[class] = true
	}
	for class := range a.QuotaOverrides {
		classes[class] = true
	}
	report := make([]QuotaStatus, 0, len(classes))
	for class := range classes {
		status, err := s.CheckQuota(ctx, principal, class, 0)
		if err != nil {
			return nil, err
		}
		report = append(report, status)
	}
	sort.Slice(report, func(i, j int) bool { return report[i].Class < report[j].Class })
	return report, nil
}

func (s *Store) quotaLimit(ctx context.Context, principal, class string) (int64, bool, error) {
	a, err := s.GetAssignment(ctx, principal)
	if err != nil {
		return 0, false, err
	}
	if limit, ok := a.QuotaOverrides[class]; ok {
		return limit, true, nil
	}
	limit, ok := s.cfg.QuotaDefaults[class]
	return limit, ok, nil
}

func (s *Store) quotaUsage(ctx context.Context, principal, class string) (int64, error) {
	raw, err := s.kv.Get(ctx, s.quotaKey(class, principal))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	used, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("authz: corrupt quota counter for %q/%q: %w", principal, class, err)
	}
	return used, nil
}

// EnsurePrincipal auto-provisions an assignment on a principal's first
// authenticated access. Allow-listed administrators get the admin role,
// everyone else the default role. The create is a conditional put, so
// concurrent first logins collapse to a single record.
func (s *Store) EnsurePrincipal(ctx context.Context, principal string) (*Assignment, error) {
	existing, raw, err := s.getAssignmentRaw(ctx, principal)
	if err != nil {
		return nil, err
	}
	if raw != nil {
		return existing, nil
	}

	role := s.cfg.DefaultRole
	if s.isAdminPrincipal(principal) {
		role = s.cfg.AdminRole
	}
	now := s.now().UTC()
	fresh := Assignment{
		Principal: principal,
		Roles:     []string{role},
		Audit: []AuditEntry{{
			Actor:     "system",
			Action:    AuditActionProvision,
			Role:      role,
			PrevRoles: []string{},
			NewRoles:  []string{role},
			At:        now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	encoded, err := json.Marshal(fresh)
	if err != nil {
		return nil, fmt.Errorf("authz: encode assignment for %q: %w", principal, err)
	}
	created, err := s.kv.PutIfAbsent(ctx, s.principalKey(principal), encoded, 0)
	if err != nil {
		return nil, err
	}
	if !created {
		// Lost the race against a concurrent first login; read the winner.
		return s.GetAssignment(ctx, principal)
	}
	return &fresh, nil
}

// AssignRole adds a role to the principal's assignment and appends an audit
// entry, as one conditional write. Assigning an already-held role is a
// no-op.
func (s *Store) AssignRole(ctx context.Context, principal, role, actor string) (*Assignment, error) {
	return s.updateAssignment(ctx, principal, func(a *Assignment) bool {
		if a.HasRole(role) {
			return false
		}
		prev := append([]string(nil), a.Roles...)
		a.Roles = append(a.Roles, role)
		a.Audit = append(a.Audit, AuditEntry{
			Actor:     actor,
			Action:    AuditActionAssignRole,
			Role:      role,
			PrevRoles: prev,
			NewRoles:  append([]string(nil), a.Roles...),
			At:        s.now().UTC(),
		})
		return true
	})
}

// RevokeRole removes a role from the principal's assignment and appends an
// audit entry. Revoking a role the principal does not hold is a no-op. The
// assignment record itself is never deleted; history stays.
func (s *Store) RevokeRole(ctx context.Context, principal, role, actor string) (*Assignment, error) {
	return s.updateAssignment(ctx, principal, func(a *Assignment) bool {
		if !a.HasRole(role) {
			return false
		}
		prev := append([]string(nil), a.Roles...)
		kept := a.Roles[:0]
		for _, r := range a.Roles {
			if r != role {
				kept = append(kept, r)
			}
		}
		a.Roles = kept
		a.Audit = append(a.Audit, AuditEntry{
			Actor:     actor,
			Action:    AuditActionRevokeRole,
			Role:      role,
			PrevRoles: prev,
			NewRoles:  append([]string(nil), a.Roles...),
			At:        s.now().UTC(),
		})
		return true
	})
}

// AuditLog returns the principal's assignment history, oldest first.
func (s *Store) AuditLog(ctx context.Context, principal string) ([]AuditEntry, error) {
	a, err := s.GetAssignment(ctx, principal)
	if err != nil {
		return nil, err
	}
	if a.Audit == nil {
		return []AuditEntry{}, nil
	}
	return a.Audit, nil
}

// updateAssignment runs mutate against the current assignment and swaps the
// result in conditionally, retrying on concurrent-writer conflicts. A
// mutate returning false means nothing changed and no write is issued.
func (s *Store) updateAssignment(ctx context.Context, principal string, mutate func(*Assignment) bool) (*Assignment, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		a, raw, err := s.getAssignmentRaw(ctx, principal)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			now := s.now().UTC()
			a.CreatedAt = now
		}
		if !mutate(a) {
			return a, nil
		}
		a.UpdatedAt = s.now().UTC()

		encoded, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("authz: encode assignment for %q: %w", principal, err)
		}
		swapped, err := s.kv.CompareAndSwap(ctx, s.principalKey(principal), raw, encoded, 0)
		if err != nil {
			return nil, err
		}
		if swapped {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: principal %q", ErrConflict, principal)
}

func (s *Store) isAdminPrincipal(principal string) bool {
	for _, p := range s.cfg.AdminPrincipals {
		if strings.EqualFold(p, principal) {
			return true
		}
	}
	return false
}

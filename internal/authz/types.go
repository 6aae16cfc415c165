// Package authz persists role definitions, permission definitions,
// per-principal role assignments, and per-principal quota counters, and
// answers permission and quota checks for every other component.
package authz

import "time"

// Role is a named bundle of permissions within a service namespace.
// Read-heavy, write-rare; mutated only by administrative operations.
type Role struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
}

// Permission is a named capability, optionally gated by a quota class.
type Permission struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	QuotaClass  string `json:"quota_class,omitempty"`
}

// Assignment binds a principal to a set of roles. Assignments are never
// hard-deleted; every change appends to the audit trail.
type Assignment struct {
	Principal      string           `json:"principal"`
	Roles          []string         `json:"roles"`
	QuotaOverrides map[string]int64 `json:"quota_overrides,omitempty"`
	Audit          []AuditEntry     `json:"audit"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// HasRole reports whether the assignment includes the named role.
func (a *Assignment) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuditEntry records one assignment change: who did it, what changed, and
// the before/after role sets.
type AuditEntry struct {
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Role      string    `json:"role,omitempty"`
	PrevRoles []string  `json:"prev_roles"`
	NewRoles  []string  `json:"new_roles"`
	At        time.Time `json:"at"`
}

// Audit actions.
const (
	AuditActionProvision  = "provision"
	AuditActionAssignRole = "assign_role"
	AuditActionRevokeRole = "revoke_role"
)

// QuotaStatus reports a principal's standing for one quota class.
type QuotaStatus struct {
	Class     string `json:"class"`
	Limit     int64  `json:"limit"`
	Used      int64  `json:"used"`
	Remaining int64  `json:"remaining"`
}

// Allows reports whether amount more units fit the remaining allowance.
func (q QuotaStatus) Allows(amount int64) bool {
	return amount <= q.Remaining
}

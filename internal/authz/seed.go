package authz

import (
	"context"
	"encoding/json"
	"fmt"
)

// DefaultPermissions returns the permission definitions every deployment
// starts with.
func DefaultPermissions() []Permission {
	return []Permission{
		{Name: "access.read", Description: "Read principals, roles, and audit logs"},
		{Name: "access.check", Description: "Run permission and quota checks"},
		{Name: "access.admin", Description: "Mutate roles, permissions, and assignments"},
		{Name: "chat.send", Description: "Publish chat messages"},
		{Name: "chat.moderate", Description: "Remove messages and time out senders"},
		{Name: "overlay.publish", Description: "Push overlay scene updates"},
		{Name: "overlay.upload", Description: "Upload overlay assets", QuotaClass: "uploads"},
		{Name: "mods.install", Description: "Install overlay mods", QuotaClass: "mod-installs"},
	}
}

// DefaultRoles returns the role definitions every deployment starts with.
// defaultRole is the baseline granted to newly provisioned principals;
// adminRole is granted to allow-listed administrators.
func DefaultRoles(defaultRole, adminRole string) []Role {
	return []Role{
		{
			Name:        defaultRole,
			Description: "Baseline role for newly provisioned principals",
			Permissions: []string{"access.check", "chat.send", "overlay.upload"},
		},
		{
			Name:        "moderator",
			Description: "Chat moderation",
			Permissions: []string{"access.check", "access.read", "chat.send", "chat.moderate"},
		},
		{
			Name:        adminRole,
			Description: "Full administrative access",
			Permissions: []string{
				"access.read", "access.check", "access.admin",
				"chat.send", "chat.moderate",
				"overlay.publish", "overlay.upload", "mods.install",
			},
		},
	}
}

// Seed writes the default role and permission definitions once per
// deployment, guarded by a seed marker key. Individual definitions are
// written conditionally so a re-seed never clobbers administrative edits.
// Seeding again after the marker exists is a no-op.
func (s *Store) Seed(ctx context.Context, roles []Role, perms []Permission) error {
	markerKey := s.cfg.Prefix + ":seeded"
	if _, err := s.kv.Get(ctx, markerKey); err == nil {
		return nil
	}

	for _, perm := range perms {
		raw, err := json.Marshal(perm)
		if err != nil {
			return fmt.Errorf("authz: encode seed permission %q: %w", perm.Name, err)
		}
		if _, err := s.kv.PutIfAbsent(ctx, s.permKey(perm.Name), raw, 0); err != nil {
			return fmt.Errorf("authz: seed permission %q: %w", perm.Name, err)
		}
	}
	for _, role := range roles {
		raw, err := json.Marshal(role)
		if err != nil {
			return fmt.Errorf("authz: encode seed role %q: %w", role.Name, err)
		}
		if _, err := s.kv.PutIfAbsent(ctx, s.roleKey(role.Name), raw, 0); err != nil {
			return fmt.Errorf("authz: seed role %q: %w", role.Name, err)
		}
	}

	if _, err := s.kv.PutIfAbsent(ctx, markerKey, []byte("true"), 0); err != nil {
		return fmt.Errorf("authz: write seed marker: %w", err)
	}
	return nil
}

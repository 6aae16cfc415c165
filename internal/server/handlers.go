// Package server wires the access-control HTTP surface: principal reads,
// permission and quota checks, administrative mutations, and health.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/overlaykit/access-core/internal/auth"
	"github.com/overlaykit/access-core/internal/authz"
	"github.com/overlaykit/access-core/internal/bootstrap"
	"github.com/overlaykit/access-core/internal/migrate"
	"github.com/overlaykit/access-core/internal/ratelimit"
)

// Handler carries the dependencies for all routes.
type Handler struct {
	authz      *authz.Store
	authn      *auth.Authenticator
	keys       *auth.KeyStore
	limiter    *ratelimit.Limiter
	sequencer  *bootstrap.Sequencer
	runner     *migrate.Runner
	migrations []migrate.Migration
	secret     []byte
	logger     *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(
	authzStore *authz.Store,
	authn *auth.Authenticator,
	keys *auth.KeyStore,
	limiter *ratelimit.Limiter,
	sequencer *bootstrap.Sequencer,
	runner *migrate.Runner,
	migrations []migrate.Migration,
	sharedSecret string,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		authz:      authzStore,
		authn:      authn,
		keys:       keys,
		limiter:    limiter,
		sequencer:  sequencer,
		runner:     runner,
		migrations: migrations,
		secret:     []byte(sharedSecret),
		logger:     logger,
	}
}

// storeError maps a store failure onto the opaque taxonomy: transient
// unavailability becomes a 503, anything else a 500. Detail goes to the
// log, never the caller.
func (h *Handler) storeError(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op+" failed", "error", err)
	if isUnavailable(err) {
		WriteError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "temporarily unavailable")
		return
	}
	WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal error")
}

// HandleHealth is the unauthenticated liveness endpoint. It reports the
// bootstrap state but touches no data.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"bootstrap": h.sequencer.State().String(),
	})
}

// HandleGetPrincipal returns the principal's assignment summary.
func (h *Handler) HandleGetPrincipal(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")
	a, err := h.authz.GetAssignment(r.Context(), principal)
	if err != nil {
		h.storeError(w, "get assignment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"principal":  a.Principal,
		"roles":      a.Roles,
		"created_at": a.CreatedAt,
		"updated_at": a.UpdatedAt,
	})
}

// HandleGetPermissions returns the principal's resolved permission union.
func (h *Handler) HandleGetPermissions(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")
	perms, err := h.authz.ResolvePermissions(r.Context(), principal)
	if err != nil {
		h.storeError(w, "resolve permissions", err)
		return
	}
	if perms == nil {
		perms = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"principal": principal, "permissions": perms})
}

// HandleGetRoles returns the principal's role list.
func (h *Handler) HandleGetRoles(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")
	a, err := h.authz.GetAssignment(r.Context(), principal)
	if err != nil {
		h.storeError(w, "get assignment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"principal": principal, "roles": a.Roles})
}

// HandleGetQuotas returns the principal's standing for every quota class.
func (h *Handler) HandleGetQuotas(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")
	report, err := h.authz.QuotaReport(r.Context(), principal)
	if err != nil {
		h.storeError(w, "quota report", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"principal": principal, "quotas": report})
}

// HandleGetAuditLog returns the principal's assignment history.
func (h *Handler) HandleGetAuditLog(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")
	entries, err := h.authz.AuditLog(r.Context(), principal)
	if err != nil {
		h.storeError(w, "audit log", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"principal": principal, "audit": entries})
}

type checkPermissionRequest struct {
	Principal  string `json:"principal"`
	Permission string `json:"permission"`
}

// HandleCheckPermission answers "does principal P have permission X".
func (h *Handler) HandleCheckPermission(w http.ResponseWriter, r *http.Request) {
	var req checkPermissionRequest
	if err := decodeBody(r, &req); err != nil || req.Principal == "" || req.Permission == "" {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "principal and permission are required")
		return
	}
	allowed, err := h.authz.HasPermission(r.Context(), req.Principal, req.Permission)
	if err != nil {
		h.storeError(w, "permission check", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"principal":  req.Principal,
		"permission": req.Permission,
		"allowed":    allowed,
	})
}

type checkQuotaRequest struct {
	Principal  string `json:"principal"`
	QuotaClass string `json:"quotaClass"`
	Amount     int64  `json:"amount"`
}

// HandleCheckQuota answers "does principal P have room for N units of
// quota class Y". It does not consume; the consume endpoint is called
// after the gated action succeeds.
func (h *Handler) HandleCheckQuota(w http.ResponseWriter, r *http.Request) {
	var req checkQuotaRequest
	if err := decodeBody(r, &req); err != nil || req.Principal == "" || req.QuotaClass == "" {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "principal and quotaClass are required")
		return
	}
	if req.Amount <= 0 {
		req.Amount = 1
	}
	status, err := h.authz.CheckQuota(r.Context(), req.Principal, req.QuotaClass, req.Amount)
	if err != nil {
		if errors.Is(err, authz.ErrUnknownQuotaClass) {
			WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "unknown quota class")
			return
		}
		h.storeError(w, "quota check", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"principal": req.Principal,
		"class":     status.Class,
		"allowed":   status.Allows(req.Amount),
		"limit":     status.Limit,
		"used":      status.Used,
		"remaining": status.Remaining,
	})
}

// HandleConsumeQuota records usage after a gated action succeeded.
func (h *Handler) HandleConsumeQuota(w http.ResponseWriter, r *http.Request) {
	var req checkQuotaRequest
	if err := decodeBody(r, &req); err != nil || req.Principal == "" || req.QuotaClass == "" {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "principal and quotaClass are required")
		return
	}
	if req.Amount <= 0 {
		req.Amount = 1
	}
	if err := h.authz.ConsumeQuota(r.Context(), req.Principal, req.QuotaClass, req.Amount); err != nil {
		h.storeError(w, "quota consume", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"consumed": req.Amount, "class": req.QuotaClass})
}

// HandleListRoles returns all role definitions.
func (h *Handler) HandleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.authz.ListRoles(r.Context())
	if err != nil {
		h.storeError(w, "list roles", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

// HandlePutRole creates or replaces a role definition.
func (h *Handler) HandlePutRole(w http.ResponseWriter, r *http.Request) {
	var role authz.Role
	if err := decodeBody(r, &role); err != nil || role.Name == "" {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "role name is required")
		return
	}
	if err := h.authz.PutRole(r.Context(), role); err != nil {
		h.storeError(w, "put role", err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

// HandleDeleteRole removes a role definition.
func (h *Handler) HandleDeleteRole(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.authz.DeleteRole(r.Context(), name); err != nil {
		h.storeError(w, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListPermissions returns all permission definitions.
func (h *Handler) HandleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.authz.ListPermissions(r.Context())
	if err != nil {
		h.storeError(w, "list permissions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

// HandlePutPermission creates or replaces a permission definition.
func (h *Handler) HandlePutPermission(w http.ResponseWriter, r *http.Request) {
	var perm authz.Permission
	if err := decodeBody(r, &perm); err != nil || perm.Name == "" {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "permission name is required")
		return
	}
	if err := h.authz.PutPermission(r.Context(), perm); err != nil {
		h.storeError(w, "put permission", err)
		return
	}
	writeJSON(w, http.StatusOK, perm)
}

// HandleDeletePermission removes a permission definition.
func (h *Handler) HandleDeletePermission(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.authz.DeletePermission(r.Context(), name); err != nil {
		h.storeError(w, "delete permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

// HandleAssignRole grants a role to a principal, auditing the change with
// the acting caller.
func (h *Handler) HandleAssignRole(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")
	var req assignRoleRequest
	if err := decodeBody(r, &req); err != nil || req.Role == "" {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "role is required")
		return
	}
	if _, err := h.authz.GetRole(r.Context(), req.Role); err != nil {
		if errors.Is(err, authz.ErrNotFound) {
			WriteError(w, http.StatusNotFound, ErrCodeNotFound, "role not found")
			return
		}
		h.storeError(w, "get role", err)
		return
	}
	actor := auth.IdentityFromContext(r.Context()).Name
	a, err := h.authz.AssignRole(r.Context(), principal, req.Role, actor)
	if err != nil {
		if errors.Is(err, authz.ErrConflict) {
			WriteError(w, http.StatusConflict, ErrCodeConflict, "concurrent update, retry")
			return
		}
		h.storeError(w, "assign role", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"principal": principal, "roles": a.Roles})
}

// HandleRevokeRole removes a role from a principal. The assignment record
// and its audit trail survive.
func (h *Handler) HandleRevokeRole(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")
	role := chi.URLParam(r, "role")
	actor := auth.IdentityFromContext(r.Context()).Name
	a, err := h.authz.RevokeRole(r.Context(), principal, role, actor)
	if err != nil {
		if errors.Is(err, authz.ErrConflict) {
			WriteError(w, http.StatusConflict, ErrCodeConflict, "concurrent update, retry")
			return
		}
		h.storeError(w, "revoke role", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"principal": principal, "roles": a.Roles})
}

type createServiceKeyRequest struct {
	Name string `json:"name"`
}

// HandleCreateServiceKey issues a named service key. The plaintext is in
// this response only; it is never retrievable again.
func (h *Handler) HandleCreateServiceKey(w http.ResponseWriter, r *http.Request) {
	var req createServiceKeyRequest
	if err := decodeBody(r, &req); err != nil || req.Name == "" {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "name is required")
		return
	}
	plaintext, err := h.keys.Issue(r.Context(), req.Name)
	if err != nil {
		if errors.Is(err, auth.ErrDuplicateKey) {
			WriteError(w, http.StatusConflict, ErrCodeConflict, "service key name already exists")
			return
		}
		h.storeError(w, "issue service key", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": req.Name, "key": plaintext})
}

// HandleListServiceKeys lists issued service keys, hashes redacted.
func (h *Handler) HandleListServiceKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.List(r.Context())
	if err != nil {
		h.storeError(w, "list service keys", err)
		return
	}
	out := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, map[string]any{"name": k.Name, "created_at": k.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": out})
}

// HandleRevokeServiceKey revokes a named service key.
func (h *Handler) HandleRevokeServiceKey(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.keys.Revoke(r.Context(), name); err != nil {
		h.storeError(w, "revoke service key", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMigrationStatus reports every migration's applied state.
func (h *Handler) HandleMigrationStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.runner.Status(r.Context(), h.migrations)
	if err != nil {
		h.storeError(w, "migration status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"migrations": statuses})
}

// HandleRollbackMigration reverts a named migration. Fails with
// not_revertible for migrations lacking a revert step.
func (h *Handler) HandleRollbackMigration(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var target *migrate.Migration
	for i := range h.migrations {
		if h.migrations[i].Name == name {
			target = &h.migrations[i]
			break
		}
	}
	if target == nil {
		WriteError(w, http.StatusNotFound, ErrCodeNotFound, "unknown migration")
		return
	}
	if err := h.runner.Rollback(r.Context(), *target); err != nil {
		if errors.Is(err, migrate.ErrNotRevertible) {
			WriteError(w, http.StatusConflict, ErrCodeNotRevertible, "migration has no revert step")
			return
		}
		h.storeError(w, "rollback migration", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"rolled_back": name})
}

// decodeBody decodes a JSON request body, rejecting unknown garbage early.
func decodeBody(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

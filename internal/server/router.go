package server

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/overlaykit/access-core/internal/metrics"
	"github.com/overlaykit/access-core/internal/middleware"
	"github.com/overlaykit/access-core/internal/ratelimit"
)

// NewRouter builds the service router.
//
// Order matters: the bootstrap trigger runs before authentication so the
// very first request starts migrations and seeding; authentication runs
// before rate limiting so buckets key on validated identities; rate
// limiting runs before any handler touches the store.
func (h *Handler) NewRouter(logger *slog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.HTTPLogging(logger))
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(h.TriggerBootstrap)

	// Liveness only, no data, intentionally unauthenticated.
	r.Get("/health", h.HandleHealth)

	r.Route("/access", func(r chi.Router) {
		r.Use(h.Authenticate)

		// Principal reads: "read" tier.
		r.Group(func(r chi.Router) {
			r.Use(h.RateLimit(ratelimit.TierRead))
			r.Get("/{principal}", h.HandleGetPrincipal)
			r.Get("/{principal}/permissions", h.HandleGetPermissions)
			r.Get("/{principal}/roles", h.HandleGetRoles)
			r.Get("/{principal}/quotas", h.HandleGetQuotas)
			r.Get("/{principal}/audit-log", h.HandleGetAuditLog)
		})

		// Checks: "check" tier.
		r.Group(func(r chi.Router) {
			r.Use(h.RateLimit(ratelimit.TierCheck))
			r.Post("/check-permission", h.HandleCheckPermission)
			r.Post("/check-quota", h.HandleCheckQuota)
		})

		// Quota consumption: "write" tier.
		r.Group(func(r chi.Router) {
			r.Use(h.RateLimit(ratelimit.TierWrite))
			r.Post("/consume-quota", h.HandleConsumeQuota)
		})

		// Definition listings: admin permission, "admin" tier.
		r.Group(func(r chi.Router) {
			r.Use(h.RateLimit(ratelimit.TierAdmin), h.RequireAdmin)
			r.Get("/roles", h.HandleListRoles)
			r.Get("/permissions", h.HandleListPermissions)
			r.Get("/service-keys", h.HandleListServiceKeys)
		})

		// Mutations: admin permission, "admin" tier, signed payloads.
		// Bodiless calls sign the empty payload.
		r.Group(func(r chi.Router) {
			r.Use(h.RateLimit(ratelimit.TierAdmin), h.RequireAdmin, h.VerifySignature)
			r.Post("/roles", h.HandlePutRole)
			r.Delete("/roles/{name}", h.HandleDeleteRole)
			r.Post("/permissions", h.HandlePutPermission)
			r.Delete("/permissions/{name}", h.HandleDeletePermission)
			r.Post("/{principal}/roles", h.HandleAssignRole)
			r.Delete("/{principal}/roles/{role}", h.HandleRevokeRole)
			r.Post("/service-keys", h.HandleCreateServiceKey)
			r.Delete("/service-keys/{name}", h.HandleRevokeServiceKey)
		})
	})

	// Migration observability and rollback: operators only.
	r.Route("/admin/migrations", func(r chi.Router) {
		r.Use(h.Authenticate, h.RateLimit(ratelimit.TierAdmin), h.RequireAdmin)
		r.Get("/", h.HandleMigrationStatus)
		r.With(h.VerifySignature).Post("/{name}/rollback", h.HandleRollbackMigration)
	})

	return r
}

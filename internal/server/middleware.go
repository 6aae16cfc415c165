package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/overlaykit/access-core/internal/auth"
	"github.com/overlaykit/access-core/internal/kv"
	"github.com/overlaykit/access-core/internal/metrics"
	"github.com/overlaykit/access-core/internal/ratelimit"
)

// maxBodyBytes bounds mutation request bodies; nothing legitimate here is
// anywhere near this large.
const maxBodyBytes = 1 << 20

// TriggerBootstrap kicks the bootstrap sequencer on every request. The
// trigger is a non-blocking compare-and-swap, so this costs one atomic
// load per request once the sequencer is ready.
func (h *Handler) TriggerBootstrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.sequencer.Trigger()
		next.ServeHTTP(w, r)
	})
}

// Authenticate validates the caller before any handler logic runs and
// attaches the resolved identity to the context. Principal identities are
// auto-provisioned on their first authenticated access.
//
// Authentication fails closed: a store outage during credential lookup or
// provisioning rejects the request.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := h.authn.Authenticate(r)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrMissingCredentials):
				metrics.RecordAuthFailure("missing_credentials")
				WriteError(w, http.StatusUnauthorized, ErrCodeAuthenticationFailed, "missing credentials")
			case errors.Is(err, auth.ErrInvalidCredentials):
				metrics.RecordAuthFailure("invalid_credentials")
				WriteError(w, http.StatusUnauthorized, ErrCodeAuthenticationFailed, "invalid credentials")
			default:
				h.logger.Error("credential lookup failed", "error", err)
				WriteError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "temporarily unavailable")
			}
			return
		}

		if identity.Kind == auth.KindPrincipal {
			if _, err := h.authz.EnsurePrincipal(r.Context(), identity.Name); err != nil {
				h.logger.Error("auto-provisioning failed", "principal", identity.Name, "error", err)
				WriteError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "temporarily unavailable")
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
	})
}

// RateLimit admits or rejects the request against the tier's sliding
// window, keyed by the most specific caller identity. Telemetry headers go
// on every response; a denial carries Retry-After.
func (h *Handler) RateLimit(tier ratelimit.Tier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := auth.IdentityFromContext(r.Context())
			result := h.limiter.Check(r.Context(), identity.RateKey(), tier)

			if result.Remaining >= 0 {
				w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
			}
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(int64(result.Reset.Seconds()), 10))

			if !result.Allowed {
				metrics.RecordRateLimited(string(tier))
				retryAfter := int64(result.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				WriteErrorWithHint(w, http.StatusTooManyRequests, ErrCodeRateLimited,
					"rate limit exceeded",
					fmt.Sprintf("retry after %d seconds", retryAfter))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin gates mutation endpoints. The shared service key is trusted
// infrastructure and passes outright; issued service keys are scoped to
// reads and checks; principals need the admin permission.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := auth.IdentityFromContext(r.Context())
		switch identity.Kind {
		case auth.KindService:
			if identity.Name == auth.SharedKeyName {
				next.ServeHTTP(w, r)
				return
			}
			WriteError(w, http.StatusForbidden, ErrCodeAuthorizationDenied, "permission denied")
		case auth.KindPrincipal:
			allowed, err := h.authz.HasPermission(r.Context(), identity.Name, "access.admin")
			if err != nil {
				h.logger.Error("admin permission check failed", "principal", identity.Name, "error", err)
				WriteError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "temporarily unavailable")
				return
			}
			if !allowed {
				WriteError(w, http.StatusForbidden, ErrCodeAuthorizationDenied, "permission denied")
				return
			}
			next.ServeHTTP(w, r)
		default:
			WriteError(w, http.StatusUnauthorized, ErrCodeAuthenticationFailed, "missing credentials")
		}
	})
}

// VerifySignature enforces payload integrity on calls that require it. The
// body is read, verified against X-Access-Signature with the caller's
// identity as the signing context, and restored for the handler. Missing
// or mismatched signatures are rejected outright.
func (h *Handler) VerifySignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "unreadable request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		identity := auth.IdentityFromContext(r.Context())
		signature := r.Header.Get(auth.HeaderSignature)
		if err := auth.VerifyPayload(h.secret, identity.Name, body, signature); err != nil {
			metrics.RecordAuthFailure("bad_signature")
			WriteError(w, http.StatusUnauthorized, ErrCodeBadSignature, "payload signature missing or invalid")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isUnavailable reports whether err is a transient store failure that
// should surface as an opaque 503.
func isUnavailable(err error) bool {
	return errors.Is(err, kv.ErrUnavailable)
}

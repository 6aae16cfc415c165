package auth

import "context"

// Kind classifies how a caller authenticated.
type Kind string

// Identity kinds, from most to least specific. The rate limiter keys its
// buckets on the most specific identity present.
const (
	// KindService is a service-to-service caller holding the shared
	// secret or an issued service key.
	KindService Kind = "service"

	// KindPrincipal is a human or browser-originated caller holding a
	// valid bearer token.
	KindPrincipal Kind = "principal"

	// KindAnonymous is an unauthenticated caller, identified only by
	// network origin. Only the health endpoint admits these.
	KindAnonymous Kind = "anonymous"
)

// Identity is the validated caller identity attached to the request
// context.
type Identity struct {
	Kind Kind

	// Name is the service-key name for service identities or the
	// principal id for principal identities.
	Name string

	// RemoteAddr is the network origin, always recorded.
	RemoteAddr string
}

// RateKey returns the rate-limiter bucket key for this identity. The
// hardest-to-spoof identity wins: service key over principal over raw
// network origin.
func (id Identity) RateKey() string {
	switch id.Kind {
	case KindService:
		return "svc:" + id.Name
	case KindPrincipal:
		return "prin:" + id.Name
	default:
		return "ip:" + id.RemoteAddr
	}
}

type ctxKey int

const identityKey ctxKey = iota

// WithIdentity attaches the validated identity to the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext retrieves the caller identity. An anonymous identity
// is returned when none is set.
func IdentityFromContext(ctx context.Context) Identity {
	if v := ctx.Value(identityKey); v != nil {
		if id, ok := v.(Identity); ok {
			return id
		}
	}
	return Identity{Kind: KindAnonymous}
}

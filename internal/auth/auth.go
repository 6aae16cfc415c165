// Package auth validates inbound callers and verifies payload integrity.
//
// Two trust paths exist, tried in order: a shared-secret or issued service
// key in the X-Service-Key header (service-to-service trust), then a signed
// bearer token in the Authorization header (human or browser-originated
// trust). A request that validates neither is rejected before any handler
// logic runs.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"strings"
)

// Header names recognized by the authenticator.
const (
	// HeaderServiceKey carries the shared secret or an issued service
	// key. Service credentials go here, not in Authorization.
	HeaderServiceKey = "X-Service-Key"

	// HeaderSignature carries the payload integrity signature.
	HeaderSignature = "X-Access-Signature"
)

// SharedKeyName identifies the deployment-wide shared secret in identities
// and rate buckets, as opposed to named issued keys.
const SharedKeyName = "shared"

// Authenticator validates inbound requests.
type Authenticator struct {
	secretDigest []byte // SHA-256 of the configured shared secret
	keys         *KeyStore
	tokens       *TokenVerifier
}

// NewAuthenticator creates an Authenticator. keys may be nil to disable
// issued-key lookup (the shared secret and bearer paths still work).
func NewAuthenticator(sharedSecret string, keys *KeyStore, tokens *TokenVerifier) *Authenticator {
	digest := sha256.Sum256([]byte(sharedSecret))
	return &Authenticator{
		secretDigest: digest[:],
		keys:         keys,
		tokens:       tokens,
	}
}

// Authenticate resolves the caller's identity from request credentials.
//
// Returns ErrMissingCredentials when no credential is present,
// ErrInvalidCredentials when one is present but does not validate, and the
// underlying store error (fail closed) when issued-key lookup is
// impossible.
func (a *Authenticator) Authenticate(r *http.Request) (Identity, error) {
	remote := remoteHost(r)

	if key := strings.TrimSpace(r.Header.Get(HeaderServiceKey)); key != "" {
		if a.isSharedSecret(key) {
			return Identity{Kind: KindService, Name: SharedKeyName, RemoteAddr: remote}, nil
		}
		if a.keys != nil {
			name, err := a.keys.Verify(r.Context(), key)
			if err == nil {
				return Identity{Kind: KindService, Name: name, RemoteAddr: remote}, nil
			}
			if !errors.Is(err, ErrInvalidCredentials) {
				return Identity{}, err
			}
		}
		return Identity{}, ErrInvalidCredentials
	}

	if token := bearerToken(r); token != "" {
		principal, err := a.tokens.Verify(token)
		if err != nil {
			return Identity{}, err
		}
		return Identity{Kind: KindPrincipal, Name: principal, RemoteAddr: remote}, nil
	}

	return Identity{}, ErrMissingCredentials
}

// isSharedSecret compares the presented key against the configured shared
// secret. Both sides are SHA-256 hashed and compared in constant time so
// the comparison leaks nothing about the secret.
func (a *Authenticator) isSharedSecret(key string) bool {
	digest := sha256.Sum256([]byte(key))
	return subtle.ConstantTimeCompare(digest[:], a.secretDigest) == 1
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// remoteHost strips the port from the request's remote address.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// DigestHex returns the hex SHA-256 of a credential, for logging a stable
// non-reversible reference to a key without exposing it.
func DigestHex(credential string) string {
	digest := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(digest[:8])
}

// Package apikey authenticates static API keys. Keys are kept only as
// SHA-256 hashes and compared in constant time.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/rhuss/sktools/pkg/auth"
	"github.com/rhuss/sktools/pkg/config"
)

// HeaderName is the alternative header for clients that cannot send a
// bearer token.
const HeaderName = "X-API-Key"

type entry struct {
	hash     [32]byte
	identity auth.Identity
}

// Authenticator matches presented keys against a fixed set.
type Authenticator struct {
	entries []entry
}

// New builds an authenticator from configured keys. Entries with an empty
// key are ignored.
func New(keys []config.APIKeyConfig) *Authenticator {
	a := &Authenticator{}
	for _, k := range keys {
		if k.Key == "" {
			continue
		}
		subject := k.Subject
		if subject == "" {
			subject = "apikey"
		}
		a.entries = append(a.entries, entry{
			hash: sha256.Sum256([]byte(k.Key)),
			identity: auth.Identity{
				Subject: subject,
				Tenant:  k.TenantID,
				Tier:    k.ServiceTier,
			},
		})
	}
	return a
}

// Authenticate abstains when no key is presented and votes No for an
// unknown or empty key.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	key, ok := auth.BearerToken(r)
	if !ok {
		key, ok = r.Header.Get(HeaderName), r.Header.Get(HeaderName) != ""
	}
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if key == "" {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	sum := sha256.Sum256([]byte(key))
	var match *entry
	for i := range a.entries {
		if subtle.ConstantTimeCompare(sum[:], a.entries[i].hash[:]) == 1 {
			match = &a.entries[i]
		}
	}
	if match == nil {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}
	id := match.identity
	return auth.Result{Decision: auth.Yes, Identity: &id}
}

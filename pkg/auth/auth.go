package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
)

// Decision is an authenticator's vote.
type Decision int

const (
	// Yes means the credentials are valid and the chain stops.
	Yes Decision = iota

	// No means credentials were presented but are invalid. The chain stops
	// and the request is rejected.
	No

	// Abstain means the authenticator does not handle this kind of
	// credential and the next one is asked.
	Abstain
)

func (d Decision) String() string {
	switch d {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "abstain"
	}
}

// Result is the outcome of one authentication attempt.
type Result struct {
	Decision Decision
	Identity *Identity // set when Decision == Yes
	Err      error     // set when Decision == No
}

// Scopes understood by the API. A caller with no scopes at all may do
// everything, which keeps static API keys simple.
const (
	ScopeExecute = "sktools:execute"
	ScopeHistory = "sktools:history"
)

// Identity is an authenticated caller.
type Identity struct {
	Subject string
	Tenant  string
	Tier    string
	Scopes  []string
}

// Anonymous is the identity admitted when no credentials are required.
var Anonymous = Identity{Subject: "anonymous", Tier: "default"}

// Allows reports whether the identity may use scope.
func (id *Identity) Allows(scope string) bool {
	if id == nil {
		return false
	}
	return len(id.Scopes) == 0 || slices.Contains(id.Scopes, scope)
}

// Authenticator examines request credentials and votes.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) Result
}

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access denied")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// Chain evaluates authenticators in order.
type Chain struct {
	Authenticators []Authenticator

	// AllowAnonymous admits callers when every authenticator abstains.
	AllowAnonymous bool
}

// Authenticate stops at the first Yes or No vote.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Result {
	for _, a := range c.Authenticators {
		if res := a.Authenticate(ctx, r); res.Decision != Abstain {
			return res
		}
	}
	if c.AllowAnonymous {
		id := Anonymous
		return Result{Decision: Yes, Identity: &id}
	}
	return Result{Decision: No, Err: ErrUnauthenticated}
}

// BearerToken returns the token of an "Authorization: Bearer" header. ok
// is false when the header is absent or uses another scheme.
func BearerToken(r *http.Request) (token string, ok bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

type identityKey struct{}

// SetIdentity stores the authenticated identity in the context.
func SetIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by the middleware, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/rhuss/sktools/pkg/observability"
	"github.com/rhuss/sktools/pkg/storage"
)

// DefaultBypassPaths skip authentication.
var DefaultBypassPaths = []string{"/healthz", "/readyz", "/metrics"}

// Middleware authenticates every request not in bypass, applies the rate
// limiter when one is set and stores identity and tenant in the context.
func Middleware(authn Authenticator, limiter RateLimiter, logger *slog.Logger, bypass ...string) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	skip := make(map[string]bool, len(bypass))
	for _, p := range bypass {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			res := authn.Authenticate(r.Context(), r)
			if res.Decision != Yes || res.Identity == nil {
				logger.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", res.Err,
				)
				writeError(w, http.StatusUnauthorized, "unauthorized", ErrUnauthenticated.Error())
				return
			}
			id := res.Identity
			if id.Subject == "" {
				logger.Error("authenticator returned identity with empty subject")
				writeError(w, http.StatusInternalServerError, "server_error", "internal authentication error")
				return
			}

			if limiter != nil {
				if err := limiter.Allow(r.Context(), id); err != nil {
					var le *LimitError
					if errors.As(err, &le) {
						w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(le.RetryAfter.Seconds()))))
					}
					logger.Warn("rate limit exceeded", "subject", id.Subject, "tier", id.Tier)
					observability.RateLimitRejectedTotal.WithLabelValues(tierLabel(id.Tier)).Inc()
					writeError(w, http.StatusTooManyRequests, "too_many_requests", ErrTooManyRequests.Error())
					return
				}
			}

			ctx := SetIdentity(r.Context(), id)
			if id.Tenant != "" {
				ctx = storage.SetTenant(ctx, id.Tenant)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope rejects authenticated callers that lack scope. Requests
// without an identity pass through so the handler works without auth.
func RequireScope(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := IdentityFromContext(r.Context()); id != nil && !id.Allows(scope) {
			writeError(w, http.StatusForbidden, "forbidden", ErrForbidden.Error()+": missing scope "+scope)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func tierLabel(tier string) string {
	if tier == "" {
		return "default"
	}
	return tier
}

func writeError(w http.ResponseWriter, status int, typ, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"type": typ, "message": msg},
	})
}

// Package jwt authenticates OIDC bearer tokens. Signatures are checked
// against RSA keys published at a JWKS endpoint.
package jwt

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/sktools/pkg/auth"
	"github.com/rhuss/sktools/pkg/config"
)

// Config configures the authenticator. Empty Issuer or Audience disables
// that check.
type Config struct {
	Issuer   string
	Audience string
	JWKSURL  string

	UserClaim   string // default "sub"
	TenantClaim string // default "tenant_id"
	ScopesClaim string // default "scope", space separated or an array
	TierClaim   string // default "tier"

	CacheTTL time.Duration // default 1h
	Leeway   time.Duration // clock skew allowance, default 30s

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// FromConfig maps the file configuration.
func FromConfig(c config.JWTConfig) Config {
	return Config{
		Issuer:      c.Issuer,
		Audience:    c.Audience,
		JWKSURL:     c.JWKSURL,
		UserClaim:   c.UserClaim,
		TenantClaim: c.TenantClaim,
		ScopesClaim: c.ScopesClaim,
		CacheTTL:    c.CacheTTL,
	}
}

func (c *Config) defaults() {
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.TenantClaim == "" {
		c.TenantClaim = "tenant_id"
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
	if c.TierClaim == "" {
		c.TierClaim = "tier"
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.Leeway <= 0 {
		c.Leeway = 30 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Authenticator validates RS256/384/512 tokens.
type Authenticator struct {
	cfg    Config
	keys   *keySet
	parser *jwtlib.Parser
}

// New creates an authenticator. Keys are fetched lazily on first use.
func New(cfg Config) *Authenticator {
	cfg.defaults()
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwtlib.WithLeeway(cfg.Leeway),
		jwtlib.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(cfg.Audience))
	}
	return &Authenticator{
		cfg:    cfg,
		parser: jwtlib.NewParser(opts...),
		keys: &keySet{
			url:    cfg.JWKSURL,
			ttl:    cfg.CacheTTL,
			client: cfg.HTTPClient,
			logger: cfg.Logger,
		},
	}
}

// Authenticate abstains without a bearer token and votes No for any token
// that fails validation.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.Result {
	raw, ok := auth.BearerToken(r)
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if raw == "" {
		return auth.Result{Decision: auth.No, Err: errors.New("empty bearer token")}
	}
	// Opaque API keys share the bearer header; leave them to the next authenticator.
	if strings.Count(raw, ".") != 2 {
		return auth.Result{Decision: auth.Abstain}
	}

	claims := jwtlib.MapClaims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(t *jwtlib.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid header")
		}
		return a.keys.get(ctx, kid)
	})
	if err != nil {
		a.cfg.Logger.Debug("jwt rejected", "error", err)
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("invalid token: %w", err)}
	}

	subject := stringClaim(claims, a.cfg.UserClaim)
	if subject == "" {
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("token has no %q claim", a.cfg.UserClaim)}
	}
	return auth.Result{
		Decision: auth.Yes,
		Identity: &auth.Identity{
			Subject: subject,
			Tenant:  stringClaim(claims, a.cfg.TenantClaim),
			Tier:    stringClaim(claims, a.cfg.TierClaim),
			Scopes:  scopes(claims[a.cfg.ScopesClaim]),
		},
	}
}

func stringClaim(claims jwtlib.MapClaims, name string) string {
	s, _ := claims[name].(string)
	return s
}

func scopes(v any) []string {
	switch v := v.(type) {
	case string:
		if f := strings.Fields(v); len(f) > 0 {
			return f
		}
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// keySet caches the JWKS. An unknown kid triggers a refresh, but not more
// than once per minRefresh so bogus tokens cannot hammer the endpoint.
type keySet struct {
	url    string
	ttl    time.Duration
	client *http.Client
	logger *slog.Logger

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

const minRefresh = 10 * time.Second

func (s *keySet) get(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	age := time.Since(s.fetchedAt)
	if key, ok := s.keys[kid]; ok && age < s.ttl {
		return key, nil
	}
	if s.keys == nil || age >= minRefresh {
		if err := s.refresh(ctx); err != nil {
			return nil, err
		}
	}
	key, ok := s.keys[kid]
	if !ok {
		return nil, fmt.Errorf("no key %q in JWKS", kid)
	}
	return key, nil
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (s *keySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("building JWKS request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching JWKS: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decoding JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := rsaKey(k)
		if err != nil {
			s.logger.Warn("skipping JWKS key", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}
	s.keys = keys
	s.fetchedAt = time.Now()
	s.logger.Debug("JWKS refreshed", "keys", len(keys), "url", s.url)
	return nil
}

func rsaKey(k jwk) (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() > 1<<31-1 {
		return nil, errors.New("exponent too large")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}

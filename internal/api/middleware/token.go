package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/time/rate"

	"Huddle/internal/core/identity"
)

var (
	// ErrNoVerificationMethod is returned when neither a shared secret nor a JWKS URL is configured
	ErrNoVerificationMethod = errors.New("no token verification method configured")

	// ErrMissingSubject is returned for tokens without a sub claim
	ErrMissingSubject = errors.New("token has no subject")
)

const (
	defaultUserCacheSize = 4096
	// maxUserCacheTTL caps how long a verified token is trusted without re-verification
	maxUserCacheTTL = 5 * time.Minute
	// forcedRefreshInterval limits JWKS refetches triggered by unknown kids
	forcedRefreshInterval = 30 * time.Second
)

// Claims are the identity provider claims the feed uses
type Claims struct {
	jwt.RegisteredClaims
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	Email   string `json:"email,omitempty"`
}

// VerifierConfig configures token verification. At least one of HS256Secret and JWKSURL is required.
type VerifierConfig struct {
	HS256Secret string
	JWKSURL     string
	// Issuer, when set, must match the iss claim
	Issuer    string
	CacheSize int
}

type cachedUser struct {
	expiresAt time.Time
	user      identity.User
}

// TokenVerifier verifies bearer tokens issued by the identity provider.
// HS256 tokens are checked against the shared secret, RS256/ES256 tokens against the JWKS.
type TokenVerifier struct {
	jwks    *jwk.Cache
	users   *expirable.LRU[string, cachedUser]
	secret  []byte
	jwksURL string
	issuer  string

	// refreshLimit gates forced JWKS refreshes; any caller can present an unknown kid
	refreshLimit *rate.Limiter
}

// NewTokenVerifier creates a verifier. When a JWKS URL is configured the key set is fetched
// once up front and refreshed in the background for the lifetime of ctx.
func NewTokenVerifier(ctx context.Context, cfg VerifierConfig) (*TokenVerifier, error) {
	if cfg.HS256Secret == "" && cfg.JWKSURL == "" {
		return nil, ErrNoVerificationMethod
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultUserCacheSize
	}

	v := &TokenVerifier{
		secret:  []byte(cfg.HS256Secret),
		jwksURL: cfg.JWKSURL,
		issuer:  cfg.Issuer,
		users:   expirable.NewLRU[string, cachedUser](size, nil, maxUserCacheTTL),

		refreshLimit: rate.NewLimiter(rate.Every(forcedRefreshInterval), 1),
	}

	if cfg.JWKSURL != "" {
		cache := jwk.NewCache(ctx)
		if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
			return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
		}
		if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
			return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
		}
		v.jwks = cache
	}

	return v, nil
}

// Verify checks the token signature and claims and returns the user it identifies
func (v *TokenVerifier) Verify(ctx context.Context, token string) (*identity.User, error) {
	if cached, ok := v.users.Get(token); ok {
		if time.Now().Before(cached.expiresAt) {
			u := cached.user
			return &u, nil
		}
		v.users.Remove(token)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "RS256", "ES256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.keyFor(ctx, t)
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("token verification failed: token signature invalid")
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}

	user := identity.User{
		ID:          claims.Subject,
		DisplayName: claims.Name,
		AvatarURL:   claims.Picture,
		Email:       claims.Email,
	}
	v.users.Add(token, cachedUser{user: user, expiresAt: claims.ExpiresAt.Time})
	return &user, nil
}

// keyFor selects the verification key. HS256 is accepted only without a kid, so a token
// naming a JWKS key can never be checked against the shared secret.
func (v *TokenVerifier) keyFor(ctx context.Context, t *jwt.Token) (interface{}, error) {
	kid, _ := t.Header["kid"].(string)

	switch t.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(v.secret) == 0 {
			return nil, fmt.Errorf("HS256 tokens are not accepted")
		}
		if kid != "" {
			return nil, fmt.Errorf("HS256 tokens with kid must use asymmetric verification")
		}
		return v.secret, nil
	case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
		if v.jwks == nil {
			return nil, fmt.Errorf("asymmetric tokens are not accepted")
		}
		return v.publicKey(ctx, kid)
	default:
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
}

func (v *TokenVerifier) publicKey(ctx context.Context, kid string) (interface{}, error) {
	if kid == "" {
		return nil, fmt.Errorf("token has no kid")
	}
	set, err := v.jwks.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load JWKS: %w", err)
	}
	key, ok := set.LookupKeyID(kid)
	if !ok {
		// Key rotation: refresh before giving up, at most once per interval
		if !v.refreshLimit.Allow() {
			return nil, fmt.Errorf("no JWKS key with kid %q", kid)
		}
		slog.Info("[AUTH] unknown kid, refreshing JWKS", "kid", kid)
		if set, err = v.jwks.Refresh(ctx, v.jwksURL); err != nil {
			return nil, fmt.Errorf("failed to refresh JWKS: %w", err)
		}
		if key, ok = set.LookupKeyID(kid); !ok {
			return nil, fmt.Errorf("no JWKS key with kid %q", kid)
		}
	}

	var raw interface{}
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS key: %w", err)
	}
	return raw, nil
}

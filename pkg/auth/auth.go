// Package auth issues and validates the bearer tokens that identify callers.
// The token subject is the caller's account key.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"go.uber.org/zap"
)

// DefaultIssuer is the iss claim of tokens minted by this service
const DefaultIssuer = "cosigner"

// DefaultTokenTTL is the lifetime of minted tokens when none is configured
const DefaultTokenTTL = time.Hour

var (
	// ErrInvalidToken is returned for any token that fails parsing or validation
	ErrInvalidToken = errors.New("invalid bearer token")

	// ErrCannotIssue is returned by an authenticator that only validates
	ErrCannotIssue = errors.New("authenticator has no signing key")
)

// ITokenValidator resolves a bearer token to an account key
type ITokenValidator interface {
	Validate(token string) (string, error)
}

// Authenticator validates tokens against an HMAC secret or a remote JWKS.
// Only the HMAC form can mint tokens.
type Authenticator struct {
	secret []byte
	keys   jwk.Set
	issuer string
	ttl    time.Duration
	logger *zap.Logger
}

// NewHMACAuthenticator signs and validates HS256 tokens with a shared secret
func NewHMACAuthenticator(secret []byte, issuer string, ttl time.Duration, logger *zap.Logger) (*Authenticator, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 bytes, got %d", len(secret))
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Authenticator{
		secret: append([]byte(nil), secret...),
		issuer: issuer,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// NewJWKSAuthenticator validates tokens issued elsewhere against a key set
// that is fetched once at startup and refreshed on an interval.
func NewJWKSAuthenticator(ctx context.Context, jwksURL, issuer string, refreshInterval time.Duration, logger *zap.Logger) (*Authenticator, error) {
	keys, err := NewJWKCache(ctx, jwksURL, refreshInterval)
	if err != nil {
		return nil, err
	}
	logger.Sugar().Infow("Loaded JWKS", "url", jwksURL, "keys", keys.Len())
	return &Authenticator{keys: keys, issuer: issuer, logger: logger}, nil
}

// NewJWKCache registers a JWKS URL with a refreshing cache and returns its key set
func NewJWKCache(ctx context.Context, jwksURL string, refreshInterval time.Duration) (jwk.Set, error) {
	cache, err := jwk.NewCache(ctx, httprc.NewClient())
	if err != nil {
		return nil, fmt.Errorf("failed to create jwk cache: %w", err)
	}
	if err := cache.Register(ctx, jwksURL, jwk.WithConstantInterval(refreshInterval)); err != nil {
		return nil, fmt.Errorf("failed to register jwk location: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed to fetch jwks on startup: %w", err)
	}
	return cache.CachedSet(jwksURL)
}

// Issue mints a token for an account
func (a *Authenticator) Issue(accountKey string) (string, error) {
	return a.issue(accountKey, time.Now(), a.ttl)
}

func (a *Authenticator) issue(accountKey string, now time.Time, ttl time.Duration) (string, error) {
	if a.secret == nil {
		return "", ErrCannotIssue
	}
	if accountKey == "" {
		return "", fmt.Errorf("account key cannot be empty")
	}

	token, err := jwt.NewBuilder().
		Issuer(a.issuer).
		Subject(accountKey).
		IssuedAt(now).
		NotBefore(now).
		Expiration(now.Add(ttl)).
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), a.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}

// Validate checks signature, time claims and issuer, and returns the subject
func (a *Authenticator) Validate(tokenString string) (string, error) {
	opts := []jwt.ParseOption{
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(30 * time.Second),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.keys != nil {
		opts = append(opts, jwt.WithKeySet(a.keys))
	} else {
		opts = append(opts, jwt.WithKey(jwa.HS256(), a.secret))
	}

	token, err := jwt.Parse([]byte(tokenString), opts...)
	if err != nil {
		a.logger.Sugar().Debugw("Rejected bearer token", "error", err)
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	subject, ok := token.Subject()
	if !ok || subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return subject, nil
}

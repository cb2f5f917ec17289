package kstock

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// TokenProvider supplies short-lived bearer tokens on demand. The
// channels fetch a fresh token before every dial and the REST client
// attaches one to every request.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to the TokenProvider interface.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken a fixed token, mainly for tests and local development.
type StaticToken string

func (t StaticToken) Token(ctx context.Context) (string, error) {
	if t == "" {
		return "", ErrTokenUnavailable
	}
	return string(t), nil
}

// expiryLeeway refresh this long before the token actually expires
const expiryLeeway = 30 * time.Second

// CachedTokenProvider wraps a source provider and reuses its token
// until the JWT expiry claim comes within the leeway window. Tokens
// without a parseable exp claim are not cached.
type CachedTokenProvider struct {
	source TokenProvider
	logger *zap.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewCachedTokenProvider wraps source with expiry-aware caching.
func NewCachedTokenProvider(source TokenProvider, logger *zap.Logger) *CachedTokenProvider {
	if logger == nil {
		logger = NewDefaultLogger()
	}
	return &CachedTokenProvider{
		source: source,
		logger: logger,
	}
}

// Token returns the cached token while it is still fresh, otherwise
// fetches a new one from the source.
func (p *CachedTokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && time.Now().Before(p.expiresAt.Add(-expiryLeeway)) {
		return p.token, nil
	}

	token, err := p.source.Token(ctx)
	if err != nil {
		return "", NewError("auth.token", err)
	}
	if token == "" {
		return "", NewError("auth.token", ErrTokenUnavailable)
	}

	p.token = token
	p.expiresAt = tokenExpiry(token)
	if p.expiresAt.IsZero() {
		// no exp claim, do not cache
		p.token = ""
		return token, nil
	}

	p.logger.Debug("token refreshed", zap.Time("expires_at", p.expiresAt))
	return token, nil
}

// Invalidate drops the cached token so the next call refetches.
func (p *CachedTokenProvider) Invalidate() {
	p.mu.Lock()
	p.token = ""
	p.expiresAt = time.Time{}
	p.mu.Unlock()
}

// tokenExpiry extracts the exp claim without verifying the signature.
// Verification is the backend's job; the client only needs the expiry
// to schedule refreshes.
func tokenExpiry(token string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

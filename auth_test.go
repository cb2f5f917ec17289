package kstock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestStaticToken(t *testing.T) {
	got, err := StaticToken("abc").Token(context.Background())
	if err != nil || got != "abc" {
		t.Errorf("StaticToken = %q, %v", got, err)
	}
	if _, err := StaticToken("").Token(context.Background()); !errors.Is(err, ErrTokenUnavailable) {
		t.Errorf("empty static token error = %v, want ErrTokenUnavailable", err)
	}
}

func TestCachedTokenProviderReusesFreshToken(t *testing.T) {
	token := signedToken(t, time.Now().Add(time.Hour))

	calls := 0
	source := TokenFunc(func(ctx context.Context) (string, error) {
		calls++
		return token, nil
	})

	p := NewCachedTokenProvider(source, zap.NewNop())
	for i := 0; i < 3; i++ {
		got, err := p.Token(context.Background())
		if err != nil || got != token {
			t.Fatalf("Token() = %q, %v", got, err)
		}
	}
	if calls != 1 {
		t.Errorf("source called %d times, want 1 (cached)", calls)
	}
}

func TestCachedTokenProviderRefreshesExpired(t *testing.T) {
	expired := signedToken(t, time.Now().Add(-time.Minute))
	fresh := signedToken(t, time.Now().Add(time.Hour))

	calls := 0
	source := TokenFunc(func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return expired, nil
		}
		return fresh, nil
	})

	p := NewCachedTokenProvider(source, zap.NewNop())

	got, _ := p.Token(context.Background())
	if got != expired {
		t.Fatalf("first fetch = %q", got)
	}

	// expired cache entry forces a refetch
	got, _ = p.Token(context.Background())
	if got != fresh {
		t.Errorf("second fetch = %q, want fresh token", got)
	}
	if calls != 2 {
		t.Errorf("source called %d times, want 2", calls)
	}
}

func TestCachedTokenProviderSkipsCacheWithoutExp(t *testing.T) {
	calls := 0
	source := TokenFunc(func(ctx context.Context) (string, error) {
		calls++
		return "opaque-token", nil
	})

	p := NewCachedTokenProvider(source, zap.NewNop())
	p.Token(context.Background())
	p.Token(context.Background())

	if calls != 2 {
		t.Errorf("source called %d times, want 2 (no exp claim, no caching)", calls)
	}
}

func TestCachedTokenProviderInvalidate(t *testing.T) {
	token := signedToken(t, time.Now().Add(time.Hour))

	calls := 0
	source := TokenFunc(func(ctx context.Context) (string, error) {
		calls++
		return token, nil
	})

	p := NewCachedTokenProvider(source, zap.NewNop())
	p.Token(context.Background())
	p.Invalidate()
	p.Token(context.Background())

	if calls != 2 {
		t.Errorf("source called %d times after invalidate, want 2", calls)
	}
}

func TestCachedTokenProviderPropagatesError(t *testing.T) {
	source := TokenFunc(func(ctx context.Context) (string, error) {
		return "", errors.New("backend down")
	})
	p := NewCachedTokenProvider(source, zap.NewNop())
	if _, err := p.Token(context.Background()); err == nil {
		t.Error("source error must propagate")
	}
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signedToken(t, exp)

	got := tokenExpiry(token)
	if !got.Equal(exp) {
		t.Errorf("tokenExpiry = %v, want %v", got, exp)
	}
	if !tokenExpiry("garbage").IsZero() {
		t.Error("garbage token should yield zero expiry")
	}
}

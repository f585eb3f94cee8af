// Package auth defines the token-provider boundary the sync engine consumes.
//
// The engine never performs a token exchange itself: it asks an injected
// Provider for a token before an authenticated fetch, and skips the provider
// entirely for public call sites. That "not invoked at all" contract is what
// makes public mode a performance guarantee rather than a cosmetic flag.
package auth

import (
	"context"
	"sync"
	"time"
)

// TokenOptions controls a single token acquisition.
type TokenOptions struct {
	// ForceRefresh bypasses any cached token and demands a fresh one.
	ForceRefresh bool
}

// Provider supplies auth tokens for the backend client. An empty token with a
// nil error means "anonymous": the request proceeds without credentials.
type Provider interface {
	GetToken(ctx context.Context, opts TokenOptions) (string, error)
}

// ProviderFunc adapts a plain function to the Provider interface.
type ProviderFunc func(ctx context.Context, opts TokenOptions) (string, error)

// GetToken implements Provider.
func (f ProviderFunc) GetToken(ctx context.Context, opts TokenOptions) (string, error) {
	return f(ctx, opts)
}

// CachingProvider wraps another Provider and reuses its token until shortly
// before expiry, avoiding a token round-trip per fetch. Tokens whose expiry
// cannot be decoded are cached until a ForceRefresh.
type CachingProvider struct {
	inner Provider
	skew  time.Duration

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewCachingProvider wraps inner. skew is subtracted from the token's expiry
// when deciding whether the cached token is still usable.
func NewCachingProvider(inner Provider, skew time.Duration) *CachingProvider {
	return &CachingProvider{inner: inner, skew: skew}
}

// GetToken implements Provider.
func (p *CachingProvider) GetToken(ctx context.Context, opts TokenOptions) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !opts.ForceRefresh && p.token != "" {
		if p.expires.IsZero() || time.Now().Before(p.expires.Add(-p.skew)) {
			return p.token, nil
		}
	}

	token, err := p.inner.GetToken(ctx, opts)
	if err != nil {
		return "", err
	}

	p.token = token
	p.expires = time.Time{}
	if claims, err := DecodeClaims(token); err == nil {
		p.expires = claims.ExpiresAt
	}
	return token, nil
}

type tokenContextKey struct{}

// ContextWithToken attaches an acquired token for the backend client to read.
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext extracts the token attached by ContextWithToken.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenContextKey{}).(string)
	return token, ok && token != ""
}

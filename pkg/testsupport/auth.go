package testsupport

import (
	"context"
	"sync"

	"github.com/goliatone/go-live-query/auth"
)

// CountingProvider is an auth.Provider that returns a fixed token and counts
// how many times it was asked for one. Tests use the count to assert that
// public call sites never touch the provider.
type CountingProvider struct {
	mu    sync.Mutex
	token string
	err   error
	calls int
}

// NewCountingProvider creates a provider that always returns token.
func NewCountingProvider(token string) *CountingProvider {
	return &CountingProvider{token: token}
}

// Fail makes subsequent GetToken calls return err instead of a token.
func (p *CountingProvider) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// GetToken implements auth.Provider.
func (p *CountingProvider) GetToken(_ context.Context, _ auth.TokenOptions) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return p.token, nil
}

// Calls reports how many times GetToken was invoked.
func (p *CountingProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

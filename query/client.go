package query

import "context"

// UnsubscribeFunc tears down one live push-subscription.
type UnsubscribeFunc func()

// Client is the backend collaborator contract. The engine treats it as a
// black box: connection management, wire protocol and consistency are the
// implementation's concern. Implementations read the auth token, when one was
// acquired, from the context via auth.TokenFromContext.
type Client interface {
	// Query issues a one-shot request and returns its result.
	Query(ctx context.Context, function string, args any) (any, error)

	// Mutate invokes a mutation and returns its result.
	Mutate(ctx context.Context, function string, args any) (any, error)

	// Subscribe registers a live push-subscription. onUpdate is invoked for
	// every authoritative value (or subscription failure) until the returned
	// function is called. Implementations may deliver the current value
	// synchronously during Subscribe.
	Subscribe(function string, args any, onUpdate func(value any, err error)) (UnsubscribeFunc, error)
}

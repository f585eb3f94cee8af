package query

// FetchError reports a failed one-shot fetch (SSR render or manual refresh).
// Transient: the call site keeps its last successful data and keeps working.
type FetchError struct {
	Function string
	Err      error
}

func (e *FetchError) Error() string {
	return "query: fetch " + e.Function + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error { return e.Err }

// SubscriptionError reports a live push-subscription failure. The engine does
// not retry on its own; re-subscription happens via Refresh, an argument
// change, or a fresh call site.
type SubscriptionError struct {
	Function string
	Err      error
}

func (e *SubscriptionError) Error() string {
	return "query: subscription " + e.Function + ": " + e.Err.Error()
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// MutationError reports a rejected mutation. Any optimistic patches applied
// for the mutation are rolled back before this error is returned, so
// observers never see the failed optimistic state after the caller does.
type MutationError struct {
	Function string
	Err      error
}

func (e *MutationError) Error() string {
	return "query: mutation " + e.Function + ": " + e.Err.Error()
}

func (e *MutationError) Unwrap() error { return e.Err }

// PaginationError reports a failed page load. Existing pages stay intact and
// the call site remains retryable, never falsely exhausted.
type PaginationError struct {
	Function string
	Err      error
}

func (e *PaginationError) Error() string {
	return "query: pagination " + e.Function + ": " + e.Err.Error()
}

func (e *PaginationError) Unwrap() error { return e.Err }

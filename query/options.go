package query

// Options configures one call site. The zero value is not the default;
// use DefaultOptions and override fields from there.
type Options struct {
	// Lazy, when true, marks the call site as non-blocking: the surrounding
	// navigation does not await first resolution. When false the framework
	// glue is expected to await Ready before completing navigation.
	Lazy bool

	// Server enables the SSR fetch path while server rendering. When false
	// the call site resolves on the client only.
	Server bool

	// Subscribe establishes a live push-subscription on the client. When
	// false, data only updates via an explicit Refresh.
	Subscribe bool

	// Public skips auth-token acquisition entirely. This is a performance
	// contract: the token provider is not invoked at all for public call
	// sites, not merely invoked and ignored.
	Public bool

	// Verbose emits diagnostic log events for state transitions, key changes
	// and dropped stale results.
	Verbose bool

	// Default produces a placeholder value shown before first resolution.
	// Placeholder data never changes the reported status: the call site stays
	// pending until authoritative data arrives.
	Default func() any
}

// DefaultOptions returns the canonical call-site configuration: blocking
// navigation, SSR fetch enabled, live subscription enabled.
func DefaultOptions() Options {
	return Options{
		Server:    true,
		Subscribe: true,
	}
}

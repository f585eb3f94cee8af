package cache

// KeySerializer builds a cache key from a function identifier + arbitrary args.
// It is responsible for producing stable keys across calls: structurally-equal
// arguments must always collide, and any nested difference must not.
type KeySerializer interface {
	SerializeKey(function string, args ...any) (string, error)
}

// SerializationError reports an argument value that cannot be deterministically
// serialized into a cache key (functions, channels, unmarshalable types).
// It is a programmer error: never retried and never caught by the engine.
type SerializationError struct {
	// Type is the Go type of the offending value.
	Type string

	cause error
}

// Error implements the error interface.
func (e *SerializationError) Error() string {
	if e.cause != nil {
		return "cache: cannot serialize value of type " + e.Type + ": " + e.cause.Error()
	}
	return "cache: cannot serialize value of type " + e.Type
}

// Unwrap exposes the underlying marshal error, when one exists.
func (e *SerializationError) Unwrap() error {
	return e.cause
}

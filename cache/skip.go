package cache

// SkipKey is the reserved no-op key produced when any argument is the skip
// sentinel. It is distinct from every key a real argument set can produce
// (real keys always start with the function identifier, never a "__" prefix).
const SkipKey = "__skip__"

type skipSentinel struct{}

// Skip is the reserved sentinel argument value meaning "do not fetch".
// Passing it in place of real arguments suspends fetching and subscribing
// entirely without erroring; the owning call site reports an idle status.
var Skip any = skipSentinel{}

// IsSkip reports whether v is the skip sentinel.
func IsSkip(v any) bool {
	_, ok := v.(skipSentinel)
	return ok
}

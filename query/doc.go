// Package query implements the call-site layer: reactive queries, paginated
// queries and mutations built on one shared subscription registry.
//
// An Engine is created per rendering context. Queries derived from it observe
// registry entries keyed by (function, arguments); call sites with equal keys
// share a single entry and a single live subscription. In server mode call
// sites fetch once and record results in a hydration payload; on the client
// the payload seeds the registry before live subscriptions attach, so
// server-rendered values appear on first render without a pending flash.
package query

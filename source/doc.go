// Package source defines the contract for external data sources and the
// rate-limiting, retrying wrapper applied to each of them.
//
// A source is anything that can asynchronously produce typed data for an
// entity key or fail with a classified error. The orchestrator never learns
// a source's wire protocol; it sees only the Client interface. Limited wraps
// a Client with per-source minimum call spacing and bounded retry with
// linear backoff, the two behaviors every unreliable external source needs.
package source

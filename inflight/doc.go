// Package inflight collapses concurrent duplicate requests. A registry of
// request fingerprints decides which caller owns the actual fetch; everyone
// else polls the cache for the owner's result.
package inflight

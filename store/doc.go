// Package store provides the durable key-value medium and the prefix-scoped,
// size-bounded TTL cache layered on top of it.
//
// The Store interface is the pluggable persistence seam: tests run against
// MemoryStore, production wires a real backend. TTLCache owns entry lifetime
// (expiry on read, oldest-first eviction past the size bound) and swallows
// medium failures - a broken cache degrades to misses, never to errors.
package store

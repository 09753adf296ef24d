// Package observe provides observability primitives for enrichment fetches.
//
// It is a pure instrumentation library: no fetching, no caching, no I/O
// beyond exporter setup. Consumers wire the Observer's tracer, meter, and
// logger into the enricher and its collaborators.
package observe

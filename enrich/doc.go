// Package enrich orchestrates fetching element data from multiple
// independent, unreliable external sources.
//
// One Fetch runs: cache lookup, dedup gate (concurrent duplicate requests
// collapse onto a single owner), concurrent fan-out to the requested source
// clients with a join barrier and a request deadline, merge of whatever
// subset succeeded, and a cache write. Partial success is success; total
// failure is a Result, never an error. The Scheduler drives the enricher
// over large element lists in bounded concurrency windows with cooldowns.
package enrich

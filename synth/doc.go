// Package synth generates deterministic substitute data for elements whose
// real source lookups are unavailable or exhausted. Synthesizing something
// cacheable beats leaving a hole that gets re-fetched on every call.
package synth

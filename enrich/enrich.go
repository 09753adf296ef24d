package enrich

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/periodica/enrich/element"
	"github.com/periodica/enrich/inflight"
	"github.com/periodica/enrich/observe"
	"github.com/periodica/enrich/source"
	"github.com/periodica/enrich/store"
	"github.com/periodica/enrich/synth"
)

// ErrAllSourcesFailed is returned inside Result.Errors semantics only; it is
// the error recorded on the fetch span when no source contributed.
var ErrAllSourcesFailed = errors.New("enrich: all requested sources failed")

// Result is the outcome of one enrichment fetch. Partial success is still
// success: the fetch fails only when every requested source failed.
type Result struct {
	// Success is true iff at least one source contributed data.
	Success bool

	// Merged holds each contributing source's data.
	Merged map[source.ID]source.Data

	// Errors collects one message per failed source, prefixed with the
	// source identifier. A source never appears both here and in Merged.
	Errors []string

	// Contributing lists the sources with data in Merged, sorted.
	Contributing []source.ID

	// Synthesized lists the contributing sources whose data came from the
	// fallback synthesizer rather than a live lookup, sorted.
	Synthesized []source.ID

	// FromCache is true when the result was served from the cache without
	// any source calls.
	FromCache bool

	// Elapsed is the wall time the fetch took.
	Elapsed time.Duration
}

// EnricherConfig configures the Enricher.
type EnricherConfig struct {
	// TTL is the cache entry lifetime for written results.
	// Default: 1 hour
	TTL time.Duration

	// RequestTimeout bounds the fan-out phase of one fetch. Sources that
	// have not completed by the deadline are treated as failed-by-timeout
	// for this fetch; their in-progress calls are not aborted.
	// Default: 10 seconds
	RequestTimeout time.Duration

	// PollInterval is how often a non-owner polls the cache while a
	// duplicate request is in flight.
	// Default: 50ms
	PollInterval time.Duration

	// PollBudget is how long a non-owner waits for the owner's result
	// before degrading to its own fetch.
	// Default: 2 seconds
	PollBudget time.Duration

	// Logger, Metrics, and Tracer default to no-ops.
	Logger  observe.Logger
	Metrics observe.Metrics
	Tracer  observe.Tracer

	// Sleep waits for the given duration or until the context is done.
	// Injectable for tests. Default: timer-based sleep.
	Sleep func(ctx context.Context, d time.Duration) error

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// Enricher fans a single logical request out to the requested source
// clients concurrently, merges whatever subset succeeded, and caches the
// merged result. Concurrent duplicate requests collapse onto one fetch via
// the in-flight registry.
type Enricher struct {
	cache    *store.TTLCache
	registry *inflight.Registry
	clients  map[source.ID]source.Client
	synth    *synth.Synthesizer // nil disables fallback synthesis
	config   EnricherConfig
}

// NewEnricher creates an enricher. synthesizer may be nil, in which case
// terminal source failures surface in Result.Errors instead of being
// replaced with synthetic data.
func NewEnricher(
	cache *store.TTLCache,
	registry *inflight.Registry,
	clients map[source.ID]source.Client,
	synthesizer *synth.Synthesizer,
	config EnricherConfig,
) *Enricher {
	// Apply defaults
	if config.TTL <= 0 {
		config.TTL = time.Hour
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 10 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 50 * time.Millisecond
	}
	if config.PollBudget <= 0 {
		config.PollBudget = 2 * time.Second
	}
	if config.Logger == nil {
		config.Logger = observe.NewNopLogger()
	}
	if config.Metrics == nil {
		config.Metrics = observe.NewNopMetrics()
	}
	if config.Tracer == nil {
		config.Tracer = observe.NewNopTracer()
	}
	if config.Sleep == nil {
		config.Sleep = sleepWithContext
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Enricher{
		cache:    cache,
		registry: registry,
		clients:  clients,
		synth:    synthesizer,
		config:   config,
	}
}

// Fetch enriches one element from the requested sources. Duplicate source
// IDs collapse to one request for that source. It never returns an error:
// total failure is reported as Result.Success == false with the collected
// error messages, which callers treat as "no enrichment available now".
func (e *Enricher) Fetch(ctx context.Context, el element.Element, sources []source.ID) Result {
	start := e.config.Now()
	sources = dedupeIDs(sources)
	meta := observe.FetchMeta{Entity: el.Key(), Sources: sourceStrings(sources)}

	ctx, span := e.config.Tracer.StartSpan(ctx, meta)

	result := e.fetch(ctx, el, sources)
	result.Elapsed = e.config.Now().Sub(start)

	var spanErr error
	if !result.Success {
		spanErr = ErrAllSourcesFailed
	}
	e.config.Tracer.EndSpan(span, spanErr)
	e.config.Metrics.RecordFetch(ctx, meta, result.Elapsed, result.FromCache, spanErr)

	logger := e.config.Logger.WithFetch(meta)
	fields := []observe.Field{
		{Key: "duration_ms", Value: float64(result.Elapsed.Milliseconds())},
		{Key: "from_cache", Value: result.FromCache},
		{Key: "contributing", Value: len(result.Contributing)},
	}
	if result.Success {
		logger.Info(ctx, "enrichment fetch completed", fields...)
	} else {
		fields = append(fields, observe.Field{Key: "errors", Value: strings.Join(result.Errors, "; ")})
		logger.Warn(ctx, "enrichment fetch failed for all sources", fields...)
	}

	return result
}

func (e *Enricher) fetch(ctx context.Context, el element.Element, sources []source.ID) Result {
	fingerprint := inflight.Fingerprint(el.Key(), sourceStrings(sources))

	// CacheLookup
	if result, ok := e.fromCache(ctx, fingerprint); ok {
		return result
	}

	// DedupGate
	if e.registry.TryClaim(fingerprint) {
		defer e.registry.Release(fingerprint)
		return e.fanOut(ctx, el, sources, fingerprint)
	}

	// Not the owner: wait for the owner's result to land in the cache.
	if result, ok := e.pollCache(ctx, fingerprint); ok {
		return result
	}

	// Poll budget elapsed. Degrade to our own fetch without claiming the
	// fingerprint: at most one redundant fan-out per stalled owner.
	e.config.Logger.Debug(ctx, "dedup wait budget elapsed, fetching anyway",
		observe.Field{Key: "fingerprint", Value: fingerprint})
	return e.fanOut(ctx, el, sources, fingerprint)
}

// fromCache returns the cached result for the fingerprint, if fresh.
func (e *Enricher) fromCache(ctx context.Context, fingerprint string) (Result, bool) {
	entry, ok := e.cache.Get(ctx, fingerprint)
	if !ok {
		return Result{}, false
	}

	var merged map[source.ID]source.Data
	if err := entry.Decode(&merged); err != nil {
		e.config.Logger.Warn(ctx, "cached result undecodable, refetching",
			observe.Field{Key: "fingerprint", Value: fingerprint},
			observe.Field{Key: "error", Value: err.Error()})
		e.cache.Delete(ctx, fingerprint)
		return Result{}, false
	}

	result := Result{
		Success:   true,
		Merged:    merged,
		FromCache: true,
	}
	for id, data := range merged {
		result.Contributing = append(result.Contributing, id)
		if data.Provenance == source.ProvenanceSynthetic {
			result.Synthesized = append(result.Synthesized, id)
		}
	}
	sortIDs(result.Contributing)
	sortIDs(result.Synthesized)
	return result, true
}

// pollCache waits for a concurrent owner's result, checking the cache every
// PollInterval until PollBudget elapses or the context is done.
func (e *Enricher) pollCache(ctx context.Context, fingerprint string) (Result, bool) {
	deadline := e.config.Now().Add(e.config.PollBudget)

	for e.config.Now().Before(deadline) {
		if err := e.config.Sleep(ctx, e.config.PollInterval); err != nil {
			return Result{}, false
		}
		if result, ok := e.fromCache(ctx, fingerprint); ok {
			return result, true
		}
	}
	return Result{}, false
}

type sourceOutcome struct {
	id          source.ID
	data        source.Data
	synthesized bool
	err         error
}

// fanOut issues one concurrent call per requested source, joins on all of
// them or the request deadline (whichever comes first), merges the
// successes, and writes the merged result to the cache when at least one
// source contributed.
func (e *Enricher) fanOut(ctx context.Context, el element.Element, sources []source.ID, fingerprint string) Result {
	fanCtx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	outcomes := make(chan sourceOutcome, len(sources))
	for _, id := range sources {
		go func(id source.ID) {
			outcomes <- e.fetchOne(fanCtx, el, id)
		}(id)
	}

	// Join barrier with give-up-waiting semantics: sources still running at
	// the deadline are treated as timed out for this fetch, but their calls
	// are not aborted and may still complete for their own bookkeeping.
	settled := make(map[source.ID]sourceOutcome, len(sources))
	for len(settled) < len(sources) {
		select {
		case out := <-outcomes:
			settled[out.id] = out
		case <-fanCtx.Done():
			for _, id := range sources {
				if _, ok := settled[id]; !ok {
					settled[id] = sourceOutcome{
						id:  id,
						err: source.NewError(id, source.KindTimeout, "request deadline elapsed"),
					}
				}
			}
		}
	}

	result := e.merge(sources, settled)

	// CacheWrite only on at least one contribution; errors are never cached.
	if result.Success {
		e.cache.Set(ctx, fingerprint, result.Merged, e.config.TTL, joinIDs(result.Contributing))
	}

	return result
}

// fetchOne resolves a single source: client call, then fallback synthesis
// when the client is absent or terminally failed and a synthesizer is
// configured.
func (e *Enricher) fetchOne(ctx context.Context, el element.Element, id source.ID) sourceOutcome {
	client, ok := e.clients[id]
	if !ok {
		// Structurally unavailable source
		if e.synth != nil {
			e.config.Logger.Debug(ctx, "no client for source, synthesizing",
				observe.Field{Key: "source", Value: string(id)},
				observe.Field{Key: "entity", Value: el.Key()})
			return sourceOutcome{id: id, data: e.synth.Synthesize(el, id), synthesized: true}
		}
		return sourceOutcome{id: id, err: source.NewError(id, source.KindNotFound, "no client configured")}
	}

	data, err := client.Fetch(ctx, el.Key())
	e.config.Metrics.RecordSourceCall(ctx, string(id), err)
	if err == nil {
		data.Source = id
		if data.Provenance == "" {
			data.Provenance = source.ProvenanceLive
		}
		return sourceOutcome{id: id, data: data}
	}

	if e.synth != nil {
		e.config.Logger.Warn(ctx, "source failed, synthesizing fallback",
			observe.Field{Key: "source", Value: string(id)},
			observe.Field{Key: "entity", Value: el.Key()},
			observe.Field{Key: "error", Value: err.Error()})
		return sourceOutcome{id: id, data: e.synth.Synthesize(el, id), synthesized: true}
	}

	return sourceOutcome{id: id, err: err}
}

// merge combines settled outcomes: success iff anyone contributed, one
// error message per failed source.
func (e *Enricher) merge(sources []source.ID, settled map[source.ID]sourceOutcome) Result {
	result := Result{
		Merged: make(map[source.ID]source.Data, len(settled)),
	}

	for _, id := range sources {
		out := settled[id]
		if out.err != nil {
			result.Errors = append(result.Errors, errorMessage(id, out.err))
			continue
		}
		result.Merged[id] = out.data
		result.Contributing = append(result.Contributing, id)
		if out.synthesized {
			result.Synthesized = append(result.Synthesized, id)
		}
	}

	result.Success = len(result.Contributing) > 0
	if !result.Success {
		result.Merged = nil
	}
	sortIDs(result.Contributing)
	sortIDs(result.Synthesized)
	sort.Strings(result.Errors)
	return result
}

// errorMessage formats one failed source for Result.Errors, always
// prefixed with the source identifier.
func errorMessage(id source.ID, err error) string {
	msg := err.Error()
	if strings.HasPrefix(msg, string(id)+":") {
		return msg
	}
	return fmt.Sprintf("%s: %s", id, msg)
}

// dedupeIDs drops repeated source IDs, keeping first-occurrence order. The
// fan-out join counts settled sources by ID, so duplicates must never reach
// it; they would also split the cache across fingerprints of the same
// logical request.
func dedupeIDs(ids []source.ID) []source.ID {
	seen := make(map[source.ID]struct{}, len(ids))
	out := make([]source.ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sourceStrings(ids []source.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func sortIDs(ids []source.ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func joinIDs(ids []source.ID) string {
	return strings.Join(sourceStrings(ids), ",")
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

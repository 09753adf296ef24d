package enrich

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/periodica/enrich/element"
	"github.com/periodica/enrich/inflight"
	"github.com/periodica/enrich/source"
	"github.com/periodica/enrich/store"
	"github.com/periodica/enrich/synth"
)

var iron = element.Element{
	Symbol: "Fe", Name: "Iron", AtomicNumber: 26,
	AtomicMass: 55.845, Category: element.CategoryTransitionMetal,
}

// countingClient is a scriptable source client that counts invocations.
type countingClient struct {
	id    source.ID
	calls atomic.Int64
	delay time.Duration
	err   error
	block bool // when true, Fetch blocks until the context is done
}

func (c *countingClient) ID() source.ID { return c.id }

func (c *countingClient) Fetch(ctx context.Context, key string) (source.Data, error) {
	c.calls.Add(1)

	if c.block {
		<-ctx.Done()
		return source.Data{}, source.WrapError(c.id, source.KindTimeout, ctx.Err())
	}
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return source.Data{}, source.WrapError(c.id, source.KindTimeout, ctx.Err())
		}
	}
	if c.err != nil {
		return source.Data{}, c.err
	}
	return source.Data{Summary: string(c.id) + " data for " + key}, nil
}

func newTestEnricher(clients map[source.ID]source.Client, synthesizer *synth.Synthesizer, config EnricherConfig) (*Enricher, *store.TTLCache) {
	cache := store.NewTTLCache(store.NewMemoryStore(), store.TTLCacheConfig{
		Prefix:     "test",
		MaxEntries: 64,
	})
	return NewEnricher(cache, inflight.NewRegistry(), clients, synthesizer, config), cache
}

func TestEnricher_PartialSuccess(t *testing.T) {
	good := &countingClient{id: "encyclopedia"}
	bad := &countingClient{id: "materials", err: source.NewError("materials", source.KindNotFound, "no record")}
	enricher, _ := newTestEnricher(map[source.ID]source.Client{
		"encyclopedia": good,
		"materials":    bad,
	}, nil, EnricherConfig{})

	result := enricher.Fetch(context.Background(), iron, []source.ID{"encyclopedia", "materials"})

	if !result.Success {
		t.Error("partial success is still success")
	}
	if len(result.Contributing) != 1 || result.Contributing[0] != "encyclopedia" {
		t.Errorf("Contributing = %v, want [encyclopedia]", result.Contributing)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Errors = %v, want exactly one", result.Errors)
	}
	if !strings.HasPrefix(result.Errors[0], "materials:") {
		t.Errorf("error %q should be prefixed with the failing source", result.Errors[0])
	}
	if result.FromCache {
		t.Error("first fetch cannot come from cache")
	}
	if _, ok := result.Merged["materials"]; ok {
		t.Error("failed source must not appear in Merged")
	}
}

func TestEnricher_TotalFailure(t *testing.T) {
	a := &countingClient{id: "encyclopedia", err: source.NewError("encyclopedia", source.KindNotFound, "gone")}
	b := &countingClient{id: "materials", err: source.NewError("materials", source.KindInvalid, "garbled")}
	enricher, cache := newTestEnricher(map[source.ID]source.Client{
		"encyclopedia": a,
		"materials":    b,
	}, nil, EnricherConfig{})
	ctx := context.Background()

	result := enricher.Fetch(ctx, iron, []source.ID{"encyclopedia", "materials"})

	if result.Success {
		t.Error("all sources failed, Success must be false")
	}
	if result.Merged != nil {
		t.Error("Merged must be nil on total failure")
	}
	if len(result.Errors) != 2 {
		t.Errorf("Errors = %v, want two entries", result.Errors)
	}

	// Failures are never cached
	if n := cache.Len(ctx); n != 0 {
		t.Errorf("cache entries after total failure = %d, want 0", n)
	}
}

func TestEnricher_CacheIdempotence(t *testing.T) {
	a := &countingClient{id: "encyclopedia"}
	b := &countingClient{id: "materials"}
	enricher, _ := newTestEnricher(map[source.ID]source.Client{
		"encyclopedia": a,
		"materials":    b,
	}, nil, EnricherConfig{TTL: time.Hour})
	ctx := context.Background()
	sources := []source.ID{"encyclopedia", "materials"}

	first := enricher.Fetch(ctx, iron, sources)
	if !first.Success || first.FromCache {
		t.Fatalf("first fetch: Success=%v FromCache=%v, want true/false", first.Success, first.FromCache)
	}

	second := enricher.Fetch(ctx, iron, sources)
	if !second.FromCache {
		t.Error("second fetch within TTL must be served from cache")
	}
	if !second.Success {
		t.Error("cached fetch is a success")
	}

	// Zero additional source calls
	if a.calls.Load() != 1 || b.calls.Load() != 1 {
		t.Errorf("source calls = (%d, %d), want (1, 1)", a.calls.Load(), b.calls.Load())
	}

	if len(second.Contributing) != 2 {
		t.Errorf("cached Contributing = %v, want both sources", second.Contributing)
	}
	if second.Merged["encyclopedia"].Summary != first.Merged["encyclopedia"].Summary {
		t.Error("cached data must round-trip")
	}
}

func TestEnricher_CacheWriteRecordsContributors(t *testing.T) {
	a := &countingClient{id: "encyclopedia"}
	enricher, cache := newTestEnricher(map[source.ID]source.Client{
		"encyclopedia": a,
	}, nil, EnricherConfig{})
	ctx := context.Background()

	enricher.Fetch(ctx, iron, []source.ID{"encyclopedia"})

	fp := inflight.Fingerprint(iron.Key(), []string{"encyclopedia"})
	entry, ok := cache.Get(ctx, fp)
	if !ok {
		t.Fatal("successful fetch must write a cache entry under the fingerprint")
	}
	if entry.Source != "encyclopedia" {
		t.Errorf("entry Source = %q, want contributing sources", entry.Source)
	}
}

func TestEnricher_DistinctSourceSetsDistinctCacheRows(t *testing.T) {
	a := &countingClient{id: "encyclopedia"}
	b := &countingClient{id: "materials"}
	enricher, _ := newTestEnricher(map[source.ID]source.Client{
		"encyclopedia": a,
		"materials":    b,
	}, nil, EnricherConfig{})
	ctx := context.Background()

	enricher.Fetch(ctx, iron, []source.ID{"encyclopedia"})
	result := enricher.Fetch(ctx, iron, []source.ID{"encyclopedia", "materials"})

	if result.FromCache {
		t.Error("a wider source set must not be served from the narrower set's cache row")
	}
}

func TestEnricher_Dedup(t *testing.T) {
	slow := &countingClient{id: "encyclopedia", delay: 40 * time.Millisecond}
	enricher, _ := newTestEnricher(map[source.ID]source.Client{
		"encyclopedia": slow,
	}, nil, EnricherConfig{
		PollInterval: 5 * time.Millisecond,
		PollBudget:   2 * time.Second,
	})
	ctx := context.Background()

	const concurrent = 4
	results := make([]Result, concurrent)
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = enricher.Fetch(ctx, iron, []source.ID{"encyclopedia"})
		}(i)
	}

	close(start)
	wg.Wait()

	// Exactly one underlying fan-out for K identical concurrent requests
	if got := slow.calls.Load(); got != 1 {
		t.Errorf("source calls = %d, want 1", got)
	}

	fromCache := 0
	for i, r := range results {
		if !r.Success {
			t.Errorf("request %d failed: %v", i, r.Errors)
		}
		if r.FromCache {
			fromCache++
		}
	}
	if fromCache != concurrent-1 {
		t.Errorf("cache-served requests = %d, want %d", fromCache, concurrent-1)
	}
}

func TestEnricher_DuplicateSourcesCollapse(t *testing.T) {
	client := &countingClient{id: "encyclopedia"}
	enricher, _ := newTestEnricher(map[source.ID]source.Client{
		"encyclopedia": client,
	}, nil, EnricherConfig{})
	ctx := context.Background()

	result := enricher.Fetch(ctx, iron, []source.ID{"encyclopedia", "encyclopedia"})

	if !result.Success {
		t.Fatalf("fetch failed: %v", result.Errors)
	}
	if len(result.Contributing) != 1 {
		t.Errorf("Contributing = %v, want the source once", result.Contributing)
	}
	if got := client.calls.Load(); got != 1 {
		t.Errorf("source calls = %d, want 1", got)
	}

	// Same logical request, same cache row
	second := enricher.Fetch(ctx, iron, []source.ID{"encyclopedia"})
	if !second.FromCache {
		t.Error("deduplicated request must share the cache row")
	}
}

func TestEnricher_DuplicateSourcesRespectDeadline(t *testing.T) {
	stuck := &countingClient{id: "encyclopedia", block: true}
	enricher, _ := newTestEnricher(map[source.ID]source.Client{
		"encyclopedia": stuck,
	}, nil, EnricherConfig{RequestTimeout: 50 * time.Millisecond})

	done := make(chan Result, 1)
	go func() {
		done <- enricher.Fetch(context.Background(), iron, []source.ID{"encyclopedia", "encyclopedia"})
	}()

	select {
	case result := <-done:
		if result.Success {
			t.Error("a stuck source fails the fetch")
		}
		if len(result.Errors) != 1 || !strings.HasPrefix(result.Errors[0], "encyclopedia:") {
			t.Errorf("Errors = %v, want one timeout message naming the source", result.Errors)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fetch with duplicate source IDs did not return after the request deadline")
	}
}

func TestEnricher_DegradedFanOutAfterPollBudget(t *testing.T) {
	client := &countingClient{id: "encyclopedia"}
	cache := store.NewTTLCache(store.NewMemoryStore(), store.TTLCacheConfig{
		Prefix:     "test",
		MaxEntries: 64,
	})
	registry := inflight.NewRegistry()
	enricher := NewEnricher(cache, registry, map[source.ID]source.Client{
		"encyclopedia": client,
	}, nil, EnricherConfig{
		PollInterval: time.Millisecond,
		PollBudget:   5 * time.Millisecond,
	})

	// A stalled owner holds the claim for the whole fetch and never
	// produces a cache entry.
	fp := inflight.Fingerprint(iron.Key(), []string{"encyclopedia"})
	if !registry.TryClaim(fp) {
		t.Fatal("claim setup failed")
	}

	result := enricher.Fetch(context.Background(), iron, []source.ID{"encyclopedia"})

	if !result.Success {
		t.Fatalf("waiter should degrade to its own fetch: %v", result.Errors)
	}
	if result.FromCache {
		t.Error("degraded fetch cannot come from cache")
	}
	if got := client.calls.Load(); got != 1 {
		t.Errorf("source calls = %d, want 1", got)
	}
	// The waiter fetched without claiming; the stalled owner still holds it
	if !registry.Active(fp) {
		t.Error("degraded fetch must not release the owner's claim")
	}
}

func TestEnricher_SynthFallbackOnFailure(t *testing.T) {
	good := &countingClient{id: "encyclopedia"}
	bad := &countingClient{id: "materials", err: source.NewError("materials", source.KindNotFound, "no record")}
	enricher, _ := newTestEnricher(map[source.ID]source.Client{
		"encyclopedia": good,
		"materials":    bad,
	}, synth.New(), EnricherConfig{})

	result := enricher.Fetch(context.Background(), iron, []source.ID{"encyclopedia", "materials"})

	if !result.Success {
		t.Fatal("fetch with synthesis should succeed")
	}
	if len(result.Contributing) != 2 {
		t.Errorf("Contributing = %v, want both sources", result.Contributing)
	}
	if len(result.Synthesized) != 1 || result.Synthesized[0] != "materials" {
		t.Errorf("Synthesized = %v, want [materials]", result.Synthesized)
	}
	if len(result.Errors) != 0 {
		t.Errorf("Errors = %v, synthesized sources are not failures", result.Errors)
	}
	if result.Merged["materials"].Provenance != source.ProvenanceSynthetic {
		t.Error("fallback data must carry synthetic provenance")
	}
	if result.Merged["encyclopedia"].Provenance != source.ProvenanceLive {
		t.Error("live data must carry live provenance")
	}
}

func TestEnricher_SynthForMissingClient(t *testing.T) {
	enricher, _ := newTestEnricher(map[source.ID]source.Client{}, synth.New(), EnricherConfig{})

	result := enricher.Fetch(context.Background(), iron, []source.ID{"materials"})

	if !result.Success {
		t.Fatal("structurally unavailable source should synthesize")
	}
	if len(result.Synthesized) != 1 {
		t.Errorf("Synthesized = %v, want [materials]", result.Synthesized)
	}
}

func TestEnricher_MissingClientNoSynth(t *testing.T) {
	enricher, _ := newTestEnricher(map[source.ID]source.Client{}, nil, EnricherConfig{})

	result := enricher.Fetch(context.Background(), iron, []source.ID{"materials"})

	if result.Success {
		t.Error("no client and no synthesizer means failure")
	}
	if len(result.Errors) != 1 || !strings.HasPrefix(result.Errors[0], "materials:") {
		t.Errorf("Errors = %v, want one message naming materials", result.Errors)
	}
}

func TestEnricher_RequestTimeout(t *testing.T) {
	stuck := &countingClient{id: "encyclopedia", block: true}
	enricher, _ := newTestEnricher(map[source.ID]source.Client{
		"encyclopedia": stuck,
	}, nil, EnricherConfig{RequestTimeout: 40 * time.Millisecond})

	start := time.Now()
	result := enricher.Fetch(context.Background(), iron, []source.ID{"encyclopedia"})
	elapsed := time.Since(start)

	if result.Success {
		t.Error("a source stuck past the deadline fails the fetch")
	}
	if len(result.Errors) != 1 || !strings.HasPrefix(result.Errors[0], "encyclopedia:") {
		t.Errorf("Errors = %v, want one timeout message naming the source", result.Errors)
	}
	if elapsed > time.Second {
		t.Errorf("fetch took %v, deadline should have cut it off", elapsed)
	}
}

func TestEnricher_TimeoutIsPartial(t *testing.T) {
	fast := &countingClient{id: "encyclopedia"}
	stuck := &countingClient{id: "materials", block: true}
	enricher, _ := newTestEnricher(map[source.ID]source.Client{
		"encyclopedia": fast,
		"materials":    stuck,
	}, nil, EnricherConfig{RequestTimeout: 40 * time.Millisecond})

	result := enricher.Fetch(context.Background(), iron, []source.ID{"encyclopedia", "materials"})

	if !result.Success {
		t.Error("one source finishing before the deadline is a success")
	}
	if len(result.Contributing) != 1 || result.Contributing[0] != "encyclopedia" {
		t.Errorf("Contributing = %v, want [encyclopedia]", result.Contributing)
	}
	if len(result.Errors) != 1 || !strings.HasPrefix(result.Errors[0], "materials:") {
		t.Errorf("Errors = %v, want one message naming materials", result.Errors)
	}
}

func TestEnricher_ElapsedRecorded(t *testing.T) {
	a := &countingClient{id: "encyclopedia", delay: 10 * time.Millisecond}
	enricher, _ := newTestEnricher(map[source.ID]source.Client{"encyclopedia": a}, nil, EnricherConfig{})

	result := enricher.Fetch(context.Background(), iron, []source.ID{"encyclopedia"})

	if result.Elapsed < 10*time.Millisecond {
		t.Errorf("Elapsed = %v, want at least the source delay", result.Elapsed)
	}
}

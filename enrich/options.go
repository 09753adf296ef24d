package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/periodica/enrich/inflight"
	"github.com/periodica/enrich/observe"
	"github.com/periodica/enrich/source"
	"github.com/periodica/enrich/store"
	"github.com/periodica/enrich/synth"
)

// Options is the process-level configuration surface for the orchestrator.
// Values load from the environment; zero construction gives the documented
// defaults.
type Options struct {
	// TTL is the cache entry lifetime from write time.
	TTL time.Duration `env:"ENRICH_CACHE_TTL" envDefault:"1h"`

	// MaxEntries is the entry-count ceiling per cache prefix.
	MaxEntries int `env:"ENRICH_CACHE_MAX_ENTRIES" envDefault:"256"`

	// Prefix namespaces this orchestrator's cache keys.
	Prefix string `env:"ENRICH_CACHE_PREFIX" envDefault:"enrich"`

	// PerSourceMinInterval is the minimum spacing between calls to one
	// source client.
	PerSourceMinInterval time.Duration `env:"ENRICH_SOURCE_MIN_INTERVAL" envDefault:"100ms"`

	// MaxRetries is the retry ceiling before a source call is terminal.
	// -1 disables retries.
	MaxRetries int `env:"ENRICH_SOURCE_MAX_RETRIES" envDefault:"2"`

	// BackoffBase scales retry delays: attempt n waits BackoffBase*(n+1).
	BackoffBase time.Duration `env:"ENRICH_SOURCE_BACKOFF_BASE" envDefault:"200ms"`

	// RequestTimeout is the per-fetch deadline for the fan-out phase.
	RequestTimeout time.Duration `env:"ENRICH_REQUEST_TIMEOUT" envDefault:"10s"`

	// PollInterval is the non-owner cache poll spacing during dedup waits.
	PollInterval time.Duration `env:"ENRICH_POLL_INTERVAL" envDefault:"50ms"`

	// PollBudget bounds how long a non-owner waits on a duplicate request.
	PollBudget time.Duration `env:"ENRICH_POLL_BUDGET" envDefault:"2s"`

	// BatchWindowSize is the number of concurrent elements per batch window.
	BatchWindowSize int `env:"ENRICH_BATCH_WINDOW_SIZE" envDefault:"5"`

	// BatchCooldown is the pause between batch windows.
	BatchCooldown time.Duration `env:"ENRICH_BATCH_COOLDOWN" envDefault:"1s"`
}

// OptionsFromEnv loads Options from the environment, applying defaults for
// unset variables.
func OptionsFromEnv() (Options, error) {
	var opts Options
	if err := env.Parse(&opts); err != nil {
		return Options{}, fmt.Errorf("enrich: parse env: %w", err)
	}
	return opts, nil
}

// Limit wraps each client with the options' per-source rate limit and retry
// policy, wiring retry attempts into metrics. The returned map is keyed by
// source ID, ready for NewEnricher.
func Limit(clients []source.Client, opts Options, metrics observe.Metrics) map[source.ID]source.Client {
	if metrics == nil {
		metrics = observe.NewNopMetrics()
	}

	limited := make(map[source.ID]source.Client, len(clients))
	for _, client := range clients {
		id := client.ID()
		limited[id] = source.NewLimited(client, source.LimitedConfig{
			MinInterval: opts.PerSourceMinInterval,
			MaxRetries:  opts.MaxRetries,
			BackoffBase: opts.BackoffBase,
			OnRetry: func(attempt int, err error, delay time.Duration) {
				metrics.RecordSourceRetry(context.Background(), string(id))
			},
		})
	}
	return limited
}

// New assembles the full orchestrator from options: cache over the given
// medium, in-flight registry, rate-limited clients, enricher, and batch
// scheduler. synthesizer may be nil to disable fallback synthesis; obs may
// be nil for no telemetry.
func New(
	medium store.Store,
	clients []source.Client,
	synthesizer *synth.Synthesizer,
	obs observe.Observer,
	opts Options,
) (*Enricher, *Scheduler, error) {
	if medium == nil {
		return nil, nil, store.ErrNilStore
	}

	logger := observe.NewNopLogger()
	metrics := observe.NewNopMetrics()
	tracer := observe.NewNopTracer()
	if obs != nil {
		logger = obs.Logger()
		tracer = observe.NewTracer(obs.Tracer())
		m, err := observe.NewMetrics(obs.Meter())
		if err != nil {
			return nil, nil, fmt.Errorf("enrich: create metrics: %w", err)
		}
		metrics = m
	}

	cache := store.NewTTLCache(medium, store.TTLCacheConfig{
		Prefix:     opts.Prefix,
		DefaultTTL: opts.TTL,
		MaxEntries: opts.MaxEntries,
		Logger:     logger,
	})

	enricher := NewEnricher(cache, inflight.NewRegistry(), Limit(clients, opts, metrics), synthesizer, EnricherConfig{
		TTL:            opts.TTL,
		RequestTimeout: opts.RequestTimeout,
		PollInterval:   opts.PollInterval,
		PollBudget:     opts.PollBudget,
		Logger:         logger,
		Metrics:        metrics,
		Tracer:         tracer,
	})

	scheduler := NewScheduler(enricher, SchedulerConfig{
		WindowSize: opts.BatchWindowSize,
		Cooldown:   opts.BatchCooldown,
		Logger:     logger,
	})

	return enricher, scheduler, nil
}

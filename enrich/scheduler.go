package enrich

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/periodica/enrich/element"
	"github.com/periodica/enrich/observe"
	"github.com/periodica/enrich/source"
)

// SchedulerConfig configures the batch scheduler.
type SchedulerConfig struct {
	// WindowSize is the number of elements fetched concurrently per window.
	// Default: 5
	WindowSize int

	// Cooldown is the pause between windows. Spreads load over time on top
	// of each source's own rate limit.
	// Default: 1 second
	Cooldown time.Duration

	// Logger defaults to a no-op.
	Logger observe.Logger

	// Sleep waits for the given duration or until the context is done.
	// Injectable for tests. Default: timer-based sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Scheduler drives the enricher over large element lists in fixed-size
// concurrency windows: each window's fetches run concurrently, the whole
// window is awaited before the next starts, and a cooldown separates
// windows. This caps simultaneous outstanding external calls independently
// of the per-source rate limits.
type Scheduler struct {
	enricher *Enricher
	config   SchedulerConfig
}

// NewScheduler creates a batch scheduler over the given enricher.
func NewScheduler(enricher *Enricher, config SchedulerConfig) *Scheduler {
	// Apply defaults
	if config.WindowSize <= 0 {
		config.WindowSize = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = time.Second
	}
	if config.Logger == nil {
		config.Logger = observe.NewNopLogger()
	}
	if config.Sleep == nil {
		config.Sleep = sleepWithContext
	}

	return &Scheduler{enricher: enricher, config: config}
}

// Run enriches every element from the requested sources and returns the
// per-element results keyed by element key. Invalid elements are skipped.
// On context cancellation the results gathered so far are returned along
// with the context error.
func (s *Scheduler) Run(ctx context.Context, elements []element.Element, sources []source.ID) (map[string]Result, error) {
	results := make(map[string]Result, len(elements))
	var mu sync.Mutex

	windows := 0
	for start := 0; start < len(elements); start += s.config.WindowSize {
		if windows > 0 {
			if err := s.config.Sleep(ctx, s.config.Cooldown); err != nil {
				return results, err
			}
		}
		windows++

		end := start + s.config.WindowSize
		if end > len(elements) {
			end = len(elements)
		}
		window := elements[start:end]

		s.config.Logger.Debug(ctx, "starting batch window",
			observe.Field{Key: "window", Value: windows},
			observe.Field{Key: "size", Value: len(window)})

		g, gctx := errgroup.WithContext(ctx)
		for _, el := range window {
			if !el.Valid() {
				s.config.Logger.Warn(ctx, "skipping invalid element",
					observe.Field{Key: "symbol", Value: el.Symbol})
				continue
			}
			g.Go(func() error {
				result := s.enricher.Fetch(gctx, el, sources)
				mu.Lock()
				results[el.Key()] = result
				mu.Unlock()
				return gctx.Err()
			})
		}
		if err := g.Wait(); err != nil {
			return results, err
		}
	}

	s.config.Logger.Info(ctx, "batch run completed",
		observe.Field{Key: "elements", Value: len(elements)},
		observe.Field{Key: "windows", Value: windows})

	return results, nil
}

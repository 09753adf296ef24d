package source

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LimitedConfig configures rate limiting and retry for a wrapped client.
type LimitedConfig struct {
	// MinInterval is the minimum spacing between dispatched calls to the
	// wrapped source. The limit is per client, not global: each source has
	// its own budget.
	// Default: 100ms
	MinInterval time.Duration

	// MaxRetries is the retry ceiling for retryable failures. The wrapped
	// source is called at most MaxRetries+1 times per Fetch. Set -1 to
	// disable retries entirely.
	// Default: 2
	MaxRetries int

	// BackoffBase scales the retry delay: attempt n waits BackoffBase*(n+1).
	// Default: 200ms
	BackoffBase time.Duration

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration)

	// Sleep waits for the given duration or until the context is done.
	// Injectable so retry and rate-limit timing is testable without
	// wall-clock waits. Default: timer-based sleep.
	Sleep func(ctx context.Context, d time.Duration) error

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// Limited wraps a Client with per-client minimum call spacing and bounded
// retry with linear backoff. Permanent failures (not-found, invalid data)
// fail immediately; rate-limited and transient failures are retried until
// MaxRetries is exhausted, at which point the last classified error
// surfaces wrapped in a terminal error.
type Limited struct {
	client Client
	config LimitedConfig

	mu           sync.Mutex
	lastDispatch time.Time
}

// NewLimited wraps client with rate limiting and retry.
func NewLimited(client Client, config LimitedConfig) *Limited {
	// Apply defaults
	if config.MinInterval <= 0 {
		config.MinInterval = 100 * time.Millisecond
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	} else if config.MaxRetries == 0 {
		config.MaxRetries = 2
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 200 * time.Millisecond
	}
	if config.Sleep == nil {
		config.Sleep = sleepWithContext
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Limited{client: client, config: config}
}

// ID returns the wrapped source's identifier.
func (l *Limited) ID() ID {
	return l.client.ID()
}

// Config returns the limiter configuration.
func (l *Limited) Config() LimitedConfig {
	return l.config
}

// Fetch calls the wrapped source, spacing dispatches at least MinInterval
// apart and retrying retryable failures with linear backoff.
func (l *Limited) Fetch(ctx context.Context, key string) (Data, error) {
	var lastErr error

	for attempt := 0; attempt <= l.config.MaxRetries; attempt++ {
		if err := l.waitTurn(ctx); err != nil {
			return Data{}, err
		}

		data, err := l.client.Fetch(ctx, key)
		if err == nil {
			return data, nil
		}

		lastErr = err

		// Permanent failures are terminal for the attempt
		if !Retryable(err) {
			return Data{}, err
		}

		if attempt >= l.config.MaxRetries {
			break
		}

		delay := l.config.BackoffBase * time.Duration(attempt+1)

		if l.config.OnRetry != nil {
			l.config.OnRetry(attempt+1, err, delay)
		}

		if err := l.config.Sleep(ctx, delay); err != nil {
			return Data{}, err
		}
	}

	return Data{}, fmt.Errorf("%s: retries exhausted after %d attempts: %w",
		l.ID(), l.config.MaxRetries+1, lastErr)
}

// waitTurn blocks until at least MinInterval has elapsed since this
// client's last dispatched call, then claims the dispatch slot.
func (l *Limited) waitTurn(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.config.Now()
		if l.lastDispatch.IsZero() || !now.Before(l.lastDispatch.Add(l.config.MinInterval)) {
			l.lastDispatch = now
			l.mu.Unlock()
			return nil
		}
		wait := l.lastDispatch.Add(l.config.MinInterval).Sub(now)
		l.mu.Unlock()

		// Re-check after sleeping; a concurrent caller may have claimed
		// the slot in the meantime.
		if err := l.config.Sleep(ctx, wait); err != nil {
			return err
		}
	}
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

// Ensure Limited implements Client
var _ Client = (*Limited)(nil)

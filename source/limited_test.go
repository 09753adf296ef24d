package source

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock drives Limited without wall-clock waits: Sleep advances the
// clock instead of blocking.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// recordingClient records the fake-clock time of each dispatch and replays
// a scripted sequence of errors before succeeding.
type recordingClient struct {
	mu         sync.Mutex
	clock      *fakeClock
	dispatches []time.Time
	script     []error // consumed one per call; nil means success
	data       Data
}

func (c *recordingClient) ID() ID { return "scripted" }

func (c *recordingClient) Fetch(ctx context.Context, key string) (Data, error) {
	c.mu.Lock()
	c.dispatches = append(c.dispatches, c.clock.Now())
	var err error
	if len(c.script) > 0 {
		err = c.script[0]
		c.script = c.script[1:]
	}
	c.mu.Unlock()

	if err != nil {
		return Data{}, err
	}
	return c.data, nil
}

func (c *recordingClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dispatches)
}

func TestLimited_MinIntervalSpacing(t *testing.T) {
	clock := newFakeClock()
	client := &recordingClient{clock: clock, data: Data{Summary: "ok"}}
	limited := NewLimited(client, LimitedConfig{
		MinInterval: 100 * time.Millisecond,
		Sleep:       clock.Sleep,
		Now:         clock.Now,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := limited.Fetch(ctx, "H"); err != nil {
			t.Fatalf("Fetch %d failed: %v", i, err)
		}
	}

	client.mu.Lock()
	dispatches := client.dispatches
	client.mu.Unlock()

	if len(dispatches) != 3 {
		t.Fatalf("dispatches = %d, want 3", len(dispatches))
	}
	for i := 1; i < len(dispatches); i++ {
		gap := dispatches[i].Sub(dispatches[i-1])
		if gap < 100*time.Millisecond {
			t.Errorf("gap between dispatch %d and %d = %v, want >= 100ms", i-1, i, gap)
		}
	}
}

func TestLimited_RetryBound(t *testing.T) {
	clock := newFakeClock()
	// Always fails with a retryable error
	client := &recordingClient{clock: clock, script: []error{
		NewError("scripted", KindTransient, "down"),
		NewError("scripted", KindTransient, "down"),
		NewError("scripted", KindTransient, "down"),
		NewError("scripted", KindTransient, "down"),
	}}
	limited := NewLimited(client, LimitedConfig{
		MinInterval: time.Nanosecond,
		MaxRetries:  2,
		BackoffBase: 200 * time.Millisecond,
		Sleep:       clock.Sleep,
		Now:         clock.Now,
	})

	_, err := limited.Fetch(context.Background(), "H")
	if err == nil {
		t.Fatal("Fetch should fail after exhausting retries")
	}

	// MaxRetries+1 calls, then terminal
	if got := client.calls(); got != 3 {
		t.Errorf("calls = %d, want 3 (MaxRetries+1)", got)
	}

	// Terminal error still carries the classification
	var se *Error
	if !errors.As(err, &se) {
		t.Fatal("terminal error should wrap the classified source error")
	}
	if se.Kind != KindTransient {
		t.Errorf("terminal Kind = %v, want transient", se.Kind)
	}
}

func TestLimited_RetriesDisabled(t *testing.T) {
	clock := newFakeClock()
	client := &recordingClient{clock: clock, script: []error{
		NewError("scripted", KindTransient, "down"),
	}}
	limited := NewLimited(client, LimitedConfig{
		MinInterval: time.Nanosecond,
		MaxRetries:  -1,
		Sleep:       clock.Sleep,
		Now:         clock.Now,
	})

	_, err := limited.Fetch(context.Background(), "H")
	if err == nil {
		t.Fatal("Fetch should fail without retrying")
	}

	// -1 means exactly one call, even for a retryable failure
	if got := client.calls(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestLimited_LinearBackoff(t *testing.T) {
	clock := newFakeClock()
	client := &recordingClient{clock: clock, script: []error{
		NewError("scripted", KindRateLimited, "429"),
		NewError("scripted", KindRateLimited, "429"),
		nil,
	}}

	var retryDelays []time.Duration
	limited := NewLimited(client, LimitedConfig{
		MinInterval: time.Nanosecond,
		MaxRetries:  3,
		BackoffBase: 200 * time.Millisecond,
		Sleep:       clock.Sleep,
		Now:         clock.Now,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			retryDelays = append(retryDelays, delay)
		},
	})

	if _, err := limited.Fetch(context.Background(), "H"); err != nil {
		t.Fatalf("Fetch should eventually succeed, got: %v", err)
	}

	// base*(attempt+1): 200ms then 400ms
	want := []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}
	if len(retryDelays) != len(want) {
		t.Fatalf("retry delays = %v, want %v", retryDelays, want)
	}
	for i := range want {
		if retryDelays[i] != want[i] {
			t.Errorf("delay %d = %v, want %v", i, retryDelays[i], want[i])
		}
	}
}

func TestLimited_PermanentFailureNoRetry(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
	}{
		{"not found", KindNotFound},
		{"invalid data", KindInvalid},
		{"timeout", KindTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			client := &recordingClient{clock: clock, script: []error{
				NewError("scripted", tt.kind, "terminal"),
			}}
			limited := NewLimited(client, LimitedConfig{
				MinInterval: time.Nanosecond,
				MaxRetries:  5,
				Sleep:       clock.Sleep,
				Now:         clock.Now,
			})

			_, err := limited.Fetch(context.Background(), "H")
			if err == nil {
				t.Fatal("Fetch should fail")
			}
			if got := client.calls(); got != 1 {
				t.Errorf("calls = %d, want 1 (no retry on permanent failure)", got)
			}

			kind, ok := KindOf(err)
			if !ok || kind != tt.kind {
				t.Errorf("error kind = (%v, %v), want (%v, true)", kind, ok, tt.kind)
			}
		})
	}
}

func TestLimited_ContextCancelled(t *testing.T) {
	clock := newFakeClock()
	client := &recordingClient{clock: clock, script: []error{
		NewError("scripted", KindTransient, "down"),
	}}
	limited := NewLimited(client, LimitedConfig{
		MinInterval: time.Nanosecond,
		MaxRetries:  5,
		Sleep:       clock.Sleep,
		Now:         clock.Now,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := limited.Fetch(ctx, "H")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Fetch on cancelled context = %v, want context.Canceled", err)
	}
}

func TestLimited_PreservesClientID(t *testing.T) {
	clock := newFakeClock()
	client := &recordingClient{clock: clock}
	limited := NewLimited(client, LimitedConfig{Sleep: clock.Sleep, Now: clock.Now})

	if limited.ID() != "scripted" {
		t.Errorf("ID() = %q, want %q", limited.ID(), "scripted")
	}
}

func TestClientFunc(t *testing.T) {
	c := NewClientFunc("enc", func(ctx context.Context, key string) (Data, error) {
		return Data{Summary: "about " + key}, nil
	})

	if c.ID() != "enc" {
		t.Errorf("ID() = %q, want enc", c.ID())
	}
	data, err := c.Fetch(context.Background(), "H")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if data.Summary != "about H" {
		t.Errorf("Summary = %q", data.Summary)
	}
}

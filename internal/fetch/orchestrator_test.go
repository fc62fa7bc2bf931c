package fetch

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"viralwatch/internal/config"
	"viralwatch/pkg/logx"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	fn    func(attempt int) ([]Item, error)
}

func (f *fakeFetcher) FetchLatest(ctx context.Context, username string, limit int) ([]Item, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	return f.fn(n)
}

func fastSettings() config.FetchSettings {
	return config.FetchSettings{
		MaxConcurrent:  2,
		MaxRetries:     3,
		AttemptTimeout: time.Second,
		RetryBase:      time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	}
}

func TestFetchSucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{fn: func(int) ([]Item, error) {
		return []Item{{ID: "a1", Views: 10}}, nil
	}}
	o := NewOrchestrator(f, fastSettings(), logx.Nop())

	items, attempts, err := o.Fetch(context.Background(), "alice", 5)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
	if len(items) != 1 || items[0].ID != "a1" {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestFetchRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{fn: func(attempt int) ([]Item, error) {
		if attempt < 3 {
			return nil, Transient(errors.New("flaky"))
		}
		return []Item{{ID: "a1"}}, nil
	}}
	o := NewOrchestrator(f, fastSettings(), logx.Nop())

	_, attempts, err := o.Fetch(context.Background(), "alice", 5)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestFetchExhaustsRetries(t *testing.T) {
	t.Parallel()

	base := errors.New("slow upstream")
	f := &fakeFetcher{fn: func(int) ([]Item, error) {
		return nil, Timeout(base)
	}}
	o := NewOrchestrator(f, fastSettings(), logx.Nop())

	_, attempts, err := o.Fetch(context.Background(), "alice", 5)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if !errors.Is(err, base) {
		t.Fatalf("error %v does not wrap the underlying cause", err)
	}
	if KindOf(err) != KindTimeout {
		t.Fatalf("KindOf = %v, want KindTimeout", KindOf(err))
	}
}

func TestFetchNonRetryableShortCircuits(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{fn: func(int) ([]Item, error) {
		return nil, NotFound(errors.New("gone"))
	}}
	o := NewOrchestrator(f, fastSettings(), logx.Nop())

	_, attempts, err := o.Fetch(context.Background(), "alice", 5)
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 for non-retryable failure", attempts)
	}
	if f.calls != 1 {
		t.Fatalf("fetcher called %d times, want 1", f.calls)
	}
}

func TestFetchStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeFetcher{fn: func(int) ([]Item, error) {
		cancel()
		return nil, Transient(errors.New("flaky"))
	}}
	cfg := fastSettings()
	cfg.RetryBase = time.Minute
	o := NewOrchestrator(f, cfg, logx.Nop())

	_, _, err := o.Fetch(ctx, "alice", 5)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if f.calls != 1 {
		t.Fatalf("fetcher called %d times, want 1", f.calls)
	}
}

func TestFetchAttemptTimeoutClassifiedAsTimeout(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{fn: func(int) ([]Item, error) {
		return nil, context.DeadlineExceeded
	}}
	cfg := fastSettings()
	cfg.MaxRetries = 1
	o := NewOrchestrator(f, cfg, logx.Nop())

	_, _, err := o.Fetch(context.Background(), "alice", 5)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := KindOf(err); got != KindTimeout {
		t.Fatalf("KindOf = %v, want KindTimeout", got)
	}
	if got := KindOf(err).String(); got != "Timeout" {
		t.Fatalf("kind string = %q, want Timeout", got)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	t.Parallel()

	cfg := fastSettings()
	cfg.MaxConcurrent = 2
	o := NewOrchestrator(&fakeFetcher{fn: func(int) ([]Item, error) { return nil, nil }}, cfg, logx.Nop())

	var inFlight, peak atomic.Int32
	usernames := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	o.Run(context.Background(), usernames, 4, func(ctx context.Context, username string) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
	})

	if p := peak.Load(); p > 2 {
		t.Fatalf("peak in-flight = %d, want <= 2", p)
	}
}

func TestRunProcessesEveryUsernameOnce(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator(&fakeFetcher{fn: func(int) ([]Item, error) { return nil, nil }}, fastSettings(), logx.Nop())

	var mu sync.Mutex
	seen := map[string]int{}
	usernames := []string{"a", "b", "c", "d", "e"}

	o.Run(context.Background(), usernames, 2, func(ctx context.Context, username string) {
		mu.Lock()
		seen[username]++
		mu.Unlock()
	})

	if len(seen) != len(usernames) {
		t.Fatalf("processed %d usernames, want %d", len(seen), len(usernames))
	}
	for u, n := range seen {
		if n != 1 {
			t.Fatalf("username %q processed %d times", u, n)
		}
	}
}

func TestRunStopsWhenContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	o := NewOrchestrator(&fakeFetcher{fn: func(int) ([]Item, error) { return nil, nil }}, fastSettings(), logx.Nop())

	var processed atomic.Int32
	usernames := make([]string, 50)
	for i := range usernames {
		usernames[i] = "u" + string(rune('a'+i%26))
	}

	o.Run(ctx, usernames, 1, func(ctx context.Context, username string) {
		if processed.Add(1) == 3 {
			cancel()
		}
	})

	if n := processed.Load(); n >= 50 {
		t.Fatalf("processed %d usernames, expected early stop", n)
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	t.Parallel()

	base := 10 * time.Millisecond
	max := 80 * time.Millisecond
	rng := rand.New(rand.NewSource(1))

	prev := time.Duration(0)
	for attempt := 1; attempt <= 6; attempt++ {
		d := backoffDelay(base, max, attempt, rng)
		if d > time.Duration(float64(max)*1.2) {
			t.Fatalf("attempt %d: delay %v exceeds jittered cap", attempt, d)
		}
		if attempt <= 3 && d < prev/4 {
			t.Fatalf("attempt %d: delay %v shrank unexpectedly from %v", attempt, d, prev)
		}
		prev = d
	}
}

package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"viralwatch/internal/config"
	"viralwatch/pkg/logx"
)

// Orchestrator invokes the Fetcher with bounded concurrency, a retry policy,
// and pacing between dispatches so a cycle never bursts against the remote
// source.
type Orchestrator struct {
	fetcher Fetcher
	cfg     config.FetchSettings
	log     logx.Logger
	pacer   *rate.Limiter
}

func NewOrchestrator(fetcher Fetcher, cfg config.FetchSettings, log logx.Logger) *Orchestrator {
	pacer := rate.NewLimiter(rate.Inf, 1)
	if cfg.PerFetchDelay > 0 {
		pacer = rate.NewLimiter(rate.Every(cfg.PerFetchDelay), 1)
	}
	return &Orchestrator{fetcher: fetcher, cfg: cfg, log: log, pacer: pacer}
}

// Run drains usernames through a fixed worker pool, invoking process for
// each. workers is clamped to [1, MaxConcurrent]; the governor may pass a
// reduced value for a cycle. Run returns when all work is processed or ctx
// is canceled; in-flight calls finish on their own attempt timeouts.
func (o *Orchestrator) Run(ctx context.Context, usernames []string, workers int, process func(ctx context.Context, username string)) {
	if len(usernames) == 0 {
		return
	}
	if workers > o.cfg.MaxConcurrent {
		workers = o.cfg.MaxConcurrent
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(usernames) {
		workers = len(usernames)
	}

	queue := make(chan string, len(usernames))
	for _, u := range usernames {
		queue <- u
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case username, ok := <-queue:
					if !ok {
						return
					}
					// Pace dispatches globally across workers.
					if err := o.pacer.Wait(ctx); err != nil {
						return
					}
					process(ctx, username)
				}
			}
		}()
	}
	wg.Wait()
}

// Fetch runs the per-account retry loop: up to MaxRetries attempts, each
// bounded by AttemptTimeout, with jittered exponential backoff in between.
// Non-retryable failures short-circuit. Returns the attempt count alongside
// the result so callers can log it.
func (o *Orchestrator) Fetch(ctx context.Context, username string, limit int) ([]Item, int, error) {
	maxAttempts := o.cfg.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		actx := ctx
		var cancel context.CancelFunc
		if o.cfg.AttemptTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, o.cfg.AttemptTimeout)
		}
		items, err := o.fetcher.FetchLatest(actx, username, limit)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return items, attempt, nil
		}
		// A parent-context cancellation is shutdown, not a fetch failure.
		if ctx.Err() != nil {
			return nil, attempt, ctx.Err()
		}
		lastErr = err
		if !Retryable(err) {
			o.log.Debug("fetch not retryable", logx.String("account", username), logx.String("kind", KindOf(err).String()))
			return nil, attempt, err
		}
		if attempt >= maxAttempts {
			break
		}

		delay := backoffDelay(o.cfg.RetryBase, o.cfg.RetryMaxDelay, attempt, rng)
		o.log.Debug("fetch retry scheduled",
			logx.String("account", username),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", delay),
			logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return nil, attempt, ctx.Err()
		case <-tmr.C:
		}
	}
	return nil, maxAttempts, lastErr
}

// backoffDelay doubles base per prior attempt, capped at maxDelay, with
// 20% jitter to avoid synchronized retries.
func backoffDelay(base, maxDelay time.Duration, attempt int, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 15 * time.Second
	}

	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > maxDelay {
			d = maxDelay
			break
		}
	}
	if rng != nil {
		r := (rng.Float64()*2 - 1) * 0.2
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

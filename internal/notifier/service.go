package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"viralwatch/internal/detect"
	"viralwatch/internal/eventbus"
	rtsup "viralwatch/internal/runtime/supervisor"
	"viralwatch/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type job struct {
	text string
	// dedup identifies the (account, item) an alert is about; empty for
	// lifecycle notes, which are never deduped.
	dedup   string
	account string
	itemID  string
}

// Service is the async alert pipeline: queue + workers + rate limit +
// retry + dedup. Safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender
	rec    Recorder
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup
	queue     chan job
	sup       *rtsup.Supervisor
	stopDone  chan struct{} // non-nil while stopping

	// dedup cache: key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender Sender, rec Recorder, bus eventbus.Bus, log logx.Logger) *Service {
	s := &Service{
		log:    log,
		sender: sender,
		rec:    rec,
		bus:    bus,
		dedup:  map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2048
	}

	s.cfg = cfg
	// Burst equals the per-second rate so short spikes don't stall workers.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start is idempotent. A disabled service starts nothing.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))),
		// Alert delivery is best-effort; failures never stop the monitor.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.Go0("worker", func(c context.Context) {
			s.workerLoop(c, q)
		})
	}
}

// Stop blocks intake and drains the queue best-effort until ctx's deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.sendWG.Wait()
		close(q)
		if sup != nil {
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}

// Alert enqueues a viral event. The bool reports whether the alert was
// accepted for delivery; a duplicate inside the dedup window returns
// (false, nil) and is reported on the bus.
func (s *Service) Alert(ctx context.Context, ev detect.ViralEvent) (bool, error) {
	return s.enqueue(ctx, job{
		text:    FormatAlert(ev),
		dedup:   ev.Account + "|" + ev.ItemID,
		account: ev.Account,
		itemID:  ev.ItemID,
	})
}

// Note enqueues a lifecycle message (startup, shutdown, config reload).
// Notes bypass dedup.
func (s *Service) Note(ctx context.Context, text string) error {
	_, err := s.enqueue(ctx, job{text: text})
	return err
}

func (s *Service) enqueue(ctx context.Context, j job) (bool, error) {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return false, ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return false, ErrStopped
	}
	q := s.queue
	window := s.cfg.DedupWindow
	maxEntries := s.cfg.DedupMaxEntries
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	if j.dedup != "" && window > 0 && !s.dedupAllow(j.dedup, window, maxEntries) {
		s.publish(eventbus.TypeAlertDeduped, j, nil)
		return false, nil
	}

	select {
	case q <- j:
		return true, nil
	default:
		s.publish(eventbus.TypeAlertFailed, j, ErrQueueFull)
		return false, ErrQueueFull
	}
}

// dedupAllow reports whether the key may alert now and, if so, suppresses
// it for the window.
func (s *Service) dedupAllow(key string, window time.Duration, maxEntries int) bool {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()

	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	if len(s.dedup) >= maxEntries {
		for k, until := range s.dedup {
			if now.After(until) {
				delete(s.dedup, k)
			}
		}
	}
	s.dedup[key] = now.Add(window)
	return true
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	if s.sender == nil || j.text == "" {
		return
	}

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := s.sender.Send(callCtx, j.text)
		cancel()
		if err == nil {
			s.appendHistory(j.text)
			if j.dedup != "" && s.rec != nil {
				if rerr := s.rec.RecordAlert(ctx, j.account, time.Now()); rerr != nil {
					s.log.Error("alert record failed", logx.String("account", j.account), logx.Err(rerr))
				}
			}
			s.publish(eventbus.TypeAlertSent, j, nil)
			return
		}
		lastErr = err
		s.log.Debug("alert send failed",
			logx.Err(err),
			logx.Int("attempt", attempt),
			logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}
		delay := cfg.RetryBase << (attempt - 1)
		if delay > cfg.RetryMaxDelay {
			delay = cfg.RetryMaxDelay
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}

	s.log.Warn("alert dropped after retries", logx.Err(lastErr), logx.String("account", j.account))
	s.publish(eventbus.TypeAlertFailed, j, lastErr)
}

func (s *Service) publish(typ string, j job, err error) {
	if s.bus == nil || j.dedup == "" {
		return
	}
	out := eventbus.AlertOutcome{Account: j.account, ItemID: j.itemID}
	if err != nil {
		out.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: out})
}

// History returns recently sent messages, newest last.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if len(s.history) > 100 {
		s.history = s.history[len(s.history)-100:]
	}
	s.hmu.Unlock()
}

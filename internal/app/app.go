// Package app wires configuration, storage, fetch, detection, and the
// alert pipeline into one runnable monitor process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"viralwatch/internal/config"
	"viralwatch/internal/deltalog"
	"viralwatch/internal/eventbus"
	"viralwatch/internal/fetch"
	"viralwatch/internal/governor"
	"viralwatch/internal/monitor"
	"viralwatch/internal/notifier"
	"viralwatch/internal/registry"
	"viralwatch/internal/runtime/supervisor"
	"viralwatch/internal/status"
	"viralwatch/internal/store"
	"viralwatch/pkg/logx"
)

type App struct {
	cfgPath string
	mgr     *config.Manager

	mu  sync.Mutex
	set config.Settings

	log       logx.Logger
	logCloser io.Closer

	bus eventbus.Bus
	st  store.Store
	reg *registry.Registry
	gov *governor.Governor

	fetcher fetch.Fetcher
	notif   *notifier.Service
	mon     *monitor.Monitor
	cron    *cron.Cron
	sup     *supervisor.Supervisor
}

// New loads and validates the config and opens the store. The fetch source
// is checked lazily so the status command works without one.
func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, err
	}
	set, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	log, logCloser, err := logx.New(logx.Config{
		Level:   set.Logging.Level,
		Console: set.Logging.Console,
		File: logx.FileConfig{
			Enabled: set.Logging.File.Enabled,
			Path:    set.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, err
	}

	st, err := store.Open(store.Config{Path: set.StorePath, BusyTimeout: set.StoreBusyTimeout}, log.With(logx.String("comp", "store")))
	if err != nil {
		_ = logCloser.Close()
		return nil, err
	}

	a := &App{
		cfgPath:   cfgPath,
		mgr:       mgr,
		set:       set,
		log:       log.With(logx.String("comp", "app")),
		logCloser: logCloser,
		bus:       eventbus.New(),
		st:        st,
		reg:       registry.New(set.AccountsFile, set.PriorityIntervals, log.With(logx.String("comp", "registry"))),
		gov:       governor.New(set.MemoryCeilingMB, log.With(logx.String("comp", "governor"))),
	}

	if set.Notifier.Enabled {
		tg, err := notifier.NewTelegram(set.Notifier.Token, set.Notifier.ChatID)
		if err != nil {
			_ = st.Close()
			_ = logCloser.Close()
			return nil, fmt.Errorf("notifier: %w", err)
		}
		a.notif = notifier.New(notifier.Config{
			Enabled:     true,
			RatePerSec:  set.Notifier.RatePerSec,
			RetryMax:    set.Notifier.RetryMax,
			DedupWindow: set.Notifier.DedupWindow,
		}, tg, st, a.bus, log.With(logx.String("comp", "notifier")))
	}

	var al monitor.Alerter
	if a.notif != nil {
		al = a.notif
	}
	a.mon = monitor.New(a.currentSettings, a.reg, a.st, fetcherFunc(a.fetchLatest), a.gov, a.bus, al, log.With(logx.String("comp", "monitor")))
	return a, nil
}

func (a *App) currentSettings() config.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.set
}

// fetcherFunc lets the monitor hold a stable Fetcher while the concrete
// HTTP client is created on first use.
type fetcherFunc func(ctx context.Context, username string, limit int) ([]fetch.Item, error)

func (f fetcherFunc) FetchLatest(ctx context.Context, username string, limit int) ([]fetch.Item, error) {
	return f(ctx, username, limit)
}

func (a *App) fetchLatest(ctx context.Context, username string, limit int) ([]fetch.Item, error) {
	a.mu.Lock()
	f := a.fetcher
	a.mu.Unlock()
	if f == nil {
		return nil, fetch.CapabilityUnavailable(errors.New("no fetch source configured"))
	}
	return f.FetchLatest(ctx, username, limit)
}

func (a *App) ensureFetcher() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fetcher != nil {
		return nil
	}
	f, err := fetch.NewHTTPFetcher(a.set.Fetch.BaseURL, a.set.Fetch.APIKey)
	if err != nil {
		return fmt.Errorf("fetch.base_url: %w", err)
	}
	a.fetcher = f
	return nil
}

// SetFetcher overrides the fetch source, replacing the HTTP client built
// from config.
func (a *App) SetFetcher(f fetch.Fetcher) {
	a.mu.Lock()
	a.fetcher = f
	a.mu.Unlock()
}

// Start launches the continuous monitor under a supervisor: the cycle
// loop, config watch + reload, the delta log, scheduled maintenance, and
// the systemd watchdog when one is listening.
func (a *App) Start(ctx context.Context) error {
	if err := a.ensureFetcher(); err != nil {
		return err
	}

	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)
	runCtx := a.sup.Context()

	a.mgr.SetLogger(a.log.With(logx.String("comp", "config")))
	a.mgr.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := config.Resolve(cfg)
		return err
	})

	if a.notif != nil {
		a.notif.Start(runCtx)
		if a.currentSettings().Notifier.LifecycleNotes {
			_ = a.notif.Note(runCtx, "📡 viralwatch started")
		}
	}

	set := a.currentSettings()
	if set.DeltaLogEnabled {
		w := deltalog.New(set.DeltaLogPath, a.bus, a.log.With(logx.String("comp", "deltalog")))
		a.sup.GoRestart("deltalog", w.Run, 500*time.Millisecond, 10*time.Second)
	}

	a.sup.Go("monitor", a.mon.Run)
	a.sup.Go("config.watch", a.mgr.Watch)

	sub := a.mgr.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.mgr.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	})

	if schedule := set.PruneSchedule; schedule != "" {
		a.cron = cron.New()
		_, err := a.cron.AddFunc(schedule, func() { a.prune(runCtx) })
		if err != nil {
			return fmt.Errorf("maintenance.prune_schedule: %w", err)
		}
		a.cron.Start()
	}

	a.startWatchdog()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	a.log.Info("started", logx.String("config", a.cfgPath))
	return nil
}

// applyConfig installs a validated reload. The monitor picks it up at the
// next cycle boundary.
func (a *App) applyConfig(cfg *config.Config) {
	set, err := config.Resolve(cfg)
	if err != nil {
		// The manager validates before publishing; this is a belt check.
		a.log.Warn("reloaded config rejected", logx.Err(err))
		return
	}
	a.mu.Lock()
	a.set = set
	a.mu.Unlock()

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded})
	a.log.Info("config reloaded",
		logx.Duration("interval", set.Interval),
		logx.Int64("viral_threshold", set.ViralThreshold),
		logx.Int("max_concurrent", set.Fetch.MaxConcurrent))
}

func (a *App) prune(ctx context.Context) {
	set := a.currentSettings()
	if set.RetentionPerItem <= 0 {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	removed, err := a.st.Prune(pctx, set.RetentionPerItem)
	if err != nil {
		a.log.Warn("prune failed", logx.Err(err))
		return
	}
	a.log.Info("prune completed", logx.Int64("removed", removed), logx.Int("keep_per_item", set.RetentionPerItem))
}

func (a *App) startWatchdog() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.sup.Go0("watchdog", func(c context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}

// RunOnce executes exactly one cycle and drains pending alerts.
func (a *App) RunOnce(ctx context.Context) (monitor.CycleResult, error) {
	if err := a.ensureFetcher(); err != nil {
		return monitor.CycleResult{}, err
	}
	if a.notif != nil {
		a.notif.Start(ctx)
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			a.notif.Stop(dctx)
		}()
	}
	return a.mon.RunCycle(ctx)
}

// Status collects the health report and renders it to w. The bool is the
// health verdict for the caller's exit code.
func (a *App) Status(ctx context.Context, w io.Writer) (bool, error) {
	r, err := status.Collect(ctx, a.st, a.currentSettings(), time.Now())
	if err != nil {
		return false, err
	}
	r.Render(w)
	return r.Healthy, nil
}

// Stop unwinds in dependency order: stop scheduling, drain alerts, wait
// for supervised loops, then release the store and log sinks.
func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	if a.cron != nil {
		cronCtx := a.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-time.After(5 * time.Second):
			a.log.Warn("maintenance job still running at shutdown")
		}
	}

	if a.notif != nil {
		if a.currentSettings().Notifier.LifecycleNotes {
			_ = a.notif.Note(context.Background(), "📴 viralwatch stopping")
		}
		nctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		a.notif.Stop(nctx)
		cancel()
	}

	if a.sup != nil {
		a.sup.Cancel()
		wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := a.sup.Wait(wctx)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			a.log.Warn("shutdown finished with error", logx.Err(err))
		}
	}

	err := a.st.Close()
	a.log.Info("stopped")
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
	return err
}

// Close releases resources for commands that never called Start.
func (a *App) Close() error {
	err := a.st.Close()
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
	return err
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err reports the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Package monitor runs the monitoring cycle: decide which accounts are
// due, fetch their latest items with bounded concurrency, classify view
// deltas against stored history, persist snapshots, and hand viral events
// to the alert pipeline.
package monitor

import (
	"context"
	"sync"
	"time"

	"viralwatch/internal/config"
	"viralwatch/internal/detect"
	"viralwatch/internal/eventbus"
	"viralwatch/internal/fetch"
	"viralwatch/internal/governor"
	"viralwatch/internal/registry"
	"viralwatch/internal/store"
	"viralwatch/pkg/logx"
)

// Alerter accepts viral events for delivery. The bool reports whether the
// alert was accepted (false for dedup suppression).
type Alerter interface {
	Alert(ctx context.Context, ev detect.ViralEvent) (bool, error)
}

// Monitor coordinates one account registry, one store, and one fetcher.
// It owns no goroutines outside RunCycle.
//
// Settings are re-read at every cycle boundary, so hot-reloaded config
// (thresholds, intervals, concurrency) takes effect between cycles and
// never mid-cycle.
type Monitor struct {
	settings func() config.Settings
	reg      *registry.Registry
	st       store.Store
	fetcher  fetch.Fetcher
	gov      *governor.Governor
	bus      eventbus.Bus
	al       Alerter
	log      logx.Logger

	now func() time.Time
}

// CycleResult summarizes one completed cycle.
type CycleResult struct {
	Due          int
	Succeeded    int
	Failed       int
	AlertsQueued int
	Elapsed      time.Duration
}

func New(settings func() config.Settings, reg *registry.Registry, st store.Store, fetcher fetch.Fetcher, gov *governor.Governor, bus eventbus.Bus, al Alerter, log logx.Logger) *Monitor {
	return &Monitor{
		settings: settings,
		reg:      reg,
		st:       st,
		fetcher:  fetcher,
		gov:      gov,
		bus:      bus,
		al:       al,
		log:      log,
		now:      time.Now,
	}
}

// Run executes cycles until ctx is canceled. The accounts file is re-read
// at the top of every cycle so edits take effect without a restart.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		res, err := m.RunCycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.Error("cycle failed", logx.Err(err))
		} else {
			m.log.Info("cycle completed",
				logx.Int("due", res.Due),
				logx.Int("succeeded", res.Succeeded),
				logx.Int("failed", res.Failed),
				logx.Int("alerts_queued", res.AlertsQueued),
				logx.Duration("elapsed", res.Elapsed))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.settings().Interval):
		}
	}
}

// RunCycle processes all currently-due accounts once and returns the
// summary. Account-level failures are counted, not returned; the error is
// reserved for cycle-level problems like an unreadable accounts file.
func (m *Monitor) RunCycle(ctx context.Context) (CycleResult, error) {
	cfg := m.settings()
	start := m.now()
	if cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.CycleTimeout)
		defer cancel()
	}

	m.reg.SetIntervals(cfg.PriorityIntervals)
	removed, err := m.reg.Reload()
	if err != nil {
		return CycleResult{}, err
	}
	for _, username := range removed {
		if derr := m.st.DeleteAccount(ctx, username); derr != nil {
			m.log.Error("removed account cleanup failed", logx.String("account", username), logx.Err(derr))
			continue
		}
		m.log.Info("removed account data deleted", logx.String("account", username))
	}

	due := m.reg.ComputeDue(start)
	res := CycleResult{Due: len(due)}
	if len(due) == 0 {
		res.Elapsed = m.now().Sub(start)
		return res, nil
	}

	usernames := make([]string, len(due))
	for i, acc := range due {
		usernames[i] = acc.Username
	}

	orch := fetch.NewOrchestrator(m.fetcher, cfg.Fetch, m.log)
	eng := detect.NewEngine(cfg.ViralThreshold, cfg.NewAccountSnapshotFloor)
	workers := m.gov.Concurrency(cfg.Fetch.MaxConcurrent)

	var mu sync.Mutex
	orch.Run(ctx, usernames, workers, func(ctx context.Context, username string) {
		ok, alerts := m.processAccount(ctx, cfg, orch, eng, username)
		mu.Lock()
		if ok {
			res.Succeeded++
		} else {
			res.Failed++
		}
		res.AlertsQueued += alerts
		mu.Unlock()
	})

	m.gov.ReclaimIfOver()

	res.Elapsed = m.now().Sub(start)
	m.bus.Publish(eventbus.Event{Type: eventbus.TypeCycleCompleted, Data: eventbus.CycleCompleted{
		Due:          res.Due,
		Succeeded:    res.Succeeded,
		Failed:       res.Failed,
		AlertsQueued: res.AlertsQueued,
		Elapsed:      res.Elapsed,
	}})
	return res, nil
}

// processAccount handles one account for one cycle. Whatever the outcome,
// the account's next due time moves forward and its stats row gets exactly
// one update.
func (m *Monitor) processAccount(ctx context.Context, cfg config.Settings, orch *fetch.Orchestrator, eng *detect.Engine, username string) (ok bool, alerts int) {
	items, attempts, err := orch.Fetch(ctx, username, cfg.MaxItemsPerAccount)
	if err != nil {
		// Shutdown mid-fetch leaves the account untouched for the next run.
		if ctx.Err() != nil {
			return false, 0
		}
		kind := fetch.KindOf(err).String()
		m.log.Warn("account fetch failed",
			logx.String("account", username),
			logx.Int("attempts", attempts),
			logx.String("kind", kind),
			logx.Err(err))
		if serr := m.st.UpsertStat(ctx, username, 0, kind); serr != nil {
			m.log.Error("stat update failed", logx.String("account", username), logx.Err(serr))
		}
		m.bus.Publish(eventbus.Event{Type: eventbus.TypeAccountFailed, Data: eventbus.AccountFailed{
			Account:  username,
			Attempts: attempts,
			Kind:     kind,
			Error:    err.Error(),
		}})
		m.reg.AdvanceNextDue(username, m.now())
		return false, 0
	}

	capturedAt := m.now()
	hist, err := m.st.HistoryCount(ctx, username)
	if err != nil {
		return m.persistFailed(ctx, username, err)
	}

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	prior, err := m.st.PriorSnapshots(ctx, username, ids, capturedAt)
	if err != nil {
		return m.persistFailed(ctx, username, err)
	}

	obs, events := eng.Classify(username, items, prior, hist, capturedAt)

	snaps := make([]store.Snapshot, len(obs))
	for i, o := range obs {
		snaps[i] = o.Snapshot
	}
	if err := m.st.AppendSnapshots(ctx, username, snaps); err != nil {
		return m.persistFailed(ctx, username, err)
	}
	if err := m.st.UpsertStat(ctx, username, len(items), ""); err != nil {
		m.log.Error("stat update failed", logx.String("account", username), logx.Err(err))
	}

	for _, ev := range events {
		m.bus.Publish(eventbus.Event{Type: eventbus.TypeViralDetected, Data: eventbus.ViralDetected{
			Account:       ev.Account,
			ItemID:        ev.ItemID,
			Description:   ev.Description,
			PreviousViews: ev.PreviousViews,
			CurrentViews:  ev.CurrentViews,
			Delta:         ev.Delta,
			DetectedAt:    ev.DetectedAt,
		}})
		if m.al == nil {
			continue
		}
		queued, err := m.al.Alert(ctx, ev)
		if err != nil {
			m.log.Warn("alert enqueue failed", logx.String("account", username), logx.Err(err))
			continue
		}
		if queued {
			alerts++
		}
	}

	m.reg.AdvanceNextDue(username, m.now())
	return true, alerts
}

// persistFailed records a storage failure as the account's cycle outcome.
func (m *Monitor) persistFailed(ctx context.Context, username string, err error) (bool, int) {
	if ctx.Err() != nil {
		return false, 0
	}
	m.log.Error("account persist failed", logx.String("account", username), logx.Err(err))
	if serr := m.st.UpsertStat(ctx, username, 0, "Storage"); serr != nil {
		m.log.Error("stat update failed", logx.String("account", username), logx.Err(serr))
	}
	m.reg.AdvanceNextDue(username, m.now())
	return false, 0
}

// Package status builds the operator-facing health report backing the
// status subcommand.
package status

import (
	"context"
	"fmt"
	"io"
	"time"

	"viralwatch/internal/config"
	"viralwatch/internal/store"
)

// Report is a point-in-time view of the system's stored state.
type Report struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Totals      store.Totals        `json:"totals"`
	Accounts    []store.AccountStat `json:"accounts"`
	Healthy     bool                `json:"healthy"`
	Reasons     []string            `json:"reasons,omitempty"`
}

// Collect reads totals and per-account stats and applies the health rules.
// A store error is returned as-is; the caller maps it to an exit code.
func Collect(ctx context.Context, st store.Store, cfg config.Settings, now time.Time) (Report, error) {
	totals, err := st.Totals(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("read totals: %w", err)
	}
	stats, err := st.AccountStats(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("read account stats: %w", err)
	}

	r := Report{GeneratedAt: now, Totals: totals, Accounts: stats, Healthy: true}

	if totals.Accounts == 0 {
		r.Healthy = false
		r.Reasons = append(r.Reasons, "no accounts have been monitored yet")
		return r, nil
	}

	// Stale means no successful or failed scrape inside three base intervals.
	staleAfter := 3 * cfg.Interval
	stale := 0
	for _, s := range stats {
		if s.LastScrapedAt.IsZero() || now.Sub(s.LastScrapedAt) > staleAfter {
			stale++
		}
	}
	if stale == len(stats) {
		r.Healthy = false
		r.Reasons = append(r.Reasons, fmt.Sprintf("all %d accounts are stale (no scrape in %s)", stale, staleAfter))
	}

	return r, nil
}

// Render writes the report as operator-readable text.
func (r Report) Render(w io.Writer) {
	state := "healthy"
	if !r.Healthy {
		state = "UNHEALTHY"
	}
	fmt.Fprintf(w, "viralwatch status: %s (%s)\n", state, r.GeneratedAt.Format(time.RFC3339))
	for _, reason := range r.Reasons {
		fmt.Fprintf(w, "  ! %s\n", reason)
	}
	fmt.Fprintf(w, "accounts: %d  items: %d  snapshots: %d  alerts: %d  erroring: %d\n",
		r.Totals.Accounts, r.Totals.Items, r.Totals.Snapshots, r.Totals.AlertsSent, r.Totals.ErroredAccount)
	if !r.Totals.LastCapturedAt.IsZero() {
		fmt.Fprintf(w, "last capture: %s\n", r.Totals.LastCapturedAt.Format(time.RFC3339))
	}

	if len(r.Accounts) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, s := range r.Accounts {
		line := fmt.Sprintf("  @%-24s items=%-3d alerts=%-3d", s.Account, s.ItemsFound, s.ViralAlertsSent)
		if !s.LastScrapedAt.IsZero() {
			line += " scraped " + s.LastScrapedAt.Format("2006-01-02 15:04")
		}
		if s.ErrorCount > 0 {
			line += fmt.Sprintf("  errors=%d (%s)", s.ErrorCount, s.LastError)
		}
		fmt.Fprintln(w, line)
	}
}

package store

import (
	"context"
	"time"
)

// Snapshot is one observed measurement of an item's metrics. Append-only.
type Snapshot struct {
	Account       string
	ItemID        string
	Description   string
	Views         int64
	Likes         int64
	Comments      int64
	Shares        int64
	ItemCreatedAt string
	CapturedAt    time.Time
}

// AccountStat is the per-account monitoring record, upserted once per cycle.
type AccountStat struct {
	Account          string
	LastScrapedAt    time.Time
	ItemsFound       int
	ErrorCount       int
	LastError        string
	ViralAlertsSent  int
	LastViralAlertAt time.Time
}

// Totals summarizes the whole store for the status command.
type Totals struct {
	Accounts       int
	Items          int64
	Snapshots      int64
	AlertsSent     int64
	ErroredAccount int
	LastCapturedAt time.Time
}

// Store is the metric persistence API.
//
// Write discipline: calls for the same account are serialized internally;
// a failed batch rolls back that account's write only.
type Store interface {
	// AppendSnapshots writes one cycle's batch for an account in a single
	// transaction. A re-observation of (account, item, capturedAt) overwrites
	// rather than duplicating.
	AppendSnapshots(ctx context.Context, account string, snaps []Snapshot) error

	// PriorSnapshots returns, per requested item, the most recent snapshot
	// captured strictly before the given time. Items with no prior snapshot
	// are absent from the result.
	PriorSnapshots(ctx context.Context, account string, itemIDs []string, before time.Time) (map[string]Snapshot, error)

	// HistoryCount is the total number of snapshot rows ever recorded for
	// the account.
	HistoryCount(ctx context.Context, account string) (int64, error)

	// UpsertStat records a cycle outcome. An empty errMsg resets the error
	// fields; a non-empty one increments error_count exactly once.
	UpsertStat(ctx context.Context, account string, itemsFound int, errMsg string) error

	// RecordAlert bumps viral_alerts_sent and last_viral_alert_at.
	RecordAlert(ctx context.Context, account string, at time.Time) error

	AccountStats(ctx context.Context) ([]AccountStat, error)
	Totals(ctx context.Context) (Totals, error)

	// Prune keeps the newest keepPerItem snapshots per (account, item) and
	// reports the number of rows removed. keepPerItem <= 0 is a no-op.
	Prune(ctx context.Context, keepPerItem int) (int64, error)

	// DeleteAccount removes an account's stats and snapshots, for accounts
	// dropped from the registry.
	DeleteAccount(ctx context.Context, account string) error

	Close() error
}

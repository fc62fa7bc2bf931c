package config

// Config is the on-disk configuration (YAML or JSON).
//
// All durations are Go duration strings (e.g. "30s", "5m"). They are
// validated and resolved into a Settings value once at startup; components
// never read raw Config fields.
type Config struct {
	Monitoring  MonitoringConfig  `json:"monitoring"`
	Fetch       FetchConfig       `json:"fetch"`
	Storage     StorageConfig     `json:"storage"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
	Resource    ResourceConfig    `json:"resource,omitempty"`
	Notifier    NotifierConfig    `json:"notifier,omitempty"`
	DeltaLog    DeltaLogConfig    `json:"delta_log,omitempty"`
	Logging     LoggingConfig     `json:"logging,omitempty"`
}

// MonitoringConfig controls the cycle coordinator and delta engine.
//
// Defaults (when fields are omitted/zero):
//   - interval: "5m"
//   - viral_threshold: 100
//   - max_items_per_account: 5
//   - new_account_snapshot_floor: 5
//   - priority_intervals: high=interval, medium=3x, low=6x
type MonitoringConfig struct {
	AccountsFile string `json:"accounts_file"`

	Interval       string `json:"interval,omitempty"`
	ViralThreshold int64  `json:"viral_threshold,omitempty"`

	MaxItemsPerAccount      int `json:"max_items_per_account,omitempty"`
	NewAccountSnapshotFloor int `json:"new_account_snapshot_floor,omitempty"`

	// CycleTimeout is a soft ceiling on one monitoring cycle.
	// "0s" disables it.
	CycleTimeout string `json:"cycle_timeout,omitempty"`

	PriorityIntervals PriorityIntervalsConfig `json:"priority_intervals,omitempty"`
}

type PriorityIntervalsConfig struct {
	High   string `json:"high,omitempty"`
	Medium string `json:"medium,omitempty"`
	Low    string `json:"low,omitempty"`
}

// FetchConfig controls the fetch source and orchestrator.
type FetchConfig struct {
	// BaseURL is the feed endpoint of the scrape service, e.g.
	// "http://127.0.0.1:8191". Required unless a custom Fetcher is wired
	// in code.
	BaseURL string `json:"base_url,omitempty"`
	// APIKey is sent as a bearer token when set.
	APIKey string `json:"api_key,omitempty"`

	MaxConcurrent int `json:"max_concurrent,omitempty"`
	MaxRetries    int `json:"max_retries,omitempty"`

	// PerFetchDelay paces dispatches against the remote source.
	PerFetchDelay string `json:"per_fetch_delay,omitempty"`

	AttemptTimeout string `json:"attempt_timeout,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`

	// RetentionPerItem keeps the most recent N snapshots per (account, item).
	// 0 disables pruning.
	RetentionPerItem int `json:"retention_per_item,omitempty"`
}

// MaintenanceConfig controls the background maintenance job.
type MaintenanceConfig struct {
	// PruneSchedule is a standard 5-field cron spec. Empty means the daily
	// default; "off" disables the job.
	PruneSchedule string `json:"prune_schedule,omitempty"`
}

type ResourceConfig struct {
	// MemoryCeilingMB is the heap ceiling above which the monitor sheds
	// concurrency and forces reclamation. 0 disables the governor.
	MemoryCeilingMB int `json:"memory_ceiling_mb,omitempty"`
}

// NotifierConfig controls the Telegram alert channel.
type NotifierConfig struct {
	Enabled bool `json:"enabled"`

	Telegram TelegramConfig `json:"telegram,omitempty"`

	RetryMax    int    `json:"retry_max,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	DedupWindow string `json:"dedup_window,omitempty"`

	// LifecycleNotes sends best-effort start/stop messages.
	LifecycleNotes bool `json:"lifecycle_notes,omitempty"`
}

type TelegramConfig struct {
	Token  string `json:"token,omitempty"`
	ChatID int64  `json:"chat_id,omitempty"`
}

type DeltaLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidValue marks configuration values rejected at resolve time.
// It is fatal at startup and a reload veto afterwards.
var ErrInvalidValue = errors.New("invalid config value")

// Settings is the resolved, immutable runtime configuration. It is built
// once from a parsed Config and passed explicitly into components.
type Settings struct {
	AccountsFile string

	Interval                time.Duration
	ViralThreshold          int64
	MaxItemsPerAccount      int
	NewAccountSnapshotFloor int
	CycleTimeout            time.Duration

	PriorityIntervals PriorityIntervals

	Fetch FetchSettings

	StorePath        string
	StoreBusyTimeout time.Duration
	RetentionPerItem int

	PruneSchedule   string
	MemoryCeilingMB int

	Notifier NotifierSettings

	DeltaLogEnabled bool
	DeltaLogPath    string

	Logging LoggingConfig
}

type PriorityIntervals struct {
	High   time.Duration
	Medium time.Duration
	Low    time.Duration
}

type FetchSettings struct {
	BaseURL string
	APIKey  string

	MaxConcurrent  int
	MaxRetries     int
	PerFetchDelay  time.Duration
	AttemptTimeout time.Duration
	RetryBase      time.Duration
	RetryMaxDelay  time.Duration
}

type NotifierSettings struct {
	Enabled        bool
	Token          string
	ChatID         int64
	RetryMax       int
	RatePerSec     int
	DedupWindow    time.Duration
	LifecycleNotes bool
}

// Resolve validates cfg and produces runtime settings with defaults applied.
func Resolve(cfg *Config) (Settings, error) {
	if cfg == nil {
		return Settings{}, fmt.Errorf("%w: config is nil", ErrInvalidValue)
	}

	var s Settings

	s.AccountsFile = strings.TrimSpace(cfg.Monitoring.AccountsFile)
	if s.AccountsFile == "" {
		return Settings{}, invalid("monitoring.accounts_file", "is required")
	}

	interval, err := parseDurationDefault("monitoring.interval", cfg.Monitoring.Interval, 5*time.Minute)
	if err != nil {
		return Settings{}, err
	}
	if interval < time.Second {
		return Settings{}, invalid("monitoring.interval", "must be at least 1s")
	}
	s.Interval = interval

	s.ViralThreshold = cfg.Monitoring.ViralThreshold
	if s.ViralThreshold == 0 {
		s.ViralThreshold = 100
	}
	if s.ViralThreshold < 1 {
		return Settings{}, invalid("monitoring.viral_threshold", "must be >= 1")
	}

	s.MaxItemsPerAccount = cfg.Monitoring.MaxItemsPerAccount
	if s.MaxItemsPerAccount == 0 {
		s.MaxItemsPerAccount = 5
	}
	if s.MaxItemsPerAccount < 1 {
		return Settings{}, invalid("monitoring.max_items_per_account", "must be >= 1")
	}

	s.NewAccountSnapshotFloor = cfg.Monitoring.NewAccountSnapshotFloor
	if s.NewAccountSnapshotFloor == 0 {
		s.NewAccountSnapshotFloor = 5
	}
	if s.NewAccountSnapshotFloor < 1 {
		return Settings{}, invalid("monitoring.new_account_snapshot_floor", "must be >= 1")
	}

	s.CycleTimeout, err = parseDuration("monitoring.cycle_timeout", cfg.Monitoring.CycleTimeout)
	if err != nil {
		return Settings{}, err
	}

	s.PriorityIntervals.High, err = parseDurationDefault("monitoring.priority_intervals.high", cfg.Monitoring.PriorityIntervals.High, interval)
	if err != nil {
		return Settings{}, err
	}
	s.PriorityIntervals.Medium, err = parseDurationDefault("monitoring.priority_intervals.medium", cfg.Monitoring.PriorityIntervals.Medium, 3*interval)
	if err != nil {
		return Settings{}, err
	}
	s.PriorityIntervals.Low, err = parseDurationDefault("monitoring.priority_intervals.low", cfg.Monitoring.PriorityIntervals.Low, 6*interval)
	if err != nil {
		return Settings{}, err
	}

	s.Fetch.BaseURL = strings.TrimSpace(cfg.Fetch.BaseURL)
	s.Fetch.APIKey = strings.TrimSpace(cfg.Fetch.APIKey)

	s.Fetch.MaxConcurrent = cfg.Fetch.MaxConcurrent
	if s.Fetch.MaxConcurrent == 0 {
		s.Fetch.MaxConcurrent = 2
	}
	if s.Fetch.MaxConcurrent < 1 {
		return Settings{}, invalid("fetch.max_concurrent", "must be >= 1")
	}

	s.Fetch.MaxRetries = cfg.Fetch.MaxRetries
	if s.Fetch.MaxRetries == 0 {
		s.Fetch.MaxRetries = 3
	}
	if s.Fetch.MaxRetries < 1 {
		return Settings{}, invalid("fetch.max_retries", "must be >= 1")
	}

	s.Fetch.PerFetchDelay, err = parseDuration("fetch.per_fetch_delay", cfg.Fetch.PerFetchDelay)
	if err != nil {
		return Settings{}, err
	}
	s.Fetch.AttemptTimeout, err = parseDurationDefault("fetch.attempt_timeout", cfg.Fetch.AttemptTimeout, 45*time.Second)
	if err != nil {
		return Settings{}, err
	}
	s.Fetch.RetryBase, err = parseDurationDefault("fetch.retry_base", cfg.Fetch.RetryBase, 10*time.Second)
	if err != nil {
		return Settings{}, err
	}
	s.Fetch.RetryMaxDelay, err = parseDurationDefault("fetch.retry_max_delay", cfg.Fetch.RetryMaxDelay, 2*time.Minute)
	if err != nil {
		return Settings{}, err
	}

	s.StorePath = strings.TrimSpace(cfg.Storage.Path)
	if s.StorePath == "" {
		return Settings{}, invalid("storage.path", "is required")
	}
	s.StoreBusyTimeout, err = parseDurationDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 30*time.Second)
	if err != nil {
		return Settings{}, err
	}
	s.RetentionPerItem = cfg.Storage.RetentionPerItem
	if s.RetentionPerItem == 0 {
		s.RetentionPerItem = 50
	}
	if s.RetentionPerItem < 0 {
		s.RetentionPerItem = 0
	}

	s.PruneSchedule = strings.TrimSpace(cfg.Maintenance.PruneSchedule)
	switch s.PruneSchedule {
	case "":
		s.PruneSchedule = "30 4 * * *"
	case "off":
		s.PruneSchedule = ""
	}

	s.MemoryCeilingMB = cfg.Resource.MemoryCeilingMB
	if s.MemoryCeilingMB < 0 {
		return Settings{}, invalid("resource.memory_ceiling_mb", "must be >= 0")
	}

	s.Notifier.Enabled = cfg.Notifier.Enabled
	s.Notifier.Token = strings.TrimSpace(cfg.Notifier.Telegram.Token)
	s.Notifier.ChatID = cfg.Notifier.Telegram.ChatID
	if s.Notifier.Enabled && (s.Notifier.Token == "" || s.Notifier.ChatID == 0) {
		return Settings{}, invalid("notifier.telegram", "token and chat_id are required when enabled")
	}
	s.Notifier.RetryMax = cfg.Notifier.RetryMax
	if s.Notifier.RetryMax == 0 {
		s.Notifier.RetryMax = 3
	}
	if s.Notifier.RetryMax < 0 {
		s.Notifier.RetryMax = 0
	}
	s.Notifier.RatePerSec = cfg.Notifier.RatePerSec
	if s.Notifier.RatePerSec <= 0 {
		s.Notifier.RatePerSec = 1
	}
	// Empty means the default window; an explicit "0s" disables dedup and
	// re-alerts on every cycle the threshold is met.
	if strings.TrimSpace(cfg.Notifier.DedupWindow) == "" {
		s.Notifier.DedupWindow = time.Hour
	} else {
		s.Notifier.DedupWindow, err = parseDuration("notifier.dedup_window", cfg.Notifier.DedupWindow)
		if err != nil {
			return Settings{}, err
		}
	}
	s.Notifier.LifecycleNotes = cfg.Notifier.LifecycleNotes

	s.DeltaLogEnabled = cfg.DeltaLog.Enabled
	s.DeltaLogPath = strings.TrimSpace(cfg.DeltaLog.Path)
	if s.DeltaLogEnabled && s.DeltaLogPath == "" {
		return Settings{}, invalid("delta_log.path", "is required when enabled")
	}

	s.Logging = cfg.Logging
	if strings.TrimSpace(s.Logging.Level) == "" {
		s.Logging.Level = "INFO"
	}

	return s, nil
}

func invalid(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidValue, field, reason)
}

package config

import (
	"errors"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Monitoring: MonitoringConfig{
			AccountsFile: "accounts.csv",
		},
		Storage: StorageConfig{
			Path: "data/viralwatch.db",
		},
	}
}

func TestResolveDefaults(t *testing.T) {
	t.Parallel()

	s, err := Resolve(validConfig())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if s.Interval != 5*time.Minute {
		t.Fatalf("interval = %v, want 5m", s.Interval)
	}
	if s.ViralThreshold != 100 {
		t.Fatalf("viralThreshold = %d, want 100", s.ViralThreshold)
	}
	if s.MaxItemsPerAccount != 5 || s.NewAccountSnapshotFloor != 5 {
		t.Fatalf("item/floor defaults = %d/%d", s.MaxItemsPerAccount, s.NewAccountSnapshotFloor)
	}
	if s.PriorityIntervals.High != 5*time.Minute ||
		s.PriorityIntervals.Medium != 15*time.Minute ||
		s.PriorityIntervals.Low != 30*time.Minute {
		t.Fatalf("priority intervals = %+v", s.PriorityIntervals)
	}
	if s.Fetch.MaxConcurrent != 2 || s.Fetch.MaxRetries != 3 {
		t.Fatalf("fetch defaults = %+v", s.Fetch)
	}
	if s.Fetch.AttemptTimeout != 45*time.Second {
		t.Fatalf("attemptTimeout = %v", s.Fetch.AttemptTimeout)
	}
	if s.RetentionPerItem != 50 {
		t.Fatalf("retention = %d, want 50", s.RetentionPerItem)
	}
	if s.Notifier.DedupWindow != time.Hour {
		t.Fatalf("dedupWindow default = %v, want 1h", s.Notifier.DedupWindow)
	}
	if s.PruneSchedule != "30 4 * * *" {
		t.Fatalf("pruneSchedule default = %q", s.PruneSchedule)
	}
	if s.Logging.Level != "INFO" {
		t.Fatalf("log level = %q", s.Logging.Level)
	}
}

func TestResolvePruneScheduleOff(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Maintenance.PruneSchedule = "off"
	s, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.PruneSchedule != "" {
		t.Fatalf("pruneSchedule = %q, want empty for off", s.PruneSchedule)
	}
}

func TestResolvePriorityIntervalsScaleWithInterval(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Monitoring.Interval = "2m"
	s, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.PriorityIntervals.High != 2*time.Minute ||
		s.PriorityIntervals.Medium != 6*time.Minute ||
		s.PriorityIntervals.Low != 12*time.Minute {
		t.Fatalf("priority intervals = %+v", s.PriorityIntervals)
	}
}

func TestResolveExplicitZeroDedupWindow(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Notifier.DedupWindow = "0s"
	s, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.Notifier.DedupWindow != 0 {
		t.Fatalf("dedupWindow = %v, want 0 for explicit 0s", s.Notifier.DedupWindow)
	}
}

func TestResolveRejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing accounts file", func(c *Config) { c.Monitoring.AccountsFile = " " }},
		{"missing store path", func(c *Config) { c.Storage.Path = "" }},
		{"sub-second interval", func(c *Config) { c.Monitoring.Interval = "200ms" }},
		{"bad duration", func(c *Config) { c.Monitoring.Interval = "five minutes" }},
		{"negative threshold", func(c *Config) { c.Monitoring.ViralThreshold = -5 }},
		{"negative concurrency", func(c *Config) { c.Fetch.MaxConcurrent = -1 }},
		{"negative memory ceiling", func(c *Config) { c.Resource.MemoryCeilingMB = -1 }},
		{"notifier enabled without token", func(c *Config) { c.Notifier.Enabled = true }},
		{"delta log enabled without path", func(c *Config) { c.DeltaLog.Enabled = true }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(cfg)
			if _, err := Resolve(cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestResolveInvalidValuesCarrySentinel(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Monitoring.ViralThreshold = -1
	_, err := Resolve(cfg)
	if !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("err = %v, want ErrInvalidValue", err)
	}
}

func TestResolveNilConfig(t *testing.T) {
	t.Parallel()

	if _, err := Resolve(nil); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("err = %v, want ErrInvalidValue", err)
	}
}

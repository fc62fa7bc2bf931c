package notifier

import (
	"context"
	"time"
)

// Sender delivers a formatted message to the operator channel.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Recorder persists the fact that an alert was delivered. Nil disables
// recording. An alert dropped after exhausting retries is never recorded.
type Recorder interface {
	RecordAlert(ctx context.Context, account string, at time.Time) error
}

// Config controls the async alert pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

type HistoryItem struct {
	At   time.Time
	Text string
}

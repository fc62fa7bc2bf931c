package eventbus

import "time"

// Event types published by the monitor and its consumers.
const (
	TypeViralDetected  = "viral.detected"
	TypeCycleCompleted = "cycle.completed"
	TypeAccountFailed  = "account.failed"
	TypeAlertSent      = "alert.sent"
	TypeAlertDeduped   = "alert.deduped"
	TypeAlertFailed    = "alert.failed"
	TypeConfigReloaded = "config.reloaded"
)

// ViralDetected is the payload for TypeViralDetected. The delta log writes
// one JSONL record per event; the notifier formats it into an alert.
type ViralDetected struct {
	Account       string    `json:"account"`
	ItemID        string    `json:"item_id"`
	Description   string    `json:"description,omitempty"`
	PreviousViews int64     `json:"previous_views"`
	CurrentViews  int64     `json:"current_views"`
	Delta         int64     `json:"delta"`
	DetectedAt    time.Time `json:"detected_at"`
}

// CycleCompleted is the payload for TypeCycleCompleted.
type CycleCompleted struct {
	Due          int           `json:"due"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	AlertsQueued int           `json:"alerts_queued"`
	Elapsed      time.Duration `json:"elapsed"`
}

// AccountFailed is the payload for TypeAccountFailed.
type AccountFailed struct {
	Account  string `json:"account"`
	Attempts int    `json:"attempts"`
	Kind     string `json:"kind"`
	Error    string `json:"error"`
}

// AlertOutcome is the payload for alert.sent / alert.deduped / alert.failed.
type AlertOutcome struct {
	Account string `json:"account"`
	ItemID  string `json:"item_id"`
	Error   string `json:"error,omitempty"`
}

package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"viralwatch/internal/detect"
	"viralwatch/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	fails int
}

func (f *fakeSender) Send(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("send failed")
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeRecorder struct {
	mu       sync.Mutex
	accounts []string
}

func (r *fakeRecorder) RecordAlert(ctx context.Context, account string, at time.Time) error {
	r.mu.Lock()
	r.accounts = append(r.accounts, account)
	r.mu.Unlock()
	return nil
}

func (r *fakeRecorder) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.accounts...)
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		Workers:       1,
		QueueSize:     16,
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		DedupWindow:   time.Hour,
	}
}

func event(account, item string) detect.ViralEvent {
	return detect.ViralEvent{
		Account:       account,
		ItemID:        item,
		PreviousViews: 1000,
		CurrentViews:  2500,
		Delta:         1500,
		DetectedAt:    time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
}

func drain(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestAlertDelivered(t *testing.T) {
	t.Parallel()

	f := &fakeSender{}
	s := New(testConfig(), f, nil, nil, logx.Nop())
	s.Start(context.Background())

	if ok, err := s.Alert(context.Background(), event("alice", "v1")); err != nil || !ok {
		t.Fatalf("Alert: ok=%v err=%v", ok, err)
	}
	drain(t, s)

	got := f.texts()
	if len(got) != 1 {
		t.Fatalf("sent %d messages, want 1", len(got))
	}
	if !strings.Contains(got[0], "@alice") || !strings.Contains(got[0], "+1,500") {
		t.Fatalf("unexpected message %q", got[0])
	}
}

func TestAlertDedupedWithinWindow(t *testing.T) {
	t.Parallel()

	f := &fakeSender{}
	s := New(testConfig(), f, nil, nil, logx.Nop())
	s.Start(context.Background())

	for i := 0; i < 3; i++ {
		if _, err := s.Alert(context.Background(), event("alice", "v1")); err != nil {
			t.Fatalf("Alert %d: %v", i, err)
		}
	}
	// A different item is its own key.
	if ok, err := s.Alert(context.Background(), event("alice", "v2")); err != nil || !ok {
		t.Fatalf("Alert v2: ok=%v err=%v", ok, err)
	}
	drain(t, s)

	if got := f.texts(); len(got) != 2 {
		t.Fatalf("sent %d messages, want 2 (one per item)", len(got))
	}
}

func TestZeroWindowAlertsEveryTime(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.DedupWindow = 0
	f := &fakeSender{}
	s := New(cfg, f, nil, nil, logx.Nop())
	s.Start(context.Background())

	for i := 0; i < 3; i++ {
		if _, err := s.Alert(context.Background(), event("alice", "v1")); err != nil {
			t.Fatalf("Alert %d: %v", i, err)
		}
	}
	drain(t, s)

	if got := f.texts(); len(got) != 3 {
		t.Fatalf("sent %d messages, want 3", len(got))
	}
}

func TestSendRetriedUntilSuccess(t *testing.T) {
	t.Parallel()

	f := &fakeSender{fails: 2}
	s := New(testConfig(), f, nil, nil, logx.Nop())
	s.Start(context.Background())

	if ok, err := s.Alert(context.Background(), event("alice", "v1")); err != nil || !ok {
		t.Fatalf("Alert: ok=%v err=%v", ok, err)
	}
	drain(t, s)

	if got := f.texts(); len(got) != 1 {
		t.Fatalf("sent %d messages after retries, want 1", len(got))
	}
}

// Delivery is what bumps the alert stats: a delivered alert is recorded
// once, with the account it was about.
func TestDeliveredAlertRecorded(t *testing.T) {
	t.Parallel()

	f := &fakeSender{}
	rec := &fakeRecorder{}
	s := New(testConfig(), f, rec, nil, logx.Nop())
	s.Start(context.Background())

	if ok, err := s.Alert(context.Background(), event("alice", "v1")); err != nil || !ok {
		t.Fatalf("Alert: ok=%v err=%v", ok, err)
	}
	if err := s.Note(context.Background(), "monitor started"); err != nil {
		t.Fatalf("Note: %v", err)
	}
	drain(t, s)

	got := rec.recorded()
	if len(got) != 1 || got[0] != "alice" {
		t.Fatalf("recorded = %v, want [alice] (notes are never recorded)", got)
	}
}

// An alert that exhausts every retry is dropped, not recorded as sent.
func TestDroppedAlertNotRecorded(t *testing.T) {
	t.Parallel()

	f := &fakeSender{fails: 1000}
	rec := &fakeRecorder{}
	s := New(testConfig(), f, rec, nil, logx.Nop())
	s.Start(context.Background())

	if ok, err := s.Alert(context.Background(), event("alice", "v1")); err != nil || !ok {
		t.Fatalf("Alert: ok=%v err=%v", ok, err)
	}
	drain(t, s)

	if got := rec.recorded(); len(got) != 0 {
		t.Fatalf("recorded = %v, want none for a dropped alert", got)
	}
	if got := f.texts(); len(got) != 0 {
		t.Fatalf("sent = %v, want none", got)
	}
}

func TestDisabledRejectsAlerts(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Enabled = false
	s := New(cfg, &fakeSender{}, nil, nil, logx.Nop())
	s.Start(context.Background())

	if _, err := s.Alert(context.Background(), event("alice", "v1")); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestStoppedRejectsAlerts(t *testing.T) {
	t.Parallel()

	s := New(testConfig(), &fakeSender{}, nil, nil, logx.Nop())
	s.Start(context.Background())
	drain(t, s)

	if _, err := s.Alert(context.Background(), event("alice", "v1")); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestNoteBypassesDedup(t *testing.T) {
	t.Parallel()

	f := &fakeSender{}
	s := New(testConfig(), f, nil, nil, logx.Nop())
	s.Start(context.Background())

	for i := 0; i < 2; i++ {
		if err := s.Note(context.Background(), "monitor started"); err != nil {
			t.Fatalf("Note %d: %v", i, err)
		}
	}
	drain(t, s)

	if got := f.texts(); len(got) != 2 {
		t.Fatalf("sent %d notes, want 2", len(got))
	}
}

func TestFormatAlertGroupsDigits(t *testing.T) {
	t.Parallel()

	ev := event("bob", "v9")
	ev.PreviousViews = 1234567
	ev.CurrentViews = 2345678
	ev.Delta = 1111111
	msg := FormatAlert(ev)
	for _, want := range []string{"1,234,567", "2,345,678", "+1,111,111"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}

package detect

import (
	"testing"
	"time"

	"viralwatch/internal/fetch"
	"viralwatch/internal/store"
)

var capturedAt = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestNewAccountSuppressesDeltas(t *testing.T) {
	t.Parallel()

	e := NewEngine(100, 5)
	items := []fetch.Item{
		{ID: "v1", Views: 50000},
		{ID: "v2", Views: 120000},
	}

	obs, events := e.Classify("alice", items, nil, 2, capturedAt)
	if len(events) != 0 {
		t.Fatalf("new account produced %d events, want 0", len(events))
	}
	for _, o := range obs {
		if o.Class != NewAccount {
			t.Fatalf("class = %v, want NewAccount", o.Class)
		}
		if o.Delta != 0 {
			t.Fatalf("delta = %d, want 0", o.Delta)
		}
		if o.Viral {
			t.Fatal("new account observation flagged viral")
		}
	}
}

func TestNewItemDeltaIsFullViewCount(t *testing.T) {
	t.Parallel()

	e := NewEngine(100, 5)
	items := []fetch.Item{{ID: "v9", Views: 250}}

	obs, events := e.Classify("alice", items, map[string]store.Snapshot{}, 40, capturedAt)
	if obs[0].Class != NewItem {
		t.Fatalf("class = %v, want NewItem", obs[0].Class)
	}
	if obs[0].Delta != 250 {
		t.Fatalf("delta = %d, want 250", obs[0].Delta)
	}
	if len(events) != 1 || events[0].Delta != 250 {
		t.Fatalf("events = %+v, want one with delta 250", events)
	}
}

func TestExistingItemDelta(t *testing.T) {
	t.Parallel()

	e := NewEngine(100, 5)
	prior := map[string]store.Snapshot{
		"v1": {Account: "alice", ItemID: "v1", Views: 1000},
	}
	items := []fetch.Item{{ID: "v1", Views: 1099}}

	obs, events := e.Classify("alice", items, prior, 40, capturedAt)
	if obs[0].Class != ExistingItem {
		t.Fatalf("class = %v, want ExistingItem", obs[0].Class)
	}
	if obs[0].Delta != 99 {
		t.Fatalf("delta = %d, want 99", obs[0].Delta)
	}
	if obs[0].PreviousViews != 1000 {
		t.Fatalf("previousViews = %d, want 1000", obs[0].PreviousViews)
	}
	if len(events) != 0 {
		t.Fatalf("delta below threshold produced %d events", len(events))
	}
}

func TestThresholdBoundary(t *testing.T) {
	t.Parallel()

	e := NewEngine(100, 5)
	prior := map[string]store.Snapshot{
		"at":    {ItemID: "at", Views: 0},
		"below": {ItemID: "below", Views: 0},
		"above": {ItemID: "above", Views: 0},
	}
	items := []fetch.Item{
		{ID: "below", Views: 99},
		{ID: "at", Views: 100},
		{ID: "above", Views: 101},
	}

	_, events := e.Classify("alice", items, prior, 40, capturedAt)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (delta >= threshold)", len(events))
	}
	if events[0].ItemID != "at" || events[1].ItemID != "above" {
		t.Fatalf("unexpected event items %+v", events)
	}
}

func TestNegativeDeltaNeverAlerts(t *testing.T) {
	t.Parallel()

	e := NewEngine(1, 5)
	prior := map[string]store.Snapshot{
		"v1": {ItemID: "v1", Views: 500},
	}
	items := []fetch.Item{{ID: "v1", Views: 300}}

	obs, events := e.Classify("alice", items, prior, 40, capturedAt)
	if obs[0].Delta != -200 {
		t.Fatalf("delta = %d, want -200", obs[0].Delta)
	}
	if len(events) != 0 {
		t.Fatal("negative delta must not alert")
	}
	if obs[0].Viral {
		t.Fatal("negative delta observation flagged viral")
	}
}

func TestMixedBatchClassification(t *testing.T) {
	t.Parallel()

	e := NewEngine(100, 5)
	prior := map[string]store.Snapshot{
		"old": {ItemID: "old", Views: 10000},
	}
	items := []fetch.Item{
		{ID: "old", Views: 10500, Description: "steady climber"},
		{ID: "fresh", Views: 30},
	}

	obs, events := e.Classify("alice", items, prior, 200, capturedAt)
	if obs[0].Class != ExistingItem || obs[1].Class != NewItem {
		t.Fatalf("classes = %v, %v", obs[0].Class, obs[1].Class)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.ItemID != "old" || ev.Delta != 500 || ev.PreviousViews != 10000 || ev.CurrentViews != 10500 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.DetectedAt != capturedAt {
		t.Fatalf("detectedAt = %v, want %v", ev.DetectedAt, capturedAt)
	}
}

func TestHistoryFloorBoundary(t *testing.T) {
	t.Parallel()

	e := NewEngine(100, 5)
	items := []fetch.Item{{ID: "v1", Views: 5000}}

	// historyCount == floor means the account is established.
	obs, _ := e.Classify("alice", items, nil, 5, capturedAt)
	if obs[0].Class != NewItem {
		t.Fatalf("class at floor = %v, want NewItem", obs[0].Class)
	}

	obs, _ = e.Classify("alice", items, nil, 4, capturedAt)
	if obs[0].Class != NewAccount {
		t.Fatalf("class below floor = %v, want NewAccount", obs[0].Class)
	}
}

func TestEmptyBatch(t *testing.T) {
	t.Parallel()

	e := NewEngine(100, 5)
	obs, events := e.Classify("alice", nil, nil, 40, capturedAt)
	if obs != nil || events != nil {
		t.Fatal("empty batch should produce nothing")
	}
}

// Package detect classifies freshly fetched metrics against stored history
// and decides which view-count jumps qualify as viral events.
package detect

import (
	"time"

	"viralwatch/internal/fetch"
	"viralwatch/internal/store"
)

// Class describes how an observation relates to the account's history.
type Class int

const (
	// NewAccount marks observations for accounts whose stored history is
	// below the snapshot floor. Deltas are suppressed until a baseline
	// exists, so a first import of an already-popular account does not
	// fire alerts for every item.
	NewAccount Class = iota
	// NewItem marks an item never seen before on an established account.
	// Its full view count is the delta.
	NewItem
	// ExistingItem marks a re-observation; delta is current minus previous.
	ExistingItem
)

func (c Class) String() string {
	switch c {
	case NewAccount:
		return "new_account"
	case NewItem:
		return "new_item"
	case ExistingItem:
		return "existing_item"
	default:
		return "unknown"
	}
}

// Observation is one classified item from a cycle.
type Observation struct {
	Snapshot      store.Snapshot
	Class         Class
	PreviousViews int64
	Delta         int64
	Viral         bool
}

// ViralEvent is a threshold crossing worth alerting on.
type ViralEvent struct {
	Account       string
	ItemID        string
	Description   string
	PreviousViews int64
	CurrentViews  int64
	Delta         int64
	DetectedAt    time.Time
}

// Engine holds the detection parameters for one cycle.
type Engine struct {
	threshold     int64
	snapshotFloor int
}

func NewEngine(threshold int64, snapshotFloor int) *Engine {
	if threshold < 1 {
		threshold = 1
	}
	if snapshotFloor < 1 {
		snapshotFloor = 1
	}
	return &Engine{threshold: threshold, snapshotFloor: snapshotFloor}
}

// Classify evaluates a fetched batch against prior snapshots. historyCount
// is the account's stored snapshot total before this cycle; prior maps item
// IDs to their most recent earlier snapshot. The returned observations carry
// the snapshots to persist; events holds the alerts to send, in item order.
//
// Negative deltas (view-count corrections upstream) are recorded but never
// alert.
func (e *Engine) Classify(account string, items []fetch.Item, prior map[string]store.Snapshot, historyCount int64, capturedAt time.Time) ([]Observation, []ViralEvent) {
	if len(items) == 0 {
		return nil, nil
	}

	newAccount := historyCount < int64(e.snapshotFloor)

	obs := make([]Observation, 0, len(items))
	var events []ViralEvent
	for _, it := range items {
		o := Observation{
			Snapshot: store.Snapshot{
				Account:       account,
				ItemID:        it.ID,
				Description:   it.Description,
				Views:         it.Views,
				Likes:         it.Likes,
				Comments:      it.Comments,
				Shares:        it.Shares,
				ItemCreatedAt: it.CreatedAt,
				CapturedAt:    capturedAt,
			},
		}

		switch {
		case newAccount:
			o.Class = NewAccount
			o.Delta = 0
		case prior == nil:
			o.Class = NewItem
			o.Delta = it.Views
		default:
			prev, ok := prior[it.ID]
			if !ok {
				o.Class = NewItem
				o.Delta = it.Views
			} else {
				o.Class = ExistingItem
				o.PreviousViews = prev.Views
				o.Delta = it.Views - prev.Views
			}
		}

		if o.Class != NewAccount && o.Delta >= e.threshold {
			o.Viral = true
			events = append(events, ViralEvent{
				Account:       account,
				ItemID:        it.ID,
				Description:   it.Description,
				PreviousViews: o.PreviousViews,
				CurrentViews:  it.Views,
				Delta:         o.Delta,
				DetectedAt:    capturedAt,
			})
		}
		obs = append(obs, o)
	}
	return obs, events
}

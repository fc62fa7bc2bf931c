package fetch

import "context"

// Item is one piece of published content as reported by the fetcher.
type Item struct {
	ID          string
	Description string
	Views       int64
	Likes       int64
	Comments    int64
	Shares      int64
	CreatedAt   string
}

// Fetcher is the external content-fetching capability (browser automation,
// page parsing and anti-bot handling live behind this interface).
//
// FetchLatest returns up to limit items ordered most-recent-first. That
// order is authoritative and must not be re-sorted downstream. Failures
// should be wrapped with the constructors in this package; unwrapped errors
// are treated as Transient.
type Fetcher interface {
	FetchLatest(ctx context.Context, username string, limit int) ([]Item, error)
}

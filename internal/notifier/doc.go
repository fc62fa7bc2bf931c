// Package notifier delivers viral alerts and lifecycle notes to the
// operator's Telegram chat.
//
// Alerts flow through an async pipeline: a bounded queue, a small worker
// pool, a token-bucket rate limit, and bounded retries. A per (account,
// item) dedup window keeps a trending item from re-alerting every cycle.
//
// Delivery is best-effort. A failed or deduped alert never fails the
// monitoring cycle that produced it; outcomes are published on the event
// bus instead.
package notifier

// Package store persists time-ordered metric snapshots and per-account
// monitoring statistics in a local sqlite database.
//
// Snapshots are append-only; re-observations within the same capture
// timestamp overwrite instead of duplicating. Writes for one account are
// serialized, writes across accounts are independent.
package store

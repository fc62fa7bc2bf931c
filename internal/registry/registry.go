package registry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"viralwatch/internal/config"
	"viralwatch/pkg/logx"
)

// Priority is an account's scheduling class. Higher values are dispatched
// first when due.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return PriorityHigh, nil
	case "medium", "":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	default:
		return PriorityMedium, fmt.Errorf("unknown priority %q", s)
	}
}

// Account is one monitored remote account plus its due-scheduling state.
type Account struct {
	Username  string
	Priority  Priority
	NextDueAt time.Time
}

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_.]{1,24}$`)

// NormalizeUsername strips a leading @ and validates the username format.
func NormalizeUsername(raw string) (string, error) {
	u := strings.TrimPrefix(strings.TrimSpace(raw), "@")
	if u == "" {
		return "", errors.New("username is empty")
	}
	if !usernameRe.MatchString(u) {
		return "", fmt.Errorf("invalid username %q", raw)
	}
	return u, nil
}

// Registry loads the account CSV and tracks per-account due timestamps.
// Due state survives CSV reloads; accounts removed from the file are dropped.
type Registry struct {
	path      string
	intervals config.PriorityIntervals
	log       logx.Logger

	mu       sync.Mutex
	accounts map[string]*Account
}

func New(path string, intervals config.PriorityIntervals, log logx.Logger) *Registry {
	return &Registry{
		path:      path,
		intervals: intervals,
		log:       log,
		accounts:  map[string]*Account{},
	}
}

// Reload reads the accounts file. Header columns: username, status, priority.
// Lines starting with '#' are comments; inactive rows and malformed usernames
// are skipped with a warning. Accounts no longer in the file are dropped from
// scheduling and returned so callers can clean up their stored data.
func (r *Registry) Reload() (removed []string, err error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open accounts file: %w", err)
	}
	defer f.Close()
	return r.load(f)
}

func (r *Registry) load(src io.Reader) (removed []string, err error) {
	cr := csv.NewReader(src)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read accounts header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	userIdx, ok := col["username"]
	if !ok {
		return nil, errors.New("accounts file has no username column")
	}
	statusIdx, hasStatus := col["status"]
	prioIdx, hasPrio := col["priority"]

	seen := map[string]Priority{}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read accounts row: %w", err)
		}
		if userIdx >= len(rec) {
			continue
		}

		username, err := NormalizeUsername(rec[userIdx])
		if err != nil {
			r.log.Warn("skipping account row", logx.Err(err))
			continue
		}
		if hasStatus && statusIdx < len(rec) {
			if strings.ToLower(strings.TrimSpace(rec[statusIdx])) != "active" {
				continue
			}
		}
		prio := PriorityMedium
		if hasPrio && prioIdx < len(rec) {
			p, err := ParsePriority(rec[prioIdx])
			if err != nil {
				r.log.Warn("account has unknown priority, using medium", logx.String("account", username), logx.Err(err))
			}
			prio = p
		}
		seen[username] = prio
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for username, prio := range seen {
		if acc, ok := r.accounts[username]; ok {
			acc.Priority = prio
			continue
		}
		// New accounts have a zero NextDueAt and are due immediately.
		r.accounts[username] = &Account{Username: username, Priority: prio}
	}
	for username := range r.accounts {
		if _, ok := seen[username]; !ok {
			delete(r.accounts, username)
			removed = append(removed, username)
		}
	}
	sort.Strings(removed)
	return removed, nil
}

// SetIntervals swaps the priority intervals, e.g. after a config reload.
// Already-scheduled due times are unaffected.
func (r *Registry) SetIntervals(intervals config.PriorityIntervals) {
	r.mu.Lock()
	r.intervals = intervals
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accounts)
}

// ComputeDue returns accounts with NextDueAt <= now, ordered by priority
// (high first) and then by how overdue they are.
func (r *Registry) ComputeDue(now time.Time) []Account {
	r.mu.Lock()
	due := make([]Account, 0, len(r.accounts))
	for _, acc := range r.accounts {
		if !acc.NextDueAt.After(now) {
			due = append(due, *acc)
		}
	}
	r.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		if !due[i].NextDueAt.Equal(due[j].NextDueAt) {
			return due[i].NextDueAt.Before(due[j].NextDueAt)
		}
		return due[i].Username < due[j].Username
	})
	return due
}

// AdvanceNextDue reschedules the account at now + its priority interval.
// Called after every attempt, success or failure, so a failing account never
// tightens its own cadence.
func (r *Registry) AdvanceNextDue(username string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[username]
	if !ok {
		return
	}
	acc.NextDueAt = now.Add(r.intervalForLocked(acc.Priority))
}

func (r *Registry) IntervalFor(p Priority) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.intervalForLocked(p)
}

func (r *Registry) intervalForLocked(p Priority) time.Duration {
	switch p {
	case PriorityHigh:
		return r.intervals.High
	case PriorityMedium:
		return r.intervals.Medium
	default:
		return r.intervals.Low
	}
}

// Snapshot returns a copy of all accounts, ordered by username.
func (r *Registry) Snapshot() []Account {
	r.mu.Lock()
	out := make([]Account, 0, len(r.accounts))
	for _, acc := range r.accounts {
		out = append(out, *acc)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

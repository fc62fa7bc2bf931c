package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"viralwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	// accountMu serializes writes per account. Writes for distinct accounts
	// only contend on sqlite's own single-writer lock, never on each other's
	// batch boundaries.
	accountMu sync.Mutex
	accounts  map[string]*sync.Mutex
}

// Open initializes the sqlite-backed metric store and runs migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &sqliteStore{db: db, log: log, accounts: map[string]*sync.Mutex{}}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) lockAccount(account string) *sync.Mutex {
	s.accountMu.Lock()
	mu, ok := s.accounts[account]
	if !ok {
		mu = &sync.Mutex{}
		s.accounts[account] = mu
	}
	s.accountMu.Unlock()
	return mu
}

func (s *sqliteStore) AppendSnapshots(ctx context.Context, account string, snaps []Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	mu := s.lockAccount(account)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO snapshots(account, item_id, description, views, likes, comments, shares, item_created_at, captured_at)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(account, item_id, captured_at) DO UPDATE SET
		   description=excluded.description,
		   views=excluded.views,
		   likes=excluded.likes,
		   comments=excluded.comments,
		   shares=excluded.shares,
		   item_created_at=excluded.item_created_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sn := range snaps {
		capturedAt := sn.CapturedAt
		if capturedAt.IsZero() {
			capturedAt = time.Now()
		}
		_, err := stmt.ExecContext(ctx,
			account, sn.ItemID, nullStr(sn.Description),
			sn.Views, sn.Likes, sn.Comments, sn.Shares,
			nullStr(sn.ItemCreatedAt), capturedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert snapshot %s/%s: %w", account, sn.ItemID, err)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) PriorSnapshots(ctx context.Context, account string, itemIDs []string, before time.Time) (map[string]Snapshot, error) {
	out := make(map[string]Snapshot, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}

	stmt, err := s.db.PrepareContext(ctx,
		`SELECT description, views, likes, comments, shares, item_created_at, captured_at
		 FROM snapshots
		 WHERE account = ? AND item_id = ? AND captured_at < ?
		 ORDER BY captured_at DESC
		 LIMIT 1`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	beforeMS := before.UnixMilli()
	for _, itemID := range itemIDs {
		var (
			desc, created sql.NullString
			sn            Snapshot
			capturedMS    int64
		)
		err := stmt.QueryRowContext(ctx, account, itemID, beforeMS).
			Scan(&desc, &sn.Views, &sn.Likes, &sn.Comments, &sn.Shares, &created, &capturedMS)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		sn.Account = account
		sn.ItemID = itemID
		sn.Description = desc.String
		sn.ItemCreatedAt = created.String
		sn.CapturedAt = time.UnixMilli(capturedMS)
		out[itemID] = sn
	}
	return out, nil
}

func (s *sqliteStore) HistoryCount(ctx context.Context, account string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM snapshots WHERE account = ?`, account).Scan(&n)
	return n, err
}

func (s *sqliteStore) UpsertStat(ctx context.Context, account string, itemsFound int, errMsg string) error {
	mu := s.lockAccount(account)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now().UnixMilli()
	if errMsg != "" {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO account_stats(account, last_scraped_at, items_found, error_count, last_error)
			 VALUES(?,?,?,1,?)
			 ON CONFLICT(account) DO UPDATE SET
			   last_scraped_at=excluded.last_scraped_at,
			   items_found=excluded.items_found,
			   error_count=account_stats.error_count+1,
			   last_error=excluded.last_error`,
			account, now, itemsFound, errMsg)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO account_stats(account, last_scraped_at, items_found, error_count, last_error)
		 VALUES(?,?,?,0,NULL)
		 ON CONFLICT(account) DO UPDATE SET
		   last_scraped_at=excluded.last_scraped_at,
		   items_found=excluded.items_found,
		   error_count=0,
		   last_error=NULL`,
		account, now, itemsFound)
	return err
}

func (s *sqliteStore) RecordAlert(ctx context.Context, account string, at time.Time) error {
	mu := s.lockAccount(account)
	mu.Lock()
	defer mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO account_stats(account, viral_alerts_sent, last_viral_alert_at)
		 VALUES(?,1,?)
		 ON CONFLICT(account) DO UPDATE SET
		   viral_alerts_sent=account_stats.viral_alerts_sent+1,
		   last_viral_alert_at=excluded.last_viral_alert_at`,
		account, at.UnixMilli())
	return err
}

func (s *sqliteStore) AccountStats(ctx context.Context) ([]AccountStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account, last_scraped_at, items_found, error_count, last_error, viral_alerts_sent, last_viral_alert_at
		 FROM account_stats ORDER BY account`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AccountStat
	for rows.Next() {
		var (
			st                 AccountStat
			scrapedMS, alertMS sql.NullInt64
			lastErr            sql.NullString
		)
		if err := rows.Scan(&st.Account, &scrapedMS, &st.ItemsFound, &st.ErrorCount, &lastErr, &st.ViralAlertsSent, &alertMS); err != nil {
			return nil, err
		}
		if scrapedMS.Valid {
			st.LastScrapedAt = time.UnixMilli(scrapedMS.Int64)
		}
		if alertMS.Valid {
			st.LastViralAlertAt = time.UnixMilli(alertMS.Int64)
		}
		st.LastError = lastErr.String
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Totals(ctx context.Context) (Totals, error) {
	var t Totals

	var lastMS sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT account || '/' || item_id), COALESCE(MAX(captured_at), 0)
		 FROM snapshots`).Scan(&t.Snapshots, &t.Items, &lastMS)
	if err != nil {
		return Totals{}, err
	}
	if lastMS.Valid && lastMS.Int64 > 0 {
		t.LastCapturedAt = time.UnixMilli(lastMS.Int64)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(viral_alerts_sent), 0),
		        COALESCE(SUM(CASE WHEN error_count > 0 THEN 1 ELSE 0 END), 0)
		 FROM account_stats`).Scan(&t.Accounts, &t.AlertsSent, &t.ErroredAccount)
	if err != nil {
		return Totals{}, err
	}
	return t, nil
}

func (s *sqliteStore) Prune(ctx context.Context, keepPerItem int) (int64, error) {
	if keepPerItem <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE (account, item_id, captured_at) IN (
		   SELECT account, item_id, captured_at FROM (
		     SELECT account, item_id, captured_at,
		            ROW_NUMBER() OVER (PARTITION BY account, item_id ORDER BY captured_at DESC) AS rn
		     FROM snapshots)
		   WHERE rn > ?)`,
		keepPerItem)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *sqliteStore) DeleteAccount(ctx context.Context, account string) error {
	mu := s.lockAccount(account)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE account = ?`, account); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM account_stats WHERE account = ?`, account); err != nil {
		return err
	}
	return tx.Commit()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

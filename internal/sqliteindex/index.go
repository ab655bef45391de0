// Package sqliteindex implements the queryable message index backing
// RelayCore's list/count/metrics surface. See spec §4.2.
package sqliteindex

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

// Index is a single-writer embedded SQL store. All mutating calls run
// through a single goroutine via the internal writer channel; reads may
// run concurrently on the shared *sql.DB.
type Index struct {
	db      *sql.DB
	writeCh chan writeJob
	done    chan struct{}
}

type writeJob struct {
	fn   func(*sql.DB) error
	resp chan error
}

// Open opens (or creates) the SQLite database at path and applies
// migrations up to schemaVersion.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqliteindex: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqliteindex: pragma %q: %w", p, err)
		}
	}

	idx := &Index{
		db:      db,
		writeCh: make(chan writeJob),
		done:    make(chan struct{}),
	}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	go idx.writerLoop()
	return idx, nil
}

func (idx *Index) writerLoop() {
	for {
		select {
		case job := <-idx.writeCh:
			job.resp <- job.fn(idx.db)
		case <-idx.done:
			return
		}
	}
}

// write serialises fn through the single writer goroutine.
func (idx *Index) write(fn func(*sql.DB) error) error {
	resp := make(chan error, 1)
	select {
	case idx.writeCh <- writeJob{fn: fn, resp: resp}:
	case <-idx.done:
		return fmt.Errorf("sqliteindex: closed")
	}
	return <-resp
}

// Close stops the writer goroutine and closes the underlying database.
func (idx *Index) Close() error {
	close(idx.done)
	return idx.db.Close()
}

func (idx *Index) migrate() error {
	var version int
	if err := idx.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("sqliteindex: read user_version: %w", err)
	}

	migrations := []func(*sql.Tx) error{
		migrateV1,
	}

	for v := version; v < schemaVersion && v < len(migrations); v++ {
		tx, err := idx.db.Begin()
		if err != nil {
			return fmt.Errorf("sqliteindex: migrate v%d: begin: %w", v+1, err)
		}
		if err := migrations[v](tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqliteindex: migrate v%d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("sqliteindex: migrate v%d: commit: %w", v+1, err)
		}
		if _, err := idx.db.Exec(fmt.Sprintf("PRAGMA user_version=%d", v+1)); err != nil {
			return fmt.Errorf("sqliteindex: migrate v%d: set user_version: %w", v+1, err)
		}
	}
	return nil
}

func migrateV1(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id            TEXT PRIMARY KEY,
			subject       TEXT NOT NULL,
			endpoint_hash TEXT NOT NULL,
			status        TEXT NOT NULL,
			created_at    TEXT NOT NULL,
			expires_at    TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_messages_endpoint ON messages(endpoint_hash, status);
		CREATE INDEX IF NOT EXISTS idx_messages_subject ON messages(subject);

		CREATE TABLE IF NOT EXISTS agents (
			id            TEXT PRIMARY KEY,
			project_path  TEXT NOT NULL UNIQUE,
			namespace     TEXT NOT NULL,
			manifest_json TEXT NOT NULL,
			scan_root     TEXT NOT NULL,
			last_seen_at  TEXT,
			last_seen_event TEXT,
			unreachable   INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_agents_namespace ON agents(namespace);

		CREATE TABLE IF NOT EXISTS budget_counters (
			sender      TEXT NOT NULL,
			bucket      INTEGER NOT NULL,
			count       INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (sender, bucket)
		);

		CREATE TABLE IF NOT EXISTS access_rules (
			id       TEXT PRIMARY KEY,
			from_pattern TEXT NOT NULL,
			to_pattern   TEXT NOT NULL,
			action       TEXT NOT NULL,
			priority     INTEGER NOT NULL
		);
	`)
	return err
}

// MessageRow mirrors the messages table. See spec §3.4.
type MessageRow struct {
	ID           string
	Subject      string
	EndpointHash string
	Status       string
	CreatedAt    time.Time
	ExpiresAt    *time.Time
}

// InsertMessage records a new message row, normally with status "pending".
func (idx *Index) InsertMessage(ctx context.Context, m MessageRow) error {
	return idx.write(func(db *sql.DB) error {
		var expires any
		if m.ExpiresAt != nil {
			expires = m.ExpiresAt.UTC().Format(time.RFC3339Nano)
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO messages (id, subject, endpoint_hash, status, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				subject=excluded.subject, endpoint_hash=excluded.endpoint_hash,
				status=excluded.status, expires_at=excluded.expires_at
		`, m.ID, m.Subject, m.EndpointHash, m.Status, m.CreatedAt.UTC().Format(time.RFC3339Nano), expires)
		if err != nil {
			return fmt.Errorf("sqliteindex: insert message %s: %w", m.ID, err)
		}
		return nil
	})
}

// UpdateStatus transitions a message's status column.
func (idx *Index) UpdateStatus(ctx context.Context, id, status string) error {
	return idx.write(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `UPDATE messages SET status=? WHERE id=?`, status, id)
		if err != nil {
			return fmt.Errorf("sqliteindex: update status %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("sqliteindex: message %s not found", id)
		}
		return nil
	})
}

// DeleteByID removes a message row outright, used by DLQ purge.
func (idx *Index) DeleteByID(ctx context.Context, id string) error {
	return idx.write(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `DELETE FROM messages WHERE id=?`, id)
		if err != nil {
			return fmt.Errorf("sqliteindex: delete %s: %w", id, err)
		}
		return nil
	})
}

// CountNewByEndpoint returns the count of pending messages for an
// endpoint, used by the backpressure stage of DeliveryPipeline.
func (idx *Index) CountNewByEndpoint(ctx context.Context, endpointHash string) (int, error) {
	var n int
	err := idx.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE endpoint_hash=? AND status='pending'`, endpointHash,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqliteindex: count new by endpoint %s: %w", endpointHash, err)
	}
	return n, nil
}

// ListBySubject pages through rows matching subject, ordered by id
// (ULIDs sort lexicographically, so this is also creation order).
func (idx *Index) ListBySubject(ctx context.Context, subject, cursor string, limit int) ([]MessageRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := idx.db.QueryContext(ctx, `
		SELECT id, subject, endpoint_hash, status, created_at, expires_at
		FROM messages WHERE subject=? AND id > ? ORDER BY id ASC LIMIT ?
	`, subject, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("sqliteindex: list by subject %s: %w", subject, err)
	}
	defer rows.Close()

	var out []MessageRow
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("sqliteindex: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Metrics summarises the messages table for status reporting.
type Metrics struct {
	Pending   int
	Delivered int
	Failed    int
}

// GetMetrics computes status counts across all messages.
func (idx *Index) GetMetrics(ctx context.Context) (Metrics, error) {
	rows, err := idx.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM messages GROUP BY status`)
	if err != nil {
		return Metrics{}, fmt.Errorf("sqliteindex: metrics: %w", err)
	}
	defer rows.Close()

	var m Metrics
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Metrics{}, fmt.Errorf("sqliteindex: metrics scan: %w", err)
		}
		switch status {
		case "pending":
			m.Pending = count
		case "delivered":
			m.Delivered = count
		case "failed":
			m.Failed = count
		}
	}
	return m, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (MessageRow, error) {
	var m MessageRow
	var created string
	var expires sql.NullString
	if err := s.Scan(&m.ID, &m.Subject, &m.EndpointHash, &m.Status, &created, &expires); err != nil {
		return MessageRow{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return MessageRow{}, fmt.Errorf("parse created_at: %w", err)
	}
	m.CreatedAt = t
	if expires.Valid {
		et, err := time.Parse(time.RFC3339Nano, expires.String)
		if err != nil {
			return MessageRow{}, fmt.Errorf("parse expires_at: %w", err)
		}
		m.ExpiresAt = &et
	}
	return m, nil
}

// IncrementBudgetCounter bumps the per-sender, per-bucket rate-limit
// counter used by RateLimiter's SQLite-backed mode and returns the new
// count for that bucket.
func (idx *Index) IncrementBudgetCounter(ctx context.Context, sender string, bucket int64) (int, error) {
	var count int
	err := idx.write(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO budget_counters (sender, bucket, count) VALUES (?, ?, 1)
			ON CONFLICT(sender, bucket) DO UPDATE SET count = count + 1
		`, sender, bucket)
		if err != nil {
			return err
		}
		return db.QueryRowContext(ctx,
			`SELECT count FROM budget_counters WHERE sender=? AND bucket=?`, sender, bucket,
		).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("sqliteindex: increment budget counter: %w", err)
	}
	return count, nil
}

// PruneBudgetCounters removes bucket rows older than minBucket, keeping
// the table from growing unboundedly.
func (idx *Index) PruneBudgetCounters(ctx context.Context, minBucket int64) error {
	return idx.write(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `DELETE FROM budget_counters WHERE bucket < ?`, minBucket)
		if err != nil {
			return fmt.Errorf("sqliteindex: prune budget counters: %w", err)
		}
		return nil
	})
}

package sqliteindex

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AgentRow mirrors the agents table. ManifestJSON holds the serialised
// protocol.AgentManifest; AgentRegistry owns (de)serialisation.
type AgentRow struct {
	ID            string
	ProjectPath   string
	Namespace     string
	ManifestJSON  string
	ScanRoot      string
	LastSeenAt    *time.Time
	LastSeenEvent string
	Unreachable   bool
}

// UpsertAgent inserts or replaces an agent row. A different id at the
// same project path is removed first, matching spec §4.14's upsert rule.
func (idx *Index) UpsertAgent(ctx context.Context, a AgentRow) error {
	return idx.write(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("sqliteindex: upsert agent: begin: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM agents WHERE project_path=? AND id<>?`, a.ProjectPath, a.ID,
		); err != nil {
			return fmt.Errorf("sqliteindex: upsert agent: evict stale: %w", err)
		}

		var lastSeen any
		if a.LastSeenAt != nil {
			lastSeen = a.LastSeenAt.UTC().Format(time.RFC3339Nano)
		}
		unreachable := 0
		if a.Unreachable {
			unreachable = 1
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO agents (id, project_path, namespace, manifest_json, scan_root, last_seen_at, last_seen_event, unreachable)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				project_path=excluded.project_path, namespace=excluded.namespace,
				manifest_json=excluded.manifest_json, scan_root=excluded.scan_root,
				last_seen_at=excluded.last_seen_at, last_seen_event=excluded.last_seen_event,
				unreachable=excluded.unreachable
		`, a.ID, a.ProjectPath, a.Namespace, a.ManifestJSON, a.ScanRoot, lastSeen, a.LastSeenEvent, unreachable); err != nil {
			return fmt.Errorf("sqliteindex: upsert agent %s: %w", a.ID, err)
		}

		return tx.Commit()
	})
}

// GetAgent fetches an agent by id.
func (idx *Index) GetAgent(ctx context.Context, id string) (AgentRow, error) {
	row := idx.db.QueryRowContext(ctx,
		`SELECT id, project_path, namespace, manifest_json, scan_root, last_seen_at, last_seen_event, unreachable
		 FROM agents WHERE id=?`, id)
	return scanAgent(row)
}

// GetAgentByPath fetches an agent by its registered project path.
func (idx *Index) GetAgentByPath(ctx context.Context, path string) (AgentRow, error) {
	row := idx.db.QueryRowContext(ctx,
		`SELECT id, project_path, namespace, manifest_json, scan_root, last_seen_at, last_seen_event, unreachable
		 FROM agents WHERE project_path=?`, path)
	return scanAgent(row)
}

// ListAgents returns every agent row, optionally filtered by namespace
// when ns is non-empty.
func (idx *Index) ListAgents(ctx context.Context, ns string) ([]AgentRow, error) {
	query := `SELECT id, project_path, namespace, manifest_json, scan_root, last_seen_at, last_seen_event, unreachable FROM agents`
	var args []any
	if ns != "" {
		query += " WHERE namespace=?"
		args = append(args, ns)
	}
	rows, err := idx.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqliteindex: list agents: %w", err)
	}
	defer rows.Close()

	var out []AgentRow
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("sqliteindex: scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkUnreachable sets the durable unreachable flag for an agent.
func (idx *Index) MarkUnreachable(ctx context.Context, id string) error {
	return idx.write(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `UPDATE agents SET unreachable=1 WHERE id=?`, id)
		if err != nil {
			return fmt.Errorf("sqliteindex: mark unreachable %s: %w", id, err)
		}
		return nil
	})
}

// UpdateAgentHealth bumps the last-seen timestamp and event label.
func (idx *Index) UpdateAgentHealth(ctx context.Context, id string, seenAt time.Time, event string) error {
	return idx.write(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE agents SET last_seen_at=?, last_seen_event=? WHERE id=?`,
			seenAt.UTC().Format(time.RFC3339Nano), event, id,
		)
		if err != nil {
			return fmt.Errorf("sqliteindex: update health %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("sqliteindex: agent %s not found", id)
		}
		return nil
	})
}

// DeleteAgent removes an agent row outright, used on mesh unregister.
func (idx *Index) DeleteAgent(ctx context.Context, id string) error {
	return idx.write(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `DELETE FROM agents WHERE id=?`, id)
		if err != nil {
			return fmt.Errorf("sqliteindex: delete agent %s: %w", id, err)
		}
		return nil
	})
}

func scanAgent(s scanner) (AgentRow, error) {
	var a AgentRow
	var lastSeen sql.NullString
	var unreachable int
	if err := s.Scan(&a.ID, &a.ProjectPath, &a.Namespace, &a.ManifestJSON, &a.ScanRoot, &lastSeen, &a.LastSeenEvent, &unreachable); err != nil {
		return AgentRow{}, err
	}
	if lastSeen.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastSeen.String)
		if err != nil {
			return AgentRow{}, fmt.Errorf("parse last_seen_at: %w", err)
		}
		a.LastSeenAt = &t
	}
	a.Unreachable = unreachable != 0
	return a, nil
}

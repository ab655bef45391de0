package sqliteindex

import (
	"context"
	"database/sql"
	"fmt"
)

// AccessRuleRow mirrors the access_rules table. See spec §3.7.
type AccessRuleRow struct {
	ID       string
	From     string
	To       string
	Action   string
	Priority int
}

// InsertAccessRule persists a rule, replacing any existing row with the
// same id.
func (idx *Index) InsertAccessRule(ctx context.Context, r AccessRuleRow) error {
	return idx.write(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO access_rules (id, from_pattern, to_pattern, action, priority)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				from_pattern=excluded.from_pattern, to_pattern=excluded.to_pattern,
				action=excluded.action, priority=excluded.priority
		`, r.ID, r.From, r.To, r.Action, r.Priority)
		if err != nil {
			return fmt.Errorf("sqliteindex: insert access rule %s: %w", r.ID, err)
		}
		return nil
	})
}

// DeleteAccessRule removes a rule by id.
func (idx *Index) DeleteAccessRule(ctx context.Context, id string) error {
	return idx.write(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `DELETE FROM access_rules WHERE id=?`, id)
		if err != nil {
			return fmt.Errorf("sqliteindex: delete access rule %s: %w", id, err)
		}
		return nil
	})
}

// ListAccessRules returns every persisted rule, used on RelayCore boot
// to repopulate AccessControl.
func (idx *Index) ListAccessRules(ctx context.Context) ([]AccessRuleRow, error) {
	rows, err := idx.db.QueryContext(ctx, `SELECT id, from_pattern, to_pattern, action, priority FROM access_rules`)
	if err != nil {
		return nil, fmt.Errorf("sqliteindex: list access rules: %w", err)
	}
	defer rows.Close()

	var out []AccessRuleRow
	for rows.Next() {
		var r AccessRuleRow
		if err := rows.Scan(&r.ID, &r.From, &r.To, &r.Action, &r.Priority); err != nil {
			return nil, fmt.Errorf("sqliteindex: scan access rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

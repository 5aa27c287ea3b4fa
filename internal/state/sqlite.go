package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/agentforest/forest/internal/oracle"
)

// DB is a Store backed by SQLite. Appends are transactional per
// parent, so a run aborted between batches leaves valid resumable
// state on disk.
type DB struct {
	db    *sql.DB
	runID string
}

var _ Store = (*DB)(nil)

// Open opens (or creates) the state database at path.
func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// The driver is not safe for concurrent writes on one connection
	// pool without serialization; a single connection keeps writes
	// ordered and is plenty for this workload.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{db: db}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		// One row per analysis invocation
		`CREATE TABLE IF NOT EXISTS runs (
			id         TEXT PRIMARY KEY,
			started_at TEXT NOT NULL
		)`,

		// Resolved groups, append-only per parent
		`CREATE TABLE IF NOT EXISTS groups (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			parent_id TEXT NOT NULL,
			position  INTEGER NOT NULL,
			run_id    TEXT NOT NULL DEFAULT '',
			UNIQUE(parent_id, position)
		)`,

		// Children of each group, ordered
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id INTEGER NOT NULL REFERENCES groups(id),
			child_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (group_id, child_id)
		)`,

		// Children whose oracle calls never succeeded, replaced per run
		`CREATE TABLE IF NOT EXISTS unresolved (
			parent_id TEXT NOT NULL,
			child_id  TEXT NOT NULL,
			position  INTEGER NOT NULL,
			PRIMARY KEY (parent_id, child_id)
		)`,

		// Plan-alignment verdicts, one per journal record. Upserted so
		// that error rows can be re-judged in place.
		`CREATE TABLE IF NOT EXISTS judgments (
			record_id TEXT PRIMARY KEY,
			status    TEXT NOT NULL,
			reason    TEXT NOT NULL DEFAULT '',
			run_id    TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE INDEX IF NOT EXISTS idx_groups_parent ON groups(parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_unresolved_parent ON unresolved(parent_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// BeginRun records a new run row and tags subsequent appends with its
// id. Returns the run id.
func (d *DB) BeginRun(ctx context.Context) (string, error) {
	id := uuid.NewString()
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at) VALUES (?, ?)`,
		id, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("record run: %w", err)
	}
	d.runID = id
	return id, nil
}

func (d *DB) Get(ctx context.Context, parentID string) (ParentState, error) {
	out := ParentState{ParentID: parentID}

	rows, err := d.db.QueryContext(ctx, `
		SELECT g.id, m.child_id
		FROM groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE g.parent_id = ?
		ORDER BY g.position, m.position`, parentID)
	if err != nil {
		return out, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var lastGroup int64 = -1
	for rows.Next() {
		var groupID int64
		var childID string
		if err := rows.Scan(&groupID, &childID); err != nil {
			return out, fmt.Errorf("scan group member: %w", err)
		}
		if groupID != lastGroup {
			out.Groups = append(out.Groups, nil)
			lastGroup = groupID
		}
		out.Groups[len(out.Groups)-1] = append(out.Groups[len(out.Groups)-1], childID)
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("iterate groups: %w", err)
	}

	urows, err := d.db.QueryContext(ctx, `
		SELECT child_id FROM unresolved
		WHERE parent_id = ? ORDER BY position`, parentID)
	if err != nil {
		return out, fmt.Errorf("query unresolved: %w", err)
	}
	defer urows.Close()

	for urows.Next() {
		var childID string
		if err := urows.Scan(&childID); err != nil {
			return out, fmt.Errorf("scan unresolved: %w", err)
		}
		out.Unresolved = append(out.Unresolved, childID)
	}
	if err := urows.Err(); err != nil {
		return out, fmt.Errorf("iterate unresolved: %w", err)
	}
	return out, nil
}

func (d *DB) AppendGroups(ctx context.Context, parentID string, groups [][]string) error {
	if len(groups) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM groups WHERE parent_id = ?`,
		parentID).Scan(&next)
	if err != nil {
		return fmt.Errorf("next position: %w", err)
	}

	for _, group := range groups {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO groups (parent_id, position, run_id) VALUES (?, ?, ?)`,
			parentID, next, d.runID)
		if err != nil {
			return fmt.Errorf("insert group: %w", err)
		}
		groupID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("group id: %w", err)
		}
		for i, childID := range group {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO group_members (group_id, child_id, position) VALUES (?, ?, ?)`,
				groupID, childID, i); err != nil {
				return fmt.Errorf("insert member %s: %w", childID, err)
			}
		}
		next++
	}

	return tx.Commit()
}

func (d *DB) SetUnresolved(ctx context.Context, parentID string, ids []string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM unresolved WHERE parent_id = ?`, parentID); err != nil {
		return fmt.Errorf("clear unresolved: %w", err)
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO unresolved (parent_id, child_id, position) VALUES (?, ?, ?)`,
			parentID, id, i); err != nil {
			return fmt.Errorf("insert unresolved %s: %w", id, err)
		}
	}

	return tx.Commit()
}

func (d *DB) Judgments(ctx context.Context) (map[string]oracle.AlignmentVerdict, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT record_id, status, reason FROM judgments`)
	if err != nil {
		return nil, fmt.Errorf("query judgments: %w", err)
	}
	defer rows.Close()

	out := make(map[string]oracle.AlignmentVerdict)
	for rows.Next() {
		var id, status, reason string
		if err := rows.Scan(&id, &status, &reason); err != nil {
			return nil, fmt.Errorf("scan judgment: %w", err)
		}
		out[id] = oracle.AlignmentVerdict{Status: oracle.AlignmentStatus(status), Reason: reason}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate judgments: %w", err)
	}
	return out, nil
}

func (d *DB) SetJudgment(ctx context.Context, recordID string, v oracle.AlignmentVerdict) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO judgments (record_id, status, reason, run_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET
			status = excluded.status,
			reason = excluded.reason,
			run_id = excluded.run_id`,
		recordID, string(v.Status), v.Reason, d.runID)
	if err != nil {
		return fmt.Errorf("upsert judgment %s: %w", recordID, err)
	}
	return nil
}

func (d *DB) Reset(ctx context.Context) error {
	for _, table := range []string{"group_members", "groups", "unresolved", "judgments", "runs"} {
		if _, err := d.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

func (d *DB) Close() error { return d.db.Close() }

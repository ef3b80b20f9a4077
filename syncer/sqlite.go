package syncer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sync_operations (
	id         TEXT PRIMARY KEY,
	key        TEXT NOT NULL,
	value      BLOB NOT NULL,
	timestamp  INTEGER NOT NULL,
	status     TEXT NOT NULL,
	retries    INTEGER NOT NULL DEFAULT 0,
	error      TEXT NOT NULL DEFAULT '',
	applied_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_sync_operations_status ON sync_operations(status);
`

// SQLiteStore persists sync operations in a SQLite database. Timestamps
// are stored as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. It enables WAL mode and a busy timeout so a reader and the
// synchronizer can share the file.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema on %s: %w", path, err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSync(ctx context.Context, op *Operation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_operations (id, key, value, timestamp, status, retries, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.Key, []byte(op.Value), op.Timestamp.UnixMilli(), string(op.Status), op.Retries, op.Error)
	if err != nil {
		return fmt.Errorf("create sync %s: %w", op.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateSync(ctx context.Context, id string, patch Patch) error {
	var sets []string
	var args []any

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.Retries != nil {
		sets = append(sets, "retries = ?")
		args = append(args, *patch.Retries)
	}
	if patch.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *patch.Error)
	}
	if patch.AppliedAt != nil {
		sets = append(sets, "applied_at = ?")
		args = append(args, patch.AppliedAt.UnixMilli())
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := "UPDATE sync_operations SET " + strings.Join(sets, ", ") + " WHERE id = ?"

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update sync %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update sync %s: %w", id, err)
	}
	if affected == 0 {
		return ErrOperationNotFound
	}
	return nil
}

func (s *SQLiteStore) FindPendingSyncs(ctx context.Context) ([]Operation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key, value, timestamp, status, retries, error
		 FROM sync_operations WHERE status = ? ORDER BY timestamp ASC, id ASC`,
		string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("find pending syncs: %w", err)
	}
	defer rows.Close()

	var pending []Operation
	for rows.Next() {
		var op Operation
		var millis int64
		var status string
		if err := rows.Scan(&op.ID, &op.Key, (*[]byte)(&op.Value), &millis, &status, &op.Retries, &op.Error); err != nil {
			return nil, fmt.Errorf("scan sync operation: %w", err)
		}
		op.Timestamp = time.UnixMilli(millis)
		op.Status = Status(status)
		pending = append(pending, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync operations: %w", err)
	}
	return pending, nil
}

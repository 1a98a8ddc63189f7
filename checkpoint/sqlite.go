package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps snapshots in a single SQLite file. created_at is stored
// as Unix nanoseconds so ordering is exact.
type SQLiteStore struct {
	db    *sql.DB
	table string
}

// NewSQLiteStore opens (or creates) the database at path and its schema.
// Use ":memory:" for a throwaway store.
func NewSQLiteStore(ctx context.Context, path, table string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection, so ":memory:" is a single database
	db.SetMaxOpenConns(1)
	if table == "" {
		table = DefaultTable
	}
	s := &SQLiteStore{db: db, table: table}
	if err := s.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// InitSchema creates the table and its scope index if missing.
func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			kind TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			parameters INTEGER NOT NULL,
			variables TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_scope_created ON %s (scope, created_at);
	`, s.table, s.table, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Save upserts the snapshot.
func (s *SQLiteStore) Save(ctx context.Context, snap *Snapshot) error {
	vars, err := json.Marshal(snap.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, scope, kind, created_at, parameters, variables)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			scope = excluded.scope,
			kind = excluded.kind,
			created_at = excluded.created_at,
			parameters = excluded.parameters,
			variables = excluded.variables
	`, s.table)
	_, err = s.db.ExecContext(ctx, query,
		snap.ID.String(),
		snap.Scope,
		snap.Kind,
		snap.CreatedAt.UnixNano(),
		snap.Info().Parameters,
		string(vars),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanSnapshot(row *sql.Row) (*Snapshot, error) {
	var (
		snap Snapshot
		id   string
		at   int64
		vars string
	)
	if err := row.Scan(&id, &snap.Scope, &snap.Kind, &at, &vars); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("snapshot id %q: %w", id, err)
	}
	snap.ID = parsed
	snap.CreatedAt = time.Unix(0, at).UTC()
	if err := json.Unmarshal([]byte(vars), &snap.Variables); err != nil {
		return nil, fmt.Errorf("unmarshal variables: %w", err)
	}
	return &snap, nil
}

// Get reads one snapshot.
func (s *SQLiteStore) Get(ctx context.Context, scope string, id uuid.UUID) (*Snapshot, error) {
	query := fmt.Sprintf(`SELECT id, scope, kind, created_at, variables FROM %s WHERE scope = ? AND id = ?`, s.table)
	snap, err := s.scanSnapshot(s.db.QueryRowContext(ctx, query, scope, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, scope, id)
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

// Load returns the newest snapshot of scope.
func (s *SQLiteStore) Load(ctx context.Context, scope string) (*Snapshot, error) {
	query := fmt.Sprintf(`SELECT id, scope, kind, created_at, variables FROM %s WHERE scope = ? ORDER BY created_at DESC LIMIT 1`, s.table)
	snap, err := s.scanSnapshot(s.db.QueryRowContext(ctx, query, scope))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: scope %s", ErrNotFound, scope)
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

// List returns the snapshots of scope, oldest first.
func (s *SQLiteStore) List(ctx context.Context, scope string) ([]Info, error) {
	query := fmt.Sprintf(`SELECT id, scope, kind, created_at, parameters FROM %s WHERE scope = ? ORDER BY created_at ASC`, s.table)
	rows, err := s.db.QueryContext(ctx, query, scope)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	out := []Info{}
	for rows.Next() {
		var (
			info Info
			id   string
			at   int64
		)
		if err := rows.Scan(&id, &info.Scope, &info.Kind, &at, &info.Parameters); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		if info.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("snapshot id %q: %w", id, err)
		}
		info.CreatedAt = time.Unix(0, at).UTC()
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

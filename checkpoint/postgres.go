package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBPool is the subset of *pgxpool.Pool the store needs.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// DefaultTable is the table PostgresStore uses when none is given.
const DefaultTable = "policy_checkpoints"

// PostgresStore keeps one row per snapshot with the parameters as JSONB.
type PostgresStore struct {
	pool  DBPool
	table string
}

// NewPostgresStore wraps a pool.
func NewPostgresStore(pool DBPool, table string) *PostgresStore {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresStore{pool: pool, table: table}
}

// InitSchema creates the table and its scope index if missing.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			scope TEXT NOT NULL,
			kind TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			parameters INTEGER NOT NULL,
			variables JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_scope_created ON %s (scope, created_at);
	`, s.table, s.table, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Save upserts the snapshot.
func (s *PostgresStore) Save(ctx context.Context, snap *Snapshot) error {
	vars, err := json.Marshal(snap.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, scope, kind, created_at, parameters, variables)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			scope = EXCLUDED.scope,
			kind = EXCLUDED.kind,
			created_at = EXCLUDED.created_at,
			parameters = EXCLUDED.parameters,
			variables = EXCLUDED.variables
	`, s.table)
	_, err = s.pool.Exec(ctx, query,
		snap.ID.String(),
		snap.Scope,
		snap.Kind,
		snap.CreatedAt,
		snap.Info().Parameters,
		vars,
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) scanSnapshot(row pgx.Row) (*Snapshot, error) {
	var (
		snap Snapshot
		id   string
		vars []byte
	)
	if err := row.Scan(&id, &snap.Scope, &snap.Kind, &snap.CreatedAt, &vars); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("snapshot id %q: %w", id, err)
	}
	snap.ID = parsed
	if err := json.Unmarshal(vars, &snap.Variables); err != nil {
		return nil, fmt.Errorf("unmarshal variables: %w", err)
	}
	return &snap, nil
}

// Get reads one snapshot.
func (s *PostgresStore) Get(ctx context.Context, scope string, id uuid.UUID) (*Snapshot, error) {
	query := fmt.Sprintf(`SELECT id, scope, kind, created_at, variables FROM %s WHERE scope = $1 AND id = $2`, s.table)
	snap, err := s.scanSnapshot(s.pool.QueryRow(ctx, query, scope, id.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, scope, id)
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

// Load returns the newest snapshot of scope.
func (s *PostgresStore) Load(ctx context.Context, scope string) (*Snapshot, error) {
	query := fmt.Sprintf(`SELECT id, scope, kind, created_at, variables FROM %s WHERE scope = $1 ORDER BY created_at DESC LIMIT 1`, s.table)
	snap, err := s.scanSnapshot(s.pool.QueryRow(ctx, query, scope))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: scope %s", ErrNotFound, scope)
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

// List returns the snapshots of scope, oldest first.
func (s *PostgresStore) List(ctx context.Context, scope string) ([]Info, error) {
	query := fmt.Sprintf(`SELECT id, scope, kind, created_at, parameters FROM %s WHERE scope = $1 ORDER BY created_at ASC`, s.table)
	rows, err := s.pool.Query(ctx, query, scope)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	out := []Info{}
	for rows.Next() {
		var (
			info Info
			id   string
			at   time.Time
		)
		if err := rows.Scan(&id, &info.Scope, &info.Kind, &at, &info.Parameters); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		if info.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("snapshot id %q: %w", id, err)
		}
		info.CreatedAt = at
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

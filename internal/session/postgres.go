package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotMigrated means the session table does not exist
var ErrNotMigrated = errors.New("session table is missing, run migrations")

// DBTX is satisfied by pool, connection and transaction
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// PostgresBackend keeps records in session_entries, one row per
// (namespace, key)
type PostgresBackend struct {
	DB        DBTX
	Namespace string
}

func NewPostgresBackend(db DBTX, namespace string) *PostgresBackend {
	if namespace == "" {
		namespace = "default"
	}
	return &PostgresBackend{DB: db, Namespace: namespace}
}

const getEntry = `-- name: GetEntry
SELECT value FROM session_entries
WHERE namespace = $1 AND key = $2
`

func (p *PostgresBackend) Get(ctx context.Context, key string) ([]byte, error) {
	rows, _ := p.DB.Query(ctx, getEntry, p.Namespace, key)
	value, err := pgx.CollectOneRow(rows, pgx.RowTo[[]byte])

	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrNotFound
	default:
		return nil, dbError(err)
	}
}

const setEntry = `-- name: SetEntry
INSERT INTO session_entries (namespace, key, value, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (namespace, key) DO UPDATE
SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
`

func (p *PostgresBackend) Set(ctx context.Context, key string, value []byte) error {
	_, err := p.DB.Exec(ctx, setEntry, p.Namespace, key, value)
	if err != nil {
		return dbError(err)
	}
	return nil
}

const deleteEntries = `-- name: DeleteEntries
DELETE FROM session_entries
WHERE namespace = $1 AND key = ANY($2)
`

func (p *PostgresBackend) Delete(ctx context.Context, keys ...string) error {
	_, err := p.DB.Exec(ctx, deleteEntries, p.Namespace, keys)
	if err != nil {
		return dbError(err)
	}
	return nil
}

func dbError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		return ErrNotMigrated
	}
	return fmt.Errorf("db error: %w", err)
}

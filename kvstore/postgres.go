package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// advisoryLockKey serializes every store transaction on the database. The
// value is arbitrary but must be shared by all processes using the table.
const advisoryLockKey int64 = 0x6775696c64

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres is a Store backed by the kv_entries table.
type Postgres struct {
	pool TxBeginner
}

func NewPostgres(pool TxBeginner) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Begin(ctx context.Context) (Txn, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("kvstore: begin tx: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockKey); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("kvstore: acquire store lock: %w", err)
	}
	return &postgresTxn{tx: tx}, nil
}

type postgresTxn struct {
	tx pgx.Tx
}

func (t *postgresTxn) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := t.tx.QueryRow(ctx, `SELECT value FROM kv_entries WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("kvstore: get %s: %w", key, err)
	}
	return value, nil
}

func (t *postgresTxn) Set(ctx context.Context, key string, value []byte) error {
	const upsertSQL = `
INSERT INTO kv_entries (key, value)
VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE
SET value = EXCLUDED.value,
    updated_at = now()
`
	if _, err := t.tx.Exec(ctx, upsertSQL, key, value); err != nil {
		return fmt.Errorf("kvstore: set %s: %w", key, err)
	}
	return nil
}

func (t *postgresTxn) Has(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM kv_entries WHERE key = $1)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("kvstore: has %s: %w", key, err)
	}
	return exists, nil
}

func (t *postgresTxn) Delete(ctx context.Context, key string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM kv_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("kvstore: delete %s: %w", key, err)
	}
	return nil
}

func (t *postgresTxn) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	const query = `
SELECT key, value
FROM kv_entries
WHERE starts_with(key, $1)
ORDER BY key COLLATE "C"
`
	rows, err := t.tx.Query(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("kvstore: scan %s: %w", prefix, err)
	}
	defer rows.Close()

	out := make([]Entry, 0, 8)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("kvstore: scan row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kvstore: iterate %s: %w", prefix, err)
	}
	return out, nil
}

func (t *postgresTxn) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return ErrTxDone
		}
		return fmt.Errorf("kvstore: commit: %w", err)
	}
	return nil
}

func (t *postgresTxn) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("kvstore: rollback: %w", err)
	}
	return nil
}

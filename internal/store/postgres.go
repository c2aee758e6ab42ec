package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tay1862/kinsaep-pos-sub005/internal/order"
)

// Postgres is the shared remote store all terminals reconcile against.
type Postgres struct {
	pool *pgxpool.Pool
}

// ConnectPostgres opens a connection pool and verifies it.
func ConnectPostgres(ctx context.Context, host string, port int, user, pass, name string) (*Postgres, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s", user, pass, host, port, name)
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect remote store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping remote store: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// EnsureSchema creates the orders table if missing. Column layout
// mirrors the local SQLite schema.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id         TEXT PRIMARY KEY,
			code       TEXT NOT NULL,
			number     BIGINT NOT NULL,
			status     TEXT NOT NULL,
			order_type TEXT NOT NULL,
			table_id   TEXT NOT NULL DEFAULT '',
			revision   BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			payload    JSONB NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure remote schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Postgres) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Get implements Store.
func (s *Postgres) Get(ctx context.Context, id string) (*order.Order, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, "SELECT payload FROM orders WHERE id = $1", id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return decodeOrder(string(payload))
}

// Delete implements Store.
func (s *Postgres) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM orders WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete order %s: %w", id, err)
	}
	return nil
}

// Put implements Store with the same revision semantics as the local
// store, in a single repeatable-read transaction.
func (s *Postgres) Put(ctx context.Context, o *order.Order) (rev int64, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("put order %s: %w", o.ID, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var stored int64
	scanErr := tx.QueryRow(ctx, "SELECT revision FROM orders WHERE id = $1 FOR UPDATE", o.ID).Scan(&stored)
	switch {
	case errors.Is(scanErr, pgx.ErrNoRows):
		// New order.
	case scanErr != nil:
		return 0, fmt.Errorf("put order %s: %w", o.ID, scanErr)
	case o.Revision < stored:
		return 0, &ConflictError{OrderID: o.ID, Stored: stored, Proposed: o.Revision}
	case o.Revision == stored:
		err = tx.Commit(ctx)
		return stored, err
	}

	payload, err := json.Marshal(o)
	if err != nil {
		return 0, fmt.Errorf("encode order %s: %w", o.ID, err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, code, number, status, order_type, table_id, revision, updated_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			table_id = EXCLUDED.table_id,
			revision = EXCLUDED.revision,
			updated_at = EXCLUDED.updated_at,
			payload = EXCLUDED.payload
	`,
		o.ID, o.Code, o.Number, string(o.Status), string(o.Type), o.TableID,
		o.Revision, o.UpdatedAt.UTC(), payload,
	)
	if err != nil {
		return 0, fmt.Errorf("put order %s: %w", o.ID, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("put order %s: %w", o.ID, err)
	}
	return o.Revision, nil
}

// List implements Store.
func (s *Postgres) List(ctx context.Context, f Filter) ([]*order.Order, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Status != "" {
		conds = append(conds, "status = "+arg(string(f.Status)))
	}
	if f.Type != "" {
		conds = append(conds, "order_type = "+arg(string(f.Type)))
	}
	if f.TableID != "" {
		conds = append(conds, "table_id = "+arg(f.TableID))
	}
	if !f.Since.IsZero() {
		conds = append(conds, "updated_at >= "+arg(f.Since.UTC()))
	}
	query := "SELECT payload FROM orders"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []*order.Order
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("list orders: %w", err)
		}
		o, err := decodeOrder(string(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// MaxNumber implements Store.
func (s *Postgres) MaxNumber(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, "SELECT COALESCE(MAX(number), 0) FROM orders").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("max order number: %w", err)
	}
	return n, nil
}

package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tay1862/kinsaep-pos-sub005/internal/order"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema
const currentSchemaVersion = 1

// SQLite is the terminal's local durable store.
// Uses WAL mode so reads proceed while a commit is in flight.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite creates or opens the local store at path.
// Applies required pragmas and migrations automatically; safe to call
// on every startup.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - a single writer connection to avoid SQLITE_BUSY errors
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect local store: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return err
	}
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return err
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", currentSchemaVersion); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, id string) (*order.Order, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM orders WHERE id = ?", id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return decodeOrder(payload)
}

// Delete implements Store.
func (s *SQLite) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM orders WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete order %s: %w", id, err)
	}
	return nil
}

// Put implements Store. The revision check and the write commit in one
// transaction, so two racing writers cannot both win.
func (s *SQLite) Put(ctx context.Context, o *order.Order) (rev int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("put order %s: %w", o.ID, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var stored int64
	scanErr := tx.QueryRowContext(ctx, "SELECT revision FROM orders WHERE id = ?", o.ID).Scan(&stored)
	switch {
	case errors.Is(scanErr, sql.ErrNoRows):
		// New order.
	case scanErr != nil:
		return 0, fmt.Errorf("put order %s: %w", o.ID, scanErr)
	case o.Revision < stored:
		return 0, &ConflictError{OrderID: o.ID, Stored: stored, Proposed: o.Revision}
	case o.Revision == stored:
		// Idempotent re-put of the committed revision.
		err = tx.Commit()
		return stored, err
	}

	payload, err := json.Marshal(o)
	if err != nil {
		return 0, fmt.Errorf("encode order %s: %w", o.ID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, code, number, status, order_type, table_id, revision, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			table_id = excluded.table_id,
			revision = excluded.revision,
			updated_at = excluded.updated_at,
			payload = excluded.payload
	`,
		o.ID, o.Code, o.Number, string(o.Status), string(o.Type), o.TableID,
		o.Revision, o.UpdatedAt.UTC().Format(time.RFC3339Nano), string(payload),
	)
	if err != nil {
		return 0, fmt.Errorf("put order %s: %w", o.ID, err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("put order %s: %w", o.ID, err)
	}
	return o.Revision, nil
}

// List implements Store.
func (s *SQLite) List(ctx context.Context, f Filter) ([]*order.Order, error) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		conds = append(conds, "order_type = ?")
		args = append(args, string(f.Type))
	}
	if f.TableID != "" {
		conds = append(conds, "table_id = ?")
		args = append(args, f.TableID)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "updated_at >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}
	query := "SELECT payload FROM orders"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []*order.Order
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("list orders: %w", err)
		}
		o, err := decodeOrder(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// MaxNumber implements Store.
func (s *SQLite) MaxNumber(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(number), 0) FROM orders").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("max order number: %w", err)
	}
	return n, nil
}

func decodeOrder(payload string) (*order.Order, error) {
	var o order.Order
	if err := json.Unmarshal([]byte(payload), &o); err != nil {
		return nil, fmt.Errorf("decode order payload: %w", err)
	}
	return &o, nil
}

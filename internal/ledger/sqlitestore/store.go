// Package sqlitestore persists ledger orders in SQLite. Orders are stored
// as one JSON document per id; the ledger owns all invariants, so the
// schema stays a durable key-value table rather than a relational model.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/glebarez/go-sqlite"

	"sleipnir/internal/domain"
	"sleipnir/internal/ledger"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("setting pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			id         TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			payload    BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("creating orders table: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Load(ctx context.Context, orderID string) (domain.Order, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM orders WHERE id = ?", orderID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("%w: %s", ledger.ErrUnknownOrder, orderID)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("loading order %s: %w", orderID, err)
	}

	var order domain.Order
	if err := json.Unmarshal(payload, &order); err != nil {
		return domain.Order{}, fmt.Errorf("decoding order %s: %w", orderID, err)
	}
	return order, nil
}

func (s *Store) Save(ctx context.Context, order domain.Order) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encoding order %s: %w", order.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (id, status, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload,
			updated_at = excluded.updated_at;
	`, order.ID, order.Status.String(), payload, order.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("saving order %s: %w", order.ID, err)
	}
	return nil
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fluxfret/cascade/core/model"
)

// SQLite persists chains, lanes, orders and audit events in a SQLite
// database. Chain updates are conditional on the stored version so that a
// scheduler tick and a carrier response racing on the same chain resolve to
// exactly one winner.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates the database at path and ensures the schema.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `
CREATE TABLE IF NOT EXISTS chains (
    id TEXT PRIMARY KEY,
    order_id TEXT NOT NULL UNIQUE,
    status TEXT NOT NULL,
    next_expires_at INTEGER,
    version INTEGER NOT NULL,
    doc TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chains_scan ON chains(status, next_expires_at);
CREATE TABLE IF NOT EXISTS lanes (
    id TEXT PRIMARY KEY,
    shipper_id TEXT,
    active INTEGER NOT NULL,
    doc TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    doc TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    order_id TEXT NOT NULL,
    type TEXT NOT NULL,
    ts INTEGER NOT NULL,
    payload TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_order ON events(order_id, ts);`
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error { return s.db.Close() }

// Chains returns the ChainStore view.
func (s *SQLite) Chains() ChainStore { return &sqliteChains{db: s.db} }

// Lanes returns the LaneStore view.
func (s *SQLite) Lanes() LaneStore { return &sqliteLanes{db: s.db} }

// Orders returns the OrderStore view.
func (s *SQLite) Orders() OrderStore { return &sqliteOrders{db: s.db} }

// Events returns the EventStore view.
func (s *SQLite) Events() EventStore { return &sqliteEvents{db: s.db} }

type sqliteChains struct{ db *sql.DB }

func nextExpiryUnix(c *model.DispatchChain) any {
	if e := c.NextExpiry(); e != nil {
		return e.Unix()
	}
	return nil
}

func (s *sqliteChains) Create(ctx context.Context, chain *model.DispatchChain) error {
	chain.Version = 1
	doc, err := json.Marshal(chain)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chains (id, order_id, status, next_expires_at, version, doc) VALUES (?, ?, ?, ?, ?, ?)`,
		chain.ID, chain.OrderID, string(chain.Status), nextExpiryUnix(chain), chain.Version, string(doc))
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return ErrDuplicate
	}
	return err
}

func (s *sqliteChains) scanDoc(row *sql.Row) (*model.DispatchChain, error) {
	var doc string
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var c model.DispatchChain
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return nil, fmt.Errorf("unmarshal chain: %w", err)
	}
	return &c, nil
}

func (s *sqliteChains) Get(ctx context.Context, id string) (*model.DispatchChain, error) {
	return s.scanDoc(s.db.QueryRowContext(ctx, `SELECT doc FROM chains WHERE id = ?`, id))
}

func (s *sqliteChains) GetByOrder(ctx context.Context, orderID string) (*model.DispatchChain, error) {
	return s.scanDoc(s.db.QueryRowContext(ctx, `SELECT doc FROM chains WHERE order_id = ?`, orderID))
}

// Update performs a compare-and-set on the version column. Zero rows
// affected means either the record vanished or another writer won the race.
func (s *sqliteChains) Update(ctx context.Context, chain *model.DispatchChain) error {
	next := chain.Version + 1
	clone := *chain
	clone.Version = next
	doc, err := json.Marshal(&clone)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE chains SET status = ?, next_expires_at = ?, version = ?, doc = ? WHERE id = ? AND version = ?`,
		string(chain.Status), nextExpiryUnix(chain), next, string(doc), chain.ID, chain.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM chains WHERE id = ?`, chain.ID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		return ErrConflict
	}
	chain.Version = next
	return nil
}

func (s *sqliteChains) ListInProgress(ctx context.Context) ([]*model.DispatchChain, error) {
	return s.queryDocs(ctx,
		`SELECT doc FROM chains WHERE status = ? ORDER BY next_expires_at`, string(model.ChainInProgress))
}

func (s *sqliteChains) List(ctx context.Context) ([]*model.DispatchChain, error) {
	return s.queryDocs(ctx, `SELECT doc FROM chains ORDER BY id`)
}

func (s *sqliteChains) queryDocs(ctx context.Context, query string, args ...any) ([]*model.DispatchChain, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.DispatchChain
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var c model.DispatchChain
		if err := json.Unmarshal([]byte(doc), &c); err != nil {
			return nil, fmt.Errorf("unmarshal chain: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

type sqliteLanes struct{ db *sql.DB }

func (s *sqliteLanes) Put(ctx context.Context, lane *model.Lane) error {
	doc, err := json.Marshal(lane)
	if err != nil {
		return err
	}
	active := 0
	if lane.Active {
		active = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO lanes (id, shipper_id, active, doc) VALUES (?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET shipper_id = excluded.shipper_id, active = excluded.active, doc = excluded.doc`,
		lane.ID, lane.ShipperID, active, string(doc))
	return err
}

func (s *sqliteLanes) Get(ctx context.Context, id string) (*model.Lane, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM lanes WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var l model.Lane
	if err := json.Unmarshal([]byte(doc), &l); err != nil {
		return nil, fmt.Errorf("unmarshal lane: %w", err)
	}
	return &l, nil
}

func (s *sqliteLanes) List(ctx context.Context) ([]*model.Lane, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM lanes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Lane
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var l model.Lane
		if err := json.Unmarshal([]byte(doc), &l); err != nil {
			return nil, fmt.Errorf("unmarshal lane: %w", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (s *sqliteLanes) Deactivate(ctx context.Context, id string) error {
	lane, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	lane.Active = false
	return s.Put(ctx, lane)
}

type sqliteOrders struct{ db *sql.DB }

func (s *sqliteOrders) Put(ctx context.Context, order *model.Order) error {
	doc, err := json.Marshal(order)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orders (id, doc) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET doc = excluded.doc`,
		order.ID, string(doc))
	return err
}

func (s *sqliteOrders) Get(ctx context.Context, id string) (*model.Order, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM orders WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var o model.Order
	if err := json.Unmarshal([]byte(doc), &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

type sqliteEvents struct{ db *sql.DB }

func (s *sqliteEvents) Append(ctx context.Context, rec EventRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, order_id, type, ts, payload) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.OrderID, rec.Type, rec.At.UnixNano(), string(payload))
	return err
}

func (s *sqliteEvents) ListByOrder(ctx context.Context, orderID string) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_id, type, ts, payload FROM events WHERE order_id = ? ORDER BY ts`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []EventRecord
	for rows.Next() {
		var rec EventRecord
		var ts int64
		var payload string
		if err := rows.Scan(&rec.ID, &rec.OrderID, &rec.Type, &ts, &payload); err != nil {
			return nil, err
		}
		rec.At = time.Unix(0, ts)
		if payload != "" && payload != "null" {
			if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
